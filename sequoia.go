// Package sequoia is a content-addressed storage engine for large
// biological sequence databases: deduplicated, incrementally updatable,
// cryptographically verifiable, and queryable across both a sequence
// timeline and a taxonomy timeline at once (spec §1 Overview).
//
// Engine is the top-level facade gluing together the packed sequence
// store (internal/store), the taxonomy-aware chunker (internal/chunk),
// the delta engine (internal/delta), the Merkle-backed bi-temporal
// manifest store (internal/manifest, internal/version, internal/merkledag),
// the ingest orchestrator (internal/ingest), the assembler
// (internal/assembler), the differ (internal/differ), and the verifier
// (internal/verifier) behind the operation names spec §6 assigns to
// Store, Ingest, IngestSession, Assembler, Differ, Verifier, and
// VersionStore.
package sequoia

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/prn-tf/sequoia/internal/assembler"
	"github.com/prn-tf/sequoia/internal/cache"
	"github.com/prn-tf/sequoia/internal/clockprovider"
	"github.com/prn-tf/sequoia/internal/config"
	"github.com/prn-tf/sequoia/internal/differ"
	"github.com/prn-tf/sequoia/internal/discrepancy"
	"github.com/prn-tf/sequoia/internal/hashid"
	"github.com/prn-tf/sequoia/internal/ingest"
	"github.com/prn-tf/sequoia/internal/manifest"
	"github.com/prn-tf/sequoia/internal/metrics"
	"github.com/prn-tf/sequoia/internal/sequoiaerr"
	"github.com/prn-tf/sequoia/internal/store"
	"github.com/prn-tf/sequoia/internal/taxonomy"
	"github.com/prn-tf/sequoia/internal/transport"
	"github.com/prn-tf/sequoia/internal/verifier"
	"github.com/prn-tf/sequoia/internal/version"
)

// Re-exported types so callers never need to import the internal
// packages directly to use the facade.
type (
	Hash                   = hashid.Hash
	TaxonId                = hashid.TaxonId
	Manifest               = manifest.Manifest
	Representation         = ingest.Representation
	SequenceRepresentation = store.Representation
	Signals                = discrepancy.Signals
	Policy                 = discrepancy.Policy
	Filter                 = assembler.Filter
	FilterKind             = assembler.FilterKind
	Sequence               = assembler.Sequence
	Diff                   = differ.Diff
	Provider               = taxonomy.Provider
	Transport              = transport.Transport
	Error                  = sequoiaerr.Error
	IngestResult           = ingest.Result
	IngestSession          = ingest.Session
	IngestOptions          = ingest.BeginOptions
)

// Filter kinds, re-exported for callers that build Filter values directly.
const (
	FilterWhole   = assembler.FilterWhole
	FilterSubtree = assembler.FilterSubtree
	FilterHashes  = assembler.FilterHashes
)

// Discrepancy resolution policies, re-exported.
const (
	PolicyUseHeader   = discrepancy.PolicyUseHeader
	PolicyUseMapping  = discrepancy.PolicyUseMapping
	PolicyUseTaxonomy = discrepancy.PolicyUseTaxonomy
)

// Engine is the entry point for an open Sequoia database (spec §6
// Store::open/init plus the Ingest/Assembler/Differ/Verifier/VersionStore
// collaborators bound to that store).
type Engine struct {
	store    *store.Store
	versions *version.Store
	ingest   *ingest.Ingest
	asm      *assembler.Assembler
	provider taxonomy.Provider
	known    *cache.KnownCache
	logger   zerolog.Logger
}

// Option configures Engine construction beyond the required store config.
type Option func(*engineOptions)

type engineOptions struct {
	provider taxonomy.Provider
	clock    clockprovider.Clock
	known    *cache.KnownCache
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	policy   discrepancy.Policy
}

// WithTaxonomy sets the TaxonomyProvider collaborator used by the chunker
// and by subtree-filtered assembly (spec §6 TaxonomyProvider).
func WithTaxonomy(p taxonomy.Provider) Option {
	return func(o *engineOptions) { o.provider = p }
}

// WithClock overrides the default system clock used to stamp manifests
// (spec §6 Clock collaborator).
func WithClock(c clockprovider.Clock) Option {
	return func(o *engineOptions) { o.clock = c }
}

// WithKnownCache attaches a shared negative-lookup cache accelerating
// dedup across cooperating instances.
func WithKnownCache(k *cache.KnownCache) Option {
	return func(o *engineOptions) { o.known = k }
}

// WithMetrics attaches a Prometheus metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *engineOptions) { o.metrics = m }
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithDiscrepancyPolicy sets the default discrepancy resolution policy new
// ingest sessions use (spec §4.5, default PolicyUseMapping).
func WithDiscrepancyPolicy(p discrepancy.Policy) Option {
	return func(o *engineOptions) { o.policy = p }
}

// Open opens (or initializes) a Sequoia database rooted at cfg's data
// directory (spec §6 Store::open/init).
func Open(cfg config.Config, opts ...Option) (*Engine, error) {
	o := engineOptions{logger: zerolog.Nop(), policy: discrepancy.DefaultPolicy}
	for _, opt := range opts {
		opt(&o)
	}

	s, err := store.Open(cfg.Store, o.metrics, o.logger)
	if err != nil {
		return nil, err
	}

	vs, err := version.Open(cfg.Store.DataDir + "/versions")
	if err != nil {
		return nil, err
	}

	var ingestOpts []ingest.Option
	if o.provider != nil {
		ingestOpts = append(ingestOpts, ingest.WithProvider(o.provider))
	}
	if o.clock != nil {
		ingestOpts = append(ingestOpts, ingest.WithClock(o.clock))
	}
	if o.known != nil {
		ingestOpts = append(ingestOpts, ingest.WithKnownCache(o.known))
	}
	if o.metrics != nil {
		ingestOpts = append(ingestOpts, ingest.WithMetrics(o.metrics))
	}
	ingestOpts = append(ingestOpts, ingest.WithLogger(o.logger), ingest.WithPolicy(o.policy))

	ig := ingest.New(s, vs, cfg, ingestOpts...)
	asm := assembler.New(s, o.provider)

	return &Engine{
		store:    s,
		versions: vs,
		ingest:   ig,
		asm:      asm,
		provider: o.provider,
		known:    o.known,
		logger:   o.logger,
	}, nil
}

// Close flushes and releases every resource the engine holds.
func (e *Engine) Close() error {
	return e.store.Close()
}

// PutSequence stores plaintext content-addressed by its hash, a dedup
// insert-if-absent, recording rep among the hash's representations (spec
// §6 Store::put_sequence; spec §3 Sequence.representations).
func (e *Engine) PutSequence(ctx context.Context, plaintext []byte, rep SequenceRepresentation) (Hash, error) {
	return e.store.Put(ctx, plaintext, 0, rep)
}

// GetSequence retrieves and integrity-checks a previously stored sequence
// along with every representation recorded against it (spec §6
// Store::get_sequence: "get_sequence(content_hash) -> (body,
// representations)").
func (e *Engine) GetSequence(ctx context.Context, hash Hash) ([]byte, []SequenceRepresentation, error) {
	body, err := e.store.Get(ctx, hash)
	if err != nil {
		return nil, nil, err
	}
	return body, e.store.Representations(hash), nil
}

// BeginIngest starts a new ingest session (spec §6 Ingest::begin).
func (e *Engine) BeginIngest(opts IngestOptions) *IngestSession {
	return e.ingest.Begin(opts)
}

// Stream resolves filter against the named manifest and invokes emit once
// per reconstructed sequence in chunk-recorded order (spec §6
// Assembler::stream).
func (e *Engine) Stream(ctx context.Context, versionID string, filter Filter, emit func(Sequence) error) error {
	m, err := e.versions.GetManifest(versionID)
	if err != nil {
		return err
	}
	return e.asm.Stream(ctx, m, filter, emit)
}

// Diff computes the symmetric difference between two published manifests
// (spec §6 Differ::diff).
func (e *Engine) Diff(versionA, versionB string) (Diff, error) {
	ma, err := e.versions.GetManifest(versionA)
	if err != nil {
		return Diff{}, err
	}
	mb, err := e.versions.GetManifest(versionB)
	if err != nil {
		return Diff{}, err
	}
	return differ.Diff(ma, mb), nil
}

// VerifyChunk independently re-verifies a chunk's internal deltas (spec §6
// Verifier::verify_chunk).
func (e *Engine) VerifyChunk(ctx context.Context, chunkHash Hash) error {
	return verifier.VerifyChunk(ctx, e.store, chunkHash)
}

// VerifyManifest recomputes a manifest's sequence_root and, for the first
// depth chunks, their internal deltas (spec §6 Verifier::verify_manifest).
func (e *Engine) VerifyManifest(ctx context.Context, versionID string, depth int) error {
	return verifier.VerifyManifest(ctx, e.versions, e.store, versionID, depth)
}

// ResolveBitemporal resolves the bi-temporal coordinate (seqTime, taxTime)
// to the version_id of the youngest manifest that satisfies both (spec §6
// VersionStore::resolve_bitemporal).
func (e *Engine) ResolveBitemporal(seqTime, taxTime string) (string, error) {
	return e.versions.ResolveBitemporal(seqTime, taxTime)
}

// SetAlias points a mutable alias at a published version.
func (e *Engine) SetAlias(alias, versionID string) error {
	return e.versions.SetAlias(alias, versionID)
}

// ResolveAlias returns the version_id an alias currently points at.
func (e *Engine) ResolveAlias(alias string) (string, error) {
	return e.versions.ResolveAlias(alias)
}

// GetManifest retrieves a published manifest by version_id.
func (e *Engine) GetManifest(versionID string) (Manifest, error) {
	return e.versions.GetManifest(versionID)
}

// HealthCheck verifies every indexed sequence's pack file exists and,
// when deep is true, that its stored bytes still decompress to content
// matching their hash.
func (e *Engine) HealthCheck(deep bool) (store.HealthReport, error) {
	return e.store.HealthCheck(deep)
}

// GC reclaims pack space for sequences no longer reachable from any
// retained version (spec §3 Lifecycles: "GC is an explicit operation").
func (e *Engine) GC(live store.LiveSet) (store.GCReport, error) {
	return e.store.GC(live)
}

// Checkpoint flushes the active pack and snapshots the index.
func (e *Engine) Checkpoint() error {
	return e.store.Checkpoint()
}
