// Package ingest orchestrates the full write pipeline (spec §6
// Ingest::begin / IngestSession::add / finalize, §2 pipeline overview):
// "FASTA → per-record hash → canonical-store (insert-if-absent) → group
// refs by taxon → chunker → per-chunk delta engine → chunk hash →
// manifest accumulator → Merkle roots → manifest." FASTA parsing itself
// is out of scope; a session consumes already-parsed Representations.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/sequoia/internal/cache"
	"github.com/prn-tf/sequoia/internal/chunk"
	"github.com/prn-tf/sequoia/internal/clockprovider"
	"github.com/prn-tf/sequoia/internal/config"
	"github.com/prn-tf/sequoia/internal/delta"
	"github.com/prn-tf/sequoia/internal/discrepancy"
	"github.com/prn-tf/sequoia/internal/hashid"
	"github.com/prn-tf/sequoia/internal/manifest"
	"github.com/prn-tf/sequoia/internal/merkledag"
	"github.com/prn-tf/sequoia/internal/metrics"
	"github.com/prn-tf/sequoia/internal/sequoiaerr"
	"github.com/prn-tf/sequoia/internal/store"
	"github.com/prn-tf/sequoia/internal/taxonomy"
	"github.com/prn-tf/sequoia/internal/version"
)

// Representation is one already-parsed record handed to a session (spec
// §3 Representation: "(accession, header_text, taxon hint) triple"). The
// core never parses FASTA itself; Body is the canonical alphabet-only
// sequence bytes the caller has already extracted.
type Representation struct {
	Accession  string
	DatabaseID string
	Header     string
	Body       []byte
	Signals    discrepancy.Signals
}

// Ingest is the long-lived factory for ingest sessions, holding the
// collaborators every session needs (spec §6 Ingest::begin).
type Ingest struct {
	store        *store.Store
	versionStore *version.Store
	provider     taxonomy.Provider
	clock        clockprovider.Clock
	known        *cache.KnownCache
	cfg          config.Config
	policy       discrepancy.Policy
	metrics      *metrics.Metrics
	logger       zerolog.Logger
}

// Option configures Ingest at construction time.
type Option func(*Ingest)

// WithProvider sets the taxonomy provider used for chunking.
func WithProvider(p taxonomy.Provider) Option { return func(i *Ingest) { i.provider = p } }

// WithClock overrides the default system clock (spec §6 Clock
// collaborator, "injectable for tests").
func WithClock(c clockprovider.Clock) Option { return func(i *Ingest) { i.clock = c } }

// WithPolicy sets the discrepancy resolution policy new sessions use
// unless overridden in BeginOptions.
func WithPolicy(p discrepancy.Policy) Option { return func(i *Ingest) { i.policy = p } }

// WithKnownCache attaches the optional shared negative-lookup cache.
func WithKnownCache(k *cache.KnownCache) Option { return func(i *Ingest) { i.known = k } }

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Metrics) Option { return func(i *Ingest) { i.metrics = m } }

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option { return func(i *Ingest) { i.logger = l } }

// New creates an Ingest bound to a packed store and version store.
func New(s *store.Store, vs *version.Store, cfg config.Config, opts ...Option) *Ingest {
	i := &Ingest{
		store:        s,
		versionStore: vs,
		cfg:          cfg,
		policy:       discrepancy.DefaultPolicy,
		clock:        clockprovider.System{},
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// BeginOptions configures one ingest session (spec §6 Ingest::begin).
type BeginOptions struct {
	// ParentVersion is the version_id this ingest builds on (spec §3
	// TemporalManifest.parent_version); empty for the first manifest.
	ParentVersion string
	// SequenceVersion/TaxonomyVersion stamp the manifest's bi-temporal
	// labels. If empty, the session stamps the clock instant observed at
	// Finalize, RFC3339-formatted.
	SequenceVersion string
	TaxonomyVersion string
	// Policy overrides the Ingest's default discrepancy resolution policy
	// for this session only.
	Policy discrepancy.Policy
}

// Session accumulates representations between Begin and Finalize (spec
// §6 IngestSession::add/finalize). Add is safe for concurrent use; a
// caller that wants to parallelize a batch calls Add from a bounded
// worker pool and still observes a deterministic Finalize, since chunk
// ordering is a pure function of taxon and accession (spec §4.2), not of
// Add's call order.
type Session struct {
	id     string
	ingest *Ingest
	opts   BeginOptions

	mu            sync.Mutex
	records       []chunk.Record
	bodies        map[hashid.Hash][]byte
	discrepancies []discrepancy.Discrepancy
}

// Begin starts a new ingest session (spec §6 Ingest::begin).
func (ig *Ingest) Begin(opts BeginOptions) *Session {
	policy := opts.Policy
	if policy == "" {
		policy = ig.policy
	}
	opts.Policy = policy

	return &Session{
		id:     uuid.NewString(),
		ingest: ig,
		opts:   opts,
		bodies: make(map[hashid.Hash][]byte),
	}
}

// ID returns the session's unique identifier, included in log lines so a
// long-running batched ingest can be traced end to end.
func (s *Session) ID() string { return s.id }

// Add stores one representation's body (content-addressed, dedup
// insert-if-absent), resolves its taxon through the discrepancy policy,
// and records it for chunking at Finalize (spec §2 pipeline: "per-record
// hash → canonical-store (insert-if-absent) → group refs by taxon").
func (s *Session) Add(ctx context.Context, rep Representation) error {
	if err := ctx.Err(); err != nil {
		return sequoiaerr.Cancelled(err)
	}

	taxon, disc := discrepancy.Resolve(rep.Accession, rep.Signals, s.opts.Policy)

	hash, err := s.ingest.store.Put(ctx, rep.Body, 0, store.Representation{
		Accession:  rep.Accession,
		DatabaseID: rep.DatabaseID,
		Header:     rep.Header,
		TaxonHint:  taxon,
	})
	if err != nil {
		return err
	}

	if s.ingest.known != nil {
		known, cacheErr := s.ingest.known.Knows(ctx, hash)
		if cacheErr == nil && !known {
			_ = s.ingest.known.Remember(ctx, hash)
		}
		// Cache errors never fail the ingest: the local store above is
		// already authoritative for dedup; the shared cache is only an
		// accelerator hint for cooperating instances.
	}

	s.mu.Lock()
	s.records = append(s.records, chunk.Record{
		Accession: rep.Accession,
		Taxon:     taxon,
		Hash:      hash,
		Size:      int64(len(rep.Body)),
	})
	s.bodies[hash] = rep.Body
	if disc != nil {
		s.discrepancies = append(s.discrepancies, *disc)
	}
	s.mu.Unlock()

	return nil
}

// Result is what Finalize publishes (spec §6 IngestSession::finalize).
type Result struct {
	VersionID string
	Manifest  manifest.Manifest
}

// Finalize groups every added representation by taxon, chunks each group
// deterministically, runs the delta engine per chunk, builds both Merkle
// roots, and publishes the resulting manifest (spec §2 pipeline: "chunker
// → per-chunk delta engine ... → chunk hash → manifest accumulator →
// Merkle roots → manifest"). Finalize checks ctx at each chunk boundary
// (spec §5 "cancellation ... at chunk boundaries for ingest"); no
// manifest is published unless the entire ingest completed.
func (s *Session) Finalize(ctx context.Context) (Result, error) {
	s.mu.Lock()
	records := append([]chunk.Record(nil), s.records...)
	bodies := s.bodies
	discrepancies := append([]discrepancy.Discrepancy(nil), s.discrepancies...)
	s.mu.Unlock()

	chunker := chunk.New(s.ingest.provider, chunk.Bounds{
		MinBytes: s.ingest.cfg.Chunker.TargetMinBytes,
		MaxBytes: s.ingest.cfg.Chunker.TargetMaxBytes,
	})
	bins, err := chunker.Chunk(ctx, records)
	if err != nil {
		return Result{}, err
	}

	computer := delta.NewComputer(s.ingest.cfg.Delta.DeltaGainThreshold)
	buildOpts := delta.BuildOptions{RefRatio: s.ingest.cfg.Delta.RefRatio, SelectionRatio: 0.5}

	var entries []manifest.ChunkEntry
	var leaves []hashid.Hash
	for _, bin := range bins {
		if err := ctx.Err(); err != nil {
			return Result{}, sequoiaerr.Cancelled(err)
		}

		seqs := make([]delta.SequenceRef, len(bin.Refs))
		for i, h := range bin.Refs {
			seqs[i] = delta.SequenceRef{Hash: h, Body: bodies[h]}
		}

		payload, err := delta.BuildPayload(computer, []hashid.TaxonId{bin.Taxon}, seqs, buildOpts)
		if err != nil {
			return Result{}, err
		}
		canonical, err := payload.Canonical()
		if err != nil {
			return Result{}, err
		}
		chunkHash, err := s.ingest.store.PutChunk(ctx, canonical, 0)
		if err != nil {
			return Result{}, err
		}
		compressedSize, _ := s.ingest.store.StoredSize(chunkHash)

		entries = append(entries, manifest.ChunkEntry{
			ChunkHash:      chunkHash,
			TaxonIDs:       payload.TaxonIDs,
			ByteSize:       payload.Meta.UncompressedSize,
			CompressedSize: compressedSize,
			SequenceCount:  payload.Meta.SequenceCount,
		})
		leaves = append(leaves, chunkHash)

		if s.ingest.metrics != nil {
			s.ingest.metrics.ChunksEmittedTotal.Inc()
			s.ingest.metrics.ChunkBytesHistogram.Observe(float64(payload.Meta.UncompressedSize))
		}
	}

	sequenceRoot := merkledag.Build(leaves).Root()
	// taxonomy_root is always derived from the attached Provider (spec
	// §4.4), never trusted from caller input: it is the Merkle root over
	// every (taxon_id, parent_id, rank, canonical_name) tuple the
	// taxonomy tree exposes, independent of which sequences this session
	// added (spec §1(d) "taxonomy time" axis).
	taxonomyRoot := taxonomy.BuildRoot(s.ingest.provider)
	createdAt := s.ingest.clock.Now()

	seqVersion := s.opts.SequenceVersion
	if seqVersion == "" {
		seqVersion = createdAt.Format(time.RFC3339Nano)
	}
	taxVersion := s.opts.TaxonomyVersion
	if taxVersion == "" {
		taxVersion = createdAt.Format(time.RFC3339Nano)
	}

	m := manifest.New(createdAt, seqVersion, taxVersion, s.opts.ParentVersion,
		sequenceRoot, taxonomyRoot, entries, discrepancies)

	versionID, err := s.ingest.versionStore.PutManifest(m)
	if err != nil {
		return Result{}, err
	}
	if s.ingest.metrics != nil {
		s.ingest.metrics.ManifestsPublishedTotal.Inc()
	}

	s.ingest.logger.Info().
		Str("session", s.id).
		Str("version_id", versionID).
		Int("chunks", len(entries)).
		Int("discrepancies", len(discrepancies)).
		Msg("ingest finalized")

	return Result{VersionID: versionID, Manifest: m}, nil
}
