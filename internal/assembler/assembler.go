// Package assembler implements Assembler.stream (spec §4.6): given a
// manifest and a filter, it reverses the ingest pipeline, reconstructing
// original sequence bodies from chunk payloads and their deltas.
package assembler

import (
	"context"

	"github.com/prn-tf/sequoia/internal/delta"
	"github.com/prn-tf/sequoia/internal/hashid"
	"github.com/prn-tf/sequoia/internal/manifest"
	"github.com/prn-tf/sequoia/internal/sequoiaerr"
	"github.com/prn-tf/sequoia/internal/store"
	"github.com/prn-tf/sequoia/internal/taxonomy"
)

// FilterKind selects how a manifest's chunk index is narrowed before
// streaming (spec §4.6 step 1: "whole database; subtree of a taxon id;
// accession list").
type FilterKind int

const (
	// FilterWhole streams every chunk in the manifest.
	FilterWhole FilterKind = iota
	// FilterSubtree streams only chunks whose taxon_ids intersect the
	// subtree rooted at Taxon.
	FilterSubtree
	// FilterHashes streams only sequences whose content hash is in
	// Hashes. Accession-to-hash resolution is a caller concern (FASTA
	// parsing and accession indexing are out of scope, spec §1); callers
	// resolve their own accession list to content hashes before calling
	// Stream.
	FilterHashes
)

// Filter narrows which sequences Stream emits. DatabaseID picks which
// representation's header text is restored onto each emitted Sequence
// (spec §4.6 step 2: "header text restored from the representation
// matching the caller's database context"); empty means "first recorded
// representation, whatever its database".
type Filter struct {
	Kind       FilterKind
	Taxon      hashid.TaxonId
	Hashes     []hashid.Hash
	DatabaseID string
}

// ChunkFetcher retrieves a chunk's canonical payload bytes by chunk_hash,
// already integrity-checked against that hash (the contract
// internal/store.Store.Get satisfies: content is hashed-and-verified on
// every read regardless of what kind of blob it is), and the
// representations recorded against a given sequence hash.
type ChunkFetcher interface {
	Get(ctx context.Context, hash hashid.Hash) ([]byte, error)
	Representations(hash hashid.Hash) []store.Representation
}

// Sequence is one reconstructed record, identified by its content hash,
// with header text restored from the representation matching the
// caller's database context (spec §4.6 step 2). Accession/Header are
// empty if the hash has no recorded representations.
type Sequence struct {
	Hash       hashid.Hash
	Body       []byte
	Accession  string
	Header     string
	DatabaseID string
}

// Assembler reverses the ingest pipeline (spec §4.6).
type Assembler struct {
	store    ChunkFetcher
	provider taxonomy.Provider
}

// New creates an Assembler backed by store for chunk/sequence retrieval.
// provider may be nil unless Stream is called with a FilterSubtree.
func New(store ChunkFetcher, provider taxonomy.Provider) *Assembler {
	return &Assembler{store: store, provider: provider}
}

// Stream resolves filter against m's chunk index, fetches and verifies
// each qualifying chunk in manifest order, reconstructs every sequence
// (direct refs and delta targets alike), and invokes emit once per
// sequence in the chunk's recorded order (spec §4.6 steps 1-2). Stream
// checks ctx at each chunk boundary (spec §5 "cancellation ... at
// chunk-stream boundaries for assembly").
func (a *Assembler) Stream(ctx context.Context, m manifest.Manifest, filter Filter, emit func(Sequence) error) error {
	for _, entry := range m.ChunkIndex {
		if err := ctx.Err(); err != nil {
			return sequoiaerr.Cancelled(err)
		}
		if filter.Kind == FilterSubtree && !a.chunkInSubtree(filter.Taxon, entry.TaxonIDs) {
			continue
		}

		raw, err := a.store.Get(ctx, entry.ChunkHash)
		if err != nil {
			return err
		}
		payload, err := delta.DecodePayload(raw)
		if err != nil {
			return sequoiaerr.Integrity("chunk payload decode", "valid chunk JSON", err.Error())
		}

		bodies, err := delta.Reconstruct(payload, func(h hashid.Hash) ([]byte, error) {
			return a.store.Get(ctx, h)
		})
		if err != nil {
			return err
		}

		emitOrder := payload.Order
		if len(emitOrder) == 0 {
			// Older or hand-built payloads without a recorded order
			// still assemble deterministically: references then direct
			// refs then delta targets, each in their own canonical order.
			emitOrder = append(emitOrder, payload.References...)
			emitOrder = append(emitOrder, payload.DirectRefs...)
			for _, d := range payload.Deltas {
				emitOrder = append(emitOrder, d.TargetHash)
			}
		}

		var wanted map[hashid.Hash]bool
		if filter.Kind == FilterHashes {
			wanted = make(map[hashid.Hash]bool, len(filter.Hashes))
			for _, h := range filter.Hashes {
				wanted[h] = true
			}
		}

		for _, h := range emitOrder {
			if wanted != nil && !wanted[h] {
				continue
			}
			body, ok := bodies[h]
			if !ok {
				return sequoiaerr.Integrity("chunk member", h.String(), "missing from reconstructed chunk")
			}
			seq := Sequence{Hash: h, Body: body}
			if rep, ok := selectRepresentation(a.store.Representations(h), filter.DatabaseID); ok {
				seq.Accession = rep.Accession
				seq.Header = rep.Header
				seq.DatabaseID = rep.DatabaseID
			}
			if err := emit(seq); err != nil {
				return err
			}
		}
	}
	return nil
}

// selectRepresentation picks the representation matching databaseID (spec
// §4.6 step 2). An empty databaseID, or one with no match among reps,
// falls back to the first recorded representation so a sequence with a
// single submission still gets its header restored.
func selectRepresentation(reps []store.Representation, databaseID string) (store.Representation, bool) {
	if len(reps) == 0 {
		return store.Representation{}, false
	}
	if databaseID != "" {
		for _, r := range reps {
			if r.DatabaseID == databaseID {
				return r, true
			}
		}
	}
	return reps[0], true
}

func (a *Assembler) chunkInSubtree(taxon hashid.TaxonId, chunkTaxa []hashid.TaxonId) bool {
	for _, t := range chunkTaxa {
		if a.provider == nil {
			if t == taxon {
				return true
			}
			continue
		}
		if taxonomy.IsDescendant(a.provider, taxon, t) {
			return true
		}
	}
	return false
}
