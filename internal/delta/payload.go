package delta

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/prn-tf/sequoia/internal/hashid"
)

// CanonicalRef points at a sequence by its content hash (spec §3
// CanonicalRef: "a pointer to a sequence by its content_hash, carried
// inside chunks"). It never carries a body.
type CanonicalRef = hashid.Hash

// Metadata is the chunk payload's non-sequence metadata (spec §3 Chunk
// "Metadata: uncompressed byte size, sequence count, compression
// dictionary id").
type Metadata struct {
	UncompressedSize int64  `json:"uncompressed_size"`
	SequenceCount    int    `json:"sequence_count"`
	DictID           uint32 `json:"dict_id"`
}

// Payload is the full content of a Chunk (spec §3 Chunk): references used
// as delta anchors, the deltas themselves, the refs stored directly
// undeltaed, and the taxa this chunk represents. Its canonical
// serialization is what chunk_hash is computed over (spec §4.3 step 3
// "hash-over-uncompressed").
type Payload struct {
	TaxonIDs   []hashid.TaxonId `json:"taxon_ids"`
	References []CanonicalRef   `json:"references"`
	Deltas     []Delta          `json:"deltas"`
	DirectRefs []CanonicalRef   `json:"direct_refs"`
	// Order records every member's content hash in the original
	// chunk-recorded order (spec §4.3 "ordering is stable: insertion
	// order of deltas reproduces input order after assembly"), since
	// References/DirectRefs are independently hash-sorted for canonical
	// form and Deltas is keyed by encode order, neither of which alone
	// recovers the sequence the assembler must re-emit.
	Order []hashid.Hash `json:"order"`
	Meta  Metadata      `json:"metadata"`
}

// Canonical returns the payload's canonical uncompressed byte form.
// References and direct_refs are emitted in hash order and deltas in the
// input order of their targets (spec §4.3 step 3), so Canonical is a pure
// function of the payload's content, not of how the caller built it.
func (p Payload) Canonical() ([]byte, error) {
	refs := append([]CanonicalRef(nil), p.References...)
	hashid.SortHashes(refs)
	direct := append([]CanonicalRef(nil), p.DirectRefs...)
	hashid.SortHashes(direct)

	ordered := Payload{
		TaxonIDs:   p.TaxonIDs,
		References: refs,
		Deltas:     p.Deltas,
		DirectRefs: direct,
		Order:      p.Order,
		Meta:       p.Meta,
	}
	return json.Marshal(ordered)
}

// Hash is the payload's chunk_hash: the content hash of its canonical
// uncompressed serialization (spec §3 Chunk, §4.3 step 3).
func (p Payload) Hash() (hashid.Hash, error) {
	b, err := p.Canonical()
	if err != nil {
		return hashid.Zero, err
	}
	return hashid.Of(b), nil
}

// DecodePayload parses a payload from its canonical byte form.
func DecodePayload(b []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// SequenceRef is one member being assembled into a chunk payload: its
// content hash (already inserted into the sequence store) and the body
// bytes needed to drive reference selection and delta alignment. Body is
// never persisted inside the payload itself — only the hash is (spec §3
// CanonicalRef).
type SequenceRef struct {
	Hash hashid.Hash
	Body []byte
}

// BuildOptions configures BuildPayload's reference-selection and delta
// thresholds (spec §4.3 step 1/2 "ref_ratio", "delta_gain_threshold" plus
// the length-ratio bound used when picking a candidate's best reference).
type BuildOptions struct {
	// RefRatio is the top length-descending fraction of a chunk's
	// sequences tentatively designated as references (default 0.3).
	RefRatio float64
	// SelectionRatio bounds how close in length a candidate's chosen
	// reference must be (passed to SelectReference).
	SelectionRatio float64
	DictID         uint32
}

// BuildPayload implements the delta engine's per-chunk procedure (spec
// §4.3): sort by length descending, tentatively designate the top
// RefRatio fraction as references, then for each remaining candidate pick
// the closest-length reference and attempt a delta; a delta that fails
// round-trip verification or the gain threshold keeps its sequence as a
// direct ref instead (Computer.Encode already enforces both gates).
func BuildPayload(c *Computer, taxonIDs []hashid.TaxonId, seqs []SequenceRef, opts BuildOptions) (Payload, error) {
	if len(seqs) == 0 {
		return Payload{TaxonIDs: taxonIDs}, nil
	}

	order := make([]hashid.Hash, len(seqs))
	for i, s := range seqs {
		order[i] = s.Hash
	}

	ordered := append([]SequenceRef(nil), seqs...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if len(ordered[i].Body) != len(ordered[j].Body) {
			return len(ordered[i].Body) > len(ordered[j].Body)
		}
		return ordered[i].Hash.Less(ordered[j].Hash)
	})

	numRefs := int(math.Ceil(float64(len(ordered)) * opts.RefRatio))
	if numRefs < 1 {
		numRefs = 1
	}
	if numRefs > len(ordered) {
		numRefs = len(ordered)
	}
	refSet, candidates := ordered[:numRefs], ordered[numRefs:]

	refCandidates := make([]Candidate, len(refSet))
	refBodies := make(map[hashid.Hash][]byte, len(refSet))
	references := make([]hashid.Hash, len(refSet))
	var totalBytes int64
	for i, r := range refSet {
		refCandidates[i] = Candidate{Hash: r.Hash, Length: int64(len(r.Body))}
		refBodies[r.Hash] = r.Body
		references[i] = r.Hash
		totalBytes += int64(len(r.Body))
	}

	var deltas []Delta
	var directRefs []hashid.Hash
	for _, cand := range candidates {
		totalBytes += int64(len(cand.Body))

		chosen, ok := SelectReference(int64(len(cand.Body)), refCandidates, opts.SelectionRatio)
		if !ok {
			directRefs = append(directRefs, cand.Hash)
			continue
		}

		d, accepted, err := c.Encode(refBodies[chosen.Hash], cand.Body)
		if err != nil {
			return Payload{}, err
		}
		if !accepted {
			directRefs = append(directRefs, cand.Hash)
			continue
		}
		deltas = append(deltas, *d)
	}

	p := Payload{
		TaxonIDs:   taxonIDs,
		References: references,
		Deltas:     deltas,
		DirectRefs: directRefs,
		Order:      order,
		Meta: Metadata{
			UncompressedSize: totalBytes,
			SequenceCount:    len(seqs),
			DictID:           opts.DictID,
		},
	}
	return p, nil
}

// Reconstruct replays a payload's deltas against fetched reference bodies
// and returns every sequence's body keyed by content hash (spec §4.3
// "Reconstruction": "apply each delta's ops to its reference to obtain
// the target body; combined with direct refs, emit sequences"). fetch
// retrieves a stored sequence body by hash (spec §4.1 Store.Get).
func Reconstruct(p Payload, fetch func(hashid.Hash) ([]byte, error)) (map[hashid.Hash][]byte, error) {
	out := make(map[hashid.Hash][]byte, len(p.References)+len(p.Deltas)+len(p.DirectRefs))

	refBodies := make(map[hashid.Hash][]byte, len(p.References))
	for _, r := range p.References {
		body, err := fetch(r)
		if err != nil {
			return nil, err
		}
		refBodies[r] = body
		out[r] = body
	}
	for _, r := range p.DirectRefs {
		if _, ok := out[r]; ok {
			continue
		}
		body, err := fetch(r)
		if err != nil {
			return nil, err
		}
		out[r] = body
	}
	for _, d := range p.Deltas {
		ref, ok := refBodies[d.RefHash]
		if !ok {
			body, err := fetch(d.RefHash)
			if err != nil {
				return nil, err
			}
			ref = body
			refBodies[d.RefHash] = body
		}
		if err := Verify(ref, &d); err != nil {
			return nil, err
		}
		body, err := Apply(ref, &d)
		if err != nil {
			return nil, err
		}
		out[d.TargetHash] = body
	}
	return out, nil
}
