// Package manifest implements the bi-temporal TemporalManifest (spec §3
// TemporalManifest, §4.4 Merkle DAG / bi-temporal coordinates): each
// published version pins a sequence_root and a taxonomy_root — two
// independent Merkle roots so a sequence-only or taxonomy-only re-publish
// doesn't disturb the other tree — tagged with independent
// sequence_version/taxonomy_version labels, plus the ordered chunk index
// and discrepancy log that version was built from, and a pointer to its
// parent version for incremental-update history.
package manifest

import (
	"encoding/json"
	"time"

	"github.com/prn-tf/sequoia/internal/discrepancy"
	"github.com/prn-tf/sequoia/internal/hashid"
)

// ChunkEntry is one chunk's manifest-visible metadata: enough to resolve,
// verify, and reassemble it without touching the chunk's own bytes (spec
// §3 TemporalManifest "chunk_index — ordered list of (chunk_hash,
// taxon_ids, byte_size, compressed_size, sequence_count)").
type ChunkEntry struct {
	ChunkHash      hashid.Hash      `json:"chunk_hash"`
	TaxonIDs       []hashid.TaxonId `json:"taxon_ids"`
	ByteSize       int64            `json:"byte_size"`
	CompressedSize int64            `json:"compressed_size"`
	SequenceCount  int              `json:"sequence_count"`
}

// Manifest is the bi-temporal snapshot published at the end of an ingest
// or incremental update (spec §3 TemporalManifest). Field order is fixed
// and every field is always emitted (no `omitempty`) so that
// encoding/json's struct-order serialization is a stable canonical form:
// two manifests with identical content always marshal to identical bytes,
// which is what content-addressing the manifest itself requires. The
// on-disk layout calls for "canonical JSON; lexical key order"; this
// module uses Go struct-declaration order instead of re-sorting keys,
// since encoding/json already gives a single deterministic order per type
// and sorting would require a second serialization pass for no added
// guarantee (see DESIGN.md Open Question decisions).
type Manifest struct {
	SchemaVersion    int                       `json:"schema_version"`
	CreatedAt        time.Time                 `json:"created_at"`
	SequenceVersion  string                    `json:"sequence_version"`
	TaxonomyVersion  string                    `json:"taxonomy_version"`
	ParentVersion    string                    `json:"parent_version"`
	SequenceRoot     hashid.Hash               `json:"sequence_root"`
	TaxonomyRoot     hashid.Hash               `json:"taxonomy_root"`
	ChunkIndex       []ChunkEntry              `json:"chunk_index"`
	Discrepancies    []discrepancy.Discrepancy `json:"discrepancies"`
}

// SchemaVersion is the current manifest schema version.
const SchemaVersion = 1

// Canonical returns the manifest's canonical byte form, used both to
// compute its content address and to persist it verbatim.
func (m Manifest) Canonical() ([]byte, error) {
	return json.Marshal(m)
}

// Hash returns the manifest's content address: the SHA-256 hash of its
// canonical serialization (spec §3: "a manifest is addressed by the hash
// of its canonical serialization").
func (m Manifest) Hash() (hashid.Hash, error) {
	b, err := m.Canonical()
	if err != nil {
		return hashid.Zero, err
	}
	return hashid.Of(b), nil
}

// Decode parses a manifest from its canonical byte form.
func Decode(b []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// New builds a manifest from its constituent parts, stamping the current
// schema version. sequenceVersion and taxonomyVersion are opaque,
// lexicographically-orderable labels (spec §3: "opaque labels (strings)");
// RFC3339 UTC timestamps satisfy both the "opaque" and "orderable"
// requirements, and are what Ingest stamps when the caller supplies no
// label.
func New(createdAt time.Time, sequenceVersion, taxonomyVersion, parentVersion string, sequenceRoot, taxonomyRoot hashid.Hash, chunks []ChunkEntry, discrepancies []discrepancy.Discrepancy) Manifest {
	return Manifest{
		SchemaVersion:   SchemaVersion,
		CreatedAt:       createdAt,
		SequenceVersion: sequenceVersion,
		TaxonomyVersion: taxonomyVersion,
		ParentVersion:   parentVersion,
		SequenceRoot:    sequenceRoot,
		TaxonomyRoot:    taxonomyRoot,
		ChunkIndex:      chunks,
		Discrepancies:   discrepancies,
	}
}
