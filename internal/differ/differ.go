// Package differ computes the symmetric difference between two manifests
// (spec §4.4 Differ): which chunks were added, which were removed, and
// whether the taxonomy tree itself changed.
package differ

import (
	"github.com/prn-tf/sequoia/internal/hashid"
	"github.com/prn-tf/sequoia/internal/manifest"
)

// Diff is the result of comparing manifest A against manifest B.
type Diff struct {
	ChunksAdded     []hashid.Hash
	ChunksRemoved   []hashid.Hash
	TaxonomyChanged bool
}

// Diff computes chunks_added/chunks_removed/taxonomy_changed for (a, b)
// (spec §4.4: "chunks_added = chunks in M_b not in M_a", "chunks_removed
// = chunks in M_a not in M_b", "taxonomy_changed = M_a.taxonomy_root ≠
// M_b.taxonomy_root"). Order among chunks is preserved in each manifest's
// own chunk_index order, so the result is deterministic for a given input
// pair regardless of how the underlying sets were built.
func Diff(a, b manifest.Manifest) Diff {
	inA := make(map[hashid.Hash]bool, len(a.ChunkIndex))
	for _, c := range a.ChunkIndex {
		inA[c.ChunkHash] = true
	}
	inB := make(map[hashid.Hash]bool, len(b.ChunkIndex))
	for _, c := range b.ChunkIndex {
		inB[c.ChunkHash] = true
	}

	var added, removed []hashid.Hash
	for _, c := range b.ChunkIndex {
		if !inA[c.ChunkHash] {
			added = append(added, c.ChunkHash)
		}
	}
	for _, c := range a.ChunkIndex {
		if !inB[c.ChunkHash] {
			removed = append(removed, c.ChunkHash)
		}
	}

	return Diff{
		ChunksAdded:     added,
		ChunksRemoved:   removed,
		TaxonomyChanged: a.TaxonomyRoot != b.TaxonomyRoot,
	}
}
