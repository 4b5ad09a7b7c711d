package taxonomy

import (
	"encoding/binary"
	"sort"

	"github.com/prn-tf/sequoia/internal/hashid"
	"github.com/prn-tf/sequoia/internal/merkledag"
)

// AllTaxa returns every taxon id reachable from p's root set, in
// ascending taxon_id order (spec §4.4 taxonomy_root: "in taxon_id
// order"). A Provider backed by a well-formed taxdump has every node
// reachable from some root, so this walk is exhaustive.
func AllTaxa(p Provider) []hashid.TaxonId {
	seen := make(map[hashid.TaxonId]bool)
	var out []hashid.TaxonId
	var walk func(hashid.TaxonId)
	walk = func(id hashid.TaxonId) {
		if seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
		for _, c := range p.Children(id) {
			walk(c)
		}
	}
	for _, r := range p.Roots() {
		walk(r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// leafHash derives one taxon's Merkle leaf from its (taxon_id, parent_id,
// rank, canonical_name) tuple (spec §4.4 taxonomy_root).
func leafHash(p Provider, taxon hashid.TaxonId) hashid.Hash {
	h := hashid.NewHasher()
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(taxon))
	_, _ = h.Write(buf[:])

	if parent, ok := p.Parent(taxon); ok {
		_, _ = h.Write([]byte{1})
		binary.BigEndian.PutUint32(buf[:], uint32(parent))
		_, _ = h.Write(buf[:])
	} else {
		_, _ = h.Write([]byte{0})
	}

	_, _ = h.Write([]byte(p.Rank(taxon)))
	_, _ = h.Write([]byte{0}) // separator: rank/name are variable-length
	_, _ = h.Write([]byte(p.Name(taxon)))
	return h.Sum()
}

// BuildRoot computes the taxonomy Merkle root over every taxon p exposes
// (spec §4.4: "taxonomy_root — Merkle root over (taxon_id, parent_id,
// rank, canonical_name) tuples in taxon_id order"). A nil Provider (no
// taxonomy attached to this ingest) yields the same empty root
// merkledag.Build gives an empty leaf set.
func BuildRoot(p Provider) hashid.Hash {
	if p == nil {
		return merkledag.Build(nil).Root()
	}
	taxa := AllTaxa(p)
	leaves := make([]hashid.Hash, len(taxa))
	for i, t := range taxa {
		leaves[i] = leafHash(p, t)
	}
	return merkledag.Build(leaves).Root()
}
