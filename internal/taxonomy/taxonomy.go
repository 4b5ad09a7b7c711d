// Package taxonomy defines the TaxonomyProvider collaborator contract
// (spec §6) and an in-memory taxonomy tree implementation (spec §2
// "Taxonomy index"). The core never parses NCBI taxdump itself; a real
// deployment supplies its own Provider backed by a taxdump reader.
package taxonomy

import (
	"sort"

	"github.com/prn-tf/sequoia/internal/hashid"
)

// Rank is a taxonomic rank label (species, genus, family, ...). The core
// treats it as an opaque string; it never interprets rank semantics.
type Rank string

// Provider is the pluggable collaborator the core consumes to resolve
// accessions to taxa and to walk the taxonomy tree (spec §6).
type Provider interface {
	// TaxonOf resolves an accession to a TaxonId. The second return value
	// is false if the accession has no known mapping.
	TaxonOf(accession string) (hashid.TaxonId, bool)

	// Parent returns the parent of a taxon. ok is false for the root or an
	// unknown taxon.
	Parent(taxon hashid.TaxonId) (parent hashid.TaxonId, ok bool)

	// Rank returns the rank of a taxon.
	Rank(taxon hashid.TaxonId) Rank

	// Name returns the canonical scientific name of a taxon.
	Name(taxon hashid.TaxonId) string

	// Children returns the direct children of a taxon, used by the
	// chunker's depth-first walk (spec §4.2).
	Children(taxon hashid.TaxonId) []hashid.TaxonId

	// Roots returns the top-level taxa with no parent in this tree.
	Roots() []hashid.TaxonId
}

// Node is one entry of the in-memory taxonomy tree (spec §2: "In-memory
// TaxonId → parent, rank, name").
type Node struct {
	ID       hashid.TaxonId
	Parent   hashid.TaxonId
	HasParent bool
	Rank     Rank
	Name     string
}

// Tree is a simple in-memory Provider built from a flat node list, the
// shape a taxdump reader would hand the engine.
type Tree struct {
	nodes      map[hashid.TaxonId]Node
	children   map[hashid.TaxonId][]hashid.TaxonId
	accessions map[string]hashid.TaxonId
	roots      []hashid.TaxonId
}

// NewTree builds a Tree from nodes and an accession→taxon map. Children
// lists are derived from each node's Parent and sorted for determinism.
func NewTree(nodes []Node, accessions map[string]hashid.TaxonId) *Tree {
	t := &Tree{
		nodes:      make(map[hashid.TaxonId]Node, len(nodes)),
		children:   make(map[hashid.TaxonId][]hashid.TaxonId),
		accessions: accessions,
	}
	for _, n := range nodes {
		t.nodes[n.ID] = n
	}
	for _, n := range nodes {
		if n.HasParent {
			t.children[n.Parent] = append(t.children[n.Parent], n.ID)
		} else {
			t.roots = append(t.roots, n.ID)
		}
	}
	for k := range t.children {
		sortTaxa(t.children[k])
	}
	sortTaxa(t.roots)
	return t
}

func sortTaxa(ids []hashid.TaxonId) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// TaxonOf implements Provider.
func (t *Tree) TaxonOf(accession string) (hashid.TaxonId, bool) {
	id, ok := t.accessions[accession]
	return id, ok
}

// Parent implements Provider.
func (t *Tree) Parent(taxon hashid.TaxonId) (hashid.TaxonId, bool) {
	n, ok := t.nodes[taxon]
	if !ok || !n.HasParent {
		return 0, false
	}
	return n.Parent, true
}

// Rank implements Provider.
func (t *Tree) Rank(taxon hashid.TaxonId) Rank {
	return t.nodes[taxon].Rank
}

// Name implements Provider.
func (t *Tree) Name(taxon hashid.TaxonId) string {
	return t.nodes[taxon].Name
}

// Children implements Provider.
func (t *Tree) Children(taxon hashid.TaxonId) []hashid.TaxonId {
	return t.children[taxon]
}

// Roots implements Provider.
func (t *Tree) Roots() []hashid.TaxonId {
	return t.roots
}

// Ancestors returns taxon's ancestor chain, nearest first, using p.Parent.
// Used by subtree filters (spec §4.6 Assembler filter "subtree of a taxon
// id").
func Ancestors(p Provider, taxon hashid.TaxonId) []hashid.TaxonId {
	var out []hashid.TaxonId
	cur := taxon
	for {
		parent, ok := p.Parent(cur)
		if !ok {
			return out
		}
		out = append(out, parent)
		cur = parent
	}
}

// IsDescendant reports whether candidate is taxon itself or a descendant
// of it, walking up candidate's ancestor chain.
func IsDescendant(p Provider, taxon, candidate hashid.TaxonId) bool {
	if taxon == candidate {
		return true
	}
	cur := candidate
	for {
		parent, ok := p.Parent(cur)
		if !ok {
			return false
		}
		if parent == taxon {
			return true
		}
		cur = parent
	}
}

// Subtree returns taxon and every descendant, depth-first, matching the
// chunker's traversal order (spec §4.2 step 2).
func Subtree(p Provider, taxon hashid.TaxonId) []hashid.TaxonId {
	var out []hashid.TaxonId
	var walk func(hashid.TaxonId)
	walk = func(id hashid.TaxonId) {
		out = append(out, id)
		for _, c := range p.Children(id) {
			walk(c)
		}
	}
	walk(taxon)
	return out
}
