// Package merkledag implements the balanced binary Merkle tree over chunk
// hashes used to build each manifest's sequence_root and taxonomy_root
// (spec §4.4 Merkle DAG). An odd level is completed by duplicating its
// last node rather than rebalancing, and proofs are a self-describing
// (sibling hash, direction bit) path from leaf to root — the same
// sibling-path proof shape demonstrated by the retrieved pack's Merkle
// examples, rebuilt here over hashid.Hash/SHA-256 instead of a
// zk-circuit-friendly field (no BN254/Poseidon dependency is wired
// anywhere else in this module, so pulling one in just for this tree
// would be a stranded dependency; see DESIGN.md).
package merkledag

import (
	"github.com/prn-tf/sequoia/internal/hashid"
	"github.com/prn-tf/sequoia/internal/sequoiaerr"
)

// Direction records which side of a parent a proof step's sibling sits on.
type Direction bool

const (
	// Left means the sibling is the left child; the proven node is the right child.
	Left Direction = false
	// Right means the sibling is the right child; the proven node is the left child.
	Right Direction = true
)

// Tree is a balanced binary Merkle tree built bottom-up from an ordered
// leaf list.
type Tree struct {
	levels [][]hashid.Hash // levels[0] is the leaves, levels[len-1] is [root]
}

// Build constructs a Tree over leaves in order. An empty leaves slice
// yields a Tree whose Root is hashid.Zero (spec §4.4 edge case: "an empty
// manifest has a defined, non-error root").
func Build(leaves []hashid.Hash) *Tree {
	if len(leaves) == 0 {
		return &Tree{levels: [][]hashid.Hash{{hashid.Zero}}}
	}

	level := append([]hashid.Hash(nil), leaves...)
	levels := [][]hashid.Hash{level}

	for len(level) > 1 {
		var next []hashid.Hash
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := level[i] // last-leaf duplication when the level is odd-sized
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, parentHash(left, right))
		}
		levels = append(levels, next)
		level = next
	}

	return &Tree{levels: levels}
}

// Root returns the tree's root hash.
func (t *Tree) Root() hashid.Hash {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// LeafCount returns the number of leaves the tree was built from (0 for an
// empty tree, not 1, even though an empty tree stores a single sentinel
// root level).
func (t *Tree) LeafCount() int {
	if len(t.levels) == 1 && t.levels[0][0] == hashid.Zero {
		return 0
	}
	return len(t.levels[0])
}

// Proof is a self-describing inclusion proof: the leaf being proven, the
// ordered sibling hashes from leaf to root, the direction of each sibling,
// and the root the path is expected to reproduce (spec §4.4: "the proof
// alone — without external context — is sufficient to verify inclusion").
type Proof struct {
	Leaf         hashid.Hash
	Siblings     []hashid.Hash
	Directions   []Direction
	ExpectedRoot hashid.Hash
}

// Prove builds an inclusion proof for the leaf at index.
func (t *Tree) Prove(index int) (Proof, error) {
	if index < 0 || index >= t.LeafCount() {
		return Proof{}, sequoiaerr.MalformedInput("leaf index %d out of range [0,%d)", index, t.LeafCount())
	}

	leaf := t.levels[0][index]
	var siblings []hashid.Hash
	var dirs []Direction

	idx := index
	for lvl := 0; lvl < len(t.levels)-1; lvl++ {
		level := t.levels[lvl]
		isRightChild := idx%2 == 1
		var siblingIdx int
		if isRightChild {
			siblingIdx = idx - 1
			dirs = append(dirs, Left)
		} else {
			siblingIdx = idx + 1
			if siblingIdx >= len(level) {
				siblingIdx = idx // duplicated last leaf
			}
			dirs = append(dirs, Right)
		}
		siblings = append(siblings, level[siblingIdx])
		idx /= 2
	}

	return Proof{
		Leaf:         leaf,
		Siblings:     siblings,
		Directions:   dirs,
		ExpectedRoot: t.Root(),
	}, nil
}

// Verify recomputes the root implied by p and reports whether it matches
// p.ExpectedRoot, without needing the original Tree (spec §4.4: proofs are
// independently verifiable).
func Verify(p Proof) bool {
	cur := p.Leaf
	for i, sibling := range p.Siblings {
		if p.Directions[i] == Left {
			cur = parentHash(sibling, cur)
		} else {
			cur = parentHash(cur, sibling)
		}
	}
	return cur == p.ExpectedRoot
}

// parentHash derives an internal node's hash from its two children,
// domain-separated from leaf hashes by prefixing a fixed tag byte so a
// leaf hash can never be mistaken for an internal node hash.
func parentHash(left, right hashid.Hash) hashid.Hash {
	h := hashid.NewHasher()
	_, _ = h.Write([]byte{0x01})
	_, _ = h.Write(left.Bytes())
	_, _ = h.Write(right.Bytes())
	return h.Sum()
}
