package delta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/sequoia/internal/hashid"
)

func seqRef(body string) SequenceRef {
	return SequenceRef{Hash: hashid.Of([]byte(body)), Body: []byte(body)}
}

func TestBuildPayload_EncodesNearDuplicatesAsDeltasAndDirectRefsOtherwise(t *testing.T) {
	ref := "MKTAYIAKQRQISFVKSHFSRQMKTAYIAKQRQISFVKSHFSRQ"
	near := "MKTAYIAKQRQISFVKSHFSRQMKTAYIAKQRQISFVKSHFSRE" // one substitution
	unrelated := "TTTTTTTTTTTTTTTTTTTT"

	seqs := []SequenceRef{seqRef(ref), seqRef(near), seqRef(unrelated)}
	c := NewComputer(0.9)

	p, err := BuildPayload(c, []hashid.TaxonId{42}, seqs, BuildOptions{RefRatio: 0.3, SelectionRatio: 0.5})
	require.NoError(t, err)

	assert.Contains(t, p.References, hashid.Of([]byte(ref)))
	assert.Len(t, p.Deltas, 1)
	assert.Equal(t, hashid.Of([]byte(near)), p.Deltas[0].TargetHash)
	assert.Contains(t, p.DirectRefs, hashid.Of([]byte(unrelated)))
	assert.Equal(t, 3, p.Meta.SequenceCount)
}

func TestBuildPayload_EmptyGroupProducesEmptyPayload(t *testing.T) {
	p, err := BuildPayload(NewComputer(0.8), []hashid.TaxonId{1}, nil, BuildOptions{RefRatio: 0.3, SelectionRatio: 0.5})
	require.NoError(t, err)
	assert.Empty(t, p.References)
	assert.Empty(t, p.Deltas)
	assert.Empty(t, p.DirectRefs)
}

func TestPayload_CanonicalIsOrderIndependent(t *testing.T) {
	p1 := Payload{
		TaxonIDs:   []hashid.TaxonId{1},
		References: []hashid.Hash{hashid.Of([]byte("b")), hashid.Of([]byte("a"))},
		DirectRefs: []hashid.Hash{hashid.Of([]byte("d")), hashid.Of([]byte("c"))},
	}
	p2 := Payload{
		TaxonIDs:   []hashid.TaxonId{1},
		References: []hashid.Hash{hashid.Of([]byte("a")), hashid.Of([]byte("b"))},
		DirectRefs: []hashid.Hash{hashid.Of([]byte("c")), hashid.Of([]byte("d"))},
	}

	h1, err := p1.Hash()
	require.NoError(t, err)
	h2, err := p2.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestPayload_DifferentDeltasDifferentHash(t *testing.T) {
	base := Payload{TaxonIDs: []hashid.TaxonId{1}, References: []hashid.Hash{hashid.Of([]byte("r"))}}
	withDelta := base
	withDelta.Deltas = []Delta{{RefHash: hashid.Of([]byte("r")), TargetHash: hashid.Of([]byte("t")), TargetSize: 1}}

	h1, err := base.Hash()
	require.NoError(t, err)
	h2, err := withDelta.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestReconstruct_RebuildsDirectRefsAndDeltaTargets(t *testing.T) {
	ref := "ACGTACGTACGTACGTACGTACGTACGTACGT"
	target := "ACGTACGTACGTACCTACGTACGTACGTACGT"
	direct := "GGGGCCCCTTTTAAAA"

	store := map[hashid.Hash][]byte{
		hashid.Of([]byte(ref)):    []byte(ref),
		hashid.Of([]byte(direct)): []byte(direct),
	}

	c := NewComputer(0.9)
	d, accepted, err := c.Encode([]byte(ref), []byte(target))
	require.NoError(t, err)
	require.True(t, accepted)

	p := Payload{
		References: []hashid.Hash{hashid.Of([]byte(ref))},
		Deltas:     []Delta{*d},
		DirectRefs: []hashid.Hash{hashid.Of([]byte(direct))},
	}

	out, err := Reconstruct(p, func(h hashid.Hash) ([]byte, error) { return store[h], nil })
	require.NoError(t, err)
	assert.Equal(t, []byte(ref), out[hashid.Of([]byte(ref))])
	assert.Equal(t, []byte(direct), out[hashid.Of([]byte(direct))])
	assert.Equal(t, []byte(target), out[hashid.Of([]byte(target))])
}
