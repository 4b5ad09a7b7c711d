package delta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/sequoia/internal/hashid"
)

func TestComputer_EncodesNearDuplicateAndRoundTrips(t *testing.T) {
	ref := []byte("ACGTACGTACGTACGTACGTACGTACGTACGTACGTACGT")
	target := []byte("ACGTACGTACGTACCTACGTACGTACGTACGTACGTACGT") // single substitution

	c := NewComputer(0.9)
	d, accepted, err := c.Encode(ref, target)
	require.NoError(t, err)
	require.True(t, accepted)

	rebuilt, err := Apply(ref, d)
	require.NoError(t, err)
	assert.Equal(t, target, rebuilt)
	assert.Equal(t, hashid.Of(target), d.TargetHash)
}

func TestComputer_RejectsBelowGainThreshold(t *testing.T) {
	ref := []byte("ACGT")
	target := []byte("TGCA") // totally different, alignment saves nothing useful

	c := NewComputer(0.9)
	_, accepted, err := c.Encode(ref, target)
	require.NoError(t, err)
	assert.False(t, accepted)
}

func TestComputer_HandlesInsertionsAndDeletions(t *testing.T) {
	ref := []byte("AAAAGGGGCCCCTTTT")
	target := []byte("GGGGCCCCTTTTAAAA") // leading AAAA deleted, AAAA inserted at the end

	c := NewComputer(0.01)
	d, _, err := c.Encode(ref, target)
	require.NoError(t, err)

	rebuilt, err := Apply(ref, d)
	require.NoError(t, err)
	assert.Equal(t, target, rebuilt)
}

func TestVerify_DetectsTamperedDelta(t *testing.T) {
	ref := []byte("ACGTACGTACGTACGTACGTACGTACGTACGTACGTACGT")
	target := []byte("ACGTACGTACGTTCGTACGTACGTACGTACGTACGTACGT")

	c := NewComputer(0.9)
	d, accepted, err := c.Encode(ref, target)
	require.NoError(t, err)
	require.True(t, accepted)

	require.NoError(t, Verify(ref, d))

	d.TargetHash = hashid.Of([]byte("tampered"))
	assert.Error(t, Verify(ref, d))
}

func TestSelectReference_PrefersLongestWithinRatio(t *testing.T) {
	candidates := []Candidate{
		{Hash: hashid.Of([]byte("a")), Length: 1000},
		{Hash: hashid.Of([]byte("b")), Length: 105},
		{Hash: hashid.Of([]byte("c")), Length: 95},
	}

	chosen, ok := SelectReference(100, candidates, 0.9)
	require.True(t, ok)
	assert.Equal(t, int64(105), chosen.Length)
}

func TestSelectReference_NoneWithinRatio(t *testing.T) {
	candidates := []Candidate{{Hash: hashid.Of([]byte("a")), Length: 10000}}
	_, ok := SelectReference(100, candidates, 0.9)
	assert.False(t, ok)
}

func TestMergeOps_CollapsesConsecutiveRuns(t *testing.T) {
	ops := []Op{
		{Kind: OpMatch, Length: 1},
		{Kind: OpMatch, Length: 1},
		{Kind: OpInsert, Data: []byte("A")},
		{Kind: OpInsert, Data: []byte("C")},
	}
	merged := mergeOps(ops)
	require.Len(t, merged, 2)
	assert.Equal(t, int64(2), merged[0].Length)
	assert.Equal(t, []byte("AC"), merged[1].Data)
}
