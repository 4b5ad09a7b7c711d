package manifest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/sequoia/internal/hashid"
)

func TestManifest_CanonicalFormIsDeterministic(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	chunks := []ChunkEntry{
		{ChunkHash: hashid.Of([]byte("a")), TaxonIDs: []hashid.TaxonId{10}, ByteSize: 100, CompressedSize: 40, SequenceCount: 2},
	}

	m1 := New(ts, "2026-01-01T00:00:00Z", "2025-12-01T00:00:00Z", "", hashid.Of([]byte("seq")), hashid.Of([]byte("tax")), chunks, nil)
	m2 := New(ts, "2026-01-01T00:00:00Z", "2025-12-01T00:00:00Z", "", hashid.Of([]byte("seq")), hashid.Of([]byte("tax")), chunks, nil)

	b1, err := m1.Canonical()
	require.NoError(t, err)
	b2, err := m2.Canonical()
	require.NoError(t, err)
	assert.Equal(t, b1, b2)

	h1, err := m1.Hash()
	require.NoError(t, err)
	h2, err := m2.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestManifest_DecodeRoundTrips(t *testing.T) {
	ts := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	m := New(ts, "2026-03-15T12:00:00Z", "2026-03-01T00:00:00Z", "v-parent",
		hashid.Of([]byte("s")), hashid.Of([]byte("t")),
		[]ChunkEntry{{ChunkHash: hashid.Of([]byte("x")), TaxonIDs: []hashid.TaxonId{5}, ByteSize: 40, CompressedSize: 20, SequenceCount: 1}},
		nil)

	b, err := m.Canonical()
	require.NoError(t, err)

	decoded, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, m.ParentVersion, decoded.ParentVersion)
	assert.Equal(t, m.SequenceRoot, decoded.SequenceRoot)
	assert.True(t, m.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, m.ChunkIndex, decoded.ChunkIndex)
}

func TestManifest_DifferentContentDifferentHash(t *testing.T) {
	ts := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	a := New(ts, "v1", "v1", "", hashid.Of([]byte("s1")), hashid.Of([]byte("t")), nil, nil)
	b := New(ts, "v1", "v1", "", hashid.Of([]byte("s2")), hashid.Of([]byte("t")), nil, nil)

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}
