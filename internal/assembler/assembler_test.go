package assembler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/sequoia/internal/delta"
	"github.com/prn-tf/sequoia/internal/hashid"
	"github.com/prn-tf/sequoia/internal/manifest"
	"github.com/prn-tf/sequoia/internal/store"
	"github.com/prn-tf/sequoia/internal/taxonomy"
)

// fakeStore is an in-memory ChunkFetcher keyed by content hash, standing
// in for internal/store.Store for these tests.
type fakeStore struct {
	blobs map[hashid.Hash][]byte
	reps  map[hashid.Hash][]store.Representation
}

func newFakeStore() *fakeStore {
	return &fakeStore{blobs: make(map[hashid.Hash][]byte), reps: make(map[hashid.Hash][]store.Representation)}
}

func (f *fakeStore) put(body []byte) hashid.Hash {
	h := hashid.Of(body)
	f.blobs[h] = body
	return h
}

func (f *fakeStore) putWithRep(body []byte, rep store.Representation) hashid.Hash {
	h := f.put(body)
	f.reps[h] = append(f.reps[h], rep)
	return h
}

func (f *fakeStore) Get(_ context.Context, h hashid.Hash) ([]byte, error) {
	b, ok := f.blobs[h]
	if !ok {
		return nil, assert.AnError
	}
	return b, nil
}

func (f *fakeStore) Representations(h hashid.Hash) []store.Representation {
	return f.reps[h]
}

func TestAssembler_StreamsWholeManifestInOrder(t *testing.T) {
	fs := newFakeStore()

	ref := "ACGTACGTACGTACGTACGTACGTACGTACGT"
	near := "ACGTACGTACGTACCTACGTACGTACGTACGT"
	direct := "GGGGCCCCTTTTAAAAGGGGCCCCTTTTAAAA"

	refHash := fs.put([]byte(ref))
	directHash := fs.put([]byte(direct))

	c := delta.NewComputer(0.9)
	d, accepted, err := c.Encode([]byte(ref), []byte(near))
	require.NoError(t, err)
	require.True(t, accepted)

	payload := delta.Payload{
		TaxonIDs:   []hashid.TaxonId{7},
		References: []hashid.Hash{refHash},
		Deltas:     []delta.Delta{*d},
		DirectRefs: []hashid.Hash{directHash},
		Order:      []hashid.Hash{refHash, d.TargetHash, directHash},
		Meta:       delta.Metadata{SequenceCount: 3},
	}
	canonical, err := payload.Canonical()
	require.NoError(t, err)
	chunkHash := fs.put(canonical)

	m := manifest.New(time.Now().UTC(), "v1", "v1", "", hashid.Zero, hashid.Zero,
		[]manifest.ChunkEntry{{ChunkHash: chunkHash, TaxonIDs: []hashid.TaxonId{7}, SequenceCount: 3}}, nil)

	a := New(fs, nil)
	var got []Sequence
	err = a.Stream(context.Background(), m, Filter{Kind: FilterWhole}, func(s Sequence) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []byte(ref), got[0].Body)
	assert.Equal(t, []byte(near), got[1].Body)
	assert.Equal(t, []byte(direct), got[2].Body)
}

func TestAssembler_FilterHashesEmitsOnlyRequested(t *testing.T) {
	fs := newFakeStore()
	a1 := fs.put([]byte("AAAA"))
	a2 := fs.put([]byte("CCCC"))

	payload := delta.Payload{
		DirectRefs: []hashid.Hash{a1, a2},
		Order:      []hashid.Hash{a1, a2},
	}
	canonical, err := payload.Canonical()
	require.NoError(t, err)
	chunkHash := fs.put(canonical)

	m := manifest.New(time.Now().UTC(), "v1", "v1", "", hashid.Zero, hashid.Zero,
		[]manifest.ChunkEntry{{ChunkHash: chunkHash}}, nil)

	a := New(fs, nil)
	var got []Sequence
	err = a.Stream(context.Background(), m, Filter{Kind: FilterHashes, Hashes: []hashid.Hash{a2}}, func(s Sequence) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a2, got[0].Hash)
}

func TestAssembler_FilterSubtreeSkipsUnrelatedChunks(t *testing.T) {
	fs := newFakeStore()
	tree := taxonomy.NewTree([]taxonomy.Node{
		{ID: 1, HasParent: false},
		{ID: 2, Parent: 1, HasParent: true},
		{ID: 99, HasParent: false},
	}, nil)

	inSubtree := fs.put([]byte("AAAA"))
	outSubtree := fs.put([]byte("CCCC"))

	p1 := delta.Payload{DirectRefs: []hashid.Hash{inSubtree}, Order: []hashid.Hash{inSubtree}}
	c1, _ := p1.Canonical()
	h1 := fs.put(c1)

	p2 := delta.Payload{DirectRefs: []hashid.Hash{outSubtree}, Order: []hashid.Hash{outSubtree}}
	c2, _ := p2.Canonical()
	h2 := fs.put(c2)

	m := manifest.New(time.Now().UTC(), "v1", "v1", "", hashid.Zero, hashid.Zero,
		[]manifest.ChunkEntry{
			{ChunkHash: h1, TaxonIDs: []hashid.TaxonId{2}},
			{ChunkHash: h2, TaxonIDs: []hashid.TaxonId{99}},
		}, nil)

	a := New(fs, tree)
	var got []Sequence
	err := a.Stream(context.Background(), m, Filter{Kind: FilterSubtree, Taxon: 1}, func(s Sequence) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, inSubtree, got[0].Hash)
}

func TestAssembler_StreamRespectsCancellation(t *testing.T) {
	fs := newFakeStore()
	m := manifest.New(time.Now().UTC(), "v1", "v1", "", hashid.Zero, hashid.Zero,
		[]manifest.ChunkEntry{{ChunkHash: hashid.Of([]byte("missing"))}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := New(fs, nil)
	err := a.Stream(ctx, m, Filter{Kind: FilterWhole}, func(Sequence) error { return nil })
	assert.Error(t, err)
}
