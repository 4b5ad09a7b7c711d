package ingest_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/sequoia/internal/assembler"
	"github.com/prn-tf/sequoia/internal/clockprovider"
	"github.com/prn-tf/sequoia/internal/config"
	"github.com/prn-tf/sequoia/internal/discrepancy"
	"github.com/prn-tf/sequoia/internal/hashid"
	"github.com/prn-tf/sequoia/internal/ingest"
	"github.com/prn-tf/sequoia/internal/store"
	"github.com/prn-tf/sequoia/internal/taxonomy"
	"github.com/prn-tf/sequoia/internal/version"
)

func newFixture(t *testing.T) (*store.Store, *version.Store, *taxonomy.Tree) {
	t.Helper()
	cfg := config.Default(t.TempDir())
	s, err := store.Open(cfg.Store, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	vs, err := version.Open(t.TempDir())
	require.NoError(t, err)

	tree := taxonomy.NewTree([]taxonomy.Node{
		{ID: 1, HasParent: false},
		{ID: 2, Parent: 1, HasParent: true},
	}, nil)

	return s, vs, tree
}

func sig(taxon hashid.TaxonId) discrepancy.Signals {
	return discrepancy.Signals{Mapping: taxon, HasMapping: true}
}

func TestSession_EmptyIngestPublishesEmptyManifest(t *testing.T) {
	s, vs, tree := newFixture(t)
	ig := ingest.New(s, vs, config.Default(""), ingest.WithProvider(tree))

	session := ig.Begin(ingest.BeginOptions{})
	result, err := session.Finalize(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Manifest.ChunkIndex)
	assert.NotEmpty(t, result.VersionID)
}

func TestSession_SingleSequenceRoundTrips(t *testing.T) {
	s, vs, tree := newFixture(t)
	ig := ingest.New(s, vs, config.Default(""), ingest.WithProvider(tree))

	session := ig.Begin(ingest.BeginOptions{})
	body := []byte("ACGTACGTACGTACGTACGTACGTACGTACGT")
	err := session.Add(context.Background(), ingest.Representation{
		Accession: "ACC1",
		Body:      body,
		Signals:   sig(2),
	})
	require.NoError(t, err)

	result, err := session.Finalize(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Manifest.ChunkIndex, 1)
	assert.Equal(t, 1, result.Manifest.ChunkIndex[0].SequenceCount)

	a := assembler.New(storeFetcher{s}, tree)
	var got []assembler.Sequence
	err = a.Stream(context.Background(), result.Manifest, assembler.Filter{Kind: assembler.FilterWhole}, func(seq assembler.Sequence) error {
		got = append(got, seq)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, body, got[0].Body)
}

func TestSession_DedupAcrossRepresentationsStoresOnce(t *testing.T) {
	s, vs, tree := newFixture(t)
	ig := ingest.New(s, vs, config.Default(""), ingest.WithProvider(tree))

	session := ig.Begin(ingest.BeginOptions{})
	body := []byte("GGGGCCCCTTTTAAAAGGGGCCCCTTTTAAAA")
	for i := 0; i < 3; i++ {
		err := session.Add(context.Background(), ingest.Representation{
			Accession: fmt.Sprintf("ACC%d", i),
			Body:      body,
			Signals:   sig(2),
		})
		require.NoError(t, err)
	}

	before := s.Len()
	result, err := session.Finalize(context.Background())
	require.NoError(t, err)
	// Three accessions resolve to the same content hash; the store only
	// ever holds one copy of the sequence bytes plus the one chunk blob.
	assert.Equal(t, before+1, s.Len())
	require.Len(t, result.Manifest.ChunkIndex, 1)
	assert.Equal(t, 3, result.Manifest.ChunkIndex[0].SequenceCount)
}

func TestSession_DiscrepantSignalsAreRecorded(t *testing.T) {
	s, vs, tree := newFixture(t)
	ig := ingest.New(s, vs, config.Default(""), ingest.WithProvider(tree), ingest.WithPolicy(discrepancy.PolicyUseMapping))

	session := ig.Begin(ingest.BeginOptions{})
	err := session.Add(context.Background(), ingest.Representation{
		Accession: "ACC1",
		Body:      []byte("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"),
		Signals: discrepancy.Signals{
			Header: 1, HasHeader: true,
			Mapping: 2, HasMapping: true,
		},
	})
	require.NoError(t, err)

	result, err := session.Finalize(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Manifest.Discrepancies, 1)
	assert.Equal(t, discrepancy.UseMapping, result.Manifest.Discrepancies[0].Resolution)
	assert.Equal(t, hashid.TaxonId(2), result.Manifest.Discrepancies[0].Resolved)
}

func TestSession_FinalizeIsCancellable(t *testing.T) {
	s, vs, tree := newFixture(t)
	ig := ingest.New(s, vs, config.Default(""), ingest.WithProvider(tree))

	session := ig.Begin(ingest.BeginOptions{})
	require.NoError(t, session.Add(context.Background(), ingest.Representation{
		Accession: "ACC1",
		Body:      []byte("TTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTT"),
		Signals:   sig(1),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := session.Finalize(ctx)
	assert.Error(t, err)
}

func TestSession_IncrementalUpdateChainsParentVersion(t *testing.T) {
	s, vs, tree := newFixture(t)
	ig := ingest.New(s, vs, config.Default(""), ingest.WithProvider(tree),
		ingest.WithClock(clockprovider.Sequence(time.Unix(0, 0).UTC(), time.Second)))

	first := ig.Begin(ingest.BeginOptions{})
	require.NoError(t, first.Add(context.Background(), ingest.Representation{
		Accession: "ACC1",
		Body:      []byte("CCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC"),
		Signals:   sig(1),
	}))
	r1, err := first.Finalize(context.Background())
	require.NoError(t, err)

	second := ig.Begin(ingest.BeginOptions{ParentVersion: r1.VersionID})
	require.NoError(t, second.Add(context.Background(), ingest.Representation{
		Accession: "ACC2",
		Body:      []byte("TGTGTGTGTGTGTGTGTGTGTGTGTGTGTGTG"),
		Signals:   sig(2),
	}))
	r2, err := second.Finalize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, r1.VersionID, r2.Manifest.ParentVersion)
	assert.NotEqual(t, r1.VersionID, r2.VersionID)
	// Both sessions ingest against the same taxonomy tree, so a
	// sequence-only re-publish must not disturb taxonomy_root (spec §4.4).
	assert.Equal(t, r1.Manifest.TaxonomyRoot, r2.Manifest.TaxonomyRoot)
	assert.NotEqual(t, hashid.Zero, r1.Manifest.TaxonomyRoot)
}

func TestSession_TaxonomyRootComputedFromProvider(t *testing.T) {
	s, vs, tree := newFixture(t)
	ig := ingest.New(s, vs, config.Default(""), ingest.WithProvider(tree))

	session := ig.Begin(ingest.BeginOptions{})
	result, err := session.Finalize(context.Background())
	require.NoError(t, err)

	want := taxonomy.BuildRoot(tree)
	assert.Equal(t, want, result.Manifest.TaxonomyRoot)
}

type storeFetcher struct{ s *store.Store }

func (f storeFetcher) Get(ctx context.Context, h hashid.Hash) ([]byte, error) {
	return f.s.Get(ctx, h)
}

func (f storeFetcher) Representations(h hashid.Hash) []store.Representation {
	return f.s.Representations(h)
}
