package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/sequoia/internal/config"
	"github.com/prn-tf/sequoia/internal/hashid"
)

func testStore(t *testing.T, opts ...config.Option) *Store {
	t.Helper()
	cfg := config.Apply(config.Default(t.TempDir()), opts...)
	s, err := Open(cfg.Store, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRep(accession string) Representation {
	return Representation{Accession: accession, DatabaseID: "db1", Header: accession + " test sequence"}
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	content := []byte("ACGTACGTACGTACGTACGT")
	hash, err := s.Put(ctx, content, 0, testRep("ACC1"))
	require.NoError(t, err)

	got, err := s.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestStore_PutIsIdempotentUnderDedup(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	content := []byte("GATTACAGATTACA")

	h1, err := s.Put(ctx, content, 0, testRep("ACC1"))
	require.NoError(t, err)
	h2, err := s.Put(ctx, content, 0, testRep("ACC1"))
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Equal(t, 1, s.Len())
}

func TestStore_PutMergesRepresentationsAcrossDuplicateBodies(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	content := []byte("GATTACAGATTACA")

	h1, err := s.Put(ctx, content, 0, testRep("ACC1"))
	require.NoError(t, err)
	h2, err := s.Put(ctx, content, 0, testRep("ACC2"))
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	// A repeat Put with the same (accession, database_id) is a no-op,
	// not a duplicate representation (spec §4.1 "dedup by (accession,
	// database_id) on repeat puts").
	_, err = s.Put(ctx, content, 0, testRep("ACC1"))
	require.NoError(t, err)

	reps := s.Representations(h1)
	require.Len(t, reps, 2)
	assert.ElementsMatch(t, []string{"ACC1", "ACC2"}, []string{reps[0].Accession, reps[1].Accession})
}

func TestStore_GetUnknownHashReturnsNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.Get(context.Background(), hashid.Of([]byte("never-stored")))
	assert.Error(t, err)
}

func TestStore_SealsPackAtByteBudget(t *testing.T) {
	s := testStore(t, config.WithPackTargetBytes(64))
	ctx := context.Background()

	hashes := make([]hashid.Hash, 0, 10)
	for i := 0; i < 10; i++ {
		content := []byte("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA" + string(rune('A'+i)))
		h, err := s.Put(ctx, content, 0, testRep(string(rune('A'+i))))
		require.NoError(t, err)
		hashes = append(hashes, h)
	}

	for _, h := range hashes {
		_, err := s.Get(ctx, h)
		require.NoError(t, err)
	}

	ids, err := listPackIDs(s.packsDir)
	require.NoError(t, err)
	assert.Greater(t, len(ids), 1, "expected multiple sealed packs given a tiny byte budget")
}

func TestStore_RecoversIndexFromPacksAfterRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default(dir)

	s1, err := Open(cfg.Store, nil, zerolog.Nop())
	require.NoError(t, err)
	content := []byte("TTTTGGGGCCCCAAAA")
	hash, err := s1.Put(context.Background(), content, 0, testRep("ACC1"))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Remove the snapshot to force recovery purely from pack contents.
	require.NoError(t, removeSnapshot(s1.indexDir))

	s2, err := Open(cfg.Store, nil, zerolog.Nop())
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	require.Len(t, s2.Representations(hash), 1)
	assert.Equal(t, "ACC1", s2.Representations(hash)[0].Accession)
}

func TestStore_GCReclaimsDeadEntries(t *testing.T) {
	s := testStore(t, config.WithPackTargetBytes(32))
	ctx := context.Background()

	live, err := s.Put(ctx, []byte("LIVELIVELIVELIVE"), 0, testRep("LIVE"))
	require.NoError(t, err)
	dead, err := s.Put(ctx, []byte("DEADDEADDEADDEAD"), 0, testRep("DEAD"))
	require.NoError(t, err)

	// Force a seal so both entries land in a non-active pack GC will scan.
	_, err = s.Put(ctx, []byte("PADPADPADPADPADPADPADPAD"), 0, testRep("PAD"))
	require.NoError(t, err)

	report, err := s.GC(func(h hashid.Hash) bool { return h == live })
	require.NoError(t, err)
	assert.GreaterOrEqual(t, report.PacksScanned, 1)

	_, err = s.Get(ctx, live)
	assert.NoError(t, err)
	_, err = s.Get(ctx, dead)
	assert.Error(t, err)
}

func TestStore_HealthCheckDeepDetectsHealthyStore(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	_, err := s.Put(ctx, []byte("CGCGCGCGCGCGCGCG"), 0, testRep("ACC1"))
	require.NoError(t, err)

	report, err := s.HealthCheck(true)
	require.NoError(t, err)
	assert.True(t, report.Healthy)
	assert.Empty(t, report.CorruptEntries)
	assert.Empty(t, report.MissingPacks)
}

func removeSnapshot(indexDir string) error {
	return os.Remove(filepath.Join(indexDir, snapshotFile))
}
