package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/sequoia/internal/hashid"
	"github.com/prn-tf/sequoia/internal/manifest"
)

func mustOpen(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestStore_PutAndGetManifest(t *testing.T) {
	s := mustOpen(t)
	m := manifest.New(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "v1", "v1", "",
		hashid.Of([]byte("s")), hashid.Of([]byte("t")), nil, nil)

	id, err := s.PutManifest(m)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	got, err := s.GetManifest(id)
	require.NoError(t, err)
	assert.Equal(t, m.SequenceRoot, got.SequenceRoot)
}

func TestStore_PutManifestIsIdempotent(t *testing.T) {
	s := mustOpen(t)
	m := manifest.New(time.Now().UTC(), "v1", "v1", "", hashid.Of([]byte("a")), hashid.Of([]byte("b")), nil, nil)

	id1, err := s.PutManifest(m)
	require.NoError(t, err)
	id2, err := s.PutManifest(m)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Len(t, s.ListVersions(Filter{}), 1)
}

func TestStore_SetAndResolveAlias(t *testing.T) {
	s := mustOpen(t)
	m := manifest.New(time.Now().UTC(), "v1", "v1", "", hashid.Of([]byte("a")), hashid.Of([]byte("b")), nil, nil)
	id, err := s.PutManifest(m)
	require.NoError(t, err)

	require.NoError(t, s.SetAlias("current", id))
	resolved, err := s.ResolveAlias("current")
	require.NoError(t, err)
	assert.Equal(t, id, resolved)
}

func TestStore_SetAliasRejectsUnknownVersion(t *testing.T) {
	s := mustOpen(t)
	err := s.SetAlias("current", "deadbeef")
	assert.Error(t, err)
}

func TestStore_ResolveBitemporalPicksYoungestQualifying(t *testing.T) {
	s := mustOpen(t)

	old := manifest.New(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z", "",
		hashid.Of([]byte("old")), hashid.Of([]byte("old-tax")), nil, nil)
	mid := manifest.New(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), "2026-02-01T00:00:00Z", "2026-01-15T00:00:00Z", "",
		hashid.Of([]byte("mid")), hashid.Of([]byte("mid-tax")), nil, nil)
	future := manifest.New(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), "2026-03-01T00:00:00Z", "2026-03-01T00:00:00Z", "",
		hashid.Of([]byte("future")), hashid.Of([]byte("future-tax")), nil, nil)

	oldID, err := s.PutManifest(old)
	require.NoError(t, err)
	_, err = s.PutManifest(mid)
	require.NoError(t, err)
	_, err = s.PutManifest(future)
	require.NoError(t, err)

	resolved, err := s.ResolveBitemporal("2026-02-15T00:00:00Z", "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, oldID, resolved, "taxonomy constraint should rule out mid and future")
}

func TestStore_ResolveBitemporalNoMatch(t *testing.T) {
	s := mustOpen(t)
	m := manifest.New(time.Now().UTC(), "2030-01-01T00:00:00Z", "2030-01-01T00:00:00Z", "",
		hashid.Of([]byte("a")), hashid.Of([]byte("b")), nil, nil)
	_, err := s.PutManifest(m)
	require.NoError(t, err)

	_, err = s.ResolveBitemporal("2020-01-01T00:00:00Z", "2020-01-01T00:00:00Z")
	assert.Error(t, err)
}

func TestOpen_RecoversManifestsAndAliasesFromDisk(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir)
	require.NoError(t, err)
	m := manifest.New(time.Now().UTC(), "v1", "v1", "", hashid.Of([]byte("a")), hashid.Of([]byte("b")), nil, nil)
	id, err := s1.PutManifest(m)
	require.NoError(t, err)
	require.NoError(t, s1.SetAlias("current", id))

	s2, err := Open(dir)
	require.NoError(t, err)
	got, err := s2.GetManifest(id)
	require.NoError(t, err)
	assert.Equal(t, m.SequenceRoot, got.SequenceRoot)

	resolved, err := s2.ResolveAlias("current")
	require.NoError(t, err)
	assert.Equal(t, id, resolved)
}
