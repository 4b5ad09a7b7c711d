package transport_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/sequoia/internal/hashid"
	"github.com/prn-tf/sequoia/internal/sequoiaerr"
	"github.com/prn-tf/sequoia/internal/transport"
)

type memTransport struct {
	mu    sync.Mutex
	blobs map[hashid.Hash][]byte
}

func newMemTransport() *memTransport { return &memTransport{blobs: make(map[hashid.Hash][]byte)} }

func (m *memTransport) Fetch(_ context.Context, h hashid.Hash) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[h]
	if !ok {
		return nil, sequoiaerr.NotFound("chunk", h.String())
	}
	return b, nil
}

func (m *memTransport) Put(_ context.Context, h hashid.Hash, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[h] = body
	return nil
}

func (m *memTransport) Exists(_ context.Context, h hashid.Hash) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[h]
	return ok, nil
}

func TestMirror_CopiesMissingChunksOnly(t *testing.T) {
	src := newMemTransport()
	dst := newMemTransport()

	h1 := hashid.Of([]byte("AAAA"))
	h2 := hashid.Of([]byte("CCCC"))
	require.NoError(t, src.Put(context.Background(), h1, []byte("AAAA")))
	require.NoError(t, src.Put(context.Background(), h2, []byte("CCCC")))
	require.NoError(t, dst.Put(context.Background(), h1, []byte("AAAA")))

	copied, err := transport.Mirror(context.Background(), src, dst, []hashid.Hash{h1, h2})
	require.NoError(t, err)
	assert.Equal(t, 1, copied)

	got, err := dst.Fetch(context.Background(), h2)
	require.NoError(t, err)
	assert.Equal(t, []byte("CCCC"), got)
}

func TestMirror_StopsOnFetchError(t *testing.T) {
	src := newMemTransport()
	dst := newMemTransport()

	missing := hashid.Of([]byte("NOWHERE"))
	copied, err := transport.Mirror(context.Background(), src, dst, []hashid.Hash{missing})
	assert.Error(t, err)
	assert.Equal(t, 0, copied)
}

func TestMirror_RespectsCancellation(t *testing.T) {
	src := newMemTransport()
	dst := newMemTransport()
	h := hashid.Of([]byte("AAAA"))
	require.NoError(t, src.Put(context.Background(), h, []byte("AAAA")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := transport.Mirror(ctx, src, dst, []hashid.Hash{h})
	assert.Error(t, err)
}
