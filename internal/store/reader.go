package store

import (
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/prn-tf/sequoia/internal/metrics"
	"github.com/prn-tf/sequoia/internal/sequoiaerr"
)

// handleCache bounds the number of open pack file descriptors the store
// holds at once (spec §4.1: "LRU cache of recently opened packs"),
// grounded on dolt NBS's fdCache.
type handleCache struct {
	dir string
	mu  sync.Mutex
	lru *lru.Cache[PackID, *os.File]
	m   *metrics.Metrics
}

func newHandleCache(dir string, size int, m *metrics.Metrics) (*handleCache, error) {
	hc := &handleCache{dir: dir, m: m}
	c, err := lru.NewWithEvict(size, func(_ PackID, f *os.File) {
		_ = f.Close()
	})
	if err != nil {
		return nil, sequoiaerr.BackendIO("create pack handle cache", err)
	}
	hc.lru = c
	return hc, nil
}

// open returns an open *os.File for id, reusing a cached descriptor when
// possible. The caller must not close the returned file; the cache owns
// its lifetime and closes it on eviction or Close.
func (hc *handleCache) open(id PackID) (*os.File, error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if f, ok := hc.lru.Get(id); ok {
		if hc.m != nil {
			hc.m.PackCacheHitsTotal.Inc()
		}
		return f, nil
	}
	if hc.m != nil {
		hc.m.PackCacheMissesTotal.Inc()
	}

	f, err := os.Open(filepath.Join(hc.dir, packFileName(id)))
	if err != nil {
		return nil, sequoiaerr.BackendIO("open pack", err)
	}
	hc.lru.Add(id, f)
	if hc.m != nil {
		hc.m.PacksOpenTotal.Set(float64(hc.lru.Len()))
	}
	return f, nil
}

// readAt reads length bytes from pack id starting at offset, using the
// shared handle cache instead of opening a fresh descriptor per call.
func (hc *handleCache) readAt(id PackID, offset int64, length uint32) ([]byte, error) {
	f, err := hc.open(id)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset+entryHeaderSize); err != nil {
		return nil, sequoiaerr.BackendIO("read pack entry", err)
	}
	return buf, nil
}

// Close closes every cached handle.
func (hc *handleCache) Close() {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.lru.Purge()
}

// evict drops id from the cache (and closes it) without affecting other
// entries, used by GC when replacing a pack file on disk.
func (hc *handleCache) evict(id PackID) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.lru.Remove(id)
}
