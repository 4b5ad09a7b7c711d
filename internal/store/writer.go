package store

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"

	"github.com/prn-tf/sequoia/internal/hashid"
	"github.com/prn-tf/sequoia/internal/sequoiaerr"
)

// packWriter appends entries to a single open pack file until it reaches
// its uncompressed byte budget, then seals it (spec §3 PackFile:
// "append-only, bounded by a target byte budget"). Exactly one writer is
// active per store at a time (spec §4.1: "single writer per pack"); the
// mutex enforces that even if callers share a *Store across goroutines.
type packWriter struct {
	dir         string
	targetBytes int64

	mu      sync.Mutex
	current PackID
	file    *os.File
	buf     *bufio.Writer
	offset  int64 // next write offset within current pack, header already accounted for
	pending map[hashid.Hash]Location
}

func newPackWriter(dir string, targetBytes int64, nextID PackID) (*packWriter, error) {
	w := &packWriter{dir: dir, targetBytes: targetBytes, pending: make(map[hashid.Hash]Location)}
	if err := w.openPack(nextID); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *packWriter) openPack(id PackID) error {
	path := filepath.Join(w.dir, packFileName(id))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return sequoiaerr.BackendIO("create pack", err)
	}
	buf := bufio.NewWriter(f)
	if err := writePackHeader(buf); err != nil {
		_ = f.Close()
		return sequoiaerr.BackendIO("write pack header", err)
	}
	w.current = id
	w.file = f
	w.buf = buf
	w.offset = packHeaderSize
	return nil
}

// appendResult describes where a just-written entry landed, plus whether
// its pack sealed as a result and is now ready for index publication.
type appendResult struct {
	Location    Location
	SealedPack  PackID
	SealedBatch map[hashid.Hash]Location
	DidSeal     bool
}

// Append writes one entry's header, payload, and representations blob to
// the currently open pack, returning its Location. If this write crosses
// the configured byte budget, the pack is flushed, synced and closed, the
// next pack is opened under the same lock acquisition, and the result
// carries the sealed pack's id and its batch of Locations.
func (w *packWriter) Append(kind byte, hash hashid.Hash, uncompressedSize uint32, dictID uint32, payload, reps []byte) (appendResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entryOffset := w.offset
	if err := writeEntry(w.buf, kind, hash, uncompressedSize, dictID, payload, reps); err != nil {
		return appendResult{}, sequoiaerr.BackendIO("append pack entry", err)
	}
	w.offset += entryHeaderSize + int64(len(payload)) + int64(len(reps))

	loc := Location{
		Pack:             w.current,
		Offset:           entryOffset,
		StoredLength:     uint32(len(payload)),
		UncompressedSize: uncompressedSize,
		DictID:           dictID,
	}
	if kind == entryKindSequence {
		// Representation-only records carry no retrievable body, so they
		// never belong in the pending batch the index publishes Locations
		// from.
		w.pending[hash] = loc
	}

	// Flush (not fsync) after every entry so a concurrent reader opening
	// the active pack through a separate descriptor observes the bytes
	// immediately; durability across a crash is handled by snapshot +
	// rebuild-from-packs recovery, not by fsyncing every write.
	if err := w.buf.Flush(); err != nil {
		return appendResult{}, sequoiaerr.BackendIO("flush pack entry", err)
	}

	res := appendResult{Location: loc}
	if w.offset-packHeaderSize >= w.targetBytes {
		sealed, batch, err := w.seal()
		if err != nil {
			return appendResult{}, err
		}
		res.SealedPack = sealed
		res.SealedBatch = batch
		res.DidSeal = true
		if err := w.openPack(w.current + 1); err != nil {
			return appendResult{}, err
		}
	}
	return res, nil
}

// seal flushes and closes the currently open pack, returning its id and
// accumulated batch for index publication. Caller holds w.mu.
func (w *packWriter) seal() (PackID, map[hashid.Hash]Location, error) {
	if err := w.buf.Flush(); err != nil {
		return 0, nil, sequoiaerr.BackendIO("flush pack", err)
	}
	if err := w.file.Sync(); err != nil {
		return 0, nil, sequoiaerr.BackendIO("sync pack", err)
	}
	if err := w.file.Close(); err != nil {
		return 0, nil, sequoiaerr.BackendIO("close pack", err)
	}
	sealed := w.current
	batch := w.pending
	w.pending = make(map[hashid.Hash]Location)
	return sealed, batch, nil
}

// Flush forces the current (unsealed) pack's buffered writes to disk
// without closing or rotating it, used by explicit checkpoints and
// clean-shutdown paths.
func (w *packWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return sequoiaerr.BackendIO("flush pack", err)
	}
	return w.file.Sync()
}

// CurrentBatch returns a copy of the pending (not-yet-sealed) batch. Index
// recovery after an unclean shutdown does not use it; it rescans the pack
// files instead.
func (w *packWriter) CurrentBatch() map[hashid.Hash]Location {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[hashid.Hash]Location, len(w.pending))
	for k, v := range w.pending {
		out[k] = v
	}
	return out
}

// Close flushes and closes the active pack without syncing it. The pack is
// not reopened for appends: the next Open starts a new pack numbered after
// the highest existing one.
func (w *packWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return sequoiaerr.BackendIO("flush pack on close", err)
	}
	return w.file.Close()
}
