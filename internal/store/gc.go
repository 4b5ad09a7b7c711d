package store

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prn-tf/sequoia/internal/hashid"
	"github.com/prn-tf/sequoia/internal/sequoiaerr"
)

// LiveSet reports whether a content hash is still reachable from any
// retained version (spec §3 Lifecycles: "GC is an explicit operation;
// nothing is deleted implicitly"). Callers build this from the version
// store's union of reachable chunk hashes across every version they
// intend to keep.
type LiveSet func(hashid.Hash) bool

// GCReport summarizes one garbage collection pass.
type GCReport struct {
	PacksScanned   int
	PacksRemoved   int
	PacksRewritten int
	BytesFreed     int64
	Duration       time.Duration
}

// GC rewrites every sealed pack, dropping entries not present in live,
// and removes packs that end up empty. The active (not yet sealed) pack
// is left untouched since it may still be receiving writes. This is a
// compacting GC, not a mark-only one: spec §3 calls for GC to be an
// explicit, operator-triggered operation, and a store this size cannot
// assume cheap hole-punching, so reclaiming space means rewriting.
func (s *Store) GC(live LiveSet) (GCReport, error) {
	start := time.Now()
	var report GCReport

	ids, err := listPackIDs(s.packsDir)
	if err != nil {
		return report, err
	}

	activePack := s.writer.current
	for _, id := range ids {
		if id == activePack {
			continue
		}
		report.PacksScanned++

		kept, freed, removedEntries, err := s.rewritePack(id, live)
		if err != nil {
			return report, err
		}
		if len(removedEntries) == 0 {
			continue
		}
		for _, h := range removedEntries {
			s.index.Delete(h)
		}
		report.BytesFreed += freed
		if kept == 0 {
			if err := os.Remove(filepath.Join(s.packsDir, packFileName(id))); err != nil {
				return report, sequoiaerr.BackendIO("remove empty pack", err)
			}
			s.handles.evict(id)
			report.PacksRemoved++
		} else {
			s.handles.evict(id) // rewritten file has new offsets; force reopen
			report.PacksRewritten++
		}
	}

	report.Duration = time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordGCRun(report.Duration.Seconds(), report.PacksRemoved, report.BytesFreed)
		s.metrics.GCOrphanedPacks.Set(float64(report.PacksRemoved))
		s.metrics.GCLastRunSeconds.Set(float64(time.Now().Unix()))
	}
	return report, nil
}

// rewritePack copies every live entry of pack id into a fresh temp file
// and renames it over the original (spec §6: "rename-over-temp for atomic
// publication", generalized from manifest publication to pack compaction).
// It returns the number of entries kept, bytes freed, and the hashes of
// dropped entries so the caller can update the index. Once the rewritten
// file is in place it re-points the index at the new offsets of the
// sequence entries it kept and evicts the pack's cached handle.
func (s *Store) rewritePack(id PackID, live LiveSet) (kept int, freed int64, removed []hashid.Hash, err error) {
	srcPath := filepath.Join(s.packsDir, packFileName(id))
	tmpPath := srcPath + ".gc-tmp"

	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, 0, nil, sequoiaerr.BackendIO("create gc temp pack", err)
	}
	success := false
	defer func() {
		_ = tmp.Close()
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	writer := newRawPackWriter(tmp)
	if err := writer.writeHeader(); err != nil {
		return 0, 0, nil, err
	}

	relocated := make(map[hashid.Hash]Location)
	scanErr := scanPack(srcPath, func(hdr entryHeader, offset int64, reps []byte) error {
		if live(hdr.Hash) {
			payload, readErr := readPayload(srcPath, offset, hdr.StoredLength)
			if readErr != nil {
				return readErr
			}
			if hdr.Kind == entryKindSequence {
				relocated[hdr.Hash] = Location{Pack: id, Offset: writer.offset, StoredLength: hdr.StoredLength, UncompressedSize: hdr.UncompressedSize, DictID: hdr.DictID}
			}
			return writer.writeEntry(hdr, payload, reps)
		}
		if hdr.Kind == entryKindSequence {
			removed = append(removed, hdr.Hash)
		}
		freed += int64(entryHeaderSize) + int64(hdr.StoredLength) + int64(hdr.RepsLength)
		return nil
	})
	if scanErr != nil {
		return 0, 0, nil, scanErr
	}

	kept = writer.count
	if err := tmp.Sync(); err != nil {
		return 0, 0, nil, sequoiaerr.BackendIO("sync gc temp pack", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, 0, nil, sequoiaerr.BackendIO("close gc temp pack", err)
	}

	if kept == 0 {
		success = true // caller removes srcPath directly; nothing to rename
		_ = os.Remove(tmpPath)
		return 0, freed, removed, nil
	}
	if err := os.Rename(tmpPath, srcPath); err != nil {
		return 0, 0, nil, sequoiaerr.BackendIO("rename gc temp pack", err)
	}
	s.handles.evict(id)
	s.index.PutBatch(relocated)
	success = true
	return kept, freed, removed, nil
}

// rawPackWriter is a bare, non-sealing writer used only by GC rewrites,
// where offsets are recomputed from scratch rather than tracked against a
// shared target-byte budget.
type rawPackWriter struct {
	f      *os.File
	offset int64
	count  int
}

func newRawPackWriter(f *os.File) *rawPackWriter { return &rawPackWriter{f: f} }

func (w *rawPackWriter) writeHeader() error {
	if err := writePackHeader(w.f); err != nil {
		return sequoiaerr.BackendIO("write pack header", err)
	}
	w.offset = packHeaderSize
	return nil
}

func (w *rawPackWriter) writeEntry(hdr entryHeader, payload, reps []byte) error {
	if err := writeEntryHeader(w.f, hdr); err != nil {
		return sequoiaerr.BackendIO("write gc pack entry header", err)
	}
	if _, err := w.f.Write(payload); err != nil {
		return sequoiaerr.BackendIO("write gc pack entry payload", err)
	}
	if _, err := w.f.Write(reps); err != nil {
		return sequoiaerr.BackendIO("write gc pack entry representations", err)
	}
	w.offset += entryHeaderSize + int64(len(payload)) + int64(len(reps))
	w.count++
	return nil
}
