// Package store implements the packed, content-addressed sequence store
// (spec §3 PackFile, §4.1 Packed Sequence Store). Sequences are appended to
// bounded pack files and located through an in-memory index keyed by
// content hash; a bloom filter short-circuits negative lookups the way the
// teacher's shardedLock short-circuits lock contention, and an LRU of open
// pack handles keeps descriptor pressure bounded the way dolt's NBS
// fdCache does for table files.
package store

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/prn-tf/sequoia/internal/hashid"
	"github.com/prn-tf/sequoia/internal/sequoiaerr"
)

// packMagic identifies a Sequoia pack file on disk.
var packMagic = [4]byte{'P', 'K', 'S', 'Q'}

// packVersion is the on-disk pack format version.
const packVersion = uint32(1)

// entryKindSequence marks a full sequence entry: header, compressed
// payload, then its representations blob (spec §3 PackFile: "reps_len,
// reps"). entryKindRepAppend marks a representation-only record, used
// when a later Put adds a new representation to an already-stored body
// without rewriting that body (stores are append-only; the body itself
// never moves).
const (
	entryKindSequence  byte = 0
	entryKindRepAppend byte = 1
)

// entryHeader is the fixed-size prefix written before every entry: the
// content hash (for recovery/rebuild without the index), the stored
// length, the uncompressed length (needed by callers that verify
// decompressed size before hashing), and the length of the
// representations blob that follows the payload.
type entryHeader struct {
	Kind             byte
	Hash             hashid.Hash
	StoredLength     uint32
	UncompressedSize uint32
	DictID           uint32
	RepsLength       uint32
}

const entryHeaderSize = 1 + hashid.Size + 4 + 4 + 4 + 4

// PackID identifies one pack file by a plain incrementing integer; kept as
// a distinct type so callers can't confuse it with an offset.
type PackID uint64

// packFileName returns the on-disk file name for id.
func packFileName(id PackID) string {
	return fmt.Sprintf("pack-%020d.seq", id)
}

// writePackHeader writes the fixed pack file header: magic + version.
func writePackHeader(w io.Writer) error {
	if _, err := w.Write(packMagic[:]); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, packVersion)
}

// readPackHeader validates the magic/version prefix of an open pack file.
func readPackHeader(r io.Reader) error {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return sequoiaerr.BackendIO("read pack header", err)
	}
	if magic != packMagic {
		return sequoiaerr.Integrity("pack magic", string(packMagic[:]), string(magic[:]))
	}
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return sequoiaerr.BackendIO("read pack version", err)
	}
	if version != packVersion {
		return sequoiaerr.Unsupported(fmt.Sprintf("pack version %d", version))
	}
	return nil
}

// packHeaderSize is the byte length of the fixed pack file header.
const packHeaderSize = 4 + 4

// writeEntry appends one entry (header + payload + representations blob)
// to w. It returns only an error; the caller tracks the running offset
// within the pack itself.
func writeEntry(w *bufio.Writer, kind byte, hash hashid.Hash, uncompressedSize uint32, dictID uint32, payload, reps []byte) error {
	hdr := entryHeader{
		Kind:             kind,
		Hash:             hash,
		StoredLength:     uint32(len(payload)),
		UncompressedSize: uncompressedSize,
		DictID:           dictID,
		RepsLength:       uint32(len(reps)),
	}
	if err := writeEntryHeader(w, hdr); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err := w.Write(reps)
	return err
}

func writeEntryHeader(w io.Writer, hdr entryHeader) error {
	if _, err := w.Write([]byte{hdr.Kind}); err != nil {
		return err
	}
	if _, err := w.Write(hdr.Hash.Bytes()); err != nil {
		return err
	}
	for _, v := range []uint32{hdr.StoredLength, hdr.UncompressedSize, hdr.DictID, hdr.RepsLength} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func readEntryHeader(r io.Reader) (entryHeader, error) {
	var hdr entryHeader
	var kind [1]byte
	if _, err := io.ReadFull(r, kind[:]); err != nil {
		return hdr, err
	}
	hdr.Kind = kind[0]

	var raw [hashid.Size]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return hdr, err
	}
	hash, err := hashid.FromBytes(raw[:])
	if err != nil {
		return hdr, err
	}
	hdr.Hash = hash
	fields := []*uint32{&hdr.StoredLength, &hdr.UncompressedSize, &hdr.DictID, &hdr.RepsLength}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return hdr, err
		}
	}
	return hdr, nil
}

// scanPack walks every entry in the pack file at path, invoking fn with
// the entry's header, byte offset (of the header itself), and its
// representations blob. Used both by recovery (rebuildIndexFromPacks) and
// by GC (liveness scans).
func scanPack(path string, fn func(hdr entryHeader, offset int64, reps []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return sequoiaerr.BackendIO("open pack for scan", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	if err := readPackHeader(r); err != nil {
		return err
	}

	offset := int64(packHeaderSize)
	for {
		hdr, err := readEntryHeader(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return sequoiaerr.BackendIO("read pack entry header", err)
		}
		entryOffset := offset
		offset += entryHeaderSize
		if _, err := io.CopyN(io.Discard, r, int64(hdr.StoredLength)); err != nil {
			return sequoiaerr.BackendIO("skip pack entry payload", err)
		}
		offset += int64(hdr.StoredLength)
		reps := make([]byte, hdr.RepsLength)
		if _, err := io.ReadFull(r, reps); err != nil {
			return sequoiaerr.BackendIO("read pack entry representations", err)
		}
		offset += int64(hdr.RepsLength)
		if err := fn(hdr, entryOffset, reps); err != nil {
			return err
		}
	}
}

// readPayload opens path, seeks past the entry header at offset, and reads
// length bytes of payload.
func readPayload(path string, offset int64, length uint32) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, sequoiaerr.BackendIO("open pack for read", err)
	}
	defer f.Close()

	if _, err := f.Seek(offset+entryHeaderSize, io.SeekStart); err != nil {
		return nil, sequoiaerr.BackendIO("seek pack entry", err)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, sequoiaerr.BackendIO("read pack entry payload", err)
	}
	return buf, nil
}
