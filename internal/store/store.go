package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/sequoia/internal/codec"
	"github.com/prn-tf/sequoia/internal/config"
	"github.com/prn-tf/sequoia/internal/hashid"
	"github.com/prn-tf/sequoia/internal/metrics"
	"github.com/prn-tf/sequoia/internal/sequoiaerr"
)

const (
	packsSubdir    = "packs"
	indexSubdir    = "index"
	snapshotFile   = "snapshot.gob"
	estimatedEntry = 4096 // rough bytes/entry used to size a fresh bloom filter
)

// Store is the packed, content-addressed sequence store (spec §4.1). It
// owns the pack directory, the in-memory index, the active writer, and a
// bounded cache of open pack handles for reads.
type Store struct {
	dir      string
	packsDir string
	indexDir string

	cfg     config.StoreConfig
	codec   *codec.Codec
	index   *PackIndex
	writer  *packWriter
	handles *handleCache
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// Open opens (or initializes) a packed store rooted at cfg.DataDir,
// rebuilding the index from on-disk packs if no snapshot is present
// (spec §4.1 recovery: "rebuild from packs on missing/corrupt index").
func Open(cfg config.StoreConfig, m *metrics.Metrics, logger zerolog.Logger) (*Store, error) {
	dir := cfg.DataDir
	packsDir := filepath.Join(dir, packsSubdir)
	indexDir := filepath.Join(dir, indexSubdir)
	if err := os.MkdirAll(packsDir, 0o755); err != nil {
		return nil, sequoiaerr.BackendIO("create packs dir", err)
	}
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return nil, sequoiaerr.BackendIO("create index dir", err)
	}

	ids, err := listPackIDs(packsDir)
	if err != nil {
		return nil, err
	}

	snapshotPath := filepath.Join(indexDir, snapshotFile)
	var idx *PackIndex
	if _, statErr := os.Stat(snapshotPath); statErr == nil {
		idx, err = LoadSnapshot(snapshotPath, uint64(len(ids))*256, cfg.BloomFalsePositiveRate)
		if err != nil {
			logger.Warn().Err(err).Msg("index snapshot unreadable, rebuilding from packs")
			idx = nil
		}
	}
	if idx == nil {
		idx, err = rebuildIndexFromPacks(packsDir, ids, cfg.BloomFalsePositiveRate)
		if err != nil {
			return nil, err
		}
	}

	handles, err := newHandleCache(packsDir, cfg.PackCacheSize, m)
	if err != nil {
		return nil, err
	}

	var nextID PackID
	if len(ids) > 0 {
		nextID = ids[len(ids)-1] + 1
	}
	w, err := newPackWriter(packsDir, cfg.PackTargetBytes, nextID)
	if err != nil {
		return nil, err
	}

	lvl := codec.Level(cfg.CompressionLevel)
	s := &Store{
		dir:      dir,
		packsDir: packsDir,
		indexDir: indexDir,
		cfg:      cfg,
		codec:    codec.New(lvl),
		index:    idx,
		writer:   w,
		handles:  handles,
		metrics:  m,
		logger:   logger.With().Str("component", "store").Logger(),
	}
	if m != nil {
		m.SequencesTotal.Set(float64(idx.Len()))
	}
	return s, nil
}

func listPackIDs(packsDir string) ([]PackID, error) {
	entries, err := os.ReadDir(packsDir)
	if err != nil {
		return nil, sequoiaerr.BackendIO("list packs", err)
	}
	var ids []PackID
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "pack-") {
			continue
		}
		var id uint64
		if _, err := parsePackName(e.Name(), &id); err == nil {
			ids = append(ids, PackID(id))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func parsePackName(name string, id *uint64) (int, error) {
	const prefix, suffix = "pack-", ".seq"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return 0, sequoiaerr.MalformedInput("not a pack file name: %s", name)
	}
	digits := name[len(prefix) : len(name)-len(suffix)]
	v, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, sequoiaerr.MalformedInput("not a pack file name: %s", name)
	}
	*id = v
	return 1, nil
}

func rebuildIndexFromPacks(packsDir string, ids []PackID, bloomFP float64) (*PackIndex, error) {
	idx, err := NewPackIndex(uint64(len(ids))*256, bloomFP)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		path := filepath.Join(packsDir, packFileName(id))
		err := scanPack(path, func(hdr entryHeader, offset int64, rawReps []byte) error {
			reps, err := decodeRepresentations(rawReps)
			if err != nil {
				return sequoiaerr.Integrity("pack representations", "valid JSON", err.Error())
			}
			switch hdr.Kind {
			case entryKindRepAppend:
				for _, rep := range reps {
					idx.AddRepresentation(hdr.Hash, rep)
				}
			default:
				idx.PutWithReps(hdr.Hash, Location{
					Pack:             id,
					Offset:           offset,
					StoredLength:     hdr.StoredLength,
					UncompressedSize: hdr.UncompressedSize,
					DictID:           hdr.DictID,
				}, reps)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// Put stores plaintext content-addressed by its SHA-256 hash (computed
// over the uncompressed bytes, spec §3: "content hash is always computed
// over the canonical uncompressed representation") together with rep, one
// of possibly several (accession, header_text, taxon_hint) representations
// spec §3 attaches to a Sequence. If the hash already exists, the body
// itself is a no-op dedup hit (spec §2 "Deduplication"); rep is still
// merged into that body's representation set unless an entry with the
// same (accession, database_id) is already recorded (spec §4.1: "dedup by
// (accession, database_id) on repeat puts").
func (s *Store) Put(ctx context.Context, plaintext []byte, dictID uint32, rep Representation) (hashid.Hash, error) {
	if err := ctx.Err(); err != nil {
		return hashid.Zero, sequoiaerr.Cancelled(err)
	}
	start := time.Now()
	hash := hashid.Of(plaintext)

	if _, ok, _ := s.index.Lookup(hash); ok {
		if err := s.appendRepresentation(hash, rep); err != nil {
			s.record("put", "error", start, 0)
			return hashid.Zero, err
		}
		s.record("put", "dedup_hit", start, 0)
		return hash, nil
	}

	compressed, err := s.codec.Compress(plaintext, dictID)
	if err != nil {
		s.record("put", "error", start, 0)
		return hashid.Zero, sequoiaerr.BackendIO("compress sequence", err)
	}
	repsRaw, err := encodeRepresentations([]Representation{rep})
	if err != nil {
		s.record("put", "error", start, 0)
		return hashid.Zero, sequoiaerr.MalformedInput("encode representations: %s", err.Error())
	}

	res, err := s.writer.Append(entryKindSequence, hash, uint32(len(plaintext)), dictID, compressed, repsRaw)
	if err != nil {
		s.record("put", "error", start, 0)
		return hashid.Zero, err
	}
	s.index.PutWithReps(hash, res.Location, []Representation{rep})
	if res.DidSeal {
		s.handles.evict(res.SealedPack)
		s.logger.Debug().Uint64("pack_id", uint64(res.SealedPack)).Msg("pack sealed")
	}

	if s.metrics != nil {
		s.metrics.SequencesTotal.Set(float64(s.index.Len()))
	}
	s.record("put", "ok", start, int64(len(compressed)))
	return hash, nil
}

// PutChunk stores a compiled chunk payload content-addressed by its
// SHA-256 hash, the same insert-if-absent path as Put but without a
// Sequence.representations entry: a chunk is a manifest-level bundle of
// deltas, not itself a Sequence, so it carries no (accession,
// header_text, taxon_hint) (spec §3 Chunk vs. Sequence).
func (s *Store) PutChunk(ctx context.Context, plaintext []byte, dictID uint32) (hashid.Hash, error) {
	if err := ctx.Err(); err != nil {
		return hashid.Zero, sequoiaerr.Cancelled(err)
	}
	start := time.Now()
	hash := hashid.Of(plaintext)

	if _, ok, _ := s.index.Lookup(hash); ok {
		s.record("put_chunk", "dedup_hit", start, 0)
		return hash, nil
	}

	compressed, err := s.codec.Compress(plaintext, dictID)
	if err != nil {
		s.record("put_chunk", "error", start, 0)
		return hashid.Zero, sequoiaerr.BackendIO("compress chunk", err)
	}

	res, err := s.writer.Append(entryKindSequence, hash, uint32(len(plaintext)), dictID, compressed, nil)
	if err != nil {
		s.record("put_chunk", "error", start, 0)
		return hashid.Zero, err
	}
	s.index.PutWithReps(hash, res.Location, nil)
	if res.DidSeal {
		s.handles.evict(res.SealedPack)
		s.logger.Debug().Uint64("pack_id", uint64(res.SealedPack)).Msg("pack sealed")
	}

	if s.metrics != nil {
		s.metrics.SequencesTotal.Set(float64(s.index.Len()))
	}
	s.record("put_chunk", "ok", start, int64(len(compressed)))
	return hash, nil
}

// appendRepresentation records rep against an already-stored hash, writing
// a representation-only pack entry so the addition survives a
// rebuild-from-packs recovery (spec §4.1 recovery). A rep already known
// for hash is a silent no-op.
func (s *Store) appendRepresentation(hash hashid.Hash, rep Representation) error {
	if !s.index.AddRepresentation(hash, rep) {
		return nil
	}
	repsRaw, err := encodeRepresentations([]Representation{rep})
	if err != nil {
		return sequoiaerr.MalformedInput("encode representations: %s", err.Error())
	}
	res, err := s.writer.Append(entryKindRepAppend, hash, 0, 0, nil, repsRaw)
	if err != nil {
		return err
	}
	if res.DidSeal {
		s.handles.evict(res.SealedPack)
		s.logger.Debug().Uint64("pack_id", uint64(res.SealedPack)).Msg("pack sealed")
	}
	return nil
}

// Representations returns hash's known (accession, header_text,
// taxon_hint) representations (spec §4.1 "get_sequence(content_hash) ->
// (body, representations)").
func (s *Store) Representations(hash hashid.Hash) []Representation {
	return s.index.Representations(hash)
}

// Get retrieves and decompresses the sequence stored under hash. Returns
// sequoiaerr NotFound if the hash is unknown.
func (s *Store) Get(ctx context.Context, hash hashid.Hash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, sequoiaerr.Cancelled(err)
	}
	start := time.Now()

	loc, ok, bloomNeg := s.index.Lookup(hash)
	if bloomNeg {
		if s.metrics != nil {
			s.metrics.BloomNegativesTotal.Inc()
		}
		s.record("get", "not_found", start, 0)
		return nil, sequoiaerr.NotFound("sequence", hash.String())
	}
	if !ok {
		s.record("get", "not_found", start, 0)
		return nil, sequoiaerr.NotFound("sequence", hash.String())
	}

	raw, err := s.handles.readAt(loc.Pack, loc.Offset, loc.StoredLength)
	if err != nil {
		s.record("get", "error", start, 0)
		return nil, err
	}
	plaintext, err := s.codec.Decompress(raw, loc.DictID)
	if err != nil {
		s.record("get", "error", start, 0)
		return nil, sequoiaerr.Integrity("decompression", "valid zstd frame", err.Error())
	}
	if uint32(len(plaintext)) != loc.UncompressedSize {
		s.record("get", "error", start, 0)
		return nil, sequoiaerr.Integrity("uncompressed size", strconv.Itoa(int(loc.UncompressedSize)), strconv.Itoa(len(plaintext)))
	}
	got := hashid.Of(plaintext)
	if got != hash {
		s.record("get", "error", start, 0)
		return nil, sequoiaerr.Integrity("content hash", hash.String(), got.String())
	}

	s.record("get", "ok", start, int64(len(plaintext)))
	return plaintext, nil
}

// StoredSize reports the on-disk (compressed) byte length of hash's entry,
// used by callers that need to record a blob's storage footprint (spec §3
// Chunk metadata "compressed_size") without re-reading and recompressing
// its body.
func (s *Store) StoredSize(hash hashid.Hash) (int64, bool) {
	loc, ok, bloomNeg := s.index.Lookup(hash)
	if bloomNeg || !ok {
		return 0, false
	}
	return int64(loc.StoredLength), true
}

// Exists reports whether hash is present without reading its payload.
func (s *Store) Exists(hash hashid.Hash) bool {
	_, ok, bloomNeg := s.index.Lookup(hash)
	if bloomNeg {
		return false
	}
	return ok
}

// Checkpoint flushes the active pack and writes a fresh index snapshot
// (spec §4.1: snapshot interval + on clean shutdown).
func (s *Store) Checkpoint() error {
	if err := s.writer.Flush(); err != nil {
		return err
	}
	return s.index.SaveSnapshot(filepath.Join(s.indexDir, snapshotFile))
}

// Close flushes outstanding writes, snapshots the index, and releases
// every open pack handle.
func (s *Store) Close() error {
	if err := s.Checkpoint(); err != nil {
		return err
	}
	if err := s.writer.Close(); err != nil {
		return err
	}
	s.handles.Close()
	return nil
}

// Len reports the number of distinct blobs currently indexed: sequence
// bodies and chunk payloads stored through PutChunk alike.
func (s *Store) Len() int { return s.index.Len() }

func (s *Store) record(op, status string, start time.Time, bytes int64) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordStoreOp(op, status, time.Since(start).Seconds(), bytes)
}

