package store

import (
	"encoding/binary"
	"encoding/gob"
	"io"
	"os"
	"sync"

	"github.com/holiman/bloomfilter/v2"

	"github.com/prn-tf/sequoia/internal/hashid"
	"github.com/prn-tf/sequoia/internal/sequoiaerr"
)

// Location pinpoints one stored entry: which pack, at what offset, how
// many stored (possibly compressed) bytes, the original uncompressed
// size, and the dictionary (if any) used to compress it.
type Location struct {
	Pack             PackID
	Offset           int64
	StoredLength     uint32
	UncompressedSize uint32
	DictID           uint32
}

// indexSnapshot is the gob-serialized form of a PackIndex, written to
// index/snapshot.gob as plain gob (gob instead of msgpack since no msgpack
// implementation is available anywhere in the retrieved corpus; see
// DESIGN.md). The snapshot is not compressed.
type indexSnapshot struct {
	Entries map[hashid.Hash]Location
	Reps    map[hashid.Hash][]Representation
}

// PackIndex is the in-memory hash→Location map guarding the packed store,
// alongside the hash→representations map spec §3 assigns each Sequence
// (its ordered, non-empty set of (accession, header_text, taxon_hint)
// submissions). Reads take the RLock and consult a private copy of the
// map; writers build a new map and swap it in under the write lock,
// giving readers copy-on-write semantics without blocking on a long scan
// (spec §4.1: "In-memory index ... updated under a copy-on-write map with
// an RW lock").
type PackIndex struct {
	mu      sync.RWMutex
	entries map[hashid.Hash]Location
	reps    map[hashid.Hash][]Representation
	bloom   *bloomfilter.Filter
	bloomFP float64
}

// NewPackIndex creates an empty index sized for an expected entry count at
// the given false-positive rate (spec §4.1: "bloom filter sized for the
// expected entry count").
func NewPackIndex(expectedEntries uint64, falsePositiveRate float64) (*PackIndex, error) {
	if expectedEntries == 0 {
		expectedEntries = 1
	}
	f, err := bloomfilter.NewOptimal(expectedEntries, falsePositiveRate)
	if err != nil {
		return nil, sequoiaerr.BackendIO("create bloom filter", err)
	}
	return &PackIndex{
		entries: make(map[hashid.Hash]Location),
		reps:    make(map[hashid.Hash][]Representation),
		bloom:   f,
		bloomFP: falsePositiveRate,
	}, nil
}

// bloomKey reduces a content hash to the uint64 the bloom filter operates
// on; the hash is already cryptographically uniform so the low 8 bytes
// are as good a key as any other slice.
func bloomKey(h hashid.Hash) uint64 {
	return binary.LittleEndian.Uint64(h[:8])
}

// Lookup returns the Location of hash, or ok=false if it is not present.
// The bloom filter is consulted first so a miss never touches the map
// under lock contention from concurrent writers (spec §4.1 "bloom filter
// ... short-circuits negative lookups").
func (idx *PackIndex) Lookup(hash hashid.Hash) (Location, bool, bool) {
	if !idx.bloom.Contains(bloomKey(hash)) {
		return Location{}, false, true // definitely absent (bloom negative)
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	loc, ok := idx.entries[hash]
	return loc, ok, false
}

// Put inserts or overwrites hash's Location. Callers only ever insert a
// hash once in practice (content addressing makes re-puts idempotent no-ops
// upstream) but Put itself does not assume that.
func (idx *PackIndex) Put(hash hashid.Hash, loc Location) {
	idx.bloom.Add(bloomKey(hash))

	idx.mu.Lock()
	defer idx.mu.Unlock()
	next := make(map[hashid.Hash]Location, len(idx.entries)+1)
	for k, v := range idx.entries {
		next[k] = v
	}
	next[hash] = loc
	idx.entries = next
}

// PutWithReps inserts hash's Location and its initial representations in
// one swap, used the first time a body is stored.
func (idx *PackIndex) PutWithReps(hash hashid.Hash, loc Location, reps []Representation) {
	idx.bloom.Add(bloomKey(hash))

	idx.mu.Lock()
	defer idx.mu.Unlock()
	nextEntries := make(map[hashid.Hash]Location, len(idx.entries)+1)
	for k, v := range idx.entries {
		nextEntries[k] = v
	}
	nextEntries[hash] = loc
	idx.entries = nextEntries

	nextReps := make(map[hashid.Hash][]Representation, len(idx.reps)+1)
	for k, v := range idx.reps {
		nextReps[k] = v
	}
	nextReps[hash] = append([]Representation(nil), reps...)
	idx.reps = nextReps
}

// AddRepresentation merges rep into hash's representation set, deduping
// by (accession, database_id) (spec §4.1: "dedup by (accession,
// database_id) on repeat puts"). Reports whether rep was newly added.
func (idx *PackIndex) AddRepresentation(hash hashid.Hash, rep Representation) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	merged, added := mergeRepresentation(idx.reps[hash], rep)
	if !added {
		return false
	}
	next := make(map[hashid.Hash][]Representation, len(idx.reps))
	for k, v := range idx.reps {
		next[k] = v
	}
	next[hash] = merged
	idx.reps = next
	return true
}

// Representations returns a copy of hash's known representations.
func (idx *PackIndex) Representations(hash hashid.Hash) []Representation {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return append([]Representation(nil), idx.reps[hash]...)
}

// PutBatch inserts many entries under a single copy-on-write swap, used by
// LoadSnapshot and by GC pack rewrites so a run of N entries costs one map
// copy instead of N.
func (idx *PackIndex) PutBatch(batch map[hashid.Hash]Location) {
	if len(batch) == 0 {
		return
	}
	for h := range batch {
		idx.bloom.Add(bloomKey(h))
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	next := make(map[hashid.Hash]Location, len(idx.entries)+len(batch))
	for k, v := range idx.entries {
		next[k] = v
	}
	for k, v := range batch {
		next[k] = v
	}
	idx.entries = next
}

// Delete removes hash from the index (used by GC once a pack is rewritten
// without it). The bloom filter cannot un-remember a key; a false positive
// on a deleted hash is harmless since Lookup always confirms against the
// map.
func (idx *PackIndex) Delete(hash hashid.Hash) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.entries[hash]; !ok {
		return
	}
	next := make(map[hashid.Hash]Location, len(idx.entries)-1)
	for k, v := range idx.entries {
		if k != hash {
			next[k] = v
		}
	}
	idx.entries = next

	if _, ok := idx.reps[hash]; ok {
		nextReps := make(map[hashid.Hash][]Representation, len(idx.reps)-1)
		for k, v := range idx.reps {
			if k != hash {
				nextReps[k] = v
			}
		}
		idx.reps = nextReps
	}
}

// Len returns the current entry count.
func (idx *PackIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Snapshot returns a stable copy of every (hash, Location) pair, used by
// GC liveness scans and by index persistence.
func (idx *PackIndex) Snapshot() map[hashid.Hash]Location {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[hashid.Hash]Location, len(idx.entries))
	for k, v := range idx.entries {
		out[k] = v
	}
	return out
}

// SaveSnapshot gob-encodes the index to path (spec §6: "index snapshot").
func (idx *PackIndex) SaveSnapshot(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return sequoiaerr.BackendIO("create index snapshot", err)
	}
	defer f.Close()

	idx.mu.RLock()
	reps := make(map[hashid.Hash][]Representation, len(idx.reps))
	for k, v := range idx.reps {
		reps[k] = v
	}
	idx.mu.RUnlock()

	snap := indexSnapshot{Entries: idx.Snapshot(), Reps: reps}
	if err := gob.NewEncoder(f).Encode(snap); err != nil {
		return sequoiaerr.BackendIO("encode index snapshot", err)
	}
	return nil
}

// LoadSnapshot rebuilds a PackIndex from a gob-encoded snapshot file.
func LoadSnapshot(path string, expectedEntries uint64, falsePositiveRate float64) (*PackIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, sequoiaerr.BackendIO("open index snapshot", err)
	}
	defer f.Close()

	var snap indexSnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil && err != io.EOF {
		return nil, sequoiaerr.BackendIO("decode index snapshot", err)
	}

	idx, err := NewPackIndex(expectedEntries, falsePositiveRate)
	if err != nil {
		return nil, err
	}
	idx.PutBatch(snap.Entries)
	if len(snap.Reps) > 0 {
		idx.mu.Lock()
		idx.reps = snap.Reps
		idx.mu.Unlock()
	}
	return idx, nil
}
