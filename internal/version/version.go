// Package version implements the VersionStore (spec §3/§4.4): a flat,
// append-only namespace of manifest bytes addressed by
// version_id = hash(canonical_manifest_bytes), plus a small mutable
// alias → version_id map, and bi-temporal resolution over the manifests'
// independent sequence_version/taxonomy_version labels.
package version

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/prn-tf/sequoia/internal/manifest"
	"github.com/prn-tf/sequoia/internal/sequoiaerr"
)

const aliasesFile = "aliases.json"

// Store is the VersionStore: manifests are immutable once put; aliases
// are mutable (spec §3 "VersionStore state": "Aliases are mutable;
// versions are immutable"). Manifest reads take only a shared read lock on
// the manifest cache; alias mutation takes a short exclusive lock (spec §5 Shared-resource
// policy: "Manifest store: append-only for versions; short exclusive
// lock for alias mutation").
type Store struct {
	dir string

	mu      sync.RWMutex
	aliases map[string]string

	manifestMu sync.RWMutex
	cache      map[string]manifest.Manifest
}

// Open opens (or initializes) a VersionStore rooted at dir
// (<data-root>/versions, per the on-disk layout in spec §6).
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "manifests"), 0o755); err != nil {
		return nil, sequoiaerr.BackendIO("create versions dir", err)
	}

	s := &Store{
		dir:     dir,
		aliases: make(map[string]string),
		cache:   make(map[string]manifest.Manifest),
	}

	path := filepath.Join(dir, aliasesFile)
	if b, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(b, &s.aliases); err != nil {
			return nil, sequoiaerr.BackendIO("decode aliases", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, sequoiaerr.BackendIO("read aliases", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "manifests"))
	if err != nil {
		return nil, sequoiaerr.BackendIO("list manifests", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		versionID := versionIDFromFilename(e.Name())
		b, err := os.ReadFile(filepath.Join(dir, "manifests", e.Name()))
		if err != nil {
			return nil, sequoiaerr.BackendIO("read manifest", err)
		}
		m, err := manifest.Decode(b)
		if err != nil {
			return nil, sequoiaerr.Integrity("manifest decode", "valid manifest JSON", err.Error())
		}
		s.cache[versionID] = m
	}

	return s, nil
}

func manifestFilename(versionID string) string { return versionID + ".manifest.json" }

func versionIDFromFilename(name string) string {
	const suffix = ".manifest.json"
	if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
		return name[:len(name)-len(suffix)]
	}
	return name
}

// PutManifest persists m and returns its content-addressed version_id.
// Publication is rename-over-temp (spec §5: "manifest publication use
// rename-over-temp"), and re-putting byte-identical content is an
// idempotent no-op since version_id is a pure function of the bytes.
func (s *Store) PutManifest(m manifest.Manifest) (string, error) {
	hash, err := m.Hash()
	if err != nil {
		return "", err
	}
	versionID := hash.String()

	s.manifestMu.RLock()
	_, exists := s.cache[versionID]
	s.manifestMu.RUnlock()
	if exists {
		return versionID, nil
	}

	b, err := m.Canonical()
	if err != nil {
		return "", err
	}

	dir := filepath.Join(s.dir, "manifests")
	tmp, err := os.CreateTemp(dir, "manifest-*")
	if err != nil {
		return "", sequoiaerr.BackendIO("create manifest temp file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", sequoiaerr.BackendIO("write manifest temp file", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", sequoiaerr.BackendIO("close manifest temp file", err)
	}

	finalPath := filepath.Join(dir, manifestFilename(versionID))
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", sequoiaerr.BackendIO("publish manifest", err)
	}

	s.manifestMu.Lock()
	s.cache[versionID] = m
	s.manifestMu.Unlock()

	return versionID, nil
}

// GetManifest retrieves a manifest by version_id.
func (s *Store) GetManifest(versionID string) (manifest.Manifest, error) {
	s.manifestMu.RLock()
	defer s.manifestMu.RUnlock()
	m, ok := s.cache[versionID]
	if !ok {
		return manifest.Manifest{}, sequoiaerr.NotFound("version", versionID)
	}
	return m, nil
}

// Filter narrows ListVersions; the zero Filter matches everything.
type Filter struct {
	ParentVersion string // if non-empty, only versions with this parent
}

// ListVersions returns every version_id matching filter, sorted by
// CreatedAt ascending for deterministic output.
func (s *Store) ListVersions(filter Filter) []string {
	s.manifestMu.RLock()
	defer s.manifestMu.RUnlock()

	type entry struct {
		id string
		m  manifest.Manifest
	}
	var matched []entry
	for id, m := range s.cache {
		if filter.ParentVersion != "" && m.ParentVersion != filter.ParentVersion {
			continue
		}
		matched = append(matched, entry{id, m})
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].m.CreatedAt.Equal(matched[j].m.CreatedAt) {
			return matched[i].m.CreatedAt.Before(matched[j].m.CreatedAt)
		}
		return matched[i].id < matched[j].id
	})

	out := make([]string, len(matched))
	for i, e := range matched {
		out[i] = e.id
	}
	return out
}

// SetAlias points alias at versionID, which must already exist.
func (s *Store) SetAlias(alias, versionID string) error {
	s.manifestMu.RLock()
	_, ok := s.cache[versionID]
	s.manifestMu.RUnlock()
	if !ok {
		return sequoiaerr.NotFound("version", versionID)
	}

	s.mu.Lock()
	s.aliases[alias] = versionID
	s.mu.Unlock()

	return s.saveAliases()
}

// ResolveAlias returns the version_id alias currently points at.
func (s *Store) ResolveAlias(alias string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versionID, ok := s.aliases[alias]
	if !ok {
		return "", sequoiaerr.NotFound("alias", alias)
	}
	return versionID, nil
}

func (s *Store) saveAliases() error {
	s.mu.RLock()
	b, err := json.Marshal(s.aliases)
	s.mu.RUnlock()
	if err != nil {
		return sequoiaerr.BackendIO("encode aliases", err)
	}

	path := filepath.Join(s.dir, aliasesFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return sequoiaerr.BackendIO("write aliases", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return sequoiaerr.BackendIO("publish aliases", err)
	}
	return nil
}

// ResolveBitemporal picks the youngest (by CreatedAt) manifest whose
// SequenceVersion ≤ seqTime and TaxonomyVersion ≤ taxTime, comparing the
// opaque version labels lexicographically (spec §3 "Bi-temporal
// coordinate" resolution rule). Returns sequoiaerr NotFound ("no matching
// version") if none qualifies.
func (s *Store) ResolveBitemporal(seqTime, taxTime string) (string, error) {
	s.manifestMu.RLock()
	defer s.manifestMu.RUnlock()

	var bestID string
	var best manifest.Manifest
	found := false

	for id, m := range s.cache {
		if m.SequenceVersion > seqTime || m.TaxonomyVersion > taxTime {
			continue
		}
		if !found || m.CreatedAt.After(best.CreatedAt) || (m.CreatedAt.Equal(best.CreatedAt) && id > bestID) {
			best, bestID, found = m, id, true
		}
	}

	if !found {
		return "", sequoiaerr.NotFound("matching version for bitemporal coordinate", seqTime+"/"+taxTime)
	}
	return bestID, nil
}
