// Package chunk implements the deterministic, taxonomy-ordered chunker
// (spec §4.2). Sequences are grouped into content-addressed Chunks by
// walking the taxonomy tree depth-first and packing each taxon's
// sequences in accession order, bounded by a byte-size window, so that
// re-chunking the same inputs against the same taxonomy always produces
// the same Chunk boundaries (spec §4.2 "determinism": "re-running the
// chunker over an unchanged input set and taxonomy must reproduce
// byte-identical chunk boundaries").
package chunk

import (
	"context"
	"sort"

	"github.com/prn-tf/sequoia/internal/hashid"
	"github.com/prn-tf/sequoia/internal/sequoiaerr"
	"github.com/prn-tf/sequoia/internal/taxonomy"
)

// Record is one sequence destined for chunking: its content hash (already
// stored by internal/store), the accession it was parsed from, and the
// taxon it resolved to after discrepancy handling.
type Record struct {
	Accession string
	Taxon     hashid.TaxonId
	Hash      hashid.Hash
	Size      int64
}

// Chunk is a content-addressed, size-bounded group of sequence refs
// belonging to a single taxon (spec §3 Chunk).
type Chunk struct {
	Hash       hashid.Hash
	Taxon      hashid.TaxonId
	Refs       []hashid.Hash
	Accessions []string
	ByteSize   int64
}

// Bounds configures the chunker's target byte window (spec §4.2: "bounded
// by a configurable byte-size window, not a fixed record count").
type Bounds struct {
	MinBytes int64
	MaxBytes int64
}

// Chunker partitions Records into Chunks via a depth-first taxonomy walk.
type Chunker struct {
	provider taxonomy.Provider
	bounds   Bounds
}

// New creates a Chunker bound to a taxonomy provider and byte bounds.
func New(provider taxonomy.Provider, bounds Bounds) *Chunker {
	return &Chunker{provider: provider, bounds: bounds}
}

// Chunk partitions records into chunks. Records are first grouped by
// taxon, then taxa are visited depth-first from each root (spec §4.2 step
// 2), and within a taxon, records are sorted by (accession, content hash)
// for determinism independent of input order. The UNCLASSIFIED synthetic stream (records
// whose Taxon is hashid.Unclassified) is always emitted last, after every
// taxon reachable from the tree's roots (spec §4.2 step 4).
func (c *Chunker) Chunk(ctx context.Context, records []Record) ([]Chunk, error) {
	byTaxon := make(map[hashid.TaxonId][]Record)
	for _, r := range records {
		byTaxon[r.Taxon] = append(byTaxon[r.Taxon], r)
	}
	for t := range byTaxon {
		sort.Slice(byTaxon[t], func(i, j int) bool {
			a, b := byTaxon[t][i], byTaxon[t][j]
			if a.Accession != b.Accession {
				return a.Accession < b.Accession
			}
			return a.Hash.Less(b.Hash)
		})
	}

	var order []hashid.TaxonId
	visited := make(map[hashid.TaxonId]bool)
	roots := append([]hashid.TaxonId(nil), c.provider.Roots()...)
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
	for _, root := range roots {
		c.walk(root, &order, visited)
	}

	// Any taxon present in the records but unreachable from the provider's
	// roots (e.g. a record mapped to a taxon the tree doesn't know about)
	// still gets a deterministic slot, sorted after the known tree but
	// before UNCLASSIFIED.
	var orphans []hashid.TaxonId
	for t := range byTaxon {
		if t == hashid.Unclassified || visited[t] {
			continue
		}
		orphans = append(orphans, t)
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i] < orphans[j] })
	order = append(order, orphans...)

	if _, ok := byTaxon[hashid.Unclassified]; ok {
		order = append(order, hashid.Unclassified)
	}

	var chunks []Chunk
	for _, taxon := range order {
		if err := ctx.Err(); err != nil {
			return nil, sequoiaerr.Cancelled(err)
		}
		group := byTaxon[taxon]
		if len(group) == 0 {
			continue
		}
		built, err := c.packTaxon(taxon, group)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, built...)
	}
	return chunks, nil
}

func (c *Chunker) walk(taxon hashid.TaxonId, order *[]hashid.TaxonId, visited map[hashid.TaxonId]bool) {
	if visited[taxon] {
		return
	}
	visited[taxon] = true
	*order = append(*order, taxon)
	children := append([]hashid.TaxonId(nil), c.provider.Children(taxon)...)
	sort.Slice(children, func(i, j int) bool { return children[i] < children[j] })
	for _, child := range children {
		c.walk(child, order, visited)
	}
}

// packTaxon greedily bins one taxon's records into byte-bounded windows.
// A chunk is sealed once adding the next record would exceed MaxBytes,
// unless the chunk is still under MinBytes, in which case the record is
// added anyway (spec §4.2: the minimum bound only ever merges trailing
// remainders, it never splits a single oversized record).
func (c *Chunker) packTaxon(taxon hashid.TaxonId, group []Record) ([]Chunk, error) {
	var chunks []Chunk
	var refs []hashid.Hash
	var accessions []string
	var size int64

	flush := func() {
		if len(refs) == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Hash:       hashChunk(taxon, refs),
			Taxon:      taxon,
			Refs:       refs,
			Accessions: accessions,
			ByteSize:   size,
		})
		refs, accessions, size = nil, nil, 0
	}

	for _, r := range group {
		if size > 0 && size+r.Size > c.bounds.MaxBytes && size >= c.bounds.MinBytes {
			flush()
		}
		refs = append(refs, r.Hash)
		accessions = append(accessions, r.Accession)
		size += r.Size
	}
	flush()
	return chunks, nil
}

// hashChunk derives a chunk's content address from its taxon and ordered
// member hashes, matching spec §3's "hash of (taxon_id, ordered ref
// hashes)" definition.
func hashChunk(taxon hashid.TaxonId, refs []hashid.Hash) hashid.Hash {
	h := hashid.NewHasher()
	var taxonBytes [4]byte
	taxonBytes[0] = byte(taxon >> 24)
	taxonBytes[1] = byte(taxon >> 16)
	taxonBytes[2] = byte(taxon >> 8)
	taxonBytes[3] = byte(taxon)
	_, _ = h.Write(taxonBytes[:])
	for _, r := range refs {
		_, _ = h.Write(r.Bytes())
	}
	return h.Sum()
}
