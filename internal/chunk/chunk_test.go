package chunk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/sequoia/internal/hashid"
	"github.com/prn-tf/sequoia/internal/taxonomy"
)

func testTree() *taxonomy.Tree {
	return taxonomy.NewTree([]taxonomy.Node{
		{ID: 1, HasParent: false, Rank: "superkingdom", Name: "Bacteria"},
		{ID: 10, Parent: 1, HasParent: true, Rank: "genus", Name: "Escherichia"},
		{ID: 11, Parent: 1, HasParent: true, Rank: "genus", Name: "Salmonella"},
	}, map[string]hashid.TaxonId{})
}

func record(accession string, taxon hashid.TaxonId, size int64) Record {
	return Record{Accession: accession, Taxon: taxon, Hash: hashid.Of([]byte(accession)), Size: size}
}

func TestChunker_GroupsByTaxonInDepthFirstOrder(t *testing.T) {
	c := New(testTree(), Bounds{MinBytes: 1, MaxBytes: 1 << 20})
	records := []Record{
		record("SAL2", 11, 100),
		record("ECO1", 10, 100),
		record("SAL1", 11, 100),
		record("ECO2", 10, 100),
	}

	chunks, err := c.Chunk(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, hashid.TaxonId(10), chunks[0].Taxon)
	assert.Equal(t, []string{"ECO1", "ECO2"}, chunks[0].Accessions)
	assert.Equal(t, hashid.TaxonId(11), chunks[1].Taxon)
	assert.Equal(t, []string{"SAL1", "SAL2"}, chunks[1].Accessions)
}

func TestChunker_SplitsOnMaxBytes(t *testing.T) {
	c := New(testTree(), Bounds{MinBytes: 10, MaxBytes: 150})
	records := []Record{
		record("ECO1", 10, 100),
		record("ECO2", 10, 100),
		record("ECO3", 10, 100),
	}

	chunks, err := c.Chunk(context.Background(), records)
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)

	var total int
	for _, ch := range chunks {
		total += len(ch.Refs)
	}
	assert.Equal(t, 3, total)
}

func TestChunker_IsDeterministicAcrossInputOrder(t *testing.T) {
	c := New(testTree(), Bounds{MinBytes: 1, MaxBytes: 1 << 20})
	a := []Record{record("ECO1", 10, 50), record("ECO2", 10, 50), record("SAL1", 11, 50)}
	b := []Record{record("SAL1", 11, 50), record("ECO2", 10, 50), record("ECO1", 10, 50)}

	chunksA, err := c.Chunk(context.Background(), a)
	require.NoError(t, err)
	chunksB, err := c.Chunk(context.Background(), b)
	require.NoError(t, err)

	require.Equal(t, len(chunksA), len(chunksB))
	for i := range chunksA {
		assert.Equal(t, chunksA[i].Hash, chunksB[i].Hash)
	}
}

func TestChunker_EmitsUnclassifiedLast(t *testing.T) {
	c := New(testTree(), Bounds{MinBytes: 1, MaxBytes: 1 << 20})
	records := []Record{
		record("UNK1", hashid.Unclassified, 50),
		record("ECO1", 10, 50),
	}

	chunks, err := c.Chunk(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, hashid.TaxonId(10), chunks[0].Taxon)
	assert.Equal(t, hashid.Unclassified, chunks[1].Taxon)
}

func TestChunker_RespectsContextCancellation(t *testing.T) {
	c := New(testTree(), Bounds{MinBytes: 1, MaxBytes: 1 << 20})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Chunk(ctx, []Record{record("ECO1", 10, 50)})
	assert.Error(t, err)
}
