// Package verifier implements Verifier::verify_chunk and
// Verifier::verify_manifest (spec §7): independent, read-only integrity
// checks a caller can run without going through a full assembly.
package verifier

import (
	"context"

	"github.com/prn-tf/sequoia/internal/delta"
	"github.com/prn-tf/sequoia/internal/hashid"
	"github.com/prn-tf/sequoia/internal/manifest"
	"github.com/prn-tf/sequoia/internal/merkledag"
	"github.com/prn-tf/sequoia/internal/sequoiaerr"
)

// ChunkFetcher retrieves a blob by content hash, already hash-verified on
// read (the contract internal/store.Store.Get satisfies).
type ChunkFetcher interface {
	Get(ctx context.Context, hash hashid.Hash) ([]byte, error)
}

// ManifestSource resolves a manifest by its version_id.
type ManifestSource interface {
	GetManifest(versionID string) (manifest.Manifest, error)
}

// VerifyChunk re-derives every sequence a chunk claims to hold and
// confirms each delta's round trip, without needing a manifest (spec §7
// "verify_chunk(chunk_hash)"). store.Get already confirms the chunk blob's
// own bytes hash to chunkHash; this additionally confirms every delta
// inside the payload still replays correctly against its reference.
func VerifyChunk(ctx context.Context, store ChunkFetcher, chunkHash hashid.Hash) error {
	raw, err := store.Get(ctx, chunkHash)
	if err != nil {
		return err
	}
	payload, err := delta.DecodePayload(raw)
	if err != nil {
		return sequoiaerr.Integrity("chunk payload decode", "valid chunk JSON", err.Error())
	}

	refBodies := make(map[hashid.Hash][]byte, len(payload.References))
	for _, r := range payload.References {
		body, err := store.Get(ctx, r)
		if err != nil {
			return err
		}
		refBodies[r] = body
	}
	for _, r := range payload.DirectRefs {
		if _, err := store.Get(ctx, r); err != nil {
			return err
		}
	}
	for i := range payload.Deltas {
		d := payload.Deltas[i]
		ref, ok := refBodies[d.RefHash]
		if !ok {
			body, err := store.Get(ctx, d.RefHash)
			if err != nil {
				return err
			}
			ref = body
			refBodies[d.RefHash] = body
		}
		if err := delta.Verify(ref, &d); err != nil {
			return err
		}
	}
	return nil
}

// VerifyManifest recomputes a manifest's sequence_root from its chunk
// index and confirms it matches the stored root (spec §7
// "verify_manifest(manifest_id, depth)"). depth bounds how many of the
// manifest's chunks additionally get a full VerifyChunk pass: depth <= 0
// checks only the Merkle root (cheap, O(chunks) hashing, no delta
// replay); depth > 0 also verifies the first `depth` chunks' internal
// deltas, and depth >= len(chunk_index) verifies every chunk.
func VerifyManifest(ctx context.Context, versions ManifestSource, store ChunkFetcher, versionID string, depth int) error {
	m, err := versions.GetManifest(versionID)
	if err != nil {
		return err
	}

	leaves := make([]hashid.Hash, len(m.ChunkIndex))
	for i, c := range m.ChunkIndex {
		leaves[i] = c.ChunkHash
	}
	root := merkledag.Build(leaves).Root()
	if root != m.SequenceRoot {
		return sequoiaerr.Integrity("manifest sequence_root", m.SequenceRoot.String(), root.String())
	}

	for i := 0; i < depth && i < len(m.ChunkIndex); i++ {
		if err := ctx.Err(); err != nil {
			return sequoiaerr.Cancelled(err)
		}
		if err := VerifyChunk(ctx, store, m.ChunkIndex[i].ChunkHash); err != nil {
			return err
		}
	}
	return nil
}
