// Package transport defines the pluggable Transport collaborator (spec
// §6 "Transport. fetch(chunk_hash) → bytes; put(chunk_hash, bytes) for
// mirroring. Optional; omitted for pure-local stores."), generalized from
// the teacher's cluster.NodeClient blob-transfer contract
// (TransferBlob/RetrieveBlob/BlobExists) down to the two operations the
// core actually needs.
package transport

import (
	"context"

	"github.com/prn-tf/sequoia/internal/hashid"
)

// Transport mirrors chunk bytes to and from a remote peer. The core never
// depends on a concrete transport; it is entirely optional and used only
// when a deployment wants cross-store chunk replication.
type Transport interface {
	// Fetch retrieves the bytes for chunkHash from the remote side.
	// Returns sequoiaerr NotFound if the peer doesn't have it.
	Fetch(ctx context.Context, chunkHash hashid.Hash) ([]byte, error)

	// Put pushes chunkHash's bytes to the remote side for mirroring.
	Put(ctx context.Context, chunkHash hashid.Hash, body []byte) error

	// Exists checks remote presence without transferring the body,
	// mirroring the teacher's NodeClient.BlobExists fast-path check.
	Exists(ctx context.Context, chunkHash hashid.Hash) (bool, error)
}

// Mirror replicates every chunk in hashes from src to dst that dst does
// not already have, stopping at the first error (spec §6: Transport is
// "for mirroring" — this is the simplest policy that uses it: a
// caller-driven push of a known hash set, not an autonomous sync daemon).
func Mirror(ctx context.Context, src, dst Transport, hashes []hashid.Hash) (copied int, err error) {
	for _, h := range hashes {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		has, err := dst.Exists(ctx, h)
		if err != nil {
			return copied, err
		}
		if has {
			continue
		}
		body, err := src.Fetch(ctx, h)
		if err != nil {
			return copied, err
		}
		if err := dst.Put(ctx, h, body); err != nil {
			return copied, err
		}
		copied++
	}
	return copied, nil
}
