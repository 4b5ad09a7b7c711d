// Package delta implements reference-based compression for near-duplicate
// sequences (spec §4.3 Delta Engine): a candidate reference is selected
// from already-stored sequences, the target is aligned against it with a
// banded Needleman-Wunsch, and the alignment is serialized as a compact
// edit-script of Match/Insert/Delete/Substitute operations. Every encode
// verifies its own edit script decodes back to the exact target bytes
// before being accepted (spec §4.3 "lossless round-trip verification
// gate"), generalizing the teacher's copy/insert Instruction stream
// (internal/delta/interfaces.go) from whole-chunk dedup to base-pair-level
// alignment.
package delta

import "github.com/prn-tf/sequoia/internal/hashid"

// OpKind is the kind of one edit-script operation.
type OpKind string

const (
	// OpMatch copies Length bytes from the reference at the current
	// alignment cursor into the target.
	OpMatch OpKind = "match"

	// OpInsert appends Data, bytes present in the target but not the
	// reference, without advancing the reference cursor.
	OpInsert OpKind = "insert"

	// OpDelete skips Length reference bytes that are absent from the
	// target, advancing the reference cursor without emitting output.
	OpDelete OpKind = "delete"

	// OpSubstitute replaces Length reference bytes with Data, advancing
	// both cursors.
	OpSubstitute OpKind = "substitute"
)

// Op is one edit-script operation (spec §3 Delta: "ordered list of
// Match/Insert/Delete/Substitute operations").
type Op struct {
	Kind   OpKind
	Length int64  // reference bytes consumed (match, delete, substitute)
	Data   []byte // target bytes produced (insert, substitute)
}

// Delta is a target sequence encoded against a reference (spec §3 Delta).
type Delta struct {
	RefHash    hashid.Hash
	TargetHash hashid.Hash
	TargetSize int64
	Ops        []Op
}

// Candidate is a previously stored sequence eligible to serve as a
// reference for a new target (spec §4.3 "reference selection").
type Candidate struct {
	Hash   hashid.Hash
	Length int64
}

// encodedSize estimates the serialized size of ops, compared against
// len(target) * delta_gain_threshold when deciding whether to keep a
// delta. Insert/substitute
// payloads dominate; match/delete runs cost a small fixed header.
func encodedSize(ops []Op) int64 {
	const opHeaderBytes = 9 // kind byte + int64 length
	var n int64
	for _, op := range ops {
		n += opHeaderBytes
		if op.Kind == OpInsert || op.Kind == OpSubstitute {
			n += int64(len(op.Data))
		}
	}
	return n
}
