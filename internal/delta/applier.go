package delta

import "github.com/prn-tf/sequoia/internal/sequoiaerr"

// Apply reconstructs the target bytes by replaying delta's edit script
// against ref (spec §4.3 "Apply"), mirroring the teacher's
// DeltaApplier.Apply but operating on an in-memory reference slice
// instead of an io.ReadSeeker since chunk payloads are already decoded
// fully into memory by the assembler before a delta is applied.
func Apply(ref []byte, d *Delta) ([]byte, error) {
	out := make([]byte, 0, d.TargetSize)
	refPos := int64(0)

	for _, op := range d.Ops {
		switch op.Kind {
		case OpMatch:
			if refPos+op.Length > int64(len(ref)) {
				return nil, sequoiaerr.MalformedInput("delta match op reads past reference end")
			}
			out = append(out, ref[refPos:refPos+op.Length]...)
			refPos += op.Length
		case OpDelete:
			if refPos+op.Length > int64(len(ref)) {
				return nil, sequoiaerr.MalformedInput("delta delete op reads past reference end")
			}
			refPos += op.Length
		case OpInsert:
			out = append(out, op.Data...)
		case OpSubstitute:
			if refPos+op.Length > int64(len(ref)) {
				return nil, sequoiaerr.MalformedInput("delta substitute op reads past reference end")
			}
			out = append(out, op.Data...)
			refPos += op.Length
		default:
			return nil, sequoiaerr.MalformedInput("unknown delta op kind %q", string(op.Kind))
		}
	}
	return out, nil
}
