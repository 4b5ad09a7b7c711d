package delta

import (
	"bytes"
	"strconv"

	"github.com/prn-tf/sequoia/internal/hashid"
	"github.com/prn-tf/sequoia/internal/sequoiaerr"
)

// defaultBandRadius bounds alignment compute cost; candidates are only
// ever selected when their length ratio against the target is already
// close (SelectReference), so a modest fixed radius plus the raw length
// difference is enough to contain the true alignment path.
const defaultBandRadius = 32

// Computer encodes targets against a chosen reference.
type Computer struct {
	bandRadius         int
	deltaGainThreshold float64
}

// NewComputer creates a Computer. gainThreshold is the maximum fraction of
// the target's length that a delta's encoded ops may occupy: a delta is
// kept only when encodedSize(ops) < len(target) * gainThreshold (spec §4.3
// "delta_gain_threshold").
func NewComputer(gainThreshold float64) *Computer {
	return &Computer{bandRadius: defaultBandRadius, deltaGainThreshold: gainThreshold}
}

// Encode aligns target against ref and returns the resulting Delta.
// accepted is false if the edit script fails round-trip verification or
// does not clear the configured gain threshold; the caller should then
// fall back to storing target directly, undeltaed.
func (c *Computer) Encode(ref, target []byte) (delta *Delta, accepted bool, err error) {
	refHash := hashid.Of(ref)
	targetHash := hashid.Of(target)

	ops := align(ref, target, c.bandRadius)

	d := &Delta{
		RefHash:    refHash,
		TargetHash: targetHash,
		TargetSize: int64(len(target)),
		Ops:        ops,
	}

	// Round-trip verification gate (spec §4.3): a delta is never
	// persisted unless replaying it against ref reproduces target
	// byte-for-byte.
	rebuilt, applyErr := Apply(ref, d)
	if applyErr != nil {
		return d, false, nil
	}
	if !bytes.Equal(rebuilt, target) {
		return d, false, nil
	}

	if len(target) == 0 {
		return d, false, nil
	}
	// Accept only when the encoded ops are meaningfully smaller than the
	// body itself (spec §4.3: "bytes(delta ops) < bytes(body) ×
	// delta_gain_threshold").
	if float64(encodedSize(ops)) >= float64(len(target))*c.deltaGainThreshold {
		return d, false, nil
	}

	return d, true, nil
}

// Verify re-applies delta against ref and confirms the result hashes to
// delta.TargetHash, the same check Encode performs before accepting a
// delta, exposed separately for read-path integrity checks (spec §7
// "verify_chunk").
func Verify(ref []byte, d *Delta) error {
	rebuilt, err := Apply(ref, d)
	if err != nil {
		return err
	}
	if int64(len(rebuilt)) != d.TargetSize {
		return sequoiaerr.Integrity("delta target size", strconv.FormatInt(d.TargetSize, 10), strconv.FormatInt(int64(len(rebuilt)), 10))
	}
	if hashid.Of(rebuilt) != d.TargetHash {
		return sequoiaerr.Integrity("delta target hash", d.TargetHash.String(), hashid.Of(rebuilt).String())
	}
	return nil
}
