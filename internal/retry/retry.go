// Package retry provides the bounded local backoff for transient I/O that
// spec §7 requires before a component gives up and surfaces a BackendIO
// error: "retry locally with bounded backoff inside the component, then
// surface BackendIO if it persists".
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures the bounded local retry.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultPolicy mirrors a conservative local-disk retry budget: a few
// hundred milliseconds of jittered backoff, capped at two seconds total.
var DefaultPolicy = Policy{
	InitialInterval: 20 * time.Millisecond,
	MaxInterval:     250 * time.Millisecond,
	MaxElapsedTime:  2 * time.Second,
}

// Transient marks an error as eligible for retry. Components wrap
// transient I/O failures with this before calling Do; everything else is
// treated as permanent and fails fast.
type Transient struct{ Err error }

func (t *Transient) Error() string { return t.Err.Error() }
func (t *Transient) Unwrap() error { return t.Err }

// MarkTransient wraps err so Do will retry it.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &Transient{Err: err}
}

// Do runs fn, retrying with exponential backoff while fn returns an error
// wrapped by MarkTransient, until the policy's elapsed-time budget is
// spent or ctx is cancelled. A non-transient error returns immediately.
func Do(ctx context.Context, p Policy, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = p.MaxElapsedTime

	operation := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if _, ok := err.(*Transient); ok {
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	if t, ok := err.(*Transient); ok {
		return t.Err
	}
	return err
}
