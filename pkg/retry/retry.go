// Package retry runs remote calls with bounded exponential backoff. No retry is
// scheduled while the device is known to be offline.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrOffline is returned when a call is not attempted, or not retried, because
// the device is offline.
var ErrOffline = errors.New("no internet connection")

var errPermanent = errors.New("permanent failure")

// Connectivity is the part of the network monitor retry depends on.
type Connectivity interface {
	IsOffline() bool
}

// Policy bounds the retries of a single call.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the fraction of each delay that is randomized, 0..1.
	Jitter float64
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Jitter: 0.2}
}

// Backoff returns the delay before retry n (0-based): BaseDelay * 2^n, capped at
// MaxDelay, without jitter.
func (p Policy) Backoff(n int) time.Duration {
	if n < 0 {
		return p.BaseDelay
	}
	if n > 30 {
		return p.MaxDelay
	}
	d := p.BaseDelay * time.Duration(1<<n)
	if d > p.MaxDelay || d <= 0 {
		return p.MaxDelay
	}
	return d
}

func (p Policy) delay(n int) time.Duration {
	d := p.Backoff(n)
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * p.Jitter
	return time.Duration(float64(d) - spread + rand.Float64()*2*spread)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, errPermanent)
}

// IsPermanent reports whether err must not be retried: it was marked Permanent,
// it reports itself as non-temporary, or the context ended.
func IsPermanent(err error) bool {
	if errors.Is(err, errPermanent) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return !t.Temporary()
	}
	return false
}

// Do calls fn until it succeeds, fails permanently or MaxAttempts is reached.
// When conn reports offline, no further attempt is made and the last error is
// returned marked with ErrOffline; the caller retries once connectivity returns.
func Do[T any](ctx context.Context, p Policy, conn Connectivity, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for n := 0; n < attempts; n++ {
		if conn != nil && conn.IsOffline() {
			if lastErr == nil {
				return zero, ErrOffline
			}
			return zero, errors.Mark(lastErr, ErrOffline)
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if IsPermanent(err) || n == attempts-1 {
			break
		}
		if conn != nil && conn.IsOffline() {
			return zero, errors.Mark(lastErr, ErrOffline)
		}

		t := time.NewTimer(p.delay(n))
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, errors.WithSecondaryError(ctx.Err(), lastErr)
		case <-t.C:
		}
	}
	return zero, lastErr
}
