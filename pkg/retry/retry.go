// Package retry provides a small bounded retry policy shared by the
// reconciliation path and the reconnect state machine.
package retry

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
)

// Kind selects how the delay grows between attempts.
type Kind int

const (
	Fixed Kind = iota
	Linear
	Exponential
)

// Policy bounds the number of attempts and the delay between them.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	MaxDelay    time.Duration // zero means uncapped
	Backoff     Kind
}

// DelayFor returns the wait before the given 1-based attempt number.
// The result never decreases as attempt grows.
func (p Policy) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Delay
	switch p.Backoff {
	case Linear:
		d = p.Delay * time.Duration(attempt)
	case Exponential:
		shift := attempt - 1
		if shift > 30 {
			shift = 30
		}
		d = p.Delay << uint(shift)
	}
	if p.MaxDelay > 0 && (d > p.MaxDelay || d < 0) {
		d = p.MaxDelay
	}
	return d
}

// Exhausted reports whether attempt has used up the budget.
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// Do calls fn until it reports done, the attempt budget runs out, or ctx is
// cancelled. Between attempts it waits DelayFor(attempt) on clock.
// It returns the number of attempts made.
func (p Policy) Do(ctx context.Context, clock mclock.Clock, fn func(attempt int) bool) (int, error) {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}
	for attempt := 1; ; attempt++ {
		if fn(attempt) {
			return attempt, nil
		}
		if attempt >= max {
			return attempt, nil
		}
		if err := Wait(ctx, clock, p.DelayFor(attempt)); err != nil {
			return attempt, err
		}
	}
}

// Wait blocks for d on clock, returning early with ctx.Err() on cancellation.
func Wait(ctx context.Context, clock mclock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
