package retry

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayFor(t *testing.T) {
	tests := []struct {
		name     string
		policy   Policy
		attempts []int
		expected []time.Duration
	}{
		{
			name:     "Fixed",
			policy:   Policy{Delay: time.Second, Backoff: Fixed},
			attempts: []int{1, 2, 5},
			expected: []time.Duration{time.Second, time.Second, time.Second},
		},
		{
			name:     "Linear Capped",
			policy:   Policy{Delay: 2 * time.Second, MaxDelay: 30 * time.Second, Backoff: Linear},
			attempts: []int{1, 2, 3, 15, 16, 100},
			expected: []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second},
		},
		{
			name:     "Exponential Capped",
			policy:   Policy{Delay: time.Second, MaxDelay: 10 * time.Second, Backoff: Exponential},
			attempts: []int{1, 2, 3, 4, 5, 64},
			expected: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i, a := range tt.attempts {
				assert.Equal(t, tt.expected[i], tt.policy.DelayFor(a), "attempt %d", a)
			}
		})
	}
}

func TestDelayForNonDecreasing(t *testing.T) {
	for _, kind := range []Kind{Fixed, Linear, Exponential} {
		p := Policy{Delay: 500 * time.Millisecond, MaxDelay: 20 * time.Second, Backoff: kind}
		prev := time.Duration(0)
		for a := 1; a <= 80; a++ {
			d := p.DelayFor(a)
			assert.GreaterOrEqual(t, d, prev)
			assert.LessOrEqual(t, d, p.MaxDelay)
			prev = d
		}
	}
}

func TestDoStopsWhenDone(t *testing.T) {
	p := Policy{MaxAttempts: 5}
	calls := 0
	n, err := p.Do(context.Background(), mclock.System{}, func(attempt int) bool {
		calls++
		return attempt == 2
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, calls)
}

func TestDoRespectsBudget(t *testing.T) {
	p := Policy{MaxAttempts: 3}
	calls := 0
	n, err := p.Do(context.Background(), mclock.System{}, func(int) bool {
		calls++
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, calls)
}

func TestDoWaitsOnClock(t *testing.T) {
	clock := new(mclock.Simulated)
	p := Policy{MaxAttempts: 2, Delay: time.Minute}

	done := make(chan int, 1)
	go func() {
		n, _ := p.Do(context.Background(), clock, func(int) bool { return false })
		done <- n
	}()

	clock.WaitForTimers(1)
	select {
	case <-done:
		t.Fatal("Do returned before the delay elapsed")
	default:
	}
	clock.Run(time.Minute)

	select {
	case n := <-done:
		assert.Equal(t, 2, n)
	case <-time.After(time.Second):
		t.Fatal("Do did not resume after the clock advanced")
	}
}

func TestDoCancelled(t *testing.T) {
	clock := new(mclock.Simulated)
	p := Policy{MaxAttempts: 5, Delay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := p.Do(ctx, clock, func(int) bool { return false })
		done <- err
	}()

	clock.WaitForTimers(1)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Do ignored cancellation")
	}
}
