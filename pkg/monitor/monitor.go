// Package monitor watches a single address for incoming payments while the
// receive screen is open, polling faster when the user is likely to be
// waiting for funds.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"go.uber.org/zap"

	"nexaview/pkg/logging"
	"nexaview/pkg/models"
)

const (
	VeryFast = 3 * time.Second
	Fast     = 4 * time.Second
	Normal   = 5 * time.Second
	Slow     = 12 * time.Second
	VerySlow = 25 * time.Second

	// InactiveAfter is how long without Touch before the user counts as away.
	InactiveAfter = 30 * time.Second
	// PaymentCooldown is added to the next interval after a payment is seen.
	PaymentCooldown = 15 * time.Second
)

type BalanceFetcher interface {
	FetchBalance(ctx context.Context, address string) (int64, bool)
}

type Monitor struct {
	fetcher BalanceFetcher
	clock   mclock.Clock
	logger  *zap.Logger
	now     func() time.Time

	mu           sync.Mutex
	gen          uint64
	address      string
	baseline     int64
	requested    bool
	started      mclock.AbsTime
	lastActivity mclock.AbsTime
	checks       int
	timer        mclock.Timer
	onPayment    func(models.PaymentEvent)
}

func New(fetcher BalanceFetcher, clock mclock.Clock, logger *zap.Logger) *Monitor {
	if clock == nil {
		clock = mclock.System{}
	}
	return &Monitor{
		fetcher: fetcher,
		clock:   clock,
		logger:  logging.OrNop(logger),
		now:     time.Now,
	}
}

// Start begins polling address. balance is the starting point a payment is
// measured against; requested marks that the user asked for a specific
// amount. Starting on the address already being watched only updates
// requested.
func (m *Monitor) Start(address string, balance int64, requested bool, onPayment func(models.PaymentEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.address == address {
		m.requested = requested
		return
	}
	m.stopLocked()

	now := m.clock.Now()
	m.address = address
	m.baseline = balance
	m.requested = requested
	m.started = now
	m.lastActivity = now
	m.checks = 0
	m.onPayment = onPayment
	m.logger.Info("payment watch started", zap.String("address", address),
		zap.Int64("baseline", balance), zap.Bool("requested", requested))
	m.scheduleLocked(m.intervalLocked(now))
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Monitor) stopLocked() {
	if m.address == "" {
		return
	}
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.logger.Info("payment watch stopped", zap.String("address", m.address))
	m.address = ""
	m.onPayment = nil
}

// Address returns the address being watched, or "".
func (m *Monitor) Address() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.address
}

// Touch records user activity.
func (m *Monitor) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivity = m.clock.Now()
}

// SetRequested toggles whether a specific amount has been requested.
func (m *Monitor) SetRequested(requested bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requested = requested
}

// Interval is the delay the next check would be scheduled with right now.
func (m *Monitor) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intervalLocked(m.clock.Now())
}

func (m *Monitor) intervalLocked(now mclock.AbsTime) time.Duration {
	elapsed := time.Duration(now.Sub(m.started))
	active := time.Duration(now.Sub(m.lastActivity)) <= InactiveAfter

	pick := func(whenActive, whenIdle time.Duration) time.Duration {
		if active {
			return whenActive
		}
		return whenIdle
	}

	switch {
	case elapsed < 2*time.Minute:
		return pick(VeryFast, Fast)
	case m.requested && elapsed < 5*time.Minute:
		return pick(VeryFast, Fast)
	case m.requested && elapsed < 15*time.Minute:
		return pick(Fast, Slow)
	case m.requested:
		return VerySlow
	case elapsed < 5*time.Minute:
		return pick(Normal, Slow)
	case elapsed < 15*time.Minute && active:
		return Slow
	default:
		return VerySlow
	}
}

func (m *Monitor) scheduleLocked(d time.Duration) {
	gen := m.gen
	m.timer = m.clock.AfterFunc(d, func() { go m.check(gen) })
}

func (m *Monitor) check(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.address == "" {
		m.mu.Unlock()
		return
	}
	address := m.address
	m.checks++
	m.mu.Unlock()

	balance, ok := m.fetcher.FetchBalance(context.Background(), address)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	var event *models.PaymentEvent
	delay := time.Duration(0)
	if ok && balance > m.baseline {
		event = &models.PaymentEvent{
			Address:  address,
			Received: balance - m.baseline,
			Balance:  balance,
			At:       m.now(),
		}
		m.logger.Info("payment detected", zap.String("address", address),
			zap.Int64("received", event.Received), zap.Int("checks", m.checks))
		m.baseline = balance
		m.checks = 0
		delay = PaymentCooldown
	}
	if m.checks > 0 && m.checks%10 == 0 {
		m.logger.Debug("payment watch status", zap.String("address", address), zap.Int("checks", m.checks))
	}
	cb := m.onPayment
	m.scheduleLocked(delay + m.intervalLocked(m.clock.Now()))
	m.mu.Unlock()

	if event != nil && cb != nil {
		cb(*event)
	}
}
