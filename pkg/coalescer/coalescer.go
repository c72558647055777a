// Package coalescer groups bursts of address change notifications into a
// single balance reconciliation per address.
package coalescer

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"go.uber.org/zap"

	"nexaview/pkg/logging"
	"nexaview/pkg/metrics"
	"nexaview/pkg/models"
)

const (
	DefaultDebounce = 3500 * time.Millisecond
	DefaultCeiling  = 6000 * time.Millisecond
)

// Reconciler performs the authoritative fetch for one address once a burst
// of notifications has settled.
type Reconciler interface {
	Reconcile(ctx context.Context, address string)
}

type Options struct {
	Debounce time.Duration
	Ceiling  time.Duration
	Clock    mclock.Clock
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

type entry struct {
	count    int
	first    mclock.AbsTime
	debounce mclock.Timer
	ceiling  mclock.Timer
}

func (e *entry) stop() {
	if e.debounce != nil {
		e.debounce.Stop()
	}
	if e.ceiling != nil {
		e.ceiling.Stop()
	}
}

// Coalescer holds at most one pending entry per address. An entry leaves the
// pending state when its debounce timer fires, when its ceiling timer fires,
// or when a notification arrives after the ceiling has elapsed.
type Coalescer struct {
	rec      Reconciler
	debounce time.Duration
	ceiling  time.Duration
	clock    mclock.Clock
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu          sync.Mutex
	entries     map[string]*entry
	reconciling map[string]int
	epoch       context.Context
	cancelEpoch context.CancelFunc
	stopped     bool
	wg          sync.WaitGroup
}

func New(rec Reconciler, opts Options) *Coalescer {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Ceiling < opts.Debounce {
		opts.Ceiling = DefaultCeiling
		if opts.Ceiling < opts.Debounce {
			opts.Ceiling = opts.Debounce
		}
	}
	if opts.Clock == nil {
		opts.Clock = mclock.System{}
	}
	c := &Coalescer{
		rec:         rec,
		debounce:    opts.Debounce,
		ceiling:     opts.Ceiling,
		clock:       opts.Clock,
		logger:      logging.OrNop(opts.Logger),
		metrics:     opts.Metrics,
		entries:     make(map[string]*entry),
		reconciling: make(map[string]int),
	}
	c.epoch, c.cancelEpoch = context.WithCancel(context.Background())
	return c
}

// Notify records a change notification for address.
func (c *Coalescer) Notify(address string) {
	c.metrics.IncNotification()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	e, ok := c.entries[address]
	if !ok {
		e = &entry{count: 1, first: c.clock.Now()}
		e.debounce = c.clock.AfterFunc(c.debounce, func() { c.fire(address, e) })
		e.ceiling = c.clock.AfterFunc(c.ceiling, func() { c.fire(address, e) })
		c.entries[address] = e
		c.logger.Debug("notification queued", zap.String("address", address))
		return
	}

	e.count++
	if time.Duration(c.clock.Now().Sub(e.first)) >= c.ceiling {
		c.logger.Debug("ceiling reached, reconciling now",
			zap.String("address", address), zap.Int("notifications", e.count))
		c.startLocked(address, e)
		return
	}
	e.debounce.Stop()
	e.debounce = c.clock.AfterFunc(c.debounce, func() { c.fire(address, e) })
}

func (c *Coalescer) fire(address string, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// The entry may have been replaced, cancelled or purged after this timer fired.
	if c.entries[address] != e {
		return
	}
	c.startLocked(address, e)
}

func (c *Coalescer) startLocked(address string, e *entry) {
	e.stop()
	delete(c.entries, address)
	if c.stopped {
		return
	}
	c.reconciling[address]++
	ctx := c.epoch

	c.logger.Debug("reconciling", zap.String("address", address), zap.Int("notifications", e.count))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.rec.Reconcile(ctx, address)

		c.mu.Lock()
		c.reconciling[address]--
		if c.reconciling[address] <= 0 {
			delete(c.reconciling, address)
		}
		c.mu.Unlock()
	}()
}

// Cancel drops the pending entry for address, if any.
func (c *Coalescer) Cancel(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[address]; ok {
		e.stop()
		delete(c.entries, address)
	}
}

// Purge drops every pending entry and aborts retry waits of reconciliations
// already running. Used when the live channel goes away.
func (c *Coalescer) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, e := range c.entries {
		e.stop()
		delete(c.entries, addr)
	}
	c.cancelEpoch()
	c.epoch, c.cancelEpoch = context.WithCancel(context.Background())
}

// State reports where address is in its notification cycle.
func (c *Coalescer) State(address string) models.EntryState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[address]; ok {
		return models.EntryPending
	}
	if c.reconciling[address] > 0 {
		return models.EntryReconciling
	}
	return models.EntryIdle
}

// Pending returns the number of addresses waiting for their timers.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Wait blocks until every started reconciliation has returned. Callers
// must make sure no timer can fire meanwhile; use Stop otherwise.
func (c *Coalescer) Wait() {
	c.wg.Wait()
}

// Stop purges every entry, refuses further notifications and waits for
// running reconciliations to return.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.wg.Wait()
		return
	}
	c.stopped = true
	c.mu.Unlock()
	c.Purge()
	c.wg.Wait()
}
