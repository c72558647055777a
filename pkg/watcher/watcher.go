package watcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"go.uber.org/zap"

	"nexaview/pkg/coalescer"
	"nexaview/pkg/config"
	"nexaview/pkg/logging"
	"nexaview/pkg/metrics"
	"nexaview/pkg/models"
	"nexaview/pkg/monitor"
	"nexaview/pkg/realtime"
	"nexaview/pkg/resume"
	"nexaview/pkg/retry"
	"nexaview/pkg/rpc"
	"nexaview/pkg/store"
)

var (
	ErrBalanceUnavailable = errors.New("balance unavailable, try again later")
	ErrUnknownWallet      = errors.New("wallet not tracked")
	ErrUnknownEvent       = errors.New("unknown lifecycle event")
)

// DataSource defines the interface for fetching balances.
type DataSource interface {
	FetchBalance(ctx context.Context, address string) (int64, bool)
}

// Options carries the collaborators that tests replace.
type Options struct {
	DataSource DataSource
	Dialer     realtime.Dialer
	Clock      mclock.Clock
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Snapshot is the full view state handed to new clients.
type Snapshot struct {
	State    models.ConnectionState `json:"state"`
	Wallets  []models.Wallet        `json:"wallets"`
	Total    int64                  `json:"total"`
	Watching string                 `json:"watching,omitempty"`
}

// Watcher wires the sync core together and fans its events out to the UI
// and API clients.
type Watcher struct {
	cfg     config.Config
	store   *store.Store
	logger  *zap.Logger
	metrics *metrics.Metrics

	reconciler *coalescer.BalanceReconciler
	coalescer  *coalescer.Coalescer
	manager    *realtime.Manager
	resume     *resume.Controller
	monitor    *monitor.Monitor

	subscribers []Subscriber
	mu          sync.RWMutex
	stopChan    chan struct{}
	stopOnce    sync.Once
	dataSource  DataSource
}

// sourceFetcher resolves the data source on every call so SetDataSource
// reaches components built before it was called.
type sourceFetcher struct{ w *Watcher }

func (f sourceFetcher) FetchBalance(ctx context.Context, address string) (int64, bool) {
	f.w.mu.RLock()
	ds := f.w.dataSource
	f.w.mu.RUnlock()
	return ds.FetchBalance(ctx, address)
}

// NewWatcher creates a new Watcher instance.
func NewWatcher(cfg config.Config, st *store.Store, opts Options) *Watcher {
	logger := logging.OrNop(opts.Logger)
	clock := opts.Clock
	if clock == nil {
		clock = mclock.System{}
	}
	ds := opts.DataSource
	if ds == nil {
		ds = rpc.NewFetcher(rpc.FetcherOptions{
			BaseURL:          cfg.Fetcher.BalanceAPIURL,
			Timeout:          cfg.Fetcher.Timeout(),
			RateLimit:        cfg.Fetcher.RateLimitPerSecond,
			Burst:            cfg.Fetcher.RateBurst,
			ThrottleCooldown: cfg.Fetcher.ThrottleCooldown(),
			Logger:           logger.Named("fetcher"),
			Metrics:          opts.Metrics,
		})
	}

	w := &Watcher{
		cfg:        cfg,
		store:      st,
		logger:     logger,
		metrics:    opts.Metrics,
		stopChan:   make(chan struct{}),
		dataSource: ds,
	}
	fetcher := sourceFetcher{w: w}

	w.reconciler = coalescer.NewBalanceReconciler(fetcher, st, coalescer.ReconcilerOptions{
		Retry: retry.Policy{
			MaxAttempts: cfg.Coalescer.RetryAttempts,
			Delay:       cfg.Coalescer.RetryDelay(),
			Backoff:     retry.Fixed,
		},
		Concurrency: cfg.Coalescer.SyncConcurrency,
		Clock:       clock,
		OnUpdate:    w.onBalance,
		Logger:      logger.Named("reconcile"),
		Metrics:     opts.Metrics,
	})
	w.coalescer = coalescer.New(w.reconciler, coalescer.Options{
		Debounce: cfg.Coalescer.Debounce(),
		Ceiling:  cfg.Coalescer.Ceiling(),
		Clock:    clock,
		Logger:   logger.Named("coalescer"),
		Metrics:  opts.Metrics,
	})
	w.manager = realtime.NewManager(st, w.coalescer, w.reconciler, realtime.Options{
		URL:    cfg.Realtime.NodeURL,
		Dialer: opts.Dialer,
		Clock:  clock,
		Backoff: retry.Policy{
			MaxAttempts: cfg.Realtime.MaxReconnectAttempts,
			Delay:       cfg.Realtime.ReconnectBase(),
			MaxDelay:    cfg.Realtime.ReconnectMax(),
			Backoff:     retry.Linear,
		},
		HeartbeatInterval: cfg.Realtime.HeartbeatInterval(),
		HeartbeatTimeout:  cfg.Realtime.HeartbeatTimeout(),
		Settle:            cfg.Realtime.Settle(),
		DialTimeout:       cfg.Realtime.DialTimeout(),
		Logger:            logger.Named("realtime"),
		Metrics:           opts.Metrics,
	})
	w.manager.OnStateChange(w.onState)
	w.resume = resume.New(w.manager, resume.Options{
		StaleAfter:  cfg.Resume.StaleAfter(),
		MinInterval: cfg.Resume.MinInterval(),
		Clock:       clock,
		Logger:      logger.Named("resume"),
	})
	w.monitor = monitor.New(fetcher, clock, logger.Named("monitor"))
	return w
}

// SetDataSource allows overriding the data source (useful for testing).
func (w *Watcher) SetDataSource(ds DataSource) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dataSource = ds
}

// Subscribe adds a new subscriber and returns a channel to receive events.
func (w *Watcher) Subscribe() Subscriber {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(Subscriber, 100)
	w.subscribers = append(w.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber.
func (w *Watcher) Unsubscribe(ch Subscriber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, sub := range w.subscribers {
		if sub == ch {
			w.subscribers = append(w.subscribers[:i], w.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

func (w *Watcher) notify(event Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, sub := range w.subscribers {
		select {
		case sub <- event:
		default:
			// Slow subscribers miss events; the next snapshot catches them up.
		}
	}
}

func (w *Watcher) onBalance(u models.BalanceUpdate) {
	w.notify(Event{Type: EventBalanceUpdated, Data: u})
}

func (w *Watcher) onState(s models.ConnectionState) {
	w.notify(Event{Type: EventStatusUpdated, Data: s})
}

func (w *Watcher) publishWallets() []models.Wallet {
	wallets := w.store.All()
	w.metrics.SetTracked(len(wallets))
	w.notify(Event{Type: EventWalletsChanged, Data: wallets})
	return wallets
}

// Start connects the live channel and begins the fallback polling loop.
func (w *Watcher) Start(ctx context.Context) {
	w.publishWallets()
	w.manager.Connect()
	go w.pollingLoop(ctx)
}

// Stop stops the monitoring loops and closes the live channel.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.monitor.Stop()
		w.manager.Close()
		w.coalescer.Stop()
	})
}

func (w *Watcher) pollingLoop(ctx context.Context) {
	interval := w.cfg.FallbackPoll()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.fallbackTick(ctx)
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// fallbackTick refreshes everything while live updates are unavailable.
func (w *Watcher) fallbackTick(ctx context.Context) bool {
	if w.manager.State().Live() {
		return false
	}
	w.logger.Debug("live channel down, polling balances")
	if err := w.RefreshAll(ctx); err != nil {
		w.logger.Warn("fallback refresh failed", zap.Error(err))
	}
	return true
}

// Track validates address, fetches its balance and starts tracking it.
func (w *Watcher) Track(ctx context.Context, address, name string) (models.Wallet, error) {
	address = strings.TrimSpace(address)
	if !models.ValidAddress(address) {
		return models.Wallet{}, fmt.Errorf("%w: %q", models.ErrInvalidAddress, address)
	}

	balance, ok := sourceFetcher{w: w}.FetchBalance(ctx, address)
	if !ok {
		return models.Wallet{}, ErrBalanceUnavailable
	}
	wallet, err := w.store.Upsert(address, balance, name)
	if err != nil {
		return models.Wallet{}, fmt.Errorf("failed to save wallet: %w", err)
	}
	w.manager.Subscribe(address)
	w.logger.Info("wallet tracked", zap.String("address", address), zap.Int64("balance", balance))
	w.publishWallets()
	return wallet, nil
}

// Untrack stops tracking address and drops any pending reconciliation.
func (w *Watcher) Untrack(address string) error {
	if _, ok := w.store.Get(address); !ok {
		return ErrUnknownWallet
	}
	// The record goes first so a dial completing in between cannot pick the
	// address up again.
	if _, err := w.store.Delete(address); err != nil {
		return fmt.Errorf("failed to delete wallet: %w", err)
	}
	w.manager.Unsubscribe(address)
	if w.monitor.Address() == address {
		w.monitor.Stop()
	}
	w.logger.Info("wallet untracked", zap.String("address", address))
	w.publishWallets()
	return nil
}

// Rename sets the display name; an empty name restores the default.
func (w *Watcher) Rename(address, name string) error {
	ok, err := w.store.Rename(address, name)
	if err != nil {
		return fmt.Errorf("failed to rename wallet: %w", err)
	}
	if !ok {
		return ErrUnknownWallet
	}
	w.publishWallets()
	return nil
}

// Refresh fetches and stores the balance of one wallet on demand.
func (w *Watcher) Refresh(ctx context.Context, address string) (models.Wallet, error) {
	if _, ok := w.store.Get(address); !ok {
		return models.Wallet{}, ErrUnknownWallet
	}
	if err := w.reconciler.Sync(ctx, address); err != nil {
		if errors.Is(err, coalescer.ErrBalanceUnknown) {
			return models.Wallet{}, ErrBalanceUnavailable
		}
		return models.Wallet{}, err
	}
	wallet, ok := w.store.Get(address)
	if !ok {
		return models.Wallet{}, ErrUnknownWallet
	}
	return wallet, nil
}

// RefreshAll fetches and stores every tracked balance.
func (w *Watcher) RefreshAll(ctx context.Context) error {
	return w.reconciler.SyncAll(ctx, w.store.Addresses())
}

// Wallets returns the tracked wallets, most recently added first.
func (w *Watcher) Wallets() []models.Wallet {
	return w.store.All()
}

// Wallet returns a single tracked wallet.
func (w *Watcher) Wallet(address string) (models.Wallet, bool) {
	return w.store.Get(address)
}

// Status returns the live channel state.
func (w *Watcher) Status() models.ConnectionState {
	return w.manager.State()
}

// Snapshot returns the state and wallet list in one value.
func (w *Watcher) Snapshot() Snapshot {
	wallets := w.store.All()
	var total int64
	for _, wl := range wallets {
		total += wl.Balance
	}
	return Snapshot{
		State:    w.manager.State(),
		Wallets:  wallets,
		Total:    total,
		Watching: w.monitor.Address(),
	}
}

// Lifecycle forwards a foreground or network event to the resume controller.
func (w *Watcher) Lifecycle(event string) (resume.Action, error) {
	action, ok := w.resume.Handle(strings.ToLower(strings.TrimSpace(event)))
	if !ok {
		return resume.ActionNone, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	return action, nil
}

// ForceReconnect replaces the live channel.
func (w *Watcher) ForceReconnect() {
	w.manager.ForceReconnect()
}

// WatchPayment starts the adaptive payment monitor on address. Tracked
// wallets use their stored balance as the baseline; others are fetched.
func (w *Watcher) WatchPayment(ctx context.Context, address string, requested bool) error {
	if !models.ValidAddress(address) {
		return fmt.Errorf("%w: %q", models.ErrInvalidAddress, address)
	}
	baseline := int64(0)
	if wallet, ok := w.store.Get(address); ok {
		baseline = wallet.Balance
	} else {
		bal, ok := sourceFetcher{w: w}.FetchBalance(ctx, address)
		if !ok {
			return ErrBalanceUnavailable
		}
		baseline = bal
	}
	w.monitor.Start(address, baseline, requested, func(e models.PaymentEvent) {
		w.notify(Event{Type: EventPaymentReceived, Data: e})
	})
	return nil
}

// StopPaymentWatch stops the payment monitor.
func (w *Watcher) StopPaymentWatch() {
	w.monitor.Stop()
}

// TouchPaymentWatch records user activity for the payment monitor.
func (w *Watcher) TouchPaymentWatch() {
	w.monitor.Touch()
}

// PaymentWatchInterval reports the monitor's current polling interval.
func (w *Watcher) PaymentWatchInterval() time.Duration {
	return w.monitor.Interval()
}

// SetPaymentRequested tells the payment monitor whether an amount is expected.
func (w *Watcher) SetPaymentRequested(requested bool) {
	w.monitor.SetRequested(requested)
}
