package coalescer

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nexaview/pkg/logging"
	"nexaview/pkg/metrics"
	"nexaview/pkg/models"
	"nexaview/pkg/retry"
)

// ErrBalanceUnknown is returned by Sync when the fetch produced no value.
var ErrBalanceUnknown = errors.New("balance unknown")

// DefaultRetry is used when a notification did not change the fetched
// balance yet; the node often notifies before the indexer catches up.
var DefaultRetry = retry.Policy{
	MaxAttempts: 3,
	Delay:       3500 * time.Millisecond,
	Backoff:     retry.Fixed,
}

type BalanceFetcher interface {
	FetchBalance(ctx context.Context, address string) (int64, bool)
}

type WalletStore interface {
	Get(address string) (models.Wallet, bool)
	UpdateBalance(address string, balance int64) (bool, error)
}

type ReconcilerOptions struct {
	Retry       retry.Policy
	Concurrency int
	Clock       mclock.Clock
	OnUpdate    func(models.BalanceUpdate)
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// BalanceReconciler fetches authoritative balances and writes them to the
// wallet store.
type BalanceReconciler struct {
	fetcher     BalanceFetcher
	store       WalletStore
	policy      retry.Policy
	concurrency int
	clock       mclock.Clock
	onUpdate    func(models.BalanceUpdate)
	logger      *zap.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewBalanceReconciler(fetcher BalanceFetcher, store WalletStore, opts ReconcilerOptions) *BalanceReconciler {
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry = DefaultRetry
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	if opts.Clock == nil {
		opts.Clock = mclock.System{}
	}
	return &BalanceReconciler{
		fetcher:     fetcher,
		store:       store,
		policy:      opts.Retry,
		concurrency: opts.Concurrency,
		clock:       opts.Clock,
		onUpdate:    opts.OnUpdate,
		logger:      logging.OrNop(opts.Logger),
		metrics:     opts.Metrics,
		now:         time.Now,
	}
}

// Reconcile fetches the balance for address, retrying while the result is
// unknown or equal to the stored balance. The last value obtained is stored
// and reported even when it did not change.
func (r *BalanceReconciler) Reconcile(ctx context.Context, address string) {
	prev, ok := r.store.Get(address)
	if !ok {
		r.metrics.ObserveReconcile("untracked")
		return
	}

	// In-flight requests are allowed to finish; ctx only bounds the waits.
	fetchCtx := context.WithoutCancel(ctx)

	var (
		final int64
		known bool
	)
	attempts, err := r.policy.Do(ctx, r.clock, func(attempt int) bool {
		bal, ok := r.fetcher.FetchBalance(fetchCtx, address)
		if !ok {
			r.logger.Debug("reconcile fetch unknown",
				zap.String("address", address), zap.Int("attempt", attempt))
			return false
		}
		final, known = bal, true
		return bal != prev.Balance
	})
	if err != nil {
		r.logger.Debug("reconcile aborted", zap.String("address", address), zap.Error(err))
	}
	if !known {
		r.metrics.ObserveReconcile("unknown")
		r.logger.Warn("balance stayed unknown after retries",
			zap.String("address", address), zap.Int("attempts", attempts))
		return
	}

	if r.apply(address, prev.Balance, final) {
		if final != prev.Balance {
			r.metrics.ObserveReconcile("changed")
		} else {
			r.metrics.ObserveReconcile("unchanged")
		}
	}
}

// Sync performs a single fetch-and-store for address.
func (r *BalanceReconciler) Sync(ctx context.Context, address string) error {
	prev, ok := r.store.Get(address)
	if !ok {
		return nil
	}
	bal, ok := r.fetcher.FetchBalance(ctx, address)
	if !ok {
		return ErrBalanceUnknown
	}
	r.apply(address, prev.Balance, bal)
	return nil
}

// SyncAll syncs every address with bounded concurrency. Per-address failures
// are logged and skipped.
func (r *BalanceReconciler) SyncAll(ctx context.Context, addresses []string) error {
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, addr := range addresses {
		addr := addr
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if err := r.Sync(ctx, addr); err != nil {
				r.logger.Warn("sync failed", zap.String("address", addr), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// apply writes the balance and emits the update. It reports false when the
// wallet was removed while the fetch was in flight.
func (r *BalanceReconciler) apply(address string, previous, balance int64) bool {
	updated, err := r.store.UpdateBalance(address, balance)
	if err != nil {
		r.logger.Error("failed to store balance", zap.String("address", address), zap.Error(err))
	}
	if !updated {
		return false
	}
	if r.onUpdate != nil {
		r.onUpdate(models.BalanceUpdate{
			Address:  address,
			Balance:  balance,
			Previous: previous,
			Changed:  balance != previous,
			At:       r.now(),
		})
	}
	return true
}
