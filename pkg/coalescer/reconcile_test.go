package coalescer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"nexaview/pkg/models"
	"nexaview/pkg/retry"
	"nexaview/pkg/store"
)

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) FetchBalance(ctx context.Context, address string) (int64, bool) {
	args := m.Called(ctx, address)
	return args.Get(0).(int64), args.Bool(1)
}

type updateLog struct {
	mu      sync.Mutex
	updates []models.BalanceUpdate
}

func (l *updateLog) record(u models.BalanceUpdate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, u)
}

func (l *updateLog) all() []models.BalanceUpdate {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.BalanceUpdate(nil), l.updates...)
}

func seededStore(t *testing.T, balances map[string]int64) *store.Store {
	t.Helper()
	s := store.New(store.NewMemoryKV(), nil)
	for addr, bal := range balances {
		_, err := s.Upsert(addr, bal, "")
		require.NoError(t, err)
	}
	return s
}

func instantRetry(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, Backoff: retry.Fixed}
}

func TestReconcileRetriesUntilBalanceChanges(t *testing.T) {
	s := seededStore(t, map[string]int64{addrA: 1000})
	f := new(MockFetcher)
	f.On("FetchBalance", mock.Anything, addrA).Return(int64(1000), true).Twice()
	f.On("FetchBalance", mock.Anything, addrA).Return(int64(1500), true).Once()

	log := &updateLog{}
	r := NewBalanceReconciler(f, s, ReconcilerOptions{Retry: instantRetry(3), OnUpdate: log.record})

	r.Reconcile(context.Background(), addrA)

	f.AssertExpectations(t)
	w, _ := s.Get(addrA)
	assert.Equal(t, int64(1500), w.Balance)

	updates := log.all()
	require.Len(t, updates, 1)
	assert.Equal(t, int64(1500), updates[0].Balance)
	assert.Equal(t, int64(1000), updates[0].Previous)
	assert.True(t, updates[0].Changed)
}

func TestReconcileReportsUnchangedAfterBudget(t *testing.T) {
	s := seededStore(t, map[string]int64{addrA: 1000})
	f := new(MockFetcher)
	f.On("FetchBalance", mock.Anything, addrA).Return(int64(1000), true).Times(3)

	log := &updateLog{}
	r := NewBalanceReconciler(f, s, ReconcilerOptions{Retry: instantRetry(3), OnUpdate: log.record})
	r.Reconcile(context.Background(), addrA)

	f.AssertNumberOfCalls(t, "FetchBalance", 3)
	updates := log.all()
	require.Len(t, updates, 1)
	assert.Equal(t, int64(1000), updates[0].Balance)
	assert.False(t, updates[0].Changed)
}

func TestReconcileUnknownLeavesStoreAlone(t *testing.T) {
	s := seededStore(t, map[string]int64{addrA: 1000})
	before, _ := s.Get(addrA)

	f := new(MockFetcher)
	f.On("FetchBalance", mock.Anything, addrA).Return(int64(0), false)

	log := &updateLog{}
	r := NewBalanceReconciler(f, s, ReconcilerOptions{Retry: instantRetry(3), OnUpdate: log.record})
	r.Reconcile(context.Background(), addrA)

	f.AssertNumberOfCalls(t, "FetchBalance", 3)
	after, _ := s.Get(addrA)
	assert.Equal(t, before, after)
	assert.Empty(t, log.all())
}

func TestReconcileUnknownThenKnown(t *testing.T) {
	s := seededStore(t, map[string]int64{addrA: 1000})
	f := new(MockFetcher)
	f.On("FetchBalance", mock.Anything, addrA).Return(int64(0), false).Once()
	f.On("FetchBalance", mock.Anything, addrA).Return(int64(2000), true).Once()

	log := &updateLog{}
	r := NewBalanceReconciler(f, s, ReconcilerOptions{Retry: instantRetry(3), OnUpdate: log.record})
	r.Reconcile(context.Background(), addrA)

	f.AssertExpectations(t)
	require.Len(t, log.all(), 1)
	assert.Equal(t, int64(2000), log.all()[0].Balance)
}

func TestReconcileSkipsRemovedWallet(t *testing.T) {
	s := seededStore(t, map[string]int64{addrA: 1000})
	f := new(MockFetcher)
	f.On("FetchBalance", mock.Anything, addrA).Return(int64(1500), true).Run(func(mock.Arguments) {
		_, _ = s.Delete(addrA)
	})

	log := &updateLog{}
	r := NewBalanceReconciler(f, s, ReconcilerOptions{Retry: instantRetry(3), OnUpdate: log.record})
	r.Reconcile(context.Background(), addrA)

	assert.Empty(t, log.all())
	_, ok := s.Get(addrA)
	assert.False(t, ok, "a late result must not resurrect the wallet")
}

func TestReconcileUntrackedDoesNotFetch(t *testing.T) {
	s := seededStore(t, nil)
	f := new(MockFetcher)

	r := NewBalanceReconciler(f, s, ReconcilerOptions{Retry: instantRetry(3)})
	r.Reconcile(context.Background(), addrA)

	f.AssertNotCalled(t, "FetchBalance", mock.Anything, mock.Anything)
}

func TestReconcileWaitsRetryDelayOnClock(t *testing.T) {
	s := seededStore(t, map[string]int64{addrA: 1000})
	f := new(MockFetcher)
	f.On("FetchBalance", mock.Anything, addrA).Return(int64(1000), true).Once()
	f.On("FetchBalance", mock.Anything, addrA).Return(int64(1200), true).Once()

	clock := new(mclock.Simulated)
	log := &updateLog{}
	r := NewBalanceReconciler(f, s, ReconcilerOptions{
		Retry:    retry.Policy{MaxAttempts: 3, Delay: 3500 * time.Millisecond, Backoff: retry.Fixed},
		Clock:    clock,
		OnUpdate: log.record,
	})

	done := make(chan struct{})
	go func() {
		r.Reconcile(context.Background(), addrA)
		close(done)
	}()

	clock.WaitForTimers(1)
	f.AssertNumberOfCalls(t, "FetchBalance", 1)
	clock.Run(3500 * time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconcile did not finish after the retry delay")
	}
	require.Len(t, log.all(), 1)
	assert.Equal(t, int64(1200), log.all()[0].Balance)
}

func TestReconcileAbortStillAppliesKnownValue(t *testing.T) {
	s := seededStore(t, map[string]int64{addrA: 1000})
	f := new(MockFetcher)
	f.On("FetchBalance", mock.Anything, addrA).Return(int64(1000), true).Once()

	clock := new(mclock.Simulated)
	log := &updateLog{}
	r := NewBalanceReconciler(f, s, ReconcilerOptions{
		Retry:    retry.Policy{MaxAttempts: 3, Delay: time.Second, Backoff: retry.Fixed},
		Clock:    clock,
		OnUpdate: log.record,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Reconcile(ctx, addrA)
		close(done)
	}()
	clock.WaitForTimers(1)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconcile ignored cancellation")
	}
	f.AssertNumberOfCalls(t, "FetchBalance", 1)
	require.Len(t, log.all(), 1)
	assert.False(t, log.all()[0].Changed)
}

func TestSyncAllSkipsFailures(t *testing.T) {
	s := seededStore(t, map[string]int64{addrA: 100, addrB: 200})
	f := new(MockFetcher)
	f.On("FetchBalance", mock.Anything, addrA).Return(int64(0), false)
	f.On("FetchBalance", mock.Anything, addrB).Return(int64(250), true)

	log := &updateLog{}
	r := NewBalanceReconciler(f, s, ReconcilerOptions{Concurrency: 2, OnUpdate: log.record})

	err := r.SyncAll(context.Background(), []string{addrA, addrB})
	require.NoError(t, err)

	a, _ := s.Get(addrA)
	b, _ := s.Get(addrB)
	assert.Equal(t, int64(100), a.Balance)
	assert.Equal(t, int64(250), b.Balance)
	require.Len(t, log.all(), 1)
	assert.Equal(t, addrB, log.all()[0].Address)
}

func TestSyncUnknown(t *testing.T) {
	s := seededStore(t, map[string]int64{addrA: 100})
	f := new(MockFetcher)
	f.On("FetchBalance", mock.Anything, addrA).Return(int64(0), false)

	r := NewBalanceReconciler(f, s, ReconcilerOptions{})
	assert.ErrorIs(t, r.Sync(context.Background(), addrA), ErrBalanceUnknown)
}

func TestCoalescerDrivesReconciler(t *testing.T) {
	s := seededStore(t, map[string]int64{addrA: 1000})
	f := new(MockFetcher)
	f.On("FetchBalance", mock.Anything, addrA).Return(int64(1500), true).Once()

	updated := make(chan models.BalanceUpdate, 1)
	r := NewBalanceReconciler(f, s, ReconcilerOptions{
		Retry:    instantRetry(3),
		OnUpdate: func(u models.BalanceUpdate) { updated <- u },
	})
	c, clock := newTestCoalescer(r)

	for i := 0; i < 5; i++ {
		c.Notify(addrA)
	}
	clock.Run(3500 * time.Millisecond)

	select {
	case u := <-updated:
		assert.Equal(t, int64(1500), u.Balance)
	case <-time.After(time.Second):
		t.Fatal("no update emitted")
	}
	c.Wait()
	f.AssertNumberOfCalls(t, "FetchBalance", 1)
}
