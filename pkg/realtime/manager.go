// Package realtime owns the live subscription channel to the Rostrum node.
package realtime

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"nexaview/pkg/logging"
	"nexaview/pkg/metrics"
	"nexaview/pkg/models"
	"nexaview/pkg/retry"
)

const writeWait = 10 * time.Second

var errHeartbeatTimeout = errors.New("heartbeat timeout")

// DefaultBackoff reconnects after 2s, 4s, 6s ... capped at 30s.
var DefaultBackoff = retry.Policy{
	MaxAttempts: 5,
	Delay:       2 * time.Second,
	MaxDelay:    30 * time.Second,
	Backoff:     retry.Linear,
}

// Dialer opens the websocket. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Notifier receives change notifications. It is normally the coalescer.
type Notifier interface {
	Notify(address string)
	Cancel(address string)
	Purge()
}

// Syncer fetches and stores balances for a set of addresses.
type Syncer interface {
	SyncAll(ctx context.Context, addresses []string) error
}

// AddressSource lists the tracked addresses.
type AddressSource interface {
	Addresses() []string
}

type Options struct {
	URL               string
	Dialer            Dialer
	Clock             mclock.Clock
	Backoff           retry.Policy
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	Settle            time.Duration
	DialTimeout       time.Duration
	Logger            *zap.Logger
	Metrics           *metrics.Metrics
}

// Manager is the single owner of the live channel. Every timer callback and
// network completion carries the generation it was started under and is
// ignored once the generation has moved on.
type Manager struct {
	url         string
	dialer      Dialer
	clock       mclock.Clock
	backoff     retry.Policy
	interval    time.Duration
	timeout     time.Duration
	settle      time.Duration
	dialTimeout time.Duration
	logger      *zap.Logger
	metrics     *metrics.Metrics

	source   AddressSource
	notifier Notifier
	syncer   Syncer

	ctx    context.Context
	cancel context.CancelFunc
	nextID atomic.Uint64
	sendMu sync.Mutex

	mu           sync.Mutex
	state        models.ConnectionState
	conn         *websocket.Conn
	gen          uint64
	attempts     int
	reconnecting bool
	closed       bool
	lastSeen     mclock.AbsTime
	retryTimer   mclock.Timer
	settleTimer  mclock.Timer
	heartbeat    mclock.Timer
	subs         mapset.Set[string]
	listeners    []func(models.ConnectionState)
	emitQueue    []models.ConnectionState
	delivering   bool
}

func NewManager(source AddressSource, notifier Notifier, syncer Syncer, opts Options) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Clock == nil {
		opts.Clock = mclock.System{}
	}
	if opts.Backoff.MaxAttempts < 1 {
		opts.Backoff = DefaultBackoff
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 20 * time.Second
	}
	if opts.HeartbeatTimeout <= opts.HeartbeatInterval {
		opts.HeartbeatTimeout = opts.HeartbeatInterval * 9 / 4
	}
	if opts.Settle <= 0 {
		opts.Settle = 500 * time.Millisecond
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		url:         opts.URL,
		dialer:      opts.Dialer,
		clock:       opts.Clock,
		backoff:     opts.Backoff,
		interval:    opts.HeartbeatInterval,
		timeout:     opts.HeartbeatTimeout,
		settle:      opts.Settle,
		dialTimeout: opts.DialTimeout,
		logger:      logging.OrNop(opts.Logger),
		metrics:     opts.Metrics,
		source:      source,
		notifier:    notifier,
		syncer:      syncer,
		ctx:         ctx,
		cancel:      cancel,
		state:       models.StateDisconnected,
		subs:        mapset.NewThreadUnsafeSet[string](),
	}
	m.metrics.SetState(models.StateDisconnected)
	return m
}

// OnStateChange registers fn to be called after every state transition.
func (m *Manager) OnStateChange(fn func(models.ConnectionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) State() models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the number of reconnect attempts since the last success.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Subscriptions returns the addresses subscribed on the current channel.
func (m *Manager) Subscriptions() []string {
	m.mu.Lock()
	out := m.subs.ToSlice()
	m.mu.Unlock()
	sort.Strings(out)
	return out
}

func (m *Manager) setStateLocked(s models.ConnectionState) {
	if m.state == s {
		return
	}
	m.state = s
	m.metrics.SetState(s)
	m.emitQueue = append(m.emitQueue, s)
}

// unlock releases mu and then delivers queued state changes, so listeners
// may call back into the manager. One caller drains the queue at a time,
// which keeps deliveries in transition order.
func (m *Manager) unlock() {
	if m.delivering || len(m.emitQueue) == 0 {
		m.mu.Unlock()
		return
	}
	m.delivering = true
	for len(m.emitQueue) > 0 {
		queue := m.emitQueue
		m.emitQueue = nil
		listeners := make([]func(models.ConnectionState), len(m.listeners))
		copy(listeners, m.listeners)
		m.mu.Unlock()
		for _, s := range queue {
			for _, fn := range listeners {
				fn(s)
			}
		}
		m.mu.Lock()
	}
	m.delivering = false
	m.mu.Unlock()
}

// Connect opens the channel unless it is already open, opening, or has
// given up. It returns immediately; the dial runs in the background.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return
	}
	switch m.state {
	case models.StateConnecting, models.StateConnected, models.StateFailed:
		return
	}
	m.connectLocked()
}

func (m *Manager) connectLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.reconnecting = false
	m.gen++
	gen := m.gen
	m.setStateLocked(models.StateConnecting)
	m.logger.Info("connecting to node", zap.String("url", m.url), zap.Int("attempt", m.attempts))
	go m.dial(gen)
}

func (m *Manager) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(m.ctx, m.dialTimeout)
	conn, _, err := m.dialer.DialContext(ctx, m.url, nil)
	cancel()

	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.dropLocked(err)
		m.unlock()
		return
	}

	m.conn = conn
	m.attempts = 0
	m.lastSeen = m.clock.Now()
	addresses := m.source.Addresses()
	m.subs = mapset.NewThreadUnsafeSet(addresses...)
	m.heartbeat = m.clock.AfterFunc(m.interval, func() { m.beat(gen) })
	m.setStateLocked(models.StateConnected)
	m.logger.Info("connected to node", zap.Int("addresses", len(addresses)))
	m.unlock()

	go m.readLoop(gen, conn)

	if !m.subscribeAll(gen, conn, addresses) {
		return
	}

	// Catch anything that changed while the channel was down.
	go func() {
		if err := m.syncer.SyncAll(m.ctx, addresses); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("connect-time sync failed", zap.Error(err))
		}
	}()
}

// subscribeAll sends a subscribe for each address still in the set. An
// address unsubscribed after the snapshot was taken is skipped. The check
// and the write share sendMu so a racing unsubscribe is written after it.
func (m *Manager) subscribeAll(gen uint64, conn *websocket.Conn, addresses []string) bool {
	for _, addr := range addresses {
		m.sendMu.Lock()
		m.mu.Lock()
		current := gen == m.gen
		wanted := m.subs.Contains(addr)
		m.mu.Unlock()
		var err error
		if current && wanted {
			err = m.writeLocked(conn, MethodSubscribe, addr)
		}
		m.sendMu.Unlock()

		if !current {
			return false
		}
		if err != nil {
			m.drop(gen, err)
			return false
		}
	}
	return true
}

func (m *Manager) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.drop(gen, err)
			return
		}

		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.lastSeen = m.clock.Now()
		addr, ok := notifiedAddress(data)
		tracked := ok && m.subs.Contains(addr)
		m.mu.Unlock()

		if tracked {
			m.logger.Debug("address notification", zap.String("address", addr))
			m.notifier.Notify(addr)
		}
	}
}

func (m *Manager) beat(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.conn == nil {
		m.mu.Unlock()
		return
	}
	if time.Duration(m.clock.Now().Sub(m.lastSeen)) >= m.timeout {
		m.logger.Warn("no traffic from node, closing channel")
		m.dropLocked(errHeartbeatTimeout)
		m.unlock()
		return
	}
	conn := m.conn
	m.heartbeat = m.clock.AfterFunc(m.interval, func() { m.beat(gen) })
	m.mu.Unlock()

	if err := m.send(conn, MethodPing); err != nil {
		m.drop(gen, err)
	}
}

func (m *Manager) send(conn *websocket.Conn, method string, params ...interface{}) error {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	return m.writeLocked(conn, method, params...)
}

// writeLocked writes one request; sendMu must be held.
func (m *Manager) writeLocked(conn *websocket.Conn, method string, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	req := request{JSONRPC: "2.0", ID: m.nextID.Add(1), Method: method, Params: params}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(req)
}

func (m *Manager) drop(gen uint64, err error) {
	m.mu.Lock()
	defer m.unlock()
	if gen != m.gen || m.closed {
		return
	}
	m.dropLocked(err)
}

// dropLocked handles a lost channel exactly once per generation.
func (m *Manager) dropLocked(err error) {
	m.logger.Warn("node channel lost", zap.Error(err))
	m.teardownLocked()
	m.scheduleReconnectLocked()
}

func (m *Manager) teardownLocked() {
	m.gen++
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.subs.Clear()
	m.notifier.Purge()
	m.setStateLocked(models.StateDisconnected)
}

func (m *Manager) scheduleReconnectLocked() {
	if m.reconnecting {
		return
	}
	if m.backoff.Exhausted(m.attempts) {
		m.logger.Error("giving up on live updates", zap.Int("attempts", m.attempts))
		m.setStateLocked(models.StateFailed)
		return
	}
	m.attempts++
	delay := m.backoff.DelayFor(m.attempts)
	m.metrics.IncReconnect()
	m.reconnecting = true
	m.setStateLocked(models.StateReconnecting)
	m.logger.Info("reconnect scheduled", zap.Int("attempt", m.attempts), zap.Duration("delay", delay))

	gen := m.gen
	m.retryTimer = m.clock.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.unlock()
		if gen != m.gen || m.closed || !m.reconnecting {
			return
		}
		m.connectLocked()
	})
}

// ForceReconnect tears the channel down and opens a fresh one after a short
// settle delay, with the attempt budget reset. It also recovers from failed.
func (m *Manager) ForceReconnect() {
	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.settleTimer != nil {
		m.settleTimer.Stop()
	}
	m.reconnecting = false
	m.attempts = 0
	m.teardownLocked()
	m.logger.Info("forced reconnect")

	gen := m.gen
	m.settleTimer = m.clock.AfterFunc(m.settle, func() {
		m.mu.Lock()
		defer m.unlock()
		if gen != m.gen || m.closed || m.state != models.StateDisconnected {
			return
		}
		m.connectLocked()
	})
}

// Subscribe adds address to the live channel. It is a no-op unless connected.
func (m *Manager) Subscribe(address string) {
	m.mu.Lock()
	if m.state != models.StateConnected || m.conn == nil || m.subs.Contains(address) {
		m.mu.Unlock()
		return
	}
	m.subs.Add(address)
	conn, gen := m.conn, m.gen
	m.mu.Unlock()

	if err := m.send(conn, MethodSubscribe, address); err != nil {
		m.drop(gen, err)
	}
}

// Unsubscribe cancels any pending reconciliation for address and removes it
// from the live channel when connected.
func (m *Manager) Unsubscribe(address string) {
	m.notifier.Cancel(address)

	m.mu.Lock()
	had := m.subs.Contains(address)
	m.subs.Remove(address)
	if !had || m.state != models.StateConnected || m.conn == nil {
		m.mu.Unlock()
		return
	}
	conn, gen := m.conn, m.gen
	m.mu.Unlock()

	if err := m.send(conn, MethodUnsubscribe, address); err != nil {
		m.drop(gen, err)
	}
}

// Resync fetches and stores every tracked balance once.
func (m *Manager) Resync(ctx context.Context) error {
	return m.syncer.SyncAll(ctx, m.source.Addresses())
}

// Close shuts the manager down for good.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return
	}
	for _, t := range []mclock.Timer{m.retryTimer, m.settleTimer} {
		if t != nil {
			t.Stop()
		}
	}
	m.reconnecting = false
	m.teardownLocked()
	m.closed = true
	m.cancel()
}
