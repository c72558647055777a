// Package resume decides what to do with the live channel when the app
// comes back to the foreground or the network changes.
package resume

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"go.uber.org/zap"

	"nexaview/pkg/logging"
	"nexaview/pkg/models"
)

type Action string

const (
	ActionNone      Action = "none"
	ActionResync    Action = "resync"
	ActionReconnect Action = "reconnect"
)

// Channel is the part of the connection manager the controller drives.
type Channel interface {
	State() models.ConnectionState
	ForceReconnect()
	Resync(ctx context.Context) error
}

type Options struct {
	StaleAfter  time.Duration
	MinInterval time.Duration
	Clock       mclock.Clock
	Logger      *zap.Logger
}

type Controller struct {
	ch          Channel
	staleAfter  time.Duration
	minInterval time.Duration
	clock       mclock.Clock
	logger      *zap.Logger

	mu         sync.Mutex
	away       bool
	awaySince  mclock.AbsTime
	offline    bool
	acted      bool
	lastAction mclock.AbsTime
	wg         sync.WaitGroup
}

func New(ch Channel, opts Options) *Controller {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 30 * time.Second
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = 2 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = mclock.System{}
	}
	return &Controller{
		ch:          ch,
		staleAfter:  opts.StaleAfter,
		minInterval: opts.MinInterval,
		clock:       opts.Clock,
		logger:      logging.OrNop(opts.Logger),
	}
}

// Hidden records that the app left the foreground.
func (c *Controller) Hidden() Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.away {
		c.away = true
		c.awaySince = c.clock.Now()
	}
	return ActionNone
}

// Visible handles the app returning to the foreground.
func (c *Controller) Visible() Action { return c.resume("visible") }

// Focus handles the window regaining focus. It usually fires together with
// Visible and collapses into it.
func (c *Controller) Focus() Action { return c.resume("focus") }

func (c *Controller) resume(trigger string) Action {
	c.mu.Lock()
	now := c.clock.Now()
	var awayFor time.Duration
	if c.away {
		awayFor = time.Duration(now.Sub(c.awaySince))
		c.away = false
	}
	if c.offline || c.throttledLocked(now) {
		c.mu.Unlock()
		return ActionNone
	}

	action := ActionResync
	if state := c.ch.State(); state != models.StateConnected || awayFor >= c.staleAfter {
		action = ActionReconnect
	}
	c.markLocked(now)
	c.mu.Unlock()

	c.logger.Info("resuming", zap.String("trigger", trigger),
		zap.Duration("away", awayFor), zap.String("action", string(action)))
	c.run(action)
	return action
}

// Online forces a fresh channel since the network path has changed.
func (c *Controller) Online() Action {
	c.mu.Lock()
	now := c.clock.Now()
	c.offline = false
	if c.throttledLocked(now) {
		c.mu.Unlock()
		return ActionNone
	}
	c.markLocked(now)
	c.mu.Unlock()

	c.logger.Info("network back online, reconnecting")
	c.run(ActionReconnect)
	return ActionReconnect
}

// Offline is recorded only; the channel notices the loss on its own.
func (c *Controller) Offline() Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offline = true
	return ActionNone
}

func (c *Controller) throttledLocked(now mclock.AbsTime) bool {
	return c.acted && time.Duration(now.Sub(c.lastAction)) < c.minInterval
}

func (c *Controller) markLocked(now mclock.AbsTime) {
	c.acted = true
	c.lastAction = now
}

func (c *Controller) run(action Action) {
	switch action {
	case ActionReconnect:
		c.ch.ForceReconnect()
	case ActionResync:
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.ch.Resync(context.Background()); err != nil {
				c.logger.Warn("resync failed", zap.Error(err))
			}
		}()
	}
}

// Wait blocks until background resyncs have finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Handle dispatches a lifecycle event by name.
func (c *Controller) Handle(event string) (Action, bool) {
	switch event {
	case "hidden":
		return c.Hidden(), true
	case "visible":
		return c.Visible(), true
	case "focus":
		return c.Focus(), true
	case "online":
		return c.Online(), true
	case "offline":
		return c.Offline(), true
	}
	return ActionNone, false
}
