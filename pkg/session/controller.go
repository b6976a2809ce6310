package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pkirklewski/bgNews/pkg/browser"
	"github.com/pkirklewski/bgNews/pkg/lock"
	"github.com/pkirklewski/bgNews/pkg/logging"
)

// ResourceKey is the lock resource that serializes ownership of the single
// remote browser session across concurrent job runs.
const ResourceKey = "browser-session"

// State is the controller's position in its lifecycle.
type State string

const (
	// StateUnbound means no session has been acquired yet
	StateUnbound State = "unbound"

	// StateAcquiring means the initial probe is in progress
	StateAcquiring State = "acquiring"

	// StateHealthy means the backend responded to the last probe or action
	StateHealthy State = "healthy"

	// StateDegraded means an action timed out or the backend disconnected
	// and reconnect attempts are underway
	StateDegraded State = "degraded"

	// StateDead means reconnects were exhausted; a future job may acquire anew
	StateDead State = "dead"

	// StateClosed is terminal: backend resources have been released
	StateClosed State = "closed"
)

var (
	// ErrSessionLost means the backend disconnected or timed out and could
	// not be recovered within the bounded reconnect attempts. It never means
	// the action partially succeeded: callers re-verify outcome through the
	// backend's observable state before recording anything as published.
	ErrSessionLost = errors.New("session lost")

	// ErrNotHolder means the caller's token does not currently hold the
	// browser-session lock, so no privileged action may run.
	ErrNotHolder = errors.New("caller does not hold the browser-session lock")
)

// OutcomeKind classifies what an automation action observed. Callers branch
// on the kind instead of on backend-specific errors.
type OutcomeKind string

const (
	// OutcomeSuccess means the action completed and its effect was observed
	OutcomeSuccess OutcomeKind = "success"

	// OutcomeNotFound means a required page element was absent; the action
	// had no effect
	OutcomeNotFound OutcomeKind = "not-found"

	// OutcomeDisconnected means the backend connection failed mid-action;
	// the effect is unknown
	OutcomeDisconnected OutcomeKind = "disconnected"
)

// Outcome is the structured result of one automation action.
type Outcome struct {
	Kind   OutcomeKind
	Detail string
}

// Action is a single automation step executed against the backend under a
// bounded timeout.
type Action interface {
	// Name identifies the action in logs and diagnostics
	Name() string

	// Run performs the action. Transport failures may be returned either as
	// errors satisfying browser.IsDisconnect or as OutcomeDisconnected.
	Run(ctx context.Context, backend browser.Backend) (Outcome, error)
}

// Options configures a Controller.
type Options struct {
	// Locks validates session ownership before every privileged action
	Locks *lock.Manager

	// Backend is the remote automation endpoint
	Backend browser.Backend

	// ReconnectAttempts bounds recovery tries after a timeout or disconnect
	ReconnectAttempts int

	// Logger receives lifecycle and recovery events. Optional.
	Logger *logging.Logger
}

// DefaultReconnectAttempts is used when Options.ReconnectAttempts is zero.
const DefaultReconnectAttempts = 2

// Controller owns the lifecycle of the one remote browser session:
// acquire/verify/reconnect/close. Exactly one job holds it at a time,
// enforced by the browser-session lock; the controller re-validates the
// holder token immediately before every action to close the window where an
// expired lock could have been taken over.
type Controller struct {
	locks             *lock.Manager
	backend           browser.Backend
	reconnectAttempts int
	logger            *logging.Logger

	mu        sync.Mutex
	state     State
	lockToken string
}

// NewController creates a controller in the Unbound state.
func NewController(opts Options) *Controller {
	attempts := opts.ReconnectAttempts
	if attempts <= 0 {
		attempts = DefaultReconnectAttempts
	}
	return &Controller{
		locks:             opts.Locks,
		backend:           opts.Backend,
		reconnectAttempts: attempts,
		logger:            opts.Logger,
		state:             StateUnbound,
	}
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Acquire binds the controller to the remote session. The caller must already
// hold the browser-session lock via lockToken. The backend is probed with a
// lightweight read of its current state; one reset and re-probe is attempted
// before the session is declared Dead.
func (c *Controller) Acquire(ctx context.Context, lockToken string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateUnbound {
		return fmt.Errorf("cannot acquire session from state %q", c.state)
	}
	if err := c.verifyHolder(lockToken); err != nil {
		return err
	}

	c.state = StateAcquiring
	c.lockToken = lockToken

	if _, err := c.backend.ReadState(ctx); err != nil {
		c.logf("initial probe failed, resetting backend: %v", err)
		if resetErr := c.backend.Reset(ctx); resetErr != nil {
			c.state = StateDead
			return fmt.Errorf("%w: reset failed: %v", ErrSessionLost, resetErr)
		}
		if _, probeErr := c.backend.ReadState(ctx); probeErr != nil {
			c.state = StateDead
			return fmt.Errorf("%w: probe failed after reset: %v", ErrSessionLost, probeErr)
		}
	}

	c.state = StateHealthy
	c.logf("session acquired")
	return nil
}

// Execute runs a single automation action under the given timeout. On timeout
// or disconnect the controller degrades, attempts a bounded number of
// reconnects, and either retries the action once or declares the session Dead
// and returns ErrSessionLost. Action-level failures (element not found, page
// rejected the operation) are returned as outcomes, not errors.
func (c *Controller) Execute(ctx context.Context, action Action, timeout time.Duration) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateHealthy {
		return Outcome{}, fmt.Errorf("cannot execute %q from state %q", action.Name(), c.state)
	}
	if err := c.verifyHolder(c.lockToken); err != nil {
		return Outcome{}, err
	}

	outcome, err := c.runBounded(ctx, action, timeout)
	if !c.lostConnection(outcome, err) {
		return outcome, err
	}

	// Backend went away mid-action. Degrade, try to recover, and if the
	// session comes back retry the action exactly once. The pipeline's
	// pre-action dedup check keeps the retry from double-publishing.
	c.state = StateDegraded
	c.logf("action %q lost the backend, reconnecting (max %d attempts)", action.Name(), c.reconnectAttempts)

	if !c.reconnect(ctx) {
		c.state = StateDead
		return Outcome{Kind: OutcomeDisconnected}, fmt.Errorf("%w: %q", ErrSessionLost, action.Name())
	}

	c.state = StateHealthy
	outcome, err = c.runBounded(ctx, action, timeout)
	if c.lostConnection(outcome, err) {
		c.state = StateDead
		return Outcome{Kind: OutcomeDisconnected}, fmt.Errorf("%w: %q", ErrSessionLost, action.Name())
	}
	return outcome, err
}

// Capture writes a screenshot of the backend's current page to path. It is a
// diagnostic aid and tolerates degraded state; only a closed session refuses.
func (c *Controller) Capture(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed || c.state == StateUnbound {
		return fmt.Errorf("cannot capture from state %q", c.state)
	}
	return c.backend.Screenshot(ctx, path)
}

// Release closes the underlying backend resources. It never releases the
// browser-session lock: lock release is the pipeline's responsibility and
// always happens after Release.
func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return
	}
	if c.backend != nil {
		if err := c.backend.Close(); err != nil {
			c.logf("backend close: %v", err)
		}
	}
	c.state = StateClosed
}

func (c *Controller) runBounded(ctx context.Context, action Action, timeout time.Duration) (Outcome, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return action.Run(runCtx, c.backend)
}

// lostConnection reports whether an action result means the backend is gone.
func (c *Controller) lostConnection(outcome Outcome, err error) bool {
	if err != nil {
		return browser.IsDisconnect(err) || browser.IsTimeout(err)
	}
	return outcome.Kind == OutcomeDisconnected
}

// reconnect resets the backend and re-probes, up to the configured number of
// attempts. Returns true once a probe succeeds.
func (c *Controller) reconnect(ctx context.Context) bool {
	for attempt := 1; attempt <= c.reconnectAttempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		if err := c.backend.Reset(ctx); err != nil {
			c.logf("reconnect attempt %d/%d: reset failed: %v", attempt, c.reconnectAttempts, err)
			continue
		}
		if _, err := c.backend.ReadState(ctx); err != nil {
			c.logf("reconnect attempt %d/%d: probe failed: %v", attempt, c.reconnectAttempts, err)
			continue
		}
		c.logf("reconnected on attempt %d/%d", attempt, c.reconnectAttempts)
		return true
	}
	return false
}

// verifyHolder checks that token currently holds the browser-session lock.
func (c *Controller) verifyHolder(token string) error {
	if token == "" {
		return ErrNotHolder
	}
	holder, err := c.locks.Holder(ResourceKey)
	if err != nil {
		return fmt.Errorf("failed to check lock holder: %w", err)
	}
	if holder != token {
		return ErrNotHolder
	}
	return nil
}

func (c *Controller) logf(format string, v ...interface{}) {
	if c.logger != nil {
		c.logger.Infof(format, v...)
	}
}
