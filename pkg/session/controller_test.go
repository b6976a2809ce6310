package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkirklewski/bgNews/pkg/browser"
	"github.com/pkirklewski/bgNews/pkg/lock"
)

// fakeBackend scripts probe and reset behavior per call.
type fakeBackend struct {
	readErrs  []error // consumed one per ReadState call, nil past the end
	resetErrs []error // consumed one per Reset call, nil past the end
	reads     int
	resets    int
	closed    bool
}

func (f *fakeBackend) ReadState(ctx context.Context) (browser.PageState, error) {
	var err error
	if f.reads < len(f.readErrs) {
		err = f.readErrs[f.reads]
	}
	f.reads++
	if err != nil {
		return browser.PageState{}, err
	}
	return browser.PageState{URL: "https://www.facebook.com/", Title: "Facebook"}, nil
}

func (f *fakeBackend) Reset(ctx context.Context) error {
	var err error
	if f.resets < len(f.resetErrs) {
		err = f.resetErrs[f.resets]
	}
	f.resets++
	return err
}

func (f *fakeBackend) Navigate(ctx context.Context, url string) error             { return nil }
func (f *fakeBackend) Click(ctx context.Context, selector string) error          { return nil }
func (f *fakeBackend) Fill(ctx context.Context, selector, value string) error    { return nil }
func (f *fakeBackend) Type(ctx context.Context, selector, value string) error    { return nil }
func (f *fakeBackend) Upload(ctx context.Context, selector, path string) error   { return nil }
func (f *fakeBackend) Exists(ctx context.Context, selector string) (bool, error) { return false, nil }
func (f *fakeBackend) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}
func (f *fakeBackend) Content(ctx context.Context) (string, error)       { return "", nil }
func (f *fakeBackend) Screenshot(ctx context.Context, path string) error { return nil }
func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

// funcAction adapts a function to the Action interface.
type funcAction struct {
	name string
	fn   func(ctx context.Context, b browser.Backend) (Outcome, error)
}

func (a funcAction) Name() string { return a.name }
func (a funcAction) Run(ctx context.Context, b browser.Backend) (Outcome, error) {
	return a.fn(ctx, b)
}

func newTestController(t *testing.T, backend browser.Backend) (*Controller, *lock.Manager) {
	t.Helper()
	locks, err := lock.NewManager(t.TempDir())
	require.NoError(t, err)
	return NewController(Options{Locks: locks, Backend: backend, ReconnectAttempts: 2}), locks
}

func holdLock(t *testing.T, locks *lock.Manager, token string) {
	t.Helper()
	ok, err := locks.Acquire(ResourceKey, time.Minute, token)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAcquire(t *testing.T) {
	t.Run("requires the browser-session lock", func(t *testing.T) {
		ctrl, _ := newTestController(t, &fakeBackend{})

		err := ctrl.Acquire(context.Background(), "token-a")
		assert.ErrorIs(t, err, ErrNotHolder)
		assert.Equal(t, StateUnbound, ctrl.State())
	})

	t.Run("transitions to healthy after a successful probe", func(t *testing.T) {
		ctrl, locks := newTestController(t, &fakeBackend{})
		holdLock(t, locks, "token-a")

		require.NoError(t, ctrl.Acquire(context.Background(), "token-a"))
		assert.Equal(t, StateHealthy, ctrl.State())
	})

	t.Run("recovers with one reset when the first probe fails", func(t *testing.T) {
		backend := &fakeBackend{readErrs: []error{browser.ErrDisconnected}}
		ctrl, locks := newTestController(t, backend)
		holdLock(t, locks, "token-a")

		require.NoError(t, ctrl.Acquire(context.Background(), "token-a"))
		assert.Equal(t, StateHealthy, ctrl.State())
		assert.Equal(t, 1, backend.resets)
	})

	t.Run("declares the session dead when reset fails", func(t *testing.T) {
		backend := &fakeBackend{
			readErrs:  []error{browser.ErrDisconnected},
			resetErrs: []error{browser.ErrDisconnected},
		}
		ctrl, locks := newTestController(t, backend)
		holdLock(t, locks, "token-a")

		err := ctrl.Acquire(context.Background(), "token-a")
		assert.ErrorIs(t, err, ErrSessionLost)
		assert.Equal(t, StateDead, ctrl.State())
	})

	t.Run("rejects a token that holds nothing anymore", func(t *testing.T) {
		ctrl, locks := newTestController(t, &fakeBackend{})
		holdLock(t, locks, "token-b")

		err := ctrl.Acquire(context.Background(), "token-a")
		assert.ErrorIs(t, err, ErrNotHolder)
	})
}

func TestExecute(t *testing.T) {
	acquired := func(t *testing.T, backend browser.Backend) *Controller {
		t.Helper()
		ctrl, locks := newTestController(t, backend)
		holdLock(t, locks, "token-a")
		require.NoError(t, ctrl.Acquire(context.Background(), "token-a"))
		return ctrl
	}

	t.Run("passes successful outcomes through", func(t *testing.T) {
		ctrl := acquired(t, &fakeBackend{})

		outcome, err := ctrl.Execute(context.Background(), funcAction{
			name: "share-post",
			fn: func(ctx context.Context, b browser.Backend) (Outcome, error) {
				return Outcome{Kind: OutcomeSuccess}, nil
			},
		}, time.Second)

		require.NoError(t, err)
		assert.Equal(t, OutcomeSuccess, outcome.Kind)
		assert.Equal(t, StateHealthy, ctrl.State())
	})

	t.Run("passes not-found outcomes through without degrading", func(t *testing.T) {
		ctrl := acquired(t, &fakeBackend{})

		outcome, err := ctrl.Execute(context.Background(), funcAction{
			name: "share-post",
			fn: func(ctx context.Context, b browser.Backend) (Outcome, error) {
				return Outcome{Kind: OutcomeNotFound, Detail: "share button missing"}, nil
			},
		}, time.Second)

		require.NoError(t, err)
		assert.Equal(t, OutcomeNotFound, outcome.Kind)
		assert.Equal(t, StateHealthy, ctrl.State())
	})

	t.Run("recovers from a single disconnect and retries once", func(t *testing.T) {
		backend := &fakeBackend{}
		ctrl := acquired(t, backend)

		calls := 0
		outcome, err := ctrl.Execute(context.Background(), funcAction{
			name: "publish-link",
			fn: func(ctx context.Context, b browser.Backend) (Outcome, error) {
				calls++
				if calls == 1 {
					return Outcome{}, browser.ErrDisconnected
				}
				return Outcome{Kind: OutcomeSuccess}, nil
			},
		}, time.Second)

		require.NoError(t, err)
		assert.Equal(t, OutcomeSuccess, outcome.Kind)
		assert.Equal(t, 2, calls)
		assert.Equal(t, StateHealthy, ctrl.State())
	})

	t.Run("consecutive timeouts kill the session", func(t *testing.T) {
		ctrl := acquired(t, &fakeBackend{})

		timeouts := 0
		outcome, err := ctrl.Execute(context.Background(), funcAction{
			name: "publish-link",
			fn: func(ctx context.Context, b browser.Backend) (Outcome, error) {
				timeouts++
				return Outcome{}, errors.New("Timeout 30000ms exceeded")
			},
		}, time.Second)

		assert.ErrorIs(t, err, ErrSessionLost)
		assert.Equal(t, OutcomeDisconnected, outcome.Kind)
		assert.Equal(t, StateDead, ctrl.State())
		assert.GreaterOrEqual(t, timeouts, 2)

		// A dead controller refuses further work.
		_, err = ctrl.Execute(context.Background(), funcAction{
			name: "publish-link",
			fn: func(ctx context.Context, b browser.Backend) (Outcome, error) {
				return Outcome{Kind: OutcomeSuccess}, nil
			},
		}, time.Second)
		assert.Error(t, err)
	})

	t.Run("exhausted reconnects surface session lost", func(t *testing.T) {
		backend := &fakeBackend{
			// Probes after the acquire succeed once, then keep failing.
			readErrs: []error{nil, browser.ErrDisconnected, browser.ErrDisconnected, browser.ErrDisconnected},
		}
		ctrl := acquired(t, backend)

		_, err := ctrl.Execute(context.Background(), funcAction{
			name: "share-post",
			fn: func(ctx context.Context, b browser.Backend) (Outcome, error) {
				return Outcome{Kind: OutcomeDisconnected}, nil
			},
		}, time.Second)

		assert.ErrorIs(t, err, ErrSessionLost)
		assert.Equal(t, StateDead, ctrl.State())
	})

	t.Run("re-validates the lock holder before acting", func(t *testing.T) {
		backend := &fakeBackend{}
		ctrl, locks := newTestController(t, backend)
		holdLock(t, locks, "token-a")
		require.NoError(t, ctrl.Acquire(context.Background(), "token-a"))

		// The lock expires and another job takes it over.
		require.NoError(t, locks.Release(ResourceKey, "token-a"))
		holdLock(t, locks, "token-b")

		_, err := ctrl.Execute(context.Background(), funcAction{
			name: "share-post",
			fn: func(ctx context.Context, b browser.Backend) (Outcome, error) {
				t.Fatal("action must not run without holding the lock")
				return Outcome{}, nil
			},
		}, time.Second)
		assert.ErrorIs(t, err, ErrNotHolder)
	})
}

func TestRelease(t *testing.T) {
	t.Run("closes the backend but never the lock", func(t *testing.T) {
		backend := &fakeBackend{}
		ctrl, locks := newTestController(t, backend)
		holdLock(t, locks, "token-a")
		require.NoError(t, ctrl.Acquire(context.Background(), "token-a"))

		ctrl.Release()

		assert.Equal(t, StateClosed, ctrl.State())
		assert.True(t, backend.closed)

		holder, err := locks.Holder(ResourceKey)
		require.NoError(t, err)
		assert.Equal(t, "token-a", holder, "releasing the session must leave the lock to the caller")
	})

	t.Run("is safe to call twice", func(t *testing.T) {
		ctrl, locks := newTestController(t, &fakeBackend{})
		holdLock(t, locks, "token-a")
		require.NoError(t, ctrl.Acquire(context.Background(), "token-a"))

		ctrl.Release()
		ctrl.Release()
		assert.Equal(t, StateClosed, ctrl.State())
	})
}
