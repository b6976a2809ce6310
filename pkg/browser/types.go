package browser

import (
	"context"
	"errors"
	"strings"
	"time"
)

// PageState is the observable state of the backend's current page, read by
// liveness probes and by callers re-verifying an action's outcome.
type PageState struct {
	// URL of the current page
	URL string

	// Title of the current page
	Title string

	// LoginWall is true when a login form is visible, meaning the persisted
	// profile's session has expired and no privileged action can succeed
	LoginWall bool
}

// Backend is the narrow capability surface of the remote browser-automation
// endpoint. Implementations report transport-level failures as errors that
// satisfy IsDisconnect; everything else is an ordinary action error.
type Backend interface {
	// Navigate loads url in the current page
	Navigate(ctx context.Context, url string) error

	// Click clicks the first element matching selector
	Click(ctx context.Context, selector string) error

	// Fill sets the value of the element matching selector
	Fill(ctx context.Context, selector, value string) error

	// Type sends value as individual keystrokes to the element matching
	// selector. Used for inputs whose page scripts react to key events.
	Type(ctx context.Context, selector, value string) error

	// Upload attaches a local file to the file input matching selector
	Upload(ctx context.Context, selector, path string) error

	// WaitVisible waits until an element matching selector is visible
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error

	// Exists reports whether an element matching selector is present
	Exists(ctx context.Context, selector string) (bool, error)

	// ReadState reads the current page state. Used as the liveness probe.
	ReadState(ctx context.Context) (PageState, error)

	// Content returns the current page's rendered HTML
	Content(ctx context.Context) (string, error)

	// Screenshot captures the current page to path, for diagnostics
	Screenshot(ctx context.Context, path string) error

	// Reset drops and re-establishes the connection to the remote endpoint
	Reset(ctx context.Context) error

	// Close releases the connection. The remote browser itself stays up.
	Close() error
}

// ErrDisconnected marks a backend error caused by a lost connection to the
// remote endpoint rather than by the requested action.
var ErrDisconnected = errors.New("backend disconnected")

// IsDisconnect reports whether err indicates the remote endpoint went away.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDisconnected) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"target closed",
		"browser has been closed",
		"browser closed",
		"connection refused",
		"connection reset",
		"websocket",
		"disconnected",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsTimeout reports whether err is a backend action timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
