package lock

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	return m
}

func TestAcquire(t *testing.T) {
	t.Run("claims a free lock", func(t *testing.T) {
		m := newTestManager(t)

		ok, err := m.Acquire("browser-session", time.Minute, "token-a")
		require.NoError(t, err)
		assert.True(t, ok)

		holder, err := m.Holder("browser-session")
		require.NoError(t, err)
		assert.Equal(t, "token-a", holder)
	})

	t.Run("fails fast when a live holder exists", func(t *testing.T) {
		m := newTestManager(t)

		ok, err := m.Acquire("browser-session", time.Minute, "token-a")
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = m.Acquire("browser-session", time.Minute, "token-b")
		require.NoError(t, err)
		assert.False(t, ok)

		// The original holder is untouched.
		holder, err := m.Holder("browser-session")
		require.NoError(t, err)
		assert.Equal(t, "token-a", holder)
	})

	t.Run("two attempts within the same second admit exactly one", func(t *testing.T) {
		m := newTestManager(t)
		now := time.Now()
		m.now = func() time.Time { return now }

		okA, err := m.Acquire("browser-session", 60*time.Second, "A")
		require.NoError(t, err)
		okB, err := m.Acquire("browser-session", 60*time.Second, "B")
		require.NoError(t, err)

		assert.True(t, okA != okB, "exactly one acquisition must succeed")
	})

	t.Run("takes over an expired lock", func(t *testing.T) {
		m := newTestManager(t)
		start := time.Now()
		m.now = func() time.Time { return start }

		ok, err := m.Acquire("browser-session", time.Minute, "crashed-holder")
		require.NoError(t, err)
		require.True(t, ok)

		// The original holder never released; TTL elapses.
		m.now = func() time.Time { return start.Add(2 * time.Minute) }

		ok, err = m.Acquire("browser-session", time.Minute, "token-b")
		require.NoError(t, err)
		assert.True(t, ok)

		holder, err := m.Holder("browser-session")
		require.NoError(t, err)
		assert.Equal(t, "token-b", holder)
	})

	t.Run("takes over a corrupt lock file", func(t *testing.T) {
		dir := t.TempDir()
		m, err := NewManager(dir)
		require.NoError(t, err)

		require.NoError(t, os.WriteFile(filepath.Join(dir, "browser-session.lock"), []byte("not json"), 0600))

		ok, err := m.Acquire("browser-session", time.Minute, "token-a")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("rejects non-positive ttl", func(t *testing.T) {
		m := newTestManager(t)
		_, err := m.Acquire("browser-session", 0, "token-a")
		assert.Error(t, err)
	})

	t.Run("sanitizes resource keys for the filesystem", func(t *testing.T) {
		dir := t.TempDir()
		m, err := NewManager(dir)
		require.NoError(t, err)

		ok, err := m.Acquire("page:100027689516729", time.Minute, "token-a")
		require.NoError(t, err)
		require.True(t, ok)

		data, err := os.ReadFile(filepath.Join(dir, "page_100027689516729.lock"))
		require.NoError(t, err)

		var rec Record
		require.NoError(t, json.Unmarshal(data, &rec))
		assert.Equal(t, "page:100027689516729", rec.ResourceKey)
		assert.Equal(t, "token-a", rec.HolderToken)
	})
}

func TestRenew(t *testing.T) {
	t.Run("extends expiry for the current holder", func(t *testing.T) {
		m := newTestManager(t)
		start := time.Now()
		m.now = func() time.Time { return start }

		ok, err := m.Acquire("browser-session", time.Minute, "token-a")
		require.NoError(t, err)
		require.True(t, ok)

		m.now = func() time.Time { return start.Add(50 * time.Second) }
		ok, err = m.Renew("browser-session", "token-a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		// Without the renewal the lock would be expired by now.
		m.now = func() time.Time { return start.Add(100 * time.Second) }
		holder, err := m.Holder("browser-session")
		require.NoError(t, err)
		assert.Equal(t, "token-a", holder)
	})

	t.Run("fails for a non-holder", func(t *testing.T) {
		m := newTestManager(t)

		ok, err := m.Acquire("browser-session", time.Minute, "token-a")
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = m.Renew("browser-session", "token-b", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("fails when the lock no longer exists", func(t *testing.T) {
		m := newTestManager(t)
		ok, err := m.Renew("browser-session", "token-a", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("fails once the lock has expired", func(t *testing.T) {
		m := newTestManager(t)
		start := time.Now()
		m.now = func() time.Time { return start }

		ok, err := m.Acquire("browser-session", time.Minute, "token-a")
		require.NoError(t, err)
		require.True(t, ok)

		m.now = func() time.Time { return start.Add(2 * time.Minute) }
		ok, err = m.Renew("browser-session", "token-a", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRelease(t *testing.T) {
	t.Run("removes the lock for the current holder", func(t *testing.T) {
		m := newTestManager(t)

		ok, err := m.Acquire("browser-session", time.Minute, "token-a")
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, m.Release("browser-session", "token-a"))

		ok, err = m.Acquire("browser-session", time.Minute, "token-b")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("is a no-op for a stale holder", func(t *testing.T) {
		m := newTestManager(t)
		start := time.Now()
		m.now = func() time.Time { return start }

		ok, err := m.Acquire("browser-session", time.Minute, "token-a")
		require.NoError(t, err)
		require.True(t, ok)

		// token-a times out and token-b takes over.
		m.now = func() time.Time { return start.Add(2 * time.Minute) }
		ok, err = m.Acquire("browser-session", time.Minute, "token-b")
		require.NoError(t, err)
		require.True(t, ok)

		// The slow original holder wakes up and tries to release.
		require.NoError(t, m.Release("browser-session", "token-a"))

		holder, err := m.Holder("browser-session")
		require.NoError(t, err)
		assert.Equal(t, "token-b", holder, "release by a stale holder must not drop the new lock")
	})

	t.Run("is a no-op when the lock does not exist", func(t *testing.T) {
		m := newTestManager(t)
		assert.NoError(t, m.Release("browser-session", "token-a"))
	})
}

func TestHolder(t *testing.T) {
	t.Run("returns empty for a free lock", func(t *testing.T) {
		m := newTestManager(t)
		holder, err := m.Holder("browser-session")
		require.NoError(t, err)
		assert.Empty(t, holder)
	})

	t.Run("returns empty for an expired lock", func(t *testing.T) {
		m := newTestManager(t)
		start := time.Now()
		m.now = func() time.Time { return start }

		ok, err := m.Acquire("browser-session", time.Minute, "token-a")
		require.NoError(t, err)
		require.True(t, ok)

		m.now = func() time.Time { return start.Add(2 * time.Minute) }
		holder, err := m.Holder("browser-session")
		require.NoError(t, err)
		assert.Empty(t, holder)
	})
}
