package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Record is the on-disk payload of a held lock, one JSON file per resource key.
type Record struct {
	// ResourceKey names the shared resource this lock guards
	ResourceKey string `json:"resource_key"`

	// HolderToken is an opaque id unique per process+attempt
	HolderToken string `json:"holder_token"`

	// AcquiredAt is when the current holder claimed the lock
	AcquiredAt time.Time `json:"acquired_at"`

	// ExpiresAt is when the lock is considered abandoned
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the lock is past its expiry at the given instant.
func (r Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Manager provides cooperative, file-based mutual exclusion keyed by resource
// name. Locks carry a TTL: a holder that crashes or hangs past the TTL is
// treated as abandoned and the lock may be force-acquired by another holder.
//
// Acquire is non-blocking. All operations are holder-checked: a slow holder
// whose lock was taken over cannot release or renew the new holder's lock.
type Manager struct {
	dir string

	// now allows tests to control the clock
	now func() time.Time
}

// NewManager creates a lock manager that keeps one lock file per resource key
// under dir. The directory is created if it does not exist.
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("lock directory is required")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &Manager{dir: dir, now: time.Now}, nil
}

// Acquire attempts to atomically claim the lock for resourceKey. It returns
// false without blocking if another live holder exists. A lock past its
// expiry is treated as abandoned and may be overwritten by this call.
func (m *Manager) Acquire(resourceKey string, ttl time.Duration, holderToken string) (bool, error) {
	if resourceKey == "" || holderToken == "" {
		return false, fmt.Errorf("resource key and holder token are required")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be positive, got %s", ttl)
	}

	now := m.now()
	rec := Record{
		ResourceKey: resourceKey,
		HolderToken: holderToken,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(ttl),
	}

	path := m.lockPath(resourceKey)

	// Fast path: exclusive create wins the lock outright.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err == nil {
		if writeErr := writeRecord(file, rec); writeErr != nil {
			os.Remove(path)
			return false, writeErr
		}
		return true, nil
	}
	if !errors.Is(err, os.ErrExist) {
		return false, fmt.Errorf("failed to create lock file: %w", err)
	}

	// Lock file exists. A readable, non-expired record means a live holder.
	current, readErr := m.readRecord(path)
	if readErr == nil && !current.Expired(now) {
		return false, nil
	}
	if readErr != nil && !errors.Is(readErr, os.ErrNotExist) && !isCorrupt(readErr) {
		return false, readErr
	}

	// Abandoned (expired or unreadable) lock: take over by renaming a fully
	// written replacement into place, then verify we won any takeover race.
	if err := m.replaceRecord(path, rec); err != nil {
		return false, err
	}
	winner, err := m.readRecord(path)
	if err != nil {
		return false, err
	}
	return winner.HolderToken == holderToken, nil
}

// Renew extends the expiry of a held lock. It returns false if the lock no
// longer exists, is held by someone else, or has already expired.
func (m *Manager) Renew(resourceKey, holderToken string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be positive, got %s", ttl)
	}

	path := m.lockPath(resourceKey)
	current, err := m.readRecord(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	now := m.now()
	if current.HolderToken != holderToken || current.Expired(now) {
		return false, nil
	}

	current.ExpiresAt = now.Add(ttl)
	if err := m.replaceRecord(path, current); err != nil {
		return false, err
	}
	winner, err := m.readRecord(path)
	if err != nil {
		return false, err
	}
	return winner.HolderToken == holderToken, nil
}

// Release removes the lock only if holderToken is the current holder. It is a
// no-op otherwise, so a timed-out holder cannot release a lock that has since
// been acquired by someone else.
func (m *Manager) Release(resourceKey, holderToken string) error {
	path := m.lockPath(resourceKey)
	current, err := m.readRecord(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || isCorrupt(err) {
			return nil
		}
		return err
	}

	if current.HolderToken != holderToken {
		return nil
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// Holder returns the token of the current live holder for resourceKey, or an
// empty string if the lock is free or expired. Callers use this to re-validate
// ownership immediately before privileged actions.
func (m *Manager) Holder(resourceKey string) (string, error) {
	current, err := m.readRecord(m.lockPath(resourceKey))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || isCorrupt(err) {
			return "", nil
		}
		return "", err
	}
	if current.Expired(m.now()) {
		return "", nil
	}
	return current.HolderToken, nil
}

// lockPath maps a resource key to its lock file. Keys may contain characters
// that are not filesystem safe (e.g. "page:<id>"), so they are sanitized.
func (m *Manager) lockPath(resourceKey string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, resourceKey)
	return filepath.Join(m.dir, sanitized+".lock")
}

func (m *Manager) readRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, &corruptError{path: path, err: err}
	}
	return rec, nil
}

// replaceRecord writes rec to a temp file and renames it over path. The
// rename is atomic, so readers always see either the old or the new record.
func (m *Manager) replaceRecord(path string, rec Record) error {
	tmp, err := os.CreateTemp(m.dir, filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp lock file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := writeRecord(tmp, rec); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace lock file: %w", err)
	}
	return nil
}

func writeRecord(file *os.File, rec Record) error {
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(rec); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode lock record: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close lock file: %w", err)
	}
	return nil
}

// corruptError marks an unreadable lock file, which Acquire treats the same
// as an abandoned lock.
type corruptError struct {
	path string
	err  error
}

func (e *corruptError) Error() string {
	return fmt.Sprintf("corrupt lock file %s: %v", e.path, e.err)
}

func (e *corruptError) Unwrap() error { return e.err }

func isCorrupt(err error) bool {
	var ce *corruptError
	return errors.As(err, &ce)
}
