package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const storeVersion = "1.0"

// guardStaleAfter bounds how long a crashed writer can leave the sidecar
// mutation guard in place before another process breaks it.
const guardStaleAfter = 10 * time.Second

// guardWait bounds how long a mutation waits for a concurrent writer of the
// same record set before giving up as ErrStorageUnavailable.
const guardWait = 5 * time.Second

// FileStore persists PublicationRecords in a single versioned JSON file, one
// file per logical record set (e.g. sent articles, shared posts). Every
// mutation is a load-modify-save cycle: the save writes to a temp file and
// atomically renames it into place, so a crash mid-write leaves either the
// prior state or the fully written new state.
//
// Cross-process safety: mutations hold a short-lived sidecar guard file while
// the load-modify-save runs, so two jobs updating distinct identities in the
// same record set cannot lose each other's writes. Distinct record-set files
// are fully independent.
type FileStore struct {
	path string
	mu   sync.Mutex

	// now allows tests to control timestamps
	now func() time.Time
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a store backed by the JSON file at path. The parent
// directory is created if needed; the file itself is created on first write.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("%w: failed to create data directory: %v", ErrStorageUnavailable, err)
	}
	return &FileStore{path: path, now: time.Now}, nil
}

// Path returns the record set file path.
func (s *FileStore) Path() string {
	return s.path
}

// Exists reports whether identity has a record with a confirmed publish.
func (s *FileStore) Exists(identity string) (bool, error) {
	records, err := s.load()
	if err != nil {
		return false, err
	}
	rec, ok := records[identity]
	return ok && rec.Published(), nil
}

// WasShared reports whether identity has already been shared to target.
func (s *FileStore) WasShared(identity, target string) (bool, error) {
	records, err := s.load()
	if err != nil {
		return false, err
	}
	rec, ok := records[identity]
	return ok && rec.SharedToTarget(target), nil
}

// RecordPublished marks identity as published at the current time. If a
// record already has a confirmed publish it is returned unchanged, so double
// calls never double count.
func (s *FileStore) RecordPublished(identity string, kind SourceKind) error {
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	return s.mutate(func(records map[string]*PublicationRecord) error {
		rec, ok := records[identity]
		if !ok {
			rec = &PublicationRecord{Identity: identity, SourceKind: kind}
			records[identity] = rec
		}
		if rec.Published() {
			return nil
		}
		now := s.now().UTC()
		rec.PublishedAt = &now
		rec.LastError = ""
		return nil
	})
}

// RecordShared adds target to identity's shared set. The item must have been
// published first.
func (s *FileStore) RecordShared(identity, target string) error {
	if identity == "" || target == "" {
		return fmt.Errorf("identity and target are required")
	}
	return s.mutate(func(records map[string]*PublicationRecord) error {
		rec, ok := records[identity]
		if !ok || !rec.Published() {
			return fmt.Errorf("%w: %s", ErrNotPublished, identity)
		}
		if rec.SharedToTarget(target) {
			return nil
		}
		rec.SharedTo = append(rec.SharedTo, target)
		return nil
	})
}

// RecordFailure bumps the attempt counter and stores the failure message.
// A published record keeps its publish timestamp untouched.
func (s *FileStore) RecordFailure(identity string, kind SourceKind, message string) error {
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	return s.mutate(func(records map[string]*PublicationRecord) error {
		rec, ok := records[identity]
		if !ok {
			rec = &PublicationRecord{Identity: identity, SourceKind: kind}
			records[identity] = rec
		}
		rec.AttemptCount++
		rec.LastError = message
		return nil
	})
}

// storeFile is the on-disk shape of one record set.
type storeFile struct {
	Version string                        `json:"version"`
	Records map[string]*PublicationRecord `json:"records"`
}

func (s *FileStore) load() (map[string]*PublicationRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]*PublicationRecord), nil
		}
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrStorageUnavailable, s.path, err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s: %v", ErrStorageUnavailable, s.path, err)
	}
	if file.Records == nil {
		file.Records = make(map[string]*PublicationRecord)
	}
	return file.Records, nil
}

func (s *FileStore) save(records map[string]*PublicationRecord) error {
	tmpPath := s.path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", ErrStorageUnavailable, err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(storeFile{Version: storeVersion, Records: records}); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: failed to encode records: %v", ErrStorageUnavailable, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: failed to close temp file: %v", ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: failed to replace %s: %v", ErrStorageUnavailable, s.path, err)
	}
	return nil
}

// mutate runs fn over the loaded record map and saves the result, holding the
// in-process mutex and the cross-process guard for the duration.
func (s *FileStore) mutate(fn func(map[string]*PublicationRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	release, err := s.acquireGuard()
	if err != nil {
		return err
	}
	defer release()

	records, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(records); err != nil {
		return err
	}
	return s.save(records)
}

// acquireGuard claims the sidecar guard file for this record set, breaking a
// guard left behind by a crashed writer once it is old enough.
func (s *FileStore) acquireGuard() (release func(), err error) {
	guardPath := s.path + ".lock"
	deadline := s.now().Add(guardWait)

	for {
		file, err := os.OpenFile(guardPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			file.Close()
			return func() { os.Remove(guardPath) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: failed to create guard file: %v", ErrStorageUnavailable, err)
		}

		if info, statErr := os.Stat(guardPath); statErr == nil {
			if s.now().Sub(info.ModTime()) > guardStaleAfter {
				os.Remove(guardPath)
				continue
			}
		}

		if s.now().After(deadline) {
			return nil, fmt.Errorf("%w: record set %s is locked by another writer", ErrStorageUnavailable, s.path)
		}
		time.Sleep(25 * time.Millisecond)
	}
}
