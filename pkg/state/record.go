package state

import (
	"errors"
	"time"
)

// SourceKind identifies where a published item originated.
type SourceKind string

const (
	// SourceScrapedArticle is an article scraped from a news site
	SourceScrapedArticle SourceKind = "scraped-article"

	// SourceMonitoredPagePost is a post discovered on a monitored page's feed
	SourceMonitoredPagePost SourceKind = "monitored-page-post"

	// SourceWeatherMap is a generated weather map post, identified by date+slot
	SourceWeatherMap SourceKind = "weather-map"
)

// PublicationRecord is the persisted outcome for one item. At most one record
// exists per identity. PublishedAt is set at most once and never cleared;
// SharedTo only grows.
type PublicationRecord struct {
	Identity     string     `json:"identity"`
	SourceKind   SourceKind `json:"source_kind"`
	PublishedAt  *time.Time `json:"published_at"`
	SharedTo     []string   `json:"shared_to"`
	AttemptCount int        `json:"attempt_count"`
	LastError    string     `json:"last_error,omitempty"`
}

// Published reports whether the record's publish was confirmed.
func (r PublicationRecord) Published() bool {
	return r.PublishedAt != nil
}

// SharedToTarget reports whether target already received a share.
func (r PublicationRecord) SharedToTarget(target string) bool {
	for _, t := range r.SharedTo {
		if t == target {
			return true
		}
	}
	return false
}

var (
	// ErrStorageUnavailable wraps local persistence I/O failures. Fatal for
	// the current attempt; the next scheduled run retries.
	ErrStorageUnavailable = errors.New("state storage unavailable")

	// ErrNotPublished is returned when a share is recorded for an identity
	// that has no published record yet.
	ErrNotPublished = errors.New("item has not been published")
)

// Store is the de-duplication contract the publish pipeline depends on.
type Store interface {
	// Exists reports whether a record with a confirmed publish exists for identity.
	Exists(identity string) (bool, error)

	// RecordPublished marks identity as published. Idempotent: a second call
	// for the same identity leaves the record unchanged.
	RecordPublished(identity string, kind SourceKind) error

	// RecordShared adds target to the identity's shared set. Idempotent.
	// Returns ErrNotPublished if the identity has no published record.
	RecordShared(identity, target string) error

	// WasShared reports whether target already received a share of identity.
	WasShared(identity, target string) (bool, error)

	// RecordFailure bumps the attempt counter and records the last error for
	// observability. It never marks the item published.
	RecordFailure(identity string, kind SourceKind, message string) error
}
