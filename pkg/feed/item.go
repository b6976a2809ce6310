package feed

import (
	"time"

	"github.com/pkirklewski/bgNews/pkg/state"
)

// Item is a unit of candidate content considered for publishing or sharing:
// a scraped article, a monitored page's post, or a generated weather map.
type Item struct {
	// SourceKind classifies where the item came from
	SourceKind state.SourceKind

	// Identity is the stable de-duplication key: a canonical article URL, a
	// normalized post permalink, or date+slot for weather maps
	Identity string

	// URL is the raw address of the content, when it has one
	URL string

	// Title is the article headline or caption, when known
	Title string

	// Snippet is a short text preview used for logging
	Snippet string

	// SourceName names the feed or site the item was discovered on
	SourceName string

	// AuthorIdentity is the posting profile's identity extracted from the
	// permalink, used by the own-post filter. Empty when unknown.
	AuthorIdentity string

	// DiscoveredAt is when the item was first seen
	DiscoveredAt time.Time
}
