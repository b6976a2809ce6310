package publish

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/pkirklewski/bgNews/pkg/feed"
)

// KeywordFilter keeps items whose text matches at least one case-insensitive
// glob pattern. Patterns without glob metacharacters are treated as substring
// matches ("bogusz" behaves as "*bogusz*"), which is how the scraper's
// relevance filter has always worked.
type KeywordFilter struct {
	patterns []string
	globs    []glob.Glob
}

// NewKeywordFilter compiles the given patterns. An empty pattern list yields
// a filter that matches everything.
func NewKeywordFilter(patterns []string) (*KeywordFilter, error) {
	f := &KeywordFilter{patterns: patterns}
	for _, p := range patterns {
		lowered := strings.ToLower(p)
		if !strings.ContainsAny(lowered, "*?[{") {
			lowered = "*" + lowered + "*"
		}
		g, err := glob.Compile(lowered)
		if err != nil {
			return nil, fmt.Errorf("invalid keyword pattern %q: %w", p, err)
		}
		f.globs = append(f.globs, g)
	}
	return f, nil
}

// Match reports whether the item's title, snippet or URL matches any pattern.
func (f *KeywordFilter) Match(item feed.Item) bool {
	if len(f.globs) == 0 {
		return true
	}
	haystack := strings.ToLower(item.Title + " " + item.Snippet + " " + item.URL)
	for _, g := range f.globs {
		if g.Match(haystack) {
			return true
		}
	}
	return false
}

// OwnPostFilter keeps only items authored by the configured page identity.
// The match is an exact equality check on the identity extracted from the
// permalink, never a substring match: a miss is retried next run, while a
// false positive would re-share someone else's post.
type OwnPostFilter struct {
	identity string
}

// NewOwnPostFilter creates a filter for the given page identity.
func NewOwnPostFilter(identity string) *OwnPostFilter {
	return &OwnPostFilter{identity: identity}
}

// Match reports whether the item was authored by the configured page.
func (f *OwnPostFilter) Match(item feed.Item) bool {
	return f.identity != "" && item.AuthorIdentity == f.identity
}

// First returns the first matching item in feed order. Feeds list the newest
// post first, so this is the page's latest own post.
func (f *OwnPostFilter) First(items []feed.Item) (feed.Item, bool) {
	for _, item := range items {
		if f.Match(item) {
			return item, true
		}
	}
	return feed.Item{}, false
}
