package feed

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/pkirklewski/bgNews/pkg/state"
)

// permalinkPattern matches hrefs that point at an individual piece of
// content: posts, photos, videos, watch pages and reels.
var permalinkPattern = regexp.MustCompile(`/posts/|/photo/|/videos/|/watch/|/reel/|story_fbid|/permalink/`)

const snippetMaxLen = 200

// ParsePagePosts extracts post Items from a monitored page's rendered feed
// HTML. It is a pure function of the markup: each feed entry (div with an
// aria-posinset attribute) yields at most one Item keyed by its normalized
// permalink, with a short text snippet for logging.
func ParsePagePosts(html, sourceName, sourceURL string) ([]Item, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed html: %w", err)
	}

	now := time.Now()
	seen := make(map[string]bool)
	var items []Item

	doc.Find("div[aria-posinset]").Each(func(_ int, post *goquery.Selection) {
		var permalink string
		post.Find("a[href]").EachWithBreak(func(_ int, link *goquery.Selection) bool {
			href, _ := link.Attr("href")
			if permalinkPattern.MatchString(href) {
				permalink = absolutize(href)
				return false
			}
			return true
		})
		if permalink == "" {
			return
		}

		identity := NormalizePermalink(permalink)
		if seen[identity] {
			return
		}
		seen[identity] = true

		items = append(items, Item{
			SourceKind:     state.SourceMonitoredPagePost,
			Identity:       identity,
			URL:            permalink,
			Snippet:        extractSnippet(post),
			SourceName:     sourceName,
			AuthorIdentity: AuthorIdentity(permalink),
			DiscoveredAt:   now,
		})
	})

	return items, nil
}

// NormalizePermalink canonicalizes a post URL for de-duplication: the scheme
// and host are kept, query string and fragment are stripped, and a trailing
// slash is dropped. Two links to the same post with different tracking
// parameters normalize to the same identity.
func NormalizePermalink(raw string) string {
	if raw == "" {
		return raw
	}
	abs := absolutize(raw)
	if idx := strings.IndexAny(abs, "?#"); idx >= 0 {
		abs = abs[:idx]
	}
	return strings.TrimSuffix(abs, "/")
}

// AuthorIdentity extracts the posting profile's identity from a permalink:
// the numeric id for profile.php?id=N style links, otherwise the first path
// segment (the page's vanity name). Runs on the raw URL, before query
// stripping, so profile ids survive. Returns "" when no identity is present.
func AuthorIdentity(permalink string) string {
	parsed, err := url.Parse(absolutize(permalink))
	if err != nil {
		return ""
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return ""
	}

	if segments[0] == "profile.php" {
		return parsed.Query().Get("id")
	}
	// Permalink-style feeds carry the owner id in the query.
	if id := parsed.Query().Get("id"); id != "" && segments[0] == "permalink.php" {
		return id
	}
	return segments[0]
}

// absolutize turns a site-relative href into a full URL.
func absolutize(href string) string {
	if strings.HasPrefix(href, "/") {
		return "https://www.facebook.com" + href
	}
	return href
}

func extractSnippet(post *goquery.Selection) string {
	var parts []string
	post.Find("div[dir=auto]").EachWithBreak(func(i int, text *goquery.Selection) bool {
		if t := strings.TrimSpace(text.Text()); t != "" {
			parts = append(parts, t)
		}
		return len(parts) < 3
	})

	snippet := strings.Join(parts, " ")
	if len(snippet) > snippetMaxLen {
		snippet = snippet[:snippetMaxLen]
	}
	return snippet
}
