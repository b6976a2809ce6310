package feed

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/pkirklewski/bgNews/pkg/state"
)

// recentPattern matches the Polish relative timestamps local news portals
// render for fresh articles ("3 godziny temu", "Teraz").
var recentPattern = regexp.MustCompile(`(?i)(godzin|minut|sekund|teraz)`)

// timeLinePattern picks out the listing's timestamp line, relative
// ("3 godziny temu", "Teraz", "Wczoraj") or absolute ("12.03.2026").
var timeLinePattern = regexp.MustCompile(`(?i)^(teraz|wczoraj|\d+\s*(sekund|minut|godzin)|\d{1,2}\.\d{1,2}\.\d{4})`)

// ParseArticles extracts article items from a news portal category page. The
// layout is the `article.category-item` listing used by the dlawas.info
// family of local portals. The article's canonical URL is the identity.
func ParseArticles(html, sourceName, sourceURL string) ([]Item, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(sourceURL)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var items []Item

	doc.Find("article.category-item").Each(func(_ int, s *goquery.Selection) {
		link := s.Find("h2.categoryItemTitle a").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}

		identity := resolveHref(base, href)
		if identity == "" || seen[identity] {
			return
		}

		title := strings.TrimSpace(link.Text())
		if len(title) < 10 {
			return
		}

		// Stale listings linger on category pages for weeks; only
		// today's articles become candidates.
		if !IsRecent(listingTime(s)) {
			return
		}

		items = append(items, Item{
			SourceKind:   state.SourceScrapedArticle,
			Identity:     identity,
			URL:          identity,
			Title:        title,
			Snippet:      articleSnippet(s),
			SourceName:   sourceName,
			DiscoveredAt: time.Now(),
		})
		seen[identity] = true
	})

	return items, nil
}

// IsRecent reports whether a portal's relative timestamp text indicates the
// article is from today. Absolute dates ("12.03.2026") are treated as old.
func IsRecent(timeText string) bool {
	return recentPattern.MatchString(timeText)
}

// listingTime extracts the listing entry's timestamp text. An entry without
// one yields "", which IsRecent treats as old.
func listingTime(s *goquery.Selection) string {
	var found string
	s.Find("p, span").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		text := strings.TrimSpace(el.Text())
		if timeLinePattern.MatchString(text) {
			found = text
			return false
		}
		return true
	})
	return found
}

// articleSnippet picks the first real paragraph of the listing entry,
// skipping timestamp lines.
func articleSnippet(s *goquery.Selection) string {
	var snippet string
	s.Find("p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
		text := strings.TrimSpace(p.Text())
		if len(text) <= 30 || recentPattern.MatchString(text[:min(len(text), 20)]) {
			return true
		}
		snippet = text
		return false
	})
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return snippet
}

func resolveHref(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.RawQuery = ""
	abs.Fragment = ""
	return strings.TrimSuffix(abs.String(), "/")
}
