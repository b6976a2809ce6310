package main

import (
	"context"
	"fmt"

	"github.com/pkirklewski/bgNews/pkg/feed"
	"github.com/pkirklewski/bgNews/pkg/publish"
)

// runScrape publishes fresh local news articles: each configured source page
// is rendered through the browser session, its article listing is parsed,
// keyword-matching articles become link posts on the page feed.
func (a *app) runScrape(ctx context.Context) error {
	pipe, _, err := a.pipeline(a.cfg.Scrape.StateFile, a.cfg.Scrape.Pacing.Std())
	if err != nil {
		return err
	}

	keywords, err := publish.NewKeywordFilter(a.cfg.Scrape.Keywords)
	if err != nil {
		return err
	}

	summary, err := pipe.RunDiscovered(ctx, func(ctx context.Context, exec publish.Executor) ([]publish.Task, error) {
		if exec == nil {
			a.log.Infof("dry run: source discovery needs the browser session, nothing to check")
			return nil, nil
		}

		var tasks []publish.Task
		for _, source := range a.cfg.Scrape.Sources {
			html, err := a.fetchPage(ctx, exec, source)
			if err != nil {
				a.log.Warnf("source %s: %v", source, err)
				continue
			}

			items, err := feed.ParseArticles(html, source, source)
			if err != nil {
				a.log.Warnf("parsing %s: %v", source, err)
				continue
			}

			kept := 0
			for _, item := range items {
				if !keywords.Match(item) {
					continue
				}
				if kept >= a.cfg.Scrape.MaxArticles {
					break
				}
				kept++

				tasks = append(tasks, publish.Task{
					Item: item,
					Action: publish.PublishLinkAction{
						PageURL:     a.cfg.Page.URL,
						Message:     articleMessage(item),
						PreviewWait: a.cfg.Scrape.PreviewWait.Std(),
					},
				})
			}
			a.log.Infof("source %s: %d article(s) found, %d kept", source, len(items), kept)
		}
		return tasks, nil
	})
	if err != nil {
		return err
	}

	a.log.Infof("scrape run done: %s", summary)
	return nil
}

// articleMessage is the post body: headline, then the link Facebook expands
// into a preview card.
func articleMessage(item feed.Item) string {
	return fmt.Sprintf("%s\n\n%s", item.Title, item.URL)
}
