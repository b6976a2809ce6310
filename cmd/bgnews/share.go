package main

import (
	"context"

	"github.com/pkirklewski/bgNews/pkg/feed"
	"github.com/pkirklewski/bgNews/pkg/publish"
)

// runShare re-shares the page's own fresh posts: each monitored page feed is
// parsed, posts authored by the configured page identity are kept, and every
// kept post is shared to the page feed and then to each configured group.
func (a *app) runShare(ctx context.Context) error {
	pipe, _, err := a.pipeline(a.cfg.Share.StateFile, a.cfg.Share.Pacing.Std())
	if err != nil {
		return err
	}

	ownPosts := publish.NewOwnPostFilter(a.cfg.Page.Identity)

	summary, err := pipe.RunDiscovered(ctx, func(ctx context.Context, exec publish.Executor) ([]publish.Task, error) {
		if exec == nil {
			a.log.Infof("dry run: feed discovery needs the browser session, nothing to check")
			return nil, nil
		}

		var tasks []publish.Task
		for _, pageURL := range a.cfg.Share.MonitoredPages {
			html, err := a.fetchPage(ctx, exec, pageURL)
			if err != nil {
				a.log.Warnf("feed %s: %v", pageURL, err)
				continue
			}

			items, err := feed.ParsePagePosts(html, pageURL, pageURL)
			if err != nil {
				a.log.Warnf("parsing feed %s: %v", pageURL, err)
				continue
			}

			kept := 0
			for _, item := range items {
				if !ownPosts.Match(item) {
					a.log.Debugf("skip %s: not authored by the page", item.Identity)
					continue
				}
				if kept >= a.cfg.Share.MaxPosts {
					break
				}
				kept++

				tasks = append(tasks, publish.Task{
					Item:   item,
					Action: publish.SharePostAction{PostURL: item.URL},
				})
				for _, group := range a.cfg.Share.Groups {
					tasks = append(tasks, publish.Task{
						Item:   item,
						Target: group,
						Action: publish.ShareToGroupAction{
							PostURL:   item.URL,
							GroupName: group,
							Caption:   item.Title,
						},
					})
				}
			}
			a.log.Infof("feed %s: %d post(s) found, %d kept", pageURL, len(items), kept)
		}
		return tasks, nil
	})
	if err != nil {
		return err
	}

	a.log.Infof("share run done: %s", summary)
	return nil
}
