package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkirklewski/bgNews/pkg/feed"
	"github.com/pkirklewski/bgNews/pkg/publish"
	"github.com/pkirklewski/bgNews/pkg/weather"
)

// runWeather publishes the temperature map and then shares the fresh map post
// to the configured groups. Current conditions for every district drive the
// caption; the map image itself is composed by the external map generator and
// read from the configured path.
func (a *app) runWeather(ctx context.Context) error {
	w := a.cfg.Weather
	if len(w.Districts) == 0 {
		return fmt.Errorf("weather.districts is empty")
	}
	if _, err := os.Stat(w.ImagePath); err != nil {
		return fmt.Errorf("weather map image %s: %w", w.ImagePath, err)
	}

	client := weather.NewClient(w.Timezone)
	conditions, err := client.FetchCurrent(ctx, w.Districts)
	if err != nil {
		return fmt.Errorf("fetching current conditions: %w", err)
	}

	now := time.Now()
	forecast, err := client.FetchForecast(ctx, w.Districts[w.CenterIndex], now)
	if err != nil {
		// The caption degrades to its generic forecast line.
		a.log.Warnf("fetching forecast: %v", err)
		forecast = nil
	}

	minTemp, maxTemp := weather.TempRange(conditions)
	caption := weather.Caption(weather.CaptionInput{
		TownName:    w.TownName,
		Locative:    w.Locative,
		MinTemp:     minTemp,
		MaxTemp:     maxTemp,
		CenterCode:  conditions[w.CenterIndex].Code,
		Forecast:    forecast,
		ProfileLink: w.ProfileLink,
		Hashtags:    w.Hashtags,
	})

	pipe, _, err := a.pipeline(w.StateFile, 0)
	if err != nil {
		return err
	}

	item := weather.ItemFor(now, w.TownName)
	task := publish.Task{
		Item: item,
		Action: publish.PublishPhotoAction{
			PageURL:   a.cfg.Page.URL,
			ImagePath: w.ImagePath,
			Caption:   caption,
		},
	}

	summary, err := pipe.Run(ctx, []publish.Task{task})
	if err != nil {
		return err
	}
	a.log.Infof("weather map published: %s", summary)

	// Only share once the map post exists: Published for a fresh run,
	// Skipped when an earlier run already published this slot.
	if len(w.Groups) == 0 || summary.Published+summary.Skipped == 0 {
		return nil
	}
	return a.shareWeatherMap(ctx, item)
}

// shareWeatherMap shares the freshest map post to each configured group. The
// post's permalink is not observed during publishing, so it is recovered from
// the page's own feed afterwards.
func (a *app) shareWeatherMap(ctx context.Context, item feed.Item) error {
	w := a.cfg.Weather
	pipe, _, err := a.pipeline(w.StateFile, w.Pacing.Std())
	if err != nil {
		return err
	}

	ownPosts := publish.NewOwnPostFilter(a.cfg.Page.Identity)

	summary, err := pipe.RunDiscovered(ctx, func(ctx context.Context, exec publish.Executor) ([]publish.Task, error) {
		if exec == nil {
			a.log.Infof("dry run: locating the map post needs the browser session, nothing to check")
			return nil, nil
		}

		html, err := a.fetchPage(ctx, exec, a.cfg.Page.URL)
		if err != nil {
			return nil, err
		}

		postURL, ok, err := latestOwnPost(html, a.cfg.Page.URL, ownPosts)
		if err != nil {
			return nil, err
		}
		if !ok {
			a.log.Warnf("no own post found on %s, skipping group shares", a.cfg.Page.URL)
			return nil, nil
		}
		return weatherShareTasks(item, postURL, w.Groups), nil
	})
	if err != nil {
		return err
	}

	a.log.Infof("weather share run done: %s", summary)
	return nil
}

// latestOwnPost returns the permalink of the page's newest own post in the
// rendered feed html. Feeds list the newest post first.
func latestOwnPost(html, pageURL string, own *publish.OwnPostFilter) (string, bool, error) {
	items, err := feed.ParsePagePosts(html, pageURL, pageURL)
	if err != nil {
		return "", false, err
	}
	item, ok := own.First(items)
	if !ok {
		return "", false, nil
	}
	return item.URL, true, nil
}

// weatherShareTasks emits one group-share task per group, each keyed by the
// weather item so every group receives the map at most once per slot.
func weatherShareTasks(item feed.Item, postURL string, groups []string) []publish.Task {
	tasks := make([]publish.Task, 0, len(groups))
	for _, group := range groups {
		tasks = append(tasks, publish.Task{
			Item:   item,
			Target: group,
			Action: publish.ShareToGroupAction{
				PostURL:   postURL,
				GroupName: group,
				Caption:   item.Title,
			},
		})
	}
	return tasks
}
