package main

import (
	"context"
	"fmt"

	"github.com/pkirklewski/bgNews/pkg/browser"
	"github.com/pkirklewski/bgNews/pkg/publish"
	"github.com/pkirklewski/bgNews/pkg/session"
)

// fetchPageAction navigates to a URL and captures the rendered HTML. Jobs
// run it through the session controller so feed discovery gets the same
// reconnect handling as publishing.
type fetchPageAction struct {
	url  string
	html *string
}

func (a *fetchPageAction) Name() string { return "fetch-page" }

func (a *fetchPageAction) Run(ctx context.Context, b browser.Backend) (session.Outcome, error) {
	if err := b.Navigate(ctx, a.url); err != nil {
		return session.Outcome{}, err
	}

	state, err := b.ReadState(ctx)
	if err != nil {
		return session.Outcome{}, err
	}
	if state.LoginWall {
		return session.Outcome{
			Kind:   session.OutcomeNotFound,
			Detail: "login page detected, session requires re-authentication",
		}, nil
	}

	html, err := b.Content(ctx)
	if err != nil {
		return session.Outcome{}, err
	}
	*a.html = html
	return session.Outcome{Kind: session.OutcomeSuccess}, nil
}

// fetchPage drives one fetchPageAction and returns the page HTML. A login
// wall or missing page comes back as an error naming the outcome.
func (a *app) fetchPage(ctx context.Context, exec publish.Executor, url string) (string, error) {
	var html string
	outcome, err := exec.Execute(ctx, &fetchPageAction{url: url, html: &html}, a.cfg.Backend.ActionTimeout.Std())
	if err != nil {
		return "", err
	}
	if outcome.Kind != session.OutcomeSuccess {
		return "", fmt.Errorf("fetching %s: %s", url, outcome.Detail)
	}
	return html, nil
}
