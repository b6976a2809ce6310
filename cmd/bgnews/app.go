package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkirklewski/bgNews/pkg/browser"
	"github.com/pkirklewski/bgNews/pkg/config"
	"github.com/pkirklewski/bgNews/pkg/lock"
	"github.com/pkirklewski/bgNews/pkg/logging"
	"github.com/pkirklewski/bgNews/pkg/publish"
	"github.com/pkirklewski/bgNews/pkg/session"
	"github.com/pkirklewski/bgNews/pkg/state"
)

// app holds the pieces every job shares: configuration, the job logger and
// the cross-process lock manager.
type app struct {
	cfg   config.Config
	log   *logging.Logger
	locks *lock.Manager
}

func newApp(job string, cfg config.Config) (*app, func(), error) {
	for _, dir := range []string{cfg.Dirs.Data, cfg.Dirs.Locks, cfg.Dirs.Logs, cfg.Dirs.Debug} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	log, err := logging.New(job, cfg.Dirs.Logs)
	if err != nil {
		// The logger already fell back to stderr; keep going.
		fmt.Fprintf(os.Stderr, "file logging unavailable: %v\n", err)
	}

	locks, err := lock.NewManager(cfg.Dirs.Locks)
	if err != nil {
		log.Close()
		return nil, nil, err
	}

	a := &app{cfg: cfg, log: log, locks: locks}
	return a, func() { log.Close() }, nil
}

// pipeline wires a publish pipeline for one job. Outside dry runs it also
// connects the browser backend and builds the session controller around it.
func (a *app) pipeline(stateFile string, pacing time.Duration) (*publish.Pipeline, state.Store, error) {
	store, err := state.NewFileStore(filepath.Join(a.cfg.Dirs.Data, stateFile))
	if err != nil {
		return nil, nil, err
	}

	var exec publish.Executor
	if !a.cfg.DryRun {
		backend, err := browser.Connect(browser.Options{
			Endpoint:       a.cfg.Backend.Endpoint,
			ConnectTimeout: a.cfg.Backend.ConnectTimeout.Std(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to browser backend: %w", err)
		}
		exec = session.NewController(session.Options{
			Locks:             a.locks,
			Backend:           backend,
			ReconnectAttempts: a.cfg.Backend.ReconnectAttempts,
			Logger:            a.log,
		})
	}

	pipe, err := publish.NewPipeline(publish.Options{
		Store:         store,
		Locks:         a.locks,
		Exec:          exec,
		LockTTL:       a.cfg.Lock.TTL.Std(),
		ActionTimeout: a.cfg.Backend.ActionTimeout.Std(),
		Pacing:        pacing,
		DebugDir:      a.cfg.Dirs.Debug,
		DryRun:        a.cfg.DryRun,
		Logger:        a.log,
	})
	if err != nil {
		return nil, nil, err
	}
	return pipe, store, nil
}
