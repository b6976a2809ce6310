package publish

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pkirklewski/bgNews/pkg/feed"
	"github.com/pkirklewski/bgNews/pkg/lock"
	"github.com/pkirklewski/bgNews/pkg/logging"
	"github.com/pkirklewski/bgNews/pkg/session"
	"github.com/pkirklewski/bgNews/pkg/state"
)

// Executor is the slice of the session controller the pipeline drives.
// Separated out so pipeline tests can run against a fake session.
type Executor interface {
	Acquire(ctx context.Context, lockToken string) error
	Execute(ctx context.Context, action session.Action, timeout time.Duration) (session.Outcome, error)
	Capture(ctx context.Context, path string) error
	Release()
}

// Task pairs one discovered item with the action that publishes or shares it.
// An empty Target means the action is the item's primary publish; a non-empty
// Target is a share to that named destination (a group), which requires the
// primary publish to already be recorded.
type Task struct {
	Item   feed.Item
	Target string
	Action session.Action
}

// Summary counts how a run ended for each task.
type Summary struct {
	Published int
	Shared    int
	Skipped   int
	Deferred  int
	Failed    int
}

func (s Summary) String() string {
	return fmt.Sprintf("published=%d shared=%d skipped=%d deferred=%d failed=%d",
		s.Published, s.Shared, s.Skipped, s.Deferred, s.Failed)
}

// Options configures a Pipeline. Store, Locks and Exec are required.
type Options struct {
	Store state.Store
	Locks *lock.Manager
	Exec  Executor

	// LockTTL bounds how long the browser-session lock survives a crash.
	LockTTL time.Duration

	// ActionTimeout bounds each individual automation action.
	ActionTimeout time.Duration

	// Pacing is the delay inserted between consecutive items.
	Pacing time.Duration

	// DebugDir receives diagnostic screenshots of failed actions. Empty
	// disables screenshots.
	DebugDir string

	// DryRun runs the dedup checks and lock protocol but performs no
	// automation. Actionable items are reported as deferred.
	DryRun bool

	Logger *logging.Logger
}

// Pipeline runs a batch of publish/share tasks under the cross-process
// browser-session lock, committing each item to the state store only after
// its action confirms success.
type Pipeline struct {
	opts Options
}

func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Store == nil || opts.Locks == nil {
		return nil, fmt.Errorf("pipeline requires a store and a lock manager")
	}
	if opts.Exec == nil && !opts.DryRun {
		return nil, fmt.Errorf("pipeline requires an executor")
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 90 * time.Second
	}
	return &Pipeline{opts: opts}, nil
}

// Discover builds the task batch for a run. It executes after the session
// lock (and, outside dry runs, the session itself) is held, so it may drive
// the executor to fetch feeds. In a dry run exec is nil: discovery that
// needs the browser returns no tasks.
type Discover func(ctx context.Context, exec Executor) ([]Task, error)

// Run processes tasks in order. The browser-session lock is acquired once for
// the whole batch and renewed between items; if another process holds it the
// entire batch is deferred to the next scheduled run. A lost session defers
// the remaining items rather than failing them: nothing was attempted, so
// nothing is burned.
func (p *Pipeline) Run(ctx context.Context, tasks []Task) (Summary, error) {
	if len(tasks) == 0 {
		return Summary{}, nil
	}
	return p.run(ctx, func(context.Context, Executor) ([]Task, error) {
		return tasks, nil
	}, len(tasks))
}

// RunDiscovered acquires the lock and session first, then asks discover for
// the batch. Used by jobs whose candidate discovery itself needs the browser.
// When the lock is contended the whole undiscovered run counts as one
// deferral.
func (p *Pipeline) RunDiscovered(ctx context.Context, discover Discover) (Summary, error) {
	return p.run(ctx, discover, 1)
}

func (p *Pipeline) run(ctx context.Context, discover Discover, knownCount int) (Summary, error) {
	var summary Summary

	token := uuid.NewString()
	ok, err := p.opts.Locks.Acquire(session.ResourceKey, p.opts.LockTTL, token)
	if err != nil {
		return summary, fmt.Errorf("acquiring session lock: %w", err)
	}
	if !ok {
		holder, _ := p.opts.Locks.Holder(session.ResourceKey)
		p.logf("session lock held by %q, deferring the run", holder)
		summary.Deferred = knownCount
		return summary, nil
	}
	defer func() {
		if err := p.opts.Locks.Release(session.ResourceKey, token); err != nil {
			p.logf("releasing session lock: %v", err)
		}
	}()

	if p.opts.DryRun {
		tasks, err := discover(ctx, nil)
		if err != nil {
			summary.Deferred = knownCount
			return summary, fmt.Errorf("discovering candidates: %w", err)
		}
		return p.runDry(tasks)
	}

	if err := p.opts.Exec.Acquire(ctx, token); err != nil {
		summary.Deferred = knownCount
		return summary, fmt.Errorf("acquiring session: %w", err)
	}
	defer p.opts.Exec.Release()

	tasks, err := discover(ctx, p.opts.Exec)
	if err != nil {
		// Nothing was attempted; the run retries on the next schedule.
		summary.Deferred = knownCount
		return summary, fmt.Errorf("discovering candidates: %w", err)
	}

	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			summary.Deferred += len(tasks) - i
			return summary, err
		}
		if i > 0 {
			if _, err := p.opts.Locks.Renew(session.ResourceKey, token, p.opts.LockTTL); err != nil {
				p.logf("renewing session lock: %v", err)
			}
			if err := p.pace(ctx); err != nil {
				summary.Deferred += len(tasks) - i
				return summary, err
			}
		}

		done, err := p.alreadyDone(task)
		if err != nil {
			summary.Deferred += len(tasks) - i
			return summary, err
		}
		if done {
			p.logf("skip %q: already %s", task.Item.Identity, doneWord(task))
			summary.Skipped++
			continue
		}

		outcome, err := p.opts.Exec.Execute(ctx, task.Action, p.opts.ActionTimeout)
		switch {
		case errors.Is(err, session.ErrSessionLost), errors.Is(err, session.ErrNotHolder):
			if rerr := p.opts.Store.RecordFailure(task.Item.Identity, task.Item.SourceKind, err.Error()); rerr != nil {
				p.logf("recording failure for %q: %v", task.Item.Identity, rerr)
			}
			summary.Deferred += len(tasks) - i
			p.logf("stopping after %q: %v", task.Item.Identity, err)
			return summary, err
		case err != nil:
			summary.Deferred += len(tasks) - i
			return summary, err
		}

		switch outcome.Kind {
		case session.OutcomeSuccess:
			if err := p.commit(task); err != nil {
				summary.Deferred += len(tasks) - i
				return summary, err
			}
			if task.Target == "" {
				summary.Published++
			} else {
				summary.Shared++
			}
			p.logf("%s %q ok", task.Action.Name(), task.Item.Identity)
		case session.OutcomeNotFound:
			p.diagnose(ctx, task)
			if err := p.opts.Store.RecordFailure(task.Item.Identity, task.Item.SourceKind, outcome.Detail); err != nil {
				summary.Deferred += len(tasks) - i
				return summary, err
			}
			summary.Failed++
			p.logf("%s %q failed: %s", task.Action.Name(), task.Item.Identity, outcome.Detail)
		default:
			summary.Deferred += len(tasks) - i
			return summary, fmt.Errorf("%w after %q", session.ErrSessionLost, task.Action.Name())
		}
	}

	return summary, nil
}

func (p *Pipeline) runDry(tasks []Task) (Summary, error) {
	var summary Summary
	for i, task := range tasks {
		done, err := p.alreadyDone(task)
		if err != nil {
			summary.Deferred += len(tasks) - i
			return summary, err
		}
		if done {
			summary.Skipped++
			continue
		}
		p.logf("dry run: would %s %q", task.Action.Name(), task.Item.Identity)
		summary.Deferred++
	}
	return summary, nil
}

// alreadyDone re-checks the store immediately before acting. The check runs
// per item, not once up front, so a retried action after a reconnect still
// sees any commit the first attempt made.
func (p *Pipeline) alreadyDone(task Task) (bool, error) {
	if task.Target == "" {
		return p.opts.Store.Exists(task.Item.Identity)
	}
	return p.opts.Store.WasShared(task.Item.Identity, task.Target)
}

func (p *Pipeline) commit(task Task) error {
	if task.Target == "" {
		return p.opts.Store.RecordPublished(task.Item.Identity, task.Item.SourceKind)
	}
	return p.opts.Store.RecordShared(task.Item.Identity, task.Target)
}

func (p *Pipeline) diagnose(ctx context.Context, task Task) {
	if p.opts.DebugDir == "" {
		return
	}
	name := fmt.Sprintf("%s-%d.png", sanitizeName(task.Action.Name()), time.Now().Unix())
	path := filepath.Join(p.opts.DebugDir, name)
	if err := p.opts.Exec.Capture(ctx, path); err != nil {
		p.logf("screenshot for %q: %v", task.Item.Identity, err)
		return
	}
	p.logf("saved screenshot %s", path)
}

func (p *Pipeline) pace(ctx context.Context) error {
	if p.opts.Pacing <= 0 {
		return nil
	}
	return sleepCtx(ctx, p.opts.Pacing)
}

func (p *Pipeline) logf(format string, v ...interface{}) {
	if p.opts.Logger != nil {
		p.opts.Logger.Infof(format, v...)
	}
}

func doneWord(task Task) string {
	if task.Target == "" {
		return "published"
	}
	return fmt.Sprintf("shared to %q", task.Target)
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' {
			return r
		}
		return '_'
	}, s)
}
