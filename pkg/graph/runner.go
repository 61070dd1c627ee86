package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/multierr"
)

// Status describes a task progress event
type Status string

const (
	StatusStarted  Status = "started"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

// ProgressFunc is called when task execution status changes. It may be
// called from several goroutines at once.
type ProgressFunc func(name string, status Status, elapsed time.Duration, err error)

// Runner executes tasks of a sealed registry
type Runner struct {
	registry *Registry
	progress ProgressFunc
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithProgress installs a progress callback
func WithProgress(fn ProgressFunc) RunnerOption {
	return func(r *Runner) { r.progress = fn }
}

// NewRunner seals the registry and returns a runner for it
func NewRunner(registry *Registry, opts ...RunnerOption) (*Runner, error) {
	if err := registry.Seal(); err != nil {
		return nil, err
	}
	r := &Runner{registry: registry}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Registry returns the registry the runner executes
func (r *Runner) Registry() *Registry {
	return r.registry
}

// RunTask looks up a task, runs its dependencies and then the task itself
func (r *Runner) RunTask(ctx context.Context, name string) error {
	task, err := r.registry.Get(name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &TaskError{Task: name, Err: err}
	}

	logger := zerolog.Ctx(ctx).With().Str("task", name).Logger()
	ctx = logger.WithContext(ctx)

	start := time.Now()
	r.notify(name, StatusStarted, 0, nil)
	logger.Debug().Msg("Task started")

	err = r.execute(ctx, task)

	elapsed := time.Since(start)
	if err != nil {
		r.notify(name, StatusFailed, elapsed, err)
		logger.Debug().Err(err).Dur("elapsed", elapsed).Msg("Task failed")
		return &TaskError{Task: name, Err: err}
	}
	r.notify(name, StatusFinished, elapsed, nil)
	logger.Debug().Dur("elapsed", elapsed).Msg("Task finished")
	return nil
}

func (r *Runner) execute(ctx context.Context, task *Task) error {
	// Dependencies complete before the task itself may start
	if len(task.Deps) > 0 {
		if err := r.runParallel(ctx, Refs(task.Deps...)); err != nil {
			return err
		}
	}

	if task.flow != nil {
		if err := task.flow.run(ctx, r); err != nil {
			return err
		}
	}

	if task.Action == nil {
		return nil
	}
	var err error
	if recovered := panics.Try(func() { err = task.Action(ctx) }); recovered != nil {
		return recovered.AsError()
	}
	return err
}

// RunSeries runs the named tasks strictly one at a time in order
func (r *Runner) RunSeries(ctx context.Context, names ...string) error {
	return r.runSeries(ctx, Refs(names...))
}

// RunParallel runs the named tasks concurrently and waits for all of them
func (r *Runner) RunParallel(ctx context.Context, names ...string) error {
	return r.runParallel(ctx, Refs(names...))
}

// Run executes an arbitrary flow
func (r *Runner) Run(ctx context.Context, flow Flow) error {
	return flow.run(ctx, r)
}

func (r *Runner) runSeries(ctx context.Context, flows []Flow) error {
	for _, flow := range flows {
		// Check if context is cancelled
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("series interrupted before %s: %w", flow, err)
		}
		if err := flow.run(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runParallel(ctx context.Context, flows []Flow) error {
	if len(flows) == 1 {
		return flows[0].run(ctx, r)
	}

	var (
		mu  sync.Mutex
		err error
		wg  conc.WaitGroup
	)
	for _, flow := range flows {
		flow := flow
		wg.Go(func() {
			if ferr := flow.run(ctx, r); ferr != nil {
				mu.Lock()
				err = multierr.Append(err, ferr)
				mu.Unlock()
			}
		})
	}
	if recovered := wg.WaitAndRecover(); recovered != nil {
		err = multierr.Append(err, recovered.AsError())
	}
	return err
}

func (r *Runner) notify(name string, status Status, elapsed time.Duration, err error) {
	if r.progress != nil {
		r.progress(name, status, elapsed, err)
	}
}
