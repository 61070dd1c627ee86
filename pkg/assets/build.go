// Package assets defines the build: every task of the command line, wired
// to pipelines, the watch controller and the development server.
package assets

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"assetflow/pkg/config"
	"assetflow/pkg/devserver"
	"assetflow/pkg/faults"
	"assetflow/pkg/graph"
	"assetflow/pkg/imageopt"
	"assetflow/pkg/notify"
	"assetflow/pkg/pipeline"
)

// DefaultTask runs when no task is named
const DefaultTask = "default"

// Option configures a Build
type Option func(*Build)

// WithProgress reports task progress
func WithProgress(fn graph.ProgressFunc) Option {
	return func(b *Build) { b.progress = fn }
}

// WithOutput sets where failures are printed, stderr by default
func WithOutput(w io.Writer) Option {
	return func(b *Build) { b.out = w }
}

// Build is the task graph of one project
type Build struct {
	cfg    *config.Config
	layout *config.Layout
	tools  Tools
	cache  *imageopt.Cache

	out      io.Writer
	progress graph.ProgressFunc
	console  *notify.Console

	pipelines map[string]*pipeline.Pipeline
	registry  *graph.Registry
	runner    *graph.Runner

	// server is set while sync runs
	server atomic.Pointer[devserver.Server]
}

// New registers every task and seals the graph
func New(cfg *config.Config, layout *config.Layout, tools Tools, opts ...Option) (*Build, error) {
	b := &Build{
		cfg:       cfg,
		layout:    layout,
		tools:     tools,
		cache:     imageopt.NewCache(filepath.Join(cfg.CacheDir, "images")),
		out:       os.Stderr,
		pipelines: make(map[string]*pipeline.Pipeline),
		registry:  graph.NewRegistry(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.console = notify.NewConsole(b.out)

	if err := b.register(); err != nil {
		return nil, err
	}

	var runnerOpts []graph.RunnerOption
	if b.progress != nil {
		runnerOpts = append(runnerOpts, graph.WithProgress(b.progress))
	}
	runner, err := graph.NewRunner(b.registry, runnerOpts...)
	if err != nil {
		return nil, err
	}
	b.runner = runner
	return b, nil
}

// Run runs the named tasks in parallel, or the default task. Every name is
// looked up before anything starts.
func (b *Build) Run(ctx context.Context, names ...string) error {
	for _, name := range names {
		if _, err := b.registry.Get(name); err != nil {
			return err
		}
	}
	switch len(names) {
	case 0:
		return b.runner.RunTask(ctx, DefaultTask)
	case 1:
		return b.runner.RunTask(ctx, names[0])
	default:
		if err := b.checkGroup(strings.Join(names, ", "), graph.Refs(names...)); err != nil {
			return err
		}
		return b.runner.RunParallel(ctx, names...)
	}
}

// Registry exposes the sealed task graph
func (b *Build) Registry() *graph.Registry {
	return b.registry
}

// Plan prints every task in execution order with its description and edges
func (b *Build) Plan(w io.Writer) error {
	tasks, err := b.registry.TopologicalSort()
	if err != nil {
		return err
	}
	for _, task := range tasks {
		fmt.Fprintf(w, "%-14s %s\n", task.Name, task.Description)
		if flow := task.Flow(); flow != nil {
			fmt.Fprintf(w, "%-14s   runs %s\n", "", flow)
		}
		if len(task.Deps) > 0 {
			fmt.Fprintf(w, "%-14s   after %s\n", "", strings.Join(task.Deps, ", "))
		}
	}
	return nil
}

// Close stops external collaborators
func (b *Build) Close() error {
	return b.tools.Close()
}

// Notify implements pipeline.Notifier. Failures go to the console and, while
// sync runs, to connected browsers.
func (b *Build) Notify(title, message string) {
	targets := notify.Multi{b.console}
	if srv := b.server.Load(); srv != nil {
		targets = append(targets, srv)
	}
	targets.Notify(title, message)
}

// Reload implements pipeline.Listener
func (b *Build) Reload(paths []string) {
	if srv := b.server.Load(); srv != nil {
		srv.Reload(paths)
	}
}

func (b *Build) logger(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

// checkDestinations rejects pipelines writing to the same directory from
// branches that run at the same time: the branches of every parallel
// composition and the dependencies of every task
func (b *Build) checkDestinations() error {
	for _, name := range b.registry.Names() {
		task, err := b.registry.Get(name)
		if err != nil {
			return err
		}
		var groups [][]graph.Flow
		if flow := task.Flow(); flow != nil {
			groups = graph.Concurrent(flow)
		}
		if len(task.Deps) > 1 {
			groups = append(groups, graph.Refs(task.Deps...))
		}
		for _, group := range groups {
			if err := b.checkGroup(name, group); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkGroup rejects two pipelines in different branches of group that
// share a destination
func (b *Build) checkGroup(name string, group []graph.Flow) error {
	type claim struct {
		task   string
		branch int
	}
	owner := make(map[string]claim)
	for i, branch := range group {
		for _, reached := range b.registry.Closure(branch.Refs()...) {
			p, ok := b.pipelines[reached]
			if !ok {
				continue
			}
			dest := filepath.Clean(p.Dest)
			other, taken := owner[dest]
			if !taken {
				owner[dest] = claim{task: reached, branch: i}
				continue
			}
			if other.branch != i && other.task != reached {
				return faults.Configf("%s: tasks %q and %q both write to %s", name, other.task, reached, dest)
			}
		}
	}
	return nil
}

// removeDir deletes an output directory, refusing the project root and
// anything containing it
func (b *Build) removeDir(dir string) error {
	dir = filepath.Clean(dir)
	rel, err := filepath.Rel(dir, b.cfg.Root)
	if err == nil && (rel == "." || !strings.HasPrefix(rel, "..")) {
		return faults.Configf("refusing to delete %s: it contains the project", dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return faults.IO("remove", dir, err)
	}
	return nil
}
