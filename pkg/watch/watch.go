// Package watch re-runs tasks when their source files change.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"assetflow/pkg/pathset"
)

// DefaultDebounce is how long a binding waits for events to settle
const DefaultDebounce = 100 * time.Millisecond

// Binding ties a set of patterns to the task that rebuilds them
type Binding struct {
	Name     string
	Patterns *pathset.Matcher
	Task     string
}

// Trigger runs a task by name
type Trigger func(ctx context.Context, task string) error

// ErrorHandler is told about failed reruns
type ErrorHandler func(binding Binding, err error)

// Option configures a Controller
type Option func(*Controller)

// WithDebounce overrides DefaultDebounce
func WithDebounce(d time.Duration) Option {
	return func(c *Controller) { c.debounce = d }
}

// WithErrorHandler installs a callback for failed reruns
func WithErrorHandler(fn ErrorHandler) Option {
	return func(c *Controller) { c.onError = fn }
}

// Controller watches the base directories of every binding and re-invokes
// bound tasks. Failures are reported and never stop the controller.
type Controller struct {
	bindings []Binding
	trigger  Trigger
	debounce time.Duration
	onError  ErrorHandler
	ready    chan struct{}
}

// New creates a controller
func New(trigger Trigger, bindings []Binding, opts ...Option) *Controller {
	c := &Controller{
		bindings: bindings,
		trigger:  trigger,
		debounce: DefaultDebounce,
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ready is closed once every directory is being watched
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// Run watches until ctx is cancelled
func (c *Controller) Run(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, b := range c.bindings {
		for _, base := range b.Patterns.Bases() {
			if err := c.watchBase(watcher, base); err != nil {
				return err
			}
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	kicks := make([]chan struct{}, len(c.bindings))
	var wg conc.WaitGroup
	for i, b := range c.bindings {
		i, b := i, b
		kicks[i] = make(chan struct{}, 1)
		wg.Go(func() { c.serve(ctx, b, kicks[i]) })
	}
	defer wg.Wait()
	defer cancel()

	logger.Info().Int("bindings", len(c.bindings)).Msg("Watching for changes")
	close(c.ready)

	dispatch := func(path string) {
		for i, b := range c.bindings {
			if b.Patterns.Match(path) {
				select {
				case kicks[i] <- struct{}{}:
				default:
				}
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Trace().Str("path", event.Name).Str("op", event.Op.String()).Msg("File event")

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					// Files may land in a new directory before it is watched
					if err := addRecursive(watcher, event.Name, dispatch); err != nil {
						logger.Warn().Err(err).Str("dir", event.Name).Msg("Failed to watch directory")
					}
					continue
				}
			}
			dispatch(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}

// watchBase watches base recursively. A missing base is watched through its
// nearest existing ancestor so that it is picked up once created.
func (c *Controller) watchBase(watcher *fsnotify.Watcher, base string) error {
	dir := base
	for {
		_, err := os.Stat(dir)
		if err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
	}
	if dir != base {
		return watcher.Add(dir)
	}
	return addRecursive(watcher, dir, nil)
}

func addRecursive(watcher *fsnotify.Watcher, root string, onFile func(string)) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return watcher.Add(p)
		}
		if onFile != nil {
			onFile(p)
		}
		return nil
	})
}

// serve runs one binding. Events arriving during a run coalesce into a
// single rerun.
func (c *Controller) serve(ctx context.Context, b Binding, kick <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-kick:
		}

		if !c.settle(ctx, kick) {
			return
		}

		runLogger := zerolog.Ctx(ctx).With().
			Str("run_id", uuid.NewString()).
			Str("binding", b.Name).
			Logger()
		runCtx := runLogger.WithContext(ctx)

		runLogger.Info().Str("task", b.Task).Msg("Change detected")
		if err := c.trigger(runCtx, b.Task); err != nil {
			if ctx.Err() != nil {
				return
			}
			runLogger.Error().Err(err).Str("task", b.Task).Msg("Rerun failed")
			if c.onError != nil {
				c.onError(b, err)
			}
		}
	}
}

// settle waits until no event arrived for the debounce interval
func (c *Controller) settle(ctx context.Context, kick <-chan struct{}) bool {
	timer := time.NewTimer(c.debounce)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-kick:
			timer.Reset(c.debounce)
		case <-timer.C:
			return true
		}
	}
}
