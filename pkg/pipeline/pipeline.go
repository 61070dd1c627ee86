// Package pipeline runs file transformation tasks: select source files,
// stream them through stages and write the results to a destination.
package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/iter"

	"assetflow/pkg/faults"
	"assetflow/pkg/pathset"
)

// Notifier surfaces pipeline failures to the developer
type Notifier interface {
	Notify(title, message string)
}

// Listener is told about every path a pipeline wrote, e.g. to reload a
// browser
type Listener interface {
	Reload(paths []string)
}

// Branch is a secondary output computed from the full stream after the
// shared stages, such as a minified production bundle
type Branch struct {
	Enabled bool
	Stages  []Stage
	// Dest defaults to the pipeline destination
	Dest string
}

// Pipeline is a file transformation task
type Pipeline struct {
	Name   string
	Source *pathset.Matcher
	Stages []Stage
	Dest   string
	Branch Branch

	// Incremental skips sources that are not stale relative to their
	// destination according to Staleness
	Incremental bool
	Staleness   Staleness
	// DestPath maps a source path to its destination path for staleness
	// checks, e.g. "a.scss" to "a.css". Defaults to identity.
	DestPath func(p string) string

	// Memory makes unchanged files from earlier runs available to later
	// stages. Required for incremental pipelines with a branch.
	Memory *Memory

	Notifier Notifier
	Listener Listener

	mu sync.Mutex
}

// Result summarizes one run
type Result struct {
	Selected int
	Changed  int
	Written  []string
	// Unchanged counts outputs skipped because the destination already held
	// identical bytes
	Unchanged int
}

type output struct {
	dest string
	file *File
}

// Run executes the pipeline once. Nothing is written unless every stage
// succeeded.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	logger := zerolog.Ctx(ctx).With().Str("pipeline", p.Name).Logger()
	start := time.Now()

	res, err := p.run(ctx, &logger)
	if err != nil {
		var se *faults.StageError
		if errors.As(err, &se) && se.Task == "" {
			se.Task = p.Name
		}
		logger.Error().Err(err).Msg("Pipeline failed")
		if p.Notifier != nil {
			p.Notifier.Notify(p.Name, err.Error())
		}
		return res, err
	}

	logger.Debug().
		Int("selected", res.Selected).
		Int("changed", res.Changed).
		Int("written", len(res.Written)).
		Int("unchanged", res.Unchanged).
		Dur("elapsed", time.Since(start)).
		Msg("Pipeline finished")

	if p.Listener != nil && len(res.Written) > 0 {
		p.Listener.Reload(res.Written)
	}
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, logger *zerolog.Logger) (Result, error) {
	var res Result
	if p.Source == nil {
		return res, faults.Configf("pipeline %q has no source", p.Name)
	}
	if p.Dest == "" {
		return res, faults.Configf("pipeline %q has no destination", p.Name)
	}

	files, err := p.read()
	if err != nil {
		return res, err
	}
	res.Selected = len(files)

	order := make([]string, len(files))
	for i, f := range files {
		order[i] = f.key()
	}
	forgotten := 0
	if p.Memory != nil {
		forgotten = p.Memory.Retain(order)
	}

	changed, err := p.changed(files)
	if err != nil {
		return res, err
	}
	res.Changed = len(changed)
	// A removed source still changes aggregate outputs
	if p.Incremental && len(changed) == 0 && forgotten == 0 {
		logger.Debug().Msg("Nothing changed")
		return res, nil
	}

	processed, err := runStages(ctx, p.Stages, changed)
	if err != nil {
		return res, err
	}

	var outputs []output
	for _, f := range processed {
		outputs = append(outputs, output{dest: p.Dest, file: f})
	}

	stream := processed
	if p.Memory != nil {
		keys := make([]string, len(changed))
		for i, f := range changed {
			keys[i] = f.key()
		}
		p.Memory.Remember(keys, processed)
		stream = p.Memory.Files(order)
	}

	if p.Branch.Enabled {
		branched, err := runStages(ctx, p.Branch.Stages, stream)
		if err != nil {
			return res, err
		}
		dest := p.Branch.Dest
		if dest == "" {
			dest = p.Dest
		}
		for _, f := range branched {
			outputs = append(outputs, output{dest: dest, file: f})
		}
	}

	for _, o := range outputs {
		target := filepath.Join(o.dest, filepath.FromSlash(o.file.Path))
		if sameContents(target, o.file.Contents) {
			res.Unchanged++
			continue
		}
		if err := write(target, o.file.Contents); err != nil {
			return res, err
		}
		logger.Debug().Str("file", target).Msg("Wrote file")
		res.Written = append(res.Written, target)
	}
	return res, nil
}

func (p *Pipeline) read() ([]*File, error) {
	entries, err := p.Source.Select()
	if err != nil {
		return nil, err
	}
	return iter.MapErr(entries, func(e *pathset.Entry) (*File, error) {
		info, err := os.Stat(e.Path)
		if err != nil {
			return nil, faults.IO("stat", e.Path, err)
		}
		data, err := os.ReadFile(e.Path)
		if err != nil {
			return nil, faults.IO("read", e.Path, err)
		}
		return &File{
			Source:   e.Path,
			Base:     e.Base,
			Path:     e.Rel,
			Contents: data,
			ModTime:  info.ModTime(),
		}, nil
	})
}

// changed returns the files that need processing. Without incremental mode
// that is every file. Sources the memory has never seen are always
// processed, so a fresh process still builds complete aggregates.
func (p *Pipeline) changed(files []*File) ([]*File, error) {
	if !p.Incremental {
		return files, nil
	}
	var out []*File
	for _, f := range files {
		if p.Memory != nil && !p.Memory.Has(f.key()) {
			out = append(out, f)
			continue
		}
		rel := f.Path
		if p.DestPath != nil {
			rel = p.DestPath(rel)
		}
		isStale, err := stale(p.Staleness, f, filepath.Join(p.Dest, filepath.FromSlash(rel)))
		if err != nil {
			return nil, err
		}
		if isStale {
			out = append(out, f)
		}
	}
	return out, nil
}

func runStages(ctx context.Context, stages []Stage, files []*File) ([]*File, error) {
	var err error
	for _, stage := range stages {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		files, err = stage.Run(ctx, files)
		if err != nil {
			return nil, faults.Stage("", stage.Name, "", err)
		}
	}
	return files, nil
}

func write(target string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return faults.IO("mkdir", filepath.Dir(target), err)
	}
	if err := os.WriteFile(target, data, 0644); err != nil {
		return faults.IO("write", target, err)
	}
	return nil
}
