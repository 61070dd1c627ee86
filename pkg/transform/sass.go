package transform

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bep/godartsass/v2"

	"assetflow/pkg/pipeline"
)

// StyleCompiler turns a SASS or SCSS source into CSS
type StyleCompiler interface {
	Compile(ctx context.Context, file string, source []byte) ([]byte, error)
}

// SassOptions configures the Dart Sass compiler
type SassOptions struct {
	// Binary is the dart-sass executable, found on PATH when empty
	Binary       string
	IncludePaths []string
	Timeout      time.Duration
}

// DartSass compiles styles through the Dart Sass embedded protocol. The
// compiler process is started on first use and shared afterwards.
type DartSass struct {
	opts SassOptions

	mu         sync.Mutex
	started    bool
	closed     bool
	transpiler *godartsass.Transpiler
	startErr   error
}

// NewDartSass creates a compiler; nothing is started until Compile
func NewDartSass(opts SassOptions) *DartSass {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &DartSass{opts: opts}
}

func (d *DartSass) start() (*godartsass.Transpiler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, errors.New("dart-sass compiler is closed")
	}
	if !d.started {
		d.started = true
		d.transpiler, d.startErr = godartsass.Start(godartsass.Options{
			DartSassEmbeddedFilename: d.opts.Binary,
			Timeout:                  d.opts.Timeout,
		})
		if d.startErr != nil {
			d.startErr = fmt.Errorf("start dart-sass: %w", d.startErr)
		}
	}
	return d.transpiler, d.startErr
}

// Compile implements StyleCompiler
func (d *DartSass) Compile(ctx context.Context, file string, source []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := d.start()
	if err != nil {
		return nil, err
	}

	syntax := godartsass.SourceSyntaxSCSS
	if strings.EqualFold(filepath.Ext(file), ".sass") {
		syntax = godartsass.SourceSyntaxSASS
	}

	includes := append([]string{filepath.Dir(file)}, d.opts.IncludePaths...)
	res, err := t.Execute(godartsass.Args{
		Source:       string(source),
		URL:          "file://" + filepath.ToSlash(file),
		SourceSyntax: syntax,
		OutputStyle:  godartsass.OutputStyleExpanded,
		IncludePaths: includes,
	})
	if err != nil {
		return nil, err
	}
	return []byte(res.CSS), nil
}

// Close stops the compiler process if it was started
func (d *DartSass) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	if d.transpiler == nil {
		return nil
	}
	return d.transpiler.Close()
}

// IsPartial reports whether a style path names an import-only partial
func IsPartial(p string) bool {
	return strings.HasPrefix(path.Base(p), "_")
}

// CompileStage compiles styles to CSS. Partials are dropped from the stream.
func CompileStage(compiler StyleCompiler) pipeline.Stage {
	return pipeline.Map("sass", func(ctx context.Context, f *pipeline.File) (*pipeline.File, error) {
		if IsPartial(f.Path) {
			return nil, nil
		}
		css, err := compiler.Compile(ctx, f.Source, f.Contents)
		if err != nil {
			return nil, err
		}
		c := f.Clone()
		c.Contents = css
		c.Path = strings.TrimSuffix(f.Path, path.Ext(f.Path)) + ".css"
		return c, nil
	})
}
