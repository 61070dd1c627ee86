package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetflow/pkg/faults"
	"assetflow/pkg/pathset"
)

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Notify(title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, title+": "+message)
}

type fakeListener struct {
	mu    sync.Mutex
	paths []string
}

func (l *fakeListener) Reload(paths []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = append(l.paths, paths...)
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(data)
}

func matcher(t *testing.T, root string, patterns ...string) *pathset.Matcher {
	t.Helper()
	m, err := pathset.Parse(patterns, "").Compile(root)
	require.NoError(t, err)
	return m
}

func upper() Stage {
	return Map("upper", func(_ context.Context, f *File) (*File, error) {
		c := f.Clone()
		c.Contents = bytes.ToUpper(c.Contents)
		return c, nil
	})
}

func TestRun_CopiesSelectedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/fonts/a.woff", "A")
	writeFile(t, root, "src/fonts/sub/b.woff", "B")
	dest := filepath.Join(root, "dist", "fonts")

	listener := &fakeListener{}
	p := &Pipeline{
		Name:     "fonts",
		Source:   matcher(t, root, "src/fonts/**/*"),
		Dest:     dest,
		Listener: listener,
	}

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Selected)
	assert.Len(t, res.Written, 2)
	assert.Equal(t, "A", readFile(t, filepath.Join(dest, "a.woff")))
	assert.Equal(t, "B", readFile(t, filepath.Join(dest, "sub", "b.woff")))
	assert.ElementsMatch(t, res.Written, listener.paths)

	// Identical bytes are never rewritten
	res, err = p.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Written)
	assert.Equal(t, 2, res.Unchanged)
}

func TestRun_IncrementalNoChangesNoWrites(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "node_modules/lib/lib.css", "body{}")
	dest := filepath.Join(root, "dist", "vendor", "css")

	calls := 0
	p := &Pipeline{
		Name:        "vendor:css",
		Source:      matcher(t, root, "node_modules/lib/lib.css"),
		Dest:        dest,
		Incremental: true,
		Staleness:   ContentHash,
		Stages: []Stage{{Name: "count", Run: func(_ context.Context, files []*File) ([]*File, error) {
			calls += len(files)
			return files, nil
		}}},
	}

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Changed)
	assert.Len(t, res.Written, 1)

	res, err = p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Changed)
	assert.Empty(t, res.Written)
	assert.Equal(t, 1, calls, "unchanged source must not reach the stages")
}

func jsPipeline(t *testing.T, root string, production bool) *Pipeline {
	return &Pipeline{
		Name:        "js",
		Source:      matcher(t, root, "./src/js/**/*.js", "!./src/js/vendor/**/*"),
		Dest:        filepath.Join(root, "dist", "js"),
		Incremental: true,
		Memory:      NewMemory(),
		Branch: Branch{
			Enabled: production,
			Stages:  []Stage{Concat("main.js", "\n"), upper(), RenameTo("main.min.js")},
		},
	}
}

func TestRun_ProductionBranch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/js/a.js", "a()")
	writeFile(t, root, "src/js/b.js", "b()")
	writeFile(t, root, "src/js/vendor/x.js", "x()")

	_, err := jsPipeline(t, root, true).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a()", readFile(t, filepath.Join(root, "dist/js/a.js")))
	assert.Equal(t, "A()\nB()", readFile(t, filepath.Join(root, "dist/js/main.min.js")))
	assert.NoFileExists(t, filepath.Join(root, "dist/js/x.js"))
}

func TestRun_DevelopmentSkipsBranch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/js/a.js", "a()")

	_, err := jsPipeline(t, root, false).Run(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "dist/js/a.js"))
	assert.NoFileExists(t, filepath.Join(root, "dist/js/main.min.js"))
}

func TestRun_MemoryKeepsBundleComplete(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/js/a.js", "a()")
	bPath := writeFile(t, root, "src/js/b.js", "b()")

	p := jsPipeline(t, root, true)
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	// Touch b with new content and a future mtime
	require.NoError(t, os.WriteFile(bPath, []byte("bb()"), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(bPath, future, future))

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Changed)
	assert.Equal(t, "A()\nBB()", readFile(t, filepath.Join(root, "dist/js/main.min.js")))

	// Removing a source drops it from the bundle even though nothing changed
	require.NoError(t, os.Remove(bPath))
	res, err = p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Changed)
	assert.Equal(t, "A()", readFile(t, filepath.Join(root, "dist/js/main.min.js")))
}

func TestRun_StageFailureWritesNothing(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/styles/ok.scss", "ok")
	writeFile(t, root, "src/styles/bad.scss", "bad")
	dest := filepath.Join(root, "dist", "css")

	notifier := &fakeNotifier{}
	listener := &fakeListener{}
	p := &Pipeline{
		Name:   "sass",
		Source: matcher(t, root, "src/styles/*.scss"),
		Dest:   dest,
		Stages: []Stage{
			Map("compile", func(_ context.Context, f *File) (*File, error) {
				if strings.Contains(string(f.Contents), "bad") {
					return nil, errors.New("unexpected token")
				}
				return f, nil
			}),
			ReplaceExt(".css"),
		},
		Notifier: notifier,
		Listener: listener,
	}

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, faults.ErrStage))

	var se *faults.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "sass", se.Task)
	assert.Equal(t, "compile", se.Stage)
	assert.Equal(t, "bad.scss", se.File)

	assert.NoDirExists(t, dest)
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "unexpected token")
	assert.Empty(t, listener.paths)
}

func TestRun_MissingSourceIsNotAnError(t *testing.T) {
	root := t.TempDir()
	p := &Pipeline{Name: "images", Source: matcher(t, root, "src/img/**/*"), Dest: filepath.Join(root, "dist")}

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Selected)
}

func TestRun_RequiresDestination(t *testing.T) {
	p := &Pipeline{Name: "broken", Source: matcher(t, t.TempDir(), "*")}
	_, err := p.Run(context.Background())
	assert.True(t, errors.Is(err, faults.ErrConfiguration))
}

func TestStages(t *testing.T) {
	ctx := context.Background()
	files := []*File{
		{Source: "/s/a.scss", Path: "a.scss", Contents: []byte("a")},
		{Source: "/s/_partial.scss", Path: "_partial.scss", Contents: []byte("p")},
	}

	out, err := If(false, upper()).Run(ctx, files)
	require.NoError(t, err)
	assert.Equal(t, "a", string(out[0].Contents))

	out, err = Filter("partials", func(f *File) bool { return !strings.HasPrefix(f.Path, "_") }).Run(ctx, files)
	require.NoError(t, err)
	require.Len(t, out, 1)

	out, err = ReplaceExt(".css").Run(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, "a.css", out[0].Path)
	assert.Equal(t, "/s/a.scss", out[0].Source)
	assert.Equal(t, "a.scss", files[0].Path, "rename must not mutate its input")

	out, err = Concat("all.css", ";").Run(ctx, files)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a;p", string(out[0].Contents))

	out, err = Concat("none.css", ";").Run(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMap_DropsNilOutputs(t *testing.T) {
	files := []*File{{Path: "a"}, {Path: "_b"}, {Path: "c"}}
	out, err := Map("skip", func(_ context.Context, f *File) (*File, error) {
		if strings.HasPrefix(f.Path, "_") {
			return nil, nil
		}
		return f, nil
	}).Run(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Path)
	assert.Equal(t, "c", out[1].Path)
}
