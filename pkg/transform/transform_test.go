package transform

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetflow/pkg/pipeline"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestIncluder_ExpandsRelativeToIncludingFile(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, root, "src/a.html", "@@include('b.html')")
	writeFile(t, root, "src/b.html", "<p>hi</p>")

	out, err := NewIncluder("").Expand(a, []byte("@@include('b.html')"), nil)
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", string(out))
}

func TestIncluder_Parameters(t *testing.T) {
	root := t.TempDir()
	page := writeFile(t, root, "src/index.html", "")
	writeFile(t, root, "src/includes/head.html", `<title>@@title</title>@@include("meta.html", {"name": "@@title"})`)
	writeFile(t, root, "src/includes/meta.html", `<meta content="@@name" data-n="@@count" data-x="@@unknown">`)

	src := `<html>@@include('includes/head.html', {"title": "Home", "count": 3})</html>`
	out, err := NewIncluder("@@").Expand(page, []byte(src), nil)
	require.NoError(t, err)
	assert.Equal(t, `<html><title>Home</title><meta content="@@title" data-n="3" data-x="@@unknown"></html>`, string(out))
}

func TestIncluder_Errors(t *testing.T) {
	root := t.TempDir()
	loop := writeFile(t, root, "loop.html", "@@include('loop.html')")
	writeFile(t, root, "ping.html", "@@include('pong.html')")
	writeFile(t, root, "pong.html", "@@include('ping.html')")

	inc := NewIncluder("@@")

	_, err := inc.Expand(loop, []byte("@@include('loop.html')"), nil)
	assert.ErrorContains(t, err, "recursive include")

	_, err = inc.Expand(filepath.Join(root, "x.html"), []byte("@@include('ping.html')"), nil)
	assert.ErrorContains(t, err, "recursive include")

	_, err = inc.Expand(loop, []byte("@@include('missing.html')"), nil)
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	_, err = inc.Expand(loop, []byte("@@include('b.html', {broken)"), nil)
	assert.ErrorContains(t, err, "invalid parameters")

	_, err = inc.Expand(loop, []byte("@@include('loop.html'"), nil)
	assert.ErrorContains(t, err, "missing closing parenthesis")
}

func TestIncluder_MaxDepth(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 4; i++ {
		writeFile(t, root, "d"+string(rune('0'+i))+".html", "@@include('d"+string(rune('1'+i))+".html')")
	}
	writeFile(t, root, "d4.html", "end")

	inc := NewIncluder("@@")
	out, err := inc.Expand(filepath.Join(root, "d0.html"), []byte("@@include('d1.html')"), nil)
	require.NoError(t, err)
	assert.Equal(t, "end", string(out))

	inc.MaxDepth = 2
	_, err = inc.Expand(filepath.Join(root, "d0.html"), []byte("@@include('d1.html')"), nil)
	assert.ErrorContains(t, err, "nested deeper")
}

type fakeCompiler struct{}

func (fakeCompiler) Compile(_ context.Context, file string, source []byte) ([]byte, error) {
	if strings.Contains(string(source), "!!") {
		return nil, errors.New("expected expression")
	}
	return []byte("/* " + filepath.Base(file) + " */" + strings.ToUpper(string(source))), nil
}

func TestCompileStage(t *testing.T) {
	files := []*pipeline.File{
		{Source: "/s/main.scss", Path: "main.scss", Contents: []byte("a{}")},
		{Source: "/s/_vars.scss", Path: "_vars.scss", Contents: []byte("$x: 1;")},
		{Source: "/s/legacy/old.sass", Path: "legacy/old.sass", Contents: []byte("b")},
	}

	out, err := CompileStage(fakeCompiler{}).Run(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "main.css", out[0].Path)
	assert.Equal(t, "/* main.scss */A{}", string(out[0].Contents))
	assert.Equal(t, "legacy/old.css", out[1].Path)

	_, err = CompileStage(fakeCompiler{}).Run(context.Background(), []*pipeline.File{{Path: "bad.scss", Contents: []byte("!!")}})
	assert.ErrorContains(t, err, "expected expression")
}

func TestDartSass_CloseRacingCompile(t *testing.T) {
	d := NewDartSass(SassOptions{Binary: filepath.Join(t.TempDir(), "missing-dart-sass")})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := d.Compile(context.Background(), "main.scss", []byte("a { b: c }"))
		assert.Error(t, err)
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, d.Close())
	}()
	wg.Wait()

	_, err := d.Compile(context.Background(), "main.scss", nil)
	assert.Error(t, err)
	assert.NoError(t, d.Close())
}

func TestIsPartial(t *testing.T) {
	assert.True(t, IsPartial("parts/_grid.scss"))
	assert.False(t, IsPartial("parts/grid.scss"))
}

func TestCommandPrefixer(t *testing.T) {
	css := []byte("a{display:flex}")

	out, err := (&CommandPrefixer{}).Prefix(context.Background(), css)
	require.NoError(t, err)
	assert.Equal(t, css, out)

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	p := &CommandPrefixer{
		Command:  []string{"sh", "-c", `cat; printf '/*%s*/' "$BROWSERSLIST"`},
		Browsers: []string{"last 5 versions"},
	}
	out, err = p.Prefix(context.Background(), css)
	require.NoError(t, err)
	assert.Equal(t, "a{display:flex}/*last 5 versions*/", string(out))

	failing := &CommandPrefixer{Command: []string{"sh", "-c", "echo nope >&2; exit 3"}}
	_, err = failing.Prefix(context.Background(), css)
	assert.ErrorContains(t, err, "nope")
}

func TestMinifier(t *testing.T) {
	m := NewMinifier()

	out, err := m.Minify(MediaCSS, []byte("body {\n  color: red;\n}\n"))
	require.NoError(t, err)
	assert.Equal(t, "body{color:red}", string(out))

	src := "function add(first, second) {\n    return first + second;\n}\n"
	out, err = m.Minify(MediaJS, []byte(src))
	require.NoError(t, err)
	assert.Less(t, len(out), len(src))
	assert.NotContains(t, string(out), "\n    ")
}

func TestEsbuild_MinifyMap(t *testing.T) {
	m := NewEsbuild("/")

	code, sourceMap, err := m.MinifyMap("main.min.js", []byte("function add(first, second) {\n    return first + second;\n}\n"))
	require.NoError(t, err)
	assert.Contains(t, string(code), "function add(")
	assert.NotContains(t, string(code), "\n    ")
	assert.True(t, strings.HasSuffix(string(code), "//# sourceMappingURL=main.min.js.map\n"))

	var parsed struct {
		Version        int      `json:"version"`
		Sources        []string `json:"sources"`
		SourceRoot     string   `json:"sourceRoot"`
		SourcesContent []string `json:"sourcesContent"`
	}
	require.NoError(t, json.Unmarshal(sourceMap, &parsed))
	assert.Equal(t, 3, parsed.Version)
	assert.Equal(t, "/", parsed.SourceRoot)
	assert.Equal(t, []string{"main.js"}, parsed.Sources)
	require.Len(t, parsed.SourcesContent, 1)
	assert.Contains(t, parsed.SourcesContent[0], "return first + second")

	code, _, err = m.MinifyMap("styles.min.css", []byte("a { margin : 0px ; }"))
	require.NoError(t, err)
	assert.Contains(t, string(code), "a{margin:0}")
	assert.Contains(t, string(code), "/*# sourceMappingURL=styles.min.css.map */")

	_, _, err = m.MinifyMap("broken.min.js", []byte("function ("))
	assert.ErrorContains(t, err, "broken.min.js:1:")

	_, _, err = m.MinifyMap("x.unknownext", nil)
	assert.Error(t, err)
}

func TestMinifyMapStage(t *testing.T) {
	files := []*pipeline.File{{Path: "assets/styles.min.css", Contents: []byte("a { margin : 0px ; }")}}

	out, err := MinifyMapStage(NewEsbuild("/")).Run(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "assets/styles.min.css", out[0].Path)
	assert.Contains(t, string(out[0].Contents), "a{margin:0}")
	assert.Equal(t, "assets/styles.min.css.map", out[1].Path)
	assert.Contains(t, string(out[1].Contents), `"sources"`)

	_, err = MinifyMapStage(NewEsbuild("/")).Run(context.Background(), []*pipeline.File{{Path: "x.unknownext"}})
	assert.Error(t, err)
}
