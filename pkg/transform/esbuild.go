package transform

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"assetflow/pkg/faults"
	"assetflow/pkg/pipeline"
)

// MapMinifier minifies a script or stylesheet and returns a source map of
// the result
type MapMinifier interface {
	MinifyMap(name string, data []byte) (code, sourceMap []byte, err error)
}

// Esbuild minifies CSS and JavaScript with esbuild and writes external maps
type Esbuild struct {
	// SourceRoot is recorded in every map
	SourceRoot string
}

// NewEsbuild creates a minifier whose maps resolve sources under root
func NewEsbuild(root string) *Esbuild {
	return &Esbuild{SourceRoot: root}
}

var esbuildLoaders = map[string]api.Loader{
	".css": api.LoaderCSS,
	".js":  api.LoaderJS,
	".mjs": api.LoaderJS,
}

// MinifyMap implements MapMinifier. The map names the unminified file, so
// "main.min.js" maps back to "main.js".
func (e *Esbuild) MinifyMap(name string, data []byte) ([]byte, []byte, error) {
	ext := strings.ToLower(path.Ext(name))
	loader, ok := esbuildLoaders[ext]
	if !ok {
		return nil, nil, fmt.Errorf("no minifier for %s", name)
	}

	result := api.Transform(string(data), api.TransformOptions{
		Loader:            loader,
		Sourcefile:        strings.Replace(path.Base(name), ".min.", ".", 1),
		Sourcemap:         api.SourceMapExternal,
		SourceRoot:        e.SourceRoot,
		SourcesContent:    api.SourcesContentInclude,
		MinifyWhitespace:  true,
		MinifyIdentifiers: true,
		MinifySyntax:      true,
	})
	if len(result.Errors) > 0 {
		msg := result.Errors[0]
		if loc := msg.Location; loc != nil {
			return nil, nil, fmt.Errorf("%s:%d:%d: %s", name, loc.Line, loc.Column, msg.Text)
		}
		return nil, nil, fmt.Errorf("%s: %s", name, msg.Text)
	}

	code := append([]byte(nil), result.Code...)
	code = append(code, mappingComment(ext, path.Base(name)+".map")...)
	return code, result.Map, nil
}

func mappingComment(ext, mapName string) string {
	if ext == ".css" {
		return "/*# sourceMappingURL=" + mapName + " */\n"
	}
	return "//# sourceMappingURL=" + mapName + "\n"
}

// MinifyMapStage minifies every file and emits its source map next to it
func MinifyMapStage(m MapMinifier) pipeline.Stage {
	return pipeline.Stage{
		Name: "minify",
		Run: func(ctx context.Context, files []*pipeline.File) ([]*pipeline.File, error) {
			out := make([]*pipeline.File, 0, 2*len(files))
			for _, f := range files {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				code, sourceMap, err := m.MinifyMap(f.Path, f.Contents)
				if err != nil {
					return nil, faults.Stage("", "minify", f.Path, err)
				}
				c := f.Clone()
				c.Contents = code
				out = append(out, c, &pipeline.File{
					Base:     f.Base,
					Path:     f.Path + ".map",
					Contents: sourceMap,
					ModTime:  f.ModTime,
				})
			}
			return out, nil
		},
	}
}
