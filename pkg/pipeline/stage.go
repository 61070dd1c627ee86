package pipeline

import (
	"bytes"
	"context"
	"path"
	"strings"
	"time"

	"github.com/sourcegraph/conc/iter"

	"assetflow/pkg/faults"
)

// StageFunc transforms a batch of files
type StageFunc func(ctx context.Context, files []*File) ([]*File, error)

// Stage is a named transformation step
type Stage struct {
	Name string
	Run  StageFunc
}

// Map applies fn to every file concurrently, keeping the input order.
// Returning a nil file drops it from the stream.
func Map(name string, fn func(ctx context.Context, f *File) (*File, error)) Stage {
	return Stage{
		Name: name,
		Run: func(ctx context.Context, files []*File) ([]*File, error) {
			mapped, err := iter.MapErr(files, func(f **File) (*File, error) {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				out, err := fn(ctx, *f)
				if err != nil {
					return nil, faults.Stage("", name, (*f).Path, err)
				}
				return out, nil
			})
			if err != nil {
				return nil, err
			}
			out := mapped[:0]
			for _, f := range mapped {
				if f != nil {
					out = append(out, f)
				}
			}
			return out, nil
		},
	}
}

// If runs stage only when cond holds, otherwise files pass through
func If(cond bool, stage Stage) Stage {
	if cond {
		return stage
	}
	return Stage{
		Name: stage.Name,
		Run: func(_ context.Context, files []*File) ([]*File, error) {
			return files, nil
		},
	}
}

// Filter drops files for which keep returns false
func Filter(name string, keep func(f *File) bool) Stage {
	return Stage{
		Name: name,
		Run: func(_ context.Context, files []*File) ([]*File, error) {
			var out []*File
			for _, f := range files {
				if keep(f) {
					out = append(out, f)
				}
			}
			return out, nil
		},
	}
}

// Rename rewrites every file path with fn
func Rename(fn func(p string) string) Stage {
	return Stage{
		Name: "rename",
		Run: func(_ context.Context, files []*File) ([]*File, error) {
			out := make([]*File, len(files))
			for i, f := range files {
				c := *f
				c.Path = fn(f.Path)
				out[i] = &c
			}
			return out, nil
		},
	}
}

// ReplaceExt swaps the extension of every file, e.g. ".scss" to ".css"
func ReplaceExt(ext string) Stage {
	return Rename(func(p string) string {
		return strings.TrimSuffix(p, path.Ext(p)) + ext
	})
}

// RenameTo gives every file the same name, keeping its directory
func RenameTo(name string) Stage {
	return Rename(func(p string) string {
		return path.Join(path.Dir(p), name)
	})
}

// Concat joins all files, in stream order, into a single file
func Concat(name, separator string) Stage {
	return Stage{
		Name: "concat",
		Run: func(_ context.Context, files []*File) ([]*File, error) {
			if len(files) == 0 {
				return nil, nil
			}
			var buf bytes.Buffer
			var latest time.Time
			for i, f := range files {
				if i > 0 {
					buf.WriteString(separator)
				}
				buf.Write(f.Contents)
				if f.ModTime.After(latest) {
					latest = f.ModTime
				}
			}
			return []*File{{
				Base:     files[0].Base,
				Path:     name,
				Contents: buf.Bytes(),
				ModTime:  latest,
			}}, nil
		},
	}
}
