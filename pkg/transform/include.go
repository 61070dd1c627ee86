package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"assetflow/pkg/pipeline"
)

// DefaultIncludeDepth bounds nested includes
const DefaultIncludeDepth = 16

// Includer expands include directives in HTML:
//
//	@@include('partials/header.html', {"title": "Home"})
//
// Paths are resolved against the directory of the including file. Parameters
// are available inside the included file as @@name.
type Includer struct {
	Prefix   string
	MaxDepth int

	directive *regexp.Regexp
	variable  *regexp.Regexp
}

// NewIncluder creates an includer for the given directive prefix
func NewIncluder(prefix string) *Includer {
	if prefix == "" {
		prefix = "@@"
	}
	quoted := regexp.QuoteMeta(prefix)
	return &Includer{
		Prefix:    prefix,
		MaxDepth:  DefaultIncludeDepth,
		directive: regexp.MustCompile(quoted + `include\(\s*(?:'([^']*)'|"([^"]*)")\s*`),
		variable:  regexp.MustCompile(quoted + `([A-Za-z_][A-Za-z0-9_]*)`),
	}
}

// Stage returns a pipeline stage expanding every file
func (i *Includer) Stage() pipeline.Stage {
	return pipeline.Map("include", func(ctx context.Context, f *pipeline.File) (*pipeline.File, error) {
		out, err := i.Expand(f.Source, f.Contents, nil)
		if err != nil {
			return nil, err
		}
		c := f.Clone()
		c.Contents = out
		return c, nil
	})
}

// Expand processes contents of the file at path
func (i *Includer) Expand(path string, contents []byte, vars map[string]any) ([]byte, error) {
	return i.expand(path, contents, vars, []string{path})
}

func (i *Includer) expand(path string, contents []byte, vars map[string]any, stack []string) ([]byte, error) {
	if len(stack) > i.MaxDepth {
		return nil, fmt.Errorf("includes nested deeper than %d: %s", i.MaxDepth, path)
	}

	var out bytes.Buffer
	rest := contents
	for {
		loc := i.directive.FindSubmatchIndex(rest)
		if loc == nil {
			out.Write(i.substitute(rest, vars))
			return out.Bytes(), nil
		}
		out.Write(i.substitute(rest[:loc[0]], vars))

		name := submatch(rest, loc, 1)
		if name == "" {
			name = submatch(rest, loc, 2)
		}
		params, consumed, err := parseParams(rest[loc[1]:])
		if err != nil {
			return nil, fmt.Errorf("%s: include %q: %w", path, name, err)
		}
		rest = rest[loc[1]+consumed:]

		target := filepath.Join(filepath.Dir(path), filepath.FromSlash(name))
		if slices.Contains(stack, target) {
			return nil, fmt.Errorf("%s: recursive include of %q", path, name)
		}
		data, err := os.ReadFile(target)
		if err != nil {
			return nil, fmt.Errorf("%s: include %q: %w", path, name, err)
		}

		merged := make(map[string]any, len(vars)+len(params))
		for k, v := range vars {
			merged[k] = v
		}
		for k, v := range params {
			merged[k] = v
		}
		expanded, err := i.expand(target, data, merged, append(stack, target))
		if err != nil {
			return nil, err
		}
		out.Write(expanded)
	}
}

func submatch(b []byte, loc []int, n int) string {
	if loc[2*n] < 0 {
		return ""
	}
	return string(b[loc[2*n]:loc[2*n+1]])
}

// parseParams reads an optional ", {json}" followed by the closing paren and
// returns how many bytes were consumed
func parseParams(b []byte) (map[string]any, int, error) {
	pos := skipSpace(b, 0)
	var params map[string]any
	if pos < len(b) && b[pos] == ',' {
		pos = skipSpace(b, pos+1)
		dec := json.NewDecoder(bytes.NewReader(b[pos:]))
		if err := dec.Decode(&params); err != nil {
			return nil, 0, fmt.Errorf("invalid parameters: %w", err)
		}
		pos = skipSpace(b, pos+int(dec.InputOffset()))
	}
	if pos >= len(b) || b[pos] != ')' {
		return nil, 0, fmt.Errorf("missing closing parenthesis")
	}
	return params, pos + 1, nil
}

func skipSpace(b []byte, pos int) int {
	for pos < len(b) && (b[pos] == ' ' || b[pos] == '\t' || b[pos] == '\n' || b[pos] == '\r') {
		pos++
	}
	return pos
}

func (i *Includer) substitute(b []byte, vars map[string]any) []byte {
	if len(vars) == 0 {
		return b
	}
	return i.variable.ReplaceAllFunc(b, func(m []byte) []byte {
		name := string(m[len(i.Prefix):])
		v, ok := vars[name]
		if !ok {
			return m
		}
		if s, ok := v.(string); ok {
			return []byte(s)
		}
		return []byte(fmt.Sprint(v))
	})
}
