// Package pathset selects source files with gulp-style include and
// exclude globs.
package pathset

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"assetflow/pkg/faults"
)

// PathSet is a named set of glob patterns with a destination directory
type PathSet struct {
	Include []string
	Exclude []string
	Dest    string
}

// Parse splits a gulp-style pattern list, where entries starting with "!"
// are exclusions
func Parse(patterns []string, dest string) PathSet {
	ps := PathSet{Dest: dest}
	for _, p := range patterns {
		if strings.HasPrefix(p, "!") {
			ps.Exclude = append(ps.Exclude, strings.TrimPrefix(p, "!"))
			continue
		}
		ps.Include = append(ps.Include, p)
	}
	return ps
}

// Patterns renders the set back into gulp notation
func (p PathSet) Patterns() []string {
	out := append([]string(nil), p.Include...)
	for _, ex := range p.Exclude {
		out = append(out, "!"+ex)
	}
	return out
}

// Entry is a selected file
type Entry struct {
	// Path is the absolute file path
	Path string
	// Base is the static directory of the pattern that selected the file
	Base string
	// Rel is Path relative to Base, slash separated
	Rel string
}

type pattern struct {
	raw   string
	abs   string
	base  string
	globs []glob.Glob
	// literal patterns name a single file
	literal bool
}

func (p *pattern) match(slashPath string) bool {
	for _, g := range p.globs {
		if g.Match(slashPath) {
			return true
		}
	}
	return false
}

// Matcher is a PathSet resolved against a project root
type Matcher struct {
	root     string
	includes []*pattern
	excludes []*pattern
}

// Compile resolves every pattern relative to root
func (p PathSet) Compile(root string) (*Matcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, faults.IO("resolve", root, err)
	}

	m := &Matcher{root: absRoot}
	for _, raw := range p.Include {
		pat, err := compile(absRoot, raw)
		if err != nil {
			return nil, err
		}
		m.includes = append(m.includes, pat)
	}
	for _, raw := range p.Exclude {
		pat, err := compile(absRoot, raw)
		if err != nil {
			return nil, err
		}
		m.excludes = append(m.excludes, pat)
	}
	return m, nil
}

func compile(root, raw string) (*pattern, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, faults.Configf("empty glob pattern")
	}

	abs := path.Clean(filepath.ToSlash(raw))
	if !filepath.IsAbs(raw) {
		abs = path.Join(filepath.ToSlash(root), abs)
	}

	// The root is quoted so directory names never act as glob syntax
	quoted, rel := "", abs
	if rootSlash := filepath.ToSlash(root); strings.HasPrefix(abs, rootSlash+"/") {
		quoted = glob.QuoteMeta(rootSlash) + "/"
		rel = strings.TrimPrefix(abs, rootSlash+"/")
	}

	pat := &pattern{raw: raw, abs: abs, literal: !hasMeta(rel)}
	pat.base = filepath.FromSlash(path.Join(strings.TrimSuffix(abs, rel), staticBase(rel)))

	for _, variant := range expandGlobstar(rel) {
		g, err := glob.Compile(quoted+variant, '/')
		if err != nil {
			return nil, faults.Configf("invalid glob pattern %q: %v", raw, err)
		}
		pat.globs = append(pat.globs, g)
	}
	return pat, nil
}

func hasMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// staticBase returns the leading directories before the first segment with
// glob syntax. A literal pattern's base is its parent directory.
func staticBase(slashPattern string) string {
	if !hasMeta(slashPattern) {
		if dir := path.Dir(slashPattern); dir != "." {
			return dir
		}
		return ""
	}
	segments := strings.Split(slashPattern, "/")
	var static []string
	for _, seg := range segments {
		if hasMeta(seg) {
			break
		}
		static = append(static, seg)
	}
	base := strings.Join(static, "/")
	if base == "" && strings.HasPrefix(slashPattern, "/") {
		return "/"
	}
	return base
}

// expandGlobstar returns the pattern plus every variant where a "/**/"
// collapses to "/", so that "**" also matches zero directories.
func expandGlobstar(p string) []string {
	seen := map[string]bool{}
	var out []string
	var walk func(string)
	walk = func(s string) {
		if seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
		if strings.HasPrefix(s, "**/") {
			walk(s[3:])
		}
		for i := 0; ; {
			j := strings.Index(s[i:], "/**/")
			if j < 0 {
				break
			}
			at := i + j
			walk(s[:at] + "/" + s[at+4:])
			i = at + 1
		}
	}
	walk(p)
	return out
}

func (m *Matcher) abs(p string) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(m.root, p)
	}
	return filepath.ToSlash(filepath.Clean(p))
}

// Match reports whether a path, absolute or relative to the root, is in the
// set. Exclusions win over inclusions.
func (m *Matcher) Match(p string) bool {
	slash := m.abs(p)
	for _, ex := range m.excludes {
		if ex.match(slash) {
			return false
		}
	}
	for _, in := range m.includes {
		if in.match(slash) {
			return true
		}
	}
	return false
}

func (m *Matcher) excluded(slash string) bool {
	for _, ex := range m.excludes {
		if ex.match(slash) {
			return true
		}
	}
	return false
}

// Root returns the directory patterns are resolved against
func (m *Matcher) Root() string {
	return m.root
}

// Bases returns the static base directory of every include pattern,
// de-duplicated and sorted
func (m *Matcher) Bases() []string {
	seen := map[string]bool{}
	var bases []string
	for _, in := range m.includes {
		if seen[in.base] {
			continue
		}
		seen[in.base] = true
		bases = append(bases, in.base)
	}
	sort.Strings(bases)
	return bases
}

// Select walks the base directory of each include pattern and returns the
// matching regular files. Files are ordered by pattern, then lexically; a
// file selected by an earlier pattern is not repeated.
func (m *Matcher) Select() ([]Entry, error) {
	seen := map[string]bool{}
	var entries []Entry

	add := func(pat *pattern, file string) {
		slash := filepath.ToSlash(file)
		if seen[slash] || !pat.match(slash) || m.excluded(slash) {
			return
		}
		seen[slash] = true
		rel, err := filepath.Rel(pat.base, file)
		if err != nil {
			rel = filepath.Base(file)
		}
		entries = append(entries, Entry{Path: file, Base: pat.base, Rel: filepath.ToSlash(rel)})
	}

	for _, pat := range m.includes {
		pat := pat
		if pat.literal {
			file := filepath.FromSlash(pat.abs)
			info, err := os.Stat(file)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, faults.IO("stat", file, err)
			}
			if info.Mode().IsRegular() {
				add(pat, file)
			}
			continue
		}

		if err := walkFiles(pat.base, func(file string) { add(pat, file) }); err != nil {
			return nil, faults.IO("walk", pat.base, err)
		}
	}
	return entries, nil
}

// walkFiles calls fn for every regular file under dir in lexical order.
// Symbolic links are followed; a directory reached twice is walked once.
func walkFiles(dir string, fn func(file string)) error {
	visited := map[string]bool{}

	var walk func(dir string) error
	walk = func(dir string) error {
		real, err := filepath.EvalSymlinks(dir)
		if err != nil {
			return err
		}
		if visited[real] {
			return nil
		}
		visited[real] = true

		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			p := filepath.Join(dir, e.Name())
			mode := e.Type()
			if mode&fs.ModeSymlink != 0 {
				info, err := os.Stat(p)
				if errors.Is(err, fs.ErrNotExist) {
					// dangling link
					continue
				}
				if err != nil {
					return err
				}
				mode = info.Mode().Type()
			}
			switch {
			case mode.IsDir():
				if err := walk(p); err != nil {
					return err
				}
			case mode.IsRegular():
				fn(p)
			}
		}
		return nil
	}

	err := walk(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
