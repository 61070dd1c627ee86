package config

import (
	"fmt"
	"os"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"assetflow/pkg/faults"
	"assetflow/pkg/pathset"
)

// DefaultLayout describes a project with sources in src, third-party
// packages in node_modules and output in dist
const DefaultLayout = `
paths "clean" {
  dest = dist
}

paths "vendor:js" {
  src  = ["${modules}/jquery/dist/jquery.min.js"]
  dest = "${dist}/assets/vendor/js"
}

paths "vendor:css" {
  src  = ["${modules}/@fortawesome/fontawesome-free/css/fontawesome.css"]
  dest = "${dist}/assets/vendor/css"
}

paths "vendor:fonts" {
  src  = ["${modules}/@fortawesome/fontawesome-free/webfonts/**/*"]
  dest = "${dist}/assets/vendor/fonts"
}

paths "html" {
  src     = ["${src}/*.html"]
  exclude = ["${src}/includes/**/*"]
  dest    = dist
  watch   = ["${src}/**/*.html"]
}

paths "sass" {
  src     = ["${src}/assets/styles/**/*.{scss,sass}"]
  exclude = ["${src}/assets/styles/vendor/**/*"]
  dest    = "${dist}/assets/css"
}

paths "js" {
  src     = ["${src}/assets/js/**/*.js"]
  exclude = ["${src}/assets/js/vendor/**/*"]
  dest    = "${dist}/assets/js"
}

paths "images" {
  src  = ["${src}/assets/img/**/*"]
  dest = "${dist}/assets/img"
}

paths "favicons" {
  src  = ["${src}/favicons/*.{jpg,jpeg,png,gif}"]
  dest = "${dist}/favicons"
}

paths "fonts" {
  src  = ["${src}/assets/fonts/**/*"]
  dest = "${dist}/assets/fonts"
}
`

// Paths is the source and destination of one task. Src entries starting
// with "!" are exclusions.
type Paths struct {
	Name  string
	Src   []string
	Dest  string
	Watch []string
}

// PathSet returns the task's sources
func (p Paths) PathSet() pathset.PathSet {
	return pathset.Parse(p.Src, p.Dest)
}

// WatchSet returns what to watch for the task: Watch when set, Src otherwise
func (p Paths) WatchSet() pathset.PathSet {
	if len(p.Watch) > 0 {
		return pathset.Parse(p.Watch, p.Dest)
	}
	return p.PathSet()
}

// Layout maps task names to their paths
type Layout struct {
	paths map[string]Paths
}

// Get returns the paths of a task
func (l *Layout) Get(name string) (Paths, error) {
	p, ok := l.paths[name]
	if !ok {
		return Paths{}, faults.Configf("no paths defined for %q", name)
	}
	return p, nil
}

// Names returns the defined names in sorted order
func (l *Layout) Names() []string {
	names := make([]string, 0, len(l.paths))
	for name := range l.paths {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type layoutFile struct {
	Paths []*pathsBlock `hcl:"paths,block"`
}

type pathsBlock struct {
	Name    string   `hcl:"name,label"`
	Src     []string `hcl:"src,optional"`
	Exclude []string `hcl:"exclude,optional"`
	Dest    string   `hcl:"dest,optional"`
	Watch   []string `hcl:"watch,optional"`
}

// LoadLayout decodes DefaultLayout and then file, if not empty. Blocks in
// file replace default blocks of the same name.
func LoadLayout(file string, dirs Dirs) (*Layout, error) {
	parser := hclparse.NewParser()
	evalCtx := &hcl.EvalContext{Variables: map[string]cty.Value{
		"src":     cty.StringVal(dirs.Src),
		"dist":    cty.StringVal(dirs.Dist),
		"modules": cty.StringVal(dirs.Modules),
	}}

	hclFile, diags := parser.ParseHCL([]byte(DefaultLayout), "default.hcl")
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse default layout: %w", diags)
	}
	layout := &Layout{paths: make(map[string]Paths)}
	if err := layout.merge(hclFile.Body, evalCtx, false); err != nil {
		return nil, err
	}

	if file == "" {
		return layout, nil
	}
	if _, err := os.Stat(file); err != nil {
		return nil, faults.Configf("layout file %s: %v", file, err)
	}
	hclFile, diags = parser.ParseHCLFile(file)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: failed to parse HCL file %s: %w", faults.ErrConfiguration, file, diags)
	}
	if err := layout.merge(hclFile.Body, evalCtx, true); err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return layout, nil
}

func (l *Layout) merge(body hcl.Body, evalCtx *hcl.EvalContext, override bool) error {
	var root layoutFile
	if diags := gohcl.DecodeBody(body, evalCtx, &root); diags.HasErrors() {
		return fmt.Errorf("%w: failed to decode layout: %w", faults.ErrConfiguration, diags)
	}

	seen := make(map[string]bool)
	for _, block := range root.Paths {
		if seen[block.Name] {
			return faults.Configf("paths %q is defined twice", block.Name)
		}
		seen[block.Name] = true
		if _, known := l.paths[block.Name]; override && !known {
			return faults.Configf("unknown paths %q", block.Name)
		}
		if block.Dest == "" {
			return faults.Configf("paths %q has no dest", block.Name)
		}

		src := append([]string(nil), block.Src...)
		for _, ex := range block.Exclude {
			src = append(src, "!"+ex)
		}
		l.paths[block.Name] = Paths{
			Name:  block.Name,
			Src:   src,
			Dest:  block.Dest,
			Watch: block.Watch,
		}
	}
	return nil
}
