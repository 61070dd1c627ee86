package assets

import (
	"context"
	"strings"

	"assetflow/pkg/deploy"
	"assetflow/pkg/devserver"
	"assetflow/pkg/favicon"
	"assetflow/pkg/graph"
	"assetflow/pkg/imageopt"
	"assetflow/pkg/pipeline"
	"assetflow/pkg/transform"
	"assetflow/pkg/watch"
)

var (
	appTasks    = []string{"html", "js", "images", "sass", "fonts", "favicons"}
	vendorTasks = []string{"vendor:js", "vendor:css", "vendor:fonts"}
	watchTasks  = []string{"html", "sass", "js", "images", "fonts", "favicons"}
)

// register mirrors the command line surface: clean, vendor, app, watch,
// sync, build and default
func (b *Build) register() error {
	steps := []func() error{
		b.registerClean,
		b.registerVendor,
		b.registerApp,
		b.registerServe,
		b.registerComposite,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return b.checkDestinations()
}

func (b *Build) registerClean() error {
	if err := b.task("clean:cache", "Remove cached image optimizations", func(ctx context.Context) error {
		b.logger(ctx).Debug().Str("dir", b.cache.Dir()).Msg("Clearing cache")
		return b.cache.Clear()
	}); err != nil {
		return err
	}

	if err := b.task("clean:dist", "Remove the output directory", func(ctx context.Context) error {
		paths, err := b.layout.Get("clean")
		if err != nil {
			return err
		}
		for _, p := range b.pipelines {
			if p.Memory != nil {
				p.Memory.Clear()
			}
		}
		return b.removeDir(b.cfg.Path(paths.Dest))
	}); err != nil {
		return err
	}

	return b.compose("clean", "Remove generated files", graph.Parallel(graph.Refs("clean:cache", "clean:dist")...))
}

func (b *Build) registerVendor() error {
	for _, name := range vendorTasks {
		p, err := b.pipeline(name, nil)
		if err != nil {
			return err
		}
		p.Incremental = true
		p.Staleness = pipeline.ContentHash
		if err := b.pipelineTask(p, "Copy third-party "+strings.TrimPrefix(name, "vendor:")); err != nil {
			return err
		}
	}
	return b.compose("vendor", "Copy third-party assets", graph.Parallel(graph.Refs(vendorTasks...)...))
}

func (b *Build) registerApp() error {
	production := b.cfg.Production

	html, err := b.pipeline("html", []pipeline.Stage{transform.NewIncluder("@@").Stage()})
	if err != nil {
		return err
	}
	if err := b.pipelineTask(html, "Expand @@include directives in pages"); err != nil {
		return err
	}

	// Partials may be imported from anywhere, so every style is rebuilt
	sass, err := b.pipeline("sass", []pipeline.Stage{
		transform.CompileStage(b.tools.Compiler),
		transform.PrefixStage(b.tools.Prefixer),
	})
	if err != nil {
		return err
	}
	sass.Memory = pipeline.NewMemory()
	sass.Branch = pipeline.Branch{
		Enabled: production,
		Stages: []pipeline.Stage{
			pipeline.Concat("styles.min.css", "\n"),
			transform.MinifyMapStage(b.tools.Bundler),
		},
	}
	if err := b.pipelineTask(sass, "Compile styles and add vendor prefixes"); err != nil {
		return err
	}

	js, err := b.pipeline("js", nil)
	if err != nil {
		return err
	}
	js.Incremental = true
	js.Staleness = pipeline.ModTime
	js.Memory = pipeline.NewMemory()
	js.Branch = pipeline.Branch{
		Enabled: production,
		Stages: []pipeline.Stage{
			pipeline.Concat("main.min.js", ";\n"),
			transform.MinifyMapStage(b.tools.Bundler),
		},
	}
	if err := b.pipelineTask(js, "Copy scripts and bundle main.min.js"); err != nil {
		return err
	}

	images, err := b.pipeline("images", []pipeline.Stage{
		pipeline.If(production, imageopt.Stage(&imageopt.Cached{
			Optimizer: b.tools.Optimizer,
			Cache:     b.cache,
			Settings:  optimizerSettings(b.tools.Optimizer),
		})),
	})
	if err != nil {
		return err
	}
	if err := b.pipelineTask(images, "Optimize images"); err != nil {
		return err
	}

	fonts, err := b.pipeline("fonts", nil)
	if err != nil {
		return err
	}
	fonts.Incremental = true
	fonts.Staleness = pipeline.ContentHash
	if err := b.pipelineTask(fonts, "Copy fonts"); err != nil {
		return err
	}

	favicons, err := b.pipeline("favicons", []pipeline.Stage{favicon.Stage(b.tools.Favicons)})
	if err != nil {
		return err
	}
	if err := b.pipelineTask(favicons, "Generate favicons"); err != nil {
		return err
	}

	return b.compose("app", "Build every site asset", graph.Parallel(graph.Refs(appTasks...)...))
}

func (b *Build) registerServe() error {
	var bindings []watch.Binding
	for _, name := range watchTasks {
		paths, err := b.layout.Get(name)
		if err != nil {
			return err
		}
		matcher, err := paths.WatchSet().Compile(b.cfg.Root)
		if err != nil {
			return err
		}
		bindings = append(bindings, watch.Binding{Name: name, Patterns: matcher, Task: name})
	}

	if err := b.task("watch", "Rebuild assets when sources change", func(ctx context.Context) error {
		c := watch.New(b.runner.RunTask, bindings, watch.WithDebounce(b.cfg.Watch.Debounce))
		return c.Run(ctx)
	}); err != nil {
		return err
	}

	if err := b.task("sync", "Serve the output with live reload", func(ctx context.Context) error {
		srv := devserver.New(devserver.Options{
			Host:    b.cfg.Server.Host,
			Port:    b.cfg.Server.Port,
			BaseDir: b.cfg.Server.BaseDir,
			Notify:  b.cfg.Server.Notify,
		}, *b.logger(ctx))
		b.server.Store(srv)
		defer b.server.Store(nil)
		return srv.Run(ctx)
	}); err != nil {
		return err
	}

	return b.task("deploy", "Upload the output directory to the bucket", func(ctx context.Context) error {
		deployer := b.tools.Deployer
		if deployer == nil {
			u, err := deploy.New(b.cfg.Deploy)
			if err != nil {
				return err
			}
			deployer = u
		}
		_, err := deployer.Deploy(ctx, b.cfg.DistDir())
		return err
	}, "build")
}

func (b *Build) registerComposite() error {
	if err := b.compose("build", "Clean, then build app and vendor assets",
		graph.Series(graph.Ref("clean"), graph.Parallel(graph.Refs("app", "vendor")...))); err != nil {
		return err
	}
	return b.compose(DefaultTask, "Build, then serve and watch",
		graph.Series(graph.Ref("build"), graph.Parallel(graph.Refs("sync", "watch")...)))
}

// pipeline creates the pipeline for a layout entry
func (b *Build) pipeline(name string, stages []pipeline.Stage) (*pipeline.Pipeline, error) {
	paths, err := b.layout.Get(name)
	if err != nil {
		return nil, err
	}
	source, err := paths.PathSet().Compile(b.cfg.Root)
	if err != nil {
		return nil, err
	}
	p := &pipeline.Pipeline{
		Name:     name,
		Source:   source,
		Stages:   stages,
		Dest:     b.cfg.Path(paths.Dest),
		Notifier: b,
		Listener: b,
	}
	b.pipelines[name] = p
	return p, nil
}

func (b *Build) pipelineTask(p *pipeline.Pipeline, description string) error {
	return b.task(p.Name, description, func(ctx context.Context) error {
		_, err := p.Run(ctx)
		return err
	})
}

func (b *Build) task(name, description string, action graph.Action, deps ...string) error {
	if err := b.registry.Register(name, action, deps...); err != nil {
		return err
	}
	return b.registry.Describe(name, description)
}

func (b *Build) compose(name, description string, flow graph.Flow) error {
	if err := b.registry.Compose(name, flow); err != nil {
		return err
	}
	return b.registry.Describe(name, description)
}

func optimizerSettings(o imageopt.Optimizer) string {
	if opt, ok := o.(*imageopt.Imaging); ok {
		return opt.Options.String()
	}
	return "custom"
}
