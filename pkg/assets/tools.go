package assets

import (
	"context"
	"io"

	"assetflow/pkg/config"
	"assetflow/pkg/deploy"
	"assetflow/pkg/favicon"
	"assetflow/pkg/imageopt"
	"assetflow/pkg/transform"
)

// Deployer publishes the output directory
type Deployer interface {
	Deploy(ctx context.Context, dir string) ([]deploy.Object, error)
}

// Tools are the external collaborators used by the build tasks
type Tools struct {
	Compiler transform.StyleCompiler
	Prefixer transform.Prefixer
	// Bundler minifies production bundles and writes their source maps
	Bundler   transform.MapMinifier
	Optimizer imageopt.Optimizer
	Favicons  favicon.Generator
	// Deployer is created from the deploy settings when nil
	Deployer Deployer
}

// DefaultTools wires the real collaborators from the settings
func DefaultTools(cfg *config.Config) Tools {
	return Tools{
		Compiler: transform.NewDartSass(transform.SassOptions{
			Binary:       cfg.Sass.Binary,
			IncludePaths: cfg.Sass.IncludePaths,
			Timeout:      cfg.Sass.Timeout,
		}),
		Prefixer: &transform.CommandPrefixer{
			Command:  cfg.Prefixer.Command,
			Browsers: cfg.Browsers,
			Dir:      cfg.Root,
		},
		Bundler: transform.NewEsbuild("/"),
		Optimizer: imageopt.NewImaging(imageopt.Options{
			JPEGQuality:        cfg.Images.JPEGQuality,
			PNGBestCompression: cfg.Images.PNGBestCompression,
		}, transform.NewMinifier()),
		Favicons: favicon.NewImaging(favicon.Options{
			Icons:           cfg.Favicon.Icons,
			AppName:         cfg.Favicon.AppName,
			BackgroundColor: cfg.Favicon.BackgroundColor,
			ThemeColor:      cfg.Favicon.ThemeColor,
		}),
	}
}

// Close releases collaborators holding processes or connections
func (t Tools) Close() error {
	if c, ok := t.Compiler.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
