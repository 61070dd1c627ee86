// Package imageopt recompresses images for production builds.
package imageopt

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"assetflow/pkg/pipeline"
	"assetflow/pkg/transform"
)

// Optimizer shrinks an image. Implementations return the input unchanged
// when they cannot do better.
type Optimizer interface {
	Optimize(ctx context.Context, name string, data []byte) ([]byte, error)
}

// Options tunes the re-encoding
type Options struct {
	JPEGQuality int
	// PNGBestCompression trades speed for size
	PNGBestCompression bool
}

// DefaultOptions mirror imagemin's medium JPEG recompression
var DefaultOptions = Options{JPEGQuality: 70, PNGBestCompression: true}

func (o Options) String() string {
	return fmt.Sprintf("jpeg=%d,png-best=%t", o.JPEGQuality, o.PNGBestCompression)
}

// Imaging re-encodes JPEG and PNG images and minifies SVG. GIF and unknown
// formats pass through untouched.
type Imaging struct {
	Options  Options
	Minifier transform.Minifier
}

// NewImaging creates an optimizer with the given options
func NewImaging(opts Options, minifier transform.Minifier) *Imaging {
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = DefaultOptions.JPEGQuality
	}
	return &Imaging{Options: opts, Minifier: minifier}
}

// Optimize implements Optimizer
func (o *Imaging) Optimize(ctx context.Context, name string, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ext := strings.ToLower(path.Ext(name))
	if ext == ".svg" {
		if o.Minifier == nil {
			return data, nil
		}
		out, err := o.Minifier.Minify(transform.MediaSVG, data)
		if err != nil {
			return nil, err
		}
		return smaller(data, out), nil
	}

	format, err := imaging.FormatFromFilename(name)
	if err != nil || (format != imaging.JPEG && format != imaging.PNG) {
		return data, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}

	var opts []imaging.EncodeOption
	switch format {
	case imaging.JPEG:
		opts = append(opts, imaging.JPEGQuality(o.Options.JPEGQuality))
	case imaging.PNG:
		level := png.DefaultCompression
		if o.Options.PNGBestCompression {
			level = png.BestCompression
		}
		opts = append(opts, imaging.PNGCompressionLevel(level))
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, opts...); err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return smaller(data, buf.Bytes()), nil
}

func smaller(original, optimized []byte) []byte {
	if len(optimized) < len(original) {
		return optimized
	}
	return original
}

// Cached memoizes an optimizer in a content-addressed cache
type Cached struct {
	Optimizer Optimizer
	Cache     *Cache
	// Settings distinguishes cache entries of differently tuned optimizers
	Settings string
}

// Optimize implements Optimizer
func (c *Cached) Optimize(ctx context.Context, name string, data []byte) ([]byte, error) {
	key := Key(c.Settings+"|"+strings.ToLower(path.Ext(name)), data)
	if out, ok := c.Cache.Get(key); ok {
		zerolog.Ctx(ctx).Debug().Str("image", name).Msg("Image cache hit")
		return out, nil
	}

	out, err := c.Optimizer.Optimize(ctx, name, data)
	if err != nil {
		return nil, err
	}
	if err := c.Cache.Put(key, out); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("image", name).Msg("Failed to cache optimized image")
	}
	return out, nil
}

// Stage optimizes every file in a pipeline
func Stage(o Optimizer) pipeline.Stage {
	return pipeline.Map("imagemin", func(ctx context.Context, f *pipeline.File) (*pipeline.File, error) {
		out, err := o.Optimize(ctx, f.Path, f.Contents)
		if err != nil {
			return nil, err
		}
		c := f.Clone()
		c.Contents = out
		return c, nil
	})
}
