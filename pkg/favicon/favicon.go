// Package favicon renders an icon set from a single source image.
package favicon

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"assetflow/pkg/pipeline"
)

// Generator turns one source image into icon files
type Generator interface {
	Generate(ctx context.Context, source []byte) ([]*pipeline.File, error)
}

// Icons selects which icon families are produced
type Icons struct {
	Favicons     bool `mapstructure:"favicons"`
	Android      bool `mapstructure:"android"`
	AppleIcon    bool `mapstructure:"apple_icon"`
	AppleStartup bool `mapstructure:"apple_startup"`
}

// Options configures the generator
type Options struct {
	Icons           Icons
	AppName         string
	BackgroundColor string
	ThemeColor      string
}

var (
	faviconSizes   = []int{16, 32, 48}
	androidSizes   = []int{192, 512}
	appleIconSizes = []int{57, 60, 72, 76, 114, 120, 144, 152, 167, 180}
	startupSizes   = []image.Point{{640, 1136}, {750, 1334}, {1125, 2436}, {1242, 2208}, {1536, 2048}, {2048, 2732}}
)

// Imaging renders icons with the imaging library
type Imaging struct {
	Options Options
}

// NewImaging creates a generator
func NewImaging(opts Options) *Imaging {
	return &Imaging{Options: opts}
}

// Generate implements Generator
func (g *Imaging) Generate(ctx context.Context, source []byte) ([]*pipeline.File, error) {
	img, err := imaging.Decode(bytes.NewReader(source), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode favicon source: %w", err)
	}

	var files []*pipeline.File
	emit := func(name string, data []byte) {
		files = append(files, &pipeline.File{Path: name, Contents: data, ModTime: time.Now()})
	}
	png := func(w, h int) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, contain(img, w, h, color.Transparent), imaging.PNG); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	icons := g.Options.Icons
	if icons.Favicons {
		var ico []icoImage
		for _, size := range faviconSizes {
			data, err := png(size, size)
			if err != nil {
				return nil, err
			}
			emit(fmt.Sprintf("favicon-%dx%d.png", size, size), data)
			ico = append(ico, icoImage{size: size, png: data})
		}
		data, err := encodeICO(ico)
		if err != nil {
			return nil, err
		}
		emit("favicon.ico", data)
	}

	if icons.Android {
		var entries []manifestIcon
		for _, size := range androidSizes {
			data, err := png(size, size)
			if err != nil {
				return nil, err
			}
			name := fmt.Sprintf("android-chrome-%dx%d.png", size, size)
			emit(name, data)
			entries = append(entries, manifestIcon{Src: name, Sizes: fmt.Sprintf("%dx%d", size, size), Type: "image/png"})
		}
		data, err := json.MarshalIndent(manifest{
			Name:            g.Options.AppName,
			ShortName:       g.Options.AppName,
			Icons:           entries,
			ThemeColor:      g.Options.ThemeColor,
			BackgroundColor: g.Options.BackgroundColor,
			Display:         "standalone",
		}, "", "  ")
		if err != nil {
			return nil, err
		}
		emit("manifest.json", data)
	}

	if icons.AppleIcon {
		for _, size := range appleIconSizes {
			data, err := png(size, size)
			if err != nil {
				return nil, err
			}
			emit(fmt.Sprintf("apple-touch-icon-%dx%d.png", size, size), data)
			if size == 180 {
				emit("apple-touch-icon.png", data)
			}
		}
	}

	if icons.AppleStartup {
		bg := parseHexColor(g.Options.BackgroundColor)
		for _, size := range startupSizes {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			// Icon at a third of the short edge, centered
			edge := min(size.X, size.Y) / 3
			canvas := imaging.PasteCenter(imaging.New(size.X, size.Y, bg), contain(img, edge, edge, color.Transparent))
			var buf bytes.Buffer
			if err := imaging.Encode(&buf, canvas, imaging.PNG); err != nil {
				return nil, err
			}
			emit(fmt.Sprintf("apple-touch-startup-image-%dx%d.png", size.X, size.Y), buf.Bytes())
		}
	}

	return files, nil
}

// contain scales img to fit w x h and centers it on a background
func contain(img image.Image, w, h int, bg color.Color) image.Image {
	fitted := imaging.Fit(img, w, h, imaging.Lanczos)
	return imaging.PasteCenter(imaging.New(w, h, bg), fitted)
}

func parseHexColor(s string) color.Color {
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &r, &g, &b); err != nil {
		return color.White
	}
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

type manifestIcon struct {
	Src   string `json:"src"`
	Sizes string `json:"sizes"`
	Type  string `json:"type"`
}

type manifest struct {
	Name            string         `json:"name"`
	ShortName       string         `json:"short_name"`
	Icons           []manifestIcon `json:"icons"`
	ThemeColor      string         `json:"theme_color,omitempty"`
	BackgroundColor string         `json:"background_color,omitempty"`
	Display         string         `json:"display"`
}

type icoImage struct {
	size int
	png  []byte
}

// encodeICO writes an ICO container holding PNG encoded images
func encodeICO(images []icoImage) ([]byte, error) {
	var buf bytes.Buffer
	header := struct{ Reserved, Type, Count uint16 }{0, 1, uint16(len(images))}
	if err := binary.Write(&buf, binary.LittleEndian, header); err != nil {
		return nil, err
	}

	offset := uint32(6 + 16*len(images))
	for _, img := range images {
		dim := uint8(img.size)
		if img.size >= 256 {
			dim = 0
		}
		entry := struct {
			Width, Height, Colors, Reserved uint8
			Planes, BitCount                uint16
			Size, Offset                    uint32
		}{dim, dim, 0, 0, 1, 32, uint32(len(img.png)), offset}
		if err := binary.Write(&buf, binary.LittleEndian, entry); err != nil {
			return nil, err
		}
		offset += uint32(len(img.png))
	}
	for _, img := range images {
		buf.Write(img.png)
	}
	return buf.Bytes(), nil
}

// Stage generates icons from the first file in the stream. Other files are
// ignored with a warning.
func Stage(g Generator) pipeline.Stage {
	return pipeline.Stage{
		Name: "favicons",
		Run: func(ctx context.Context, files []*pipeline.File) ([]*pipeline.File, error) {
			if len(files) == 0 {
				return nil, nil
			}
			if len(files) > 1 {
				ignored := make([]string, 0, len(files)-1)
				for _, f := range files[1:] {
					ignored = append(ignored, f.Path)
				}
				zerolog.Ctx(ctx).Warn().Str("using", files[0].Path).Strs("ignored", ignored).
					Msg("Favicons are generated from a single image")
			}
			out, err := g.Generate(ctx, files[0].Contents)
			if err != nil {
				return nil, err
			}
			for _, f := range out {
				f.Base = files[0].Base
			}
			return out, nil
		},
	}
}
