package transform

import (
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/svg"
)

// Media types understood by the minifier
const (
	MediaCSS = "text/css"
	MediaJS  = "application/javascript"
	MediaSVG = "image/svg+xml"
)

// Minifier shrinks CSS, JavaScript and SVG
type Minifier interface {
	Minify(mediatype string, data []byte) ([]byte, error)
}

// TdewolffMinifier is the minify/v2 backed Minifier
type TdewolffMinifier struct {
	m *minify.M
}

// NewMinifier registers the CSS, JS and SVG minifiers
func NewMinifier() *TdewolffMinifier {
	m := minify.New()
	m.AddFunc(MediaCSS, css.Minify)
	m.AddFunc(MediaJS, js.Minify)
	m.AddFunc(MediaSVG, svg.Minify)
	return &TdewolffMinifier{m: m}
}

// Minify implements Minifier
func (t *TdewolffMinifier) Minify(mediatype string, data []byte) ([]byte, error) {
	return t.m.Bytes(mediatype, data)
}
