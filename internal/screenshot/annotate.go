package screenshot

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"ocr-watch/internal/config"
)

// Annotator stamps a single line of text onto the top left corner of an
// image, on a dark band so it stays readable.
type Annotator struct {
	font    *truetype.Font
	dpi     float64
	size    float64
	hinting font.Hinting
}

func NewAnnotator(cfg config.Annotate) (*Annotator, error) {
	f, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	a := &Annotator{font: f, dpi: cfg.DPI, size: cfg.Size, hinting: font.HintingNone}
	if a.dpi <= 0 {
		a.dpi = 72
	}
	if a.size <= 0 {
		a.size = 9
	}
	if cfg.Hinting == "full" {
		a.hinting = font.HintingFull
	}
	return a, nil
}

// Stamp returns a copy of img with text drawn on it
func (a *Annotator) Stamp(img image.Image, text string) (image.Image, error) {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)

	// line height in pixels
	lineH := int(a.size*a.dpi/72*1.4) + 2
	band := image.Rect(b.Min.X, b.Min.Y, b.Max.X, min(b.Max.Y, b.Min.Y+lineH))
	draw.Draw(dst, band, image.NewUniform(color.RGBA{A: 192}), image.Point{}, draw.Over)

	c := freetype.NewContext()
	c.SetDPI(a.dpi)
	c.SetFont(a.font)
	c.SetFontSize(a.size)
	c.SetClip(b)
	c.SetDst(dst)
	c.SetSrc(image.White)
	c.SetHinting(a.hinting)

	pt := freetype.Pt(b.Min.X+2, b.Min.Y+2+int(c.PointToFixed(a.size)>>6))
	if _, err := c.DrawString(text, pt); err != nil {
		return nil, fmt.Errorf("failed to draw label: %w", err)
	}
	return dst, nil
}
