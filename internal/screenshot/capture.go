// Package screenshot grabs screen regions and writes them to disk as PNG,
// optionally stamped with a label.
package screenshot

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/kbinani/screenshot"
	"github.com/rs/zerolog"

	"ocr-watch/internal/config"
)

// Capturer reads pixels from the display. It is safe for concurrent use;
// captures are serialized because some display backends are not.
type Capturer struct {
	mu       sync.Mutex
	annotate *Annotator
	log      zerolog.Logger
	now      func() time.Time
}

// New returns a Capturer. A nil annotator leaves saved captures unmarked.
func New(annotate *Annotator, log zerolog.Logger) *Capturer {
	return &Capturer{annotate: annotate, log: log, now: time.Now}
}

// Capture grabs rect in virtual screen coordinates. An empty rect captures
// the primary display.
func (c *Capturer) Capture(rect image.Rectangle) (image.Image, error) {
	if rect.Empty() {
		if screenshot.NumActiveDisplays() == 0 {
			return nil, fmt.Errorf("no active display")
		}
		rect = screenshot.GetDisplayBounds(0)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	img, err := screenshot.CaptureRect(rect)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	c.log.Debug().Int("w", rect.Dx()).Int("h", rect.Dy()).Msg("Screen captured")
	return img, nil
}

// SaveRegion writes region, or the primary display when region is nil, to path
func (c *Capturer) SaveRegion(region *image.Rectangle, path string) error {
	var rect image.Rectangle
	if region != nil {
		rect = *region
	}
	img, err := c.Capture(rect)
	if err != nil {
		return err
	}
	return SaveToFile(img, path)
}

// SaveCapture writes rect to path, stamped with label and the capture time
// when annotation is enabled.
func (c *Capturer) SaveCapture(rect image.Rectangle, path, label string) error {
	img, err := c.Capture(rect)
	if err != nil {
		return err
	}
	if c.annotate != nil {
		text := fmt.Sprintf("%s %s", label, c.now().Format(time.DateTime))
		if img, err = c.annotate.Stamp(img, text); err != nil {
			return err
		}
	}
	return SaveToFile(img, path)
}

// DisplayBounds is the bounds of every active display
func DisplayBounds() []image.Rectangle {
	n := screenshot.NumActiveDisplays()
	out := make([]image.Rectangle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, screenshot.GetDisplayBounds(i))
	}
	return out
}

// NewAnnotatorFromConfig returns nil when annotation is disabled
func NewAnnotatorFromConfig(cfg config.Annotate) (*Annotator, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return NewAnnotator(cfg)
}
