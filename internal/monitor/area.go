package monitor

import (
	"context"
	"image"
	"slices"
	"time"

	"ocr-watch/internal/config"
	"ocr-watch/internal/ocr"
	"ocr-watch/internal/scheduler"
)

// Rect is a screen region. With a window title set it is relative to the
// window's top left corner.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// AreaConfig tunes recognition of one area
type AreaConfig struct {
	RefreshRate   scheduler.Duration `json:"refresh_rate"`
	Language      string             `json:"language"`
	Preprocessing bool               `json:"preprocessing"`
	SaveImages    bool               `json:"save_images"`
	SaveDir       string             `json:"save_dir,omitempty"`
	WindowTitle   string             `json:"window_title,omitempty"`
}

// Status is the live state of an area, written only by its loop
type Status struct {
	LastText        string    `json:"last_text"`
	LastCaptureTime time.Time `json:"last_capture_time"`
	MatchCount      int       `json:"match_count"`
	LastConfidence  float64   `json:"last_confidence"`
	LastError       string    `json:"last_error,omitempty"`
	Running         bool      `json:"running"`
}

// Area is a watched screen region and the rules evaluated against its text
type Area struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Rect    Rect       `json:"rect"`
	Enabled bool       `json:"enabled"`
	RuleIDs []string   `json:"rule_ids"`
	Config  AreaConfig `json:"config"`
	Status  Status     `json:"status"`
}

func (a Area) clone() Area {
	a.RuleIDs = slices.Clone(a.RuleIDs)
	return a
}

// withDefaults fills unset config fields from the engine defaults. A config
// left entirely empty takes the defaults as a whole.
func (c AreaConfig) withDefaults(d config.Area) AreaConfig {
	if c == (AreaConfig{}) {
		return AreaConfig{
			RefreshRate:   scheduler.Duration(d.RefreshRate),
			Language:      d.Language,
			Preprocessing: d.Preprocessing,
			SaveImages:    d.SaveImages,
			SaveDir:       d.SaveDir,
		}
	}
	if c.RefreshRate <= 0 {
		c.RefreshRate = scheduler.Duration(d.RefreshRate)
	}
	if c.Language == "" {
		c.Language = d.Language
	}
	if c.SaveDir == "" {
		c.SaveDir = d.SaveDir
	}
	return c
}

// Recognizer turns a screen region into text
type Recognizer interface {
	Recognize(ctx context.Context, rect image.Rectangle, opts ocr.Options) (ocr.Result, error)
}

// ReadyChecker is implemented by recognizers that can report up front that
// they will never work, such as a missing OCR installation.
type ReadyChecker interface {
	Ready() error
}

// CaptureSaver writes an image of a region to disk
type CaptureSaver interface {
	SaveCapture(rect image.Rectangle, path, label string) error
}

// WindowResolver maps a window-relative region to screen coordinates
type WindowResolver interface {
	Resolve(title string, rect image.Rectangle) (image.Rectangle, error)
}
