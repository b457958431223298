// Package window finds top-level X11 windows by title so that monitor
// areas can be positioned relative to a window instead of the screen.
package window

import (
	"fmt"
	"image"
	"io"
	"strings"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"
	"github.com/rs/zerolog"

	"ocr-watch/internal/errs"
)

// Window is a top-level client window in root coordinates
type Window struct {
	ID     uint32          `json:"id"`
	Title  string          `json:"title"`
	Bounds image.Rectangle `json:"bounds"`
	Active bool            `json:"active"`
}

// Locator queries the window manager. The X connection is opened on first
// use and reused.
type Locator struct {
	mu  sync.Mutex
	xu  *xgbutil.XUtil
	log zerolog.Logger
}

func NewLocator(log zerolog.Logger) *Locator {
	return &Locator{log: log}
}

// SuppressXGBLogs silences the xgb package logger
func SuppressXGBLogs() {
	xgb.Logger.SetOutput(io.Discard)
}

func (l *Locator) conn() (*xgbutil.XUtil, error) {
	if l.xu != nil {
		return l.xu, nil
	}
	xu, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X11 server: %w", err)
	}
	l.xu = xu
	return xu, nil
}

// Windows lists the managed client windows with a title
func (l *Locator) Windows() ([]Window, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	xu, err := l.conn()
	if err != nil {
		return nil, err
	}
	clients, err := ewmh.ClientListGet(xu)
	if err != nil {
		return nil, fmt.Errorf("failed to read client list: %w", err)
	}
	active, _ := ewmh.ActiveWindowGet(xu)

	out := make([]Window, 0, len(clients))
	for _, win := range clients {
		w, err := l.describe(xu, win)
		if err != nil {
			l.log.Debug().Uint32("window", uint32(win)).Err(err).Msg("Skipping window")
			continue
		}
		if w.Title == "" {
			continue
		}
		w.Active = win == active
		out = append(out, w)
	}
	return out, nil
}

func (l *Locator) describe(xu *xgbutil.XUtil, win xproto.Window) (Window, error) {
	title, err := ewmh.WmNameGet(xu, win)
	if err != nil || title == "" {
		title, _ = icccm.WmNameGet(xu, win)
	}

	geom, err := xproto.GetGeometry(xu.Conn(), xproto.Drawable(win)).Reply()
	if err != nil {
		return Window{}, fmt.Errorf("failed to get window geometry: %w", err)
	}
	// translate the client origin into root coordinates
	pos, err := xproto.TranslateCoordinates(xu.Conn(), win, xu.RootWin(), 0, 0).Reply()
	if err != nil {
		return Window{}, fmt.Errorf("failed to translate coordinates: %w", err)
	}
	x, y := int(pos.DstX), int(pos.DstY)
	return Window{
		ID:     uint32(win),
		Title:  title,
		Bounds: image.Rect(x, y, x+int(geom.Width), y+int(geom.Height)),
	}, nil
}

// Find returns the window whose title contains title, case-insensitively
func (l *Locator) Find(title string) (Window, error) {
	windows, err := l.Windows()
	if err != nil {
		return Window{}, err
	}
	w, ok := Match(windows, title)
	if !ok {
		return Window{}, errs.Newf(errs.ErrNotFound, "no window titled %q", title)
	}
	return w, nil
}

// Resolve offsets rect, given relative to the window titled title, into
// screen coordinates. Parts outside the window are clipped.
func (l *Locator) Resolve(title string, rect image.Rectangle) (image.Rectangle, error) {
	w, err := l.Find(title)
	if err != nil {
		return image.Rectangle{}, err
	}
	return Offset(w, rect)
}

// Offset places rect relative to w's origin, clipped to w
func Offset(w Window, rect image.Rectangle) (image.Rectangle, error) {
	abs := rect.Add(w.Bounds.Min).Intersect(w.Bounds)
	if abs.Empty() {
		return image.Rectangle{}, errs.Newf(errs.ErrInvalidInput, "region %v lies outside window %q", rect, w.Title)
	}
	return abs, nil
}

// Match picks the window whose title contains title. An exact title match
// wins, then the active window, then the first in stacking order.
func Match(windows []Window, title string) (Window, bool) {
	want := strings.ToLower(strings.TrimSpace(title))
	if want == "" {
		return Window{}, false
	}
	var candidates []Window
	for _, w := range windows {
		t := strings.ToLower(w.Title)
		if t == want {
			return w, true
		}
		if strings.Contains(t, want) {
			candidates = append(candidates, w)
		}
	}
	for _, w := range candidates {
		if w.Active {
			return w, true
		}
	}
	if len(candidates) > 0 {
		return candidates[0], true
	}
	return Window{}, false
}

func (l *Locator) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.xu != nil {
		l.xu.Conn().Close()
		l.xu = nil
	}
}
