// Package input injects keyboard and mouse events with robotgo.
package input

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-vgo/robotgo"
	"github.com/rs/zerolog"
)

// Device drives the real keyboard and pointer. Calls are serialized so
// concurrent actions cannot interleave their events.
type Device struct {
	mu  sync.Mutex
	log zerolog.Logger
}

func New(log zerolog.Logger) *Device {
	return &Device{log: log}
}

// TypeText types text, pausing perChar between characters when set
func (d *Device) TypeText(text string, perChar time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if perChar <= 0 {
		robotgo.TypeStr(text)
		return nil
	}
	for _, r := range text {
		robotgo.TypeStr(string(r))
		time.Sleep(perChar)
	}
	return nil
}

func (d *Device) PressKey(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := robotgo.KeyTap(NormalizeKey(key)); err != nil {
		return fmt.Errorf("key %s: %w", key, err)
	}
	return nil
}

// Hotkey taps the last key while holding the others: ctrl, shift, s
func (d *Device) Hotkey(keys ...string) error {
	key, mods, err := SplitHotkey(keys)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	args := make([]interface{}, len(mods))
	for i, m := range mods {
		args[i] = m
	}
	if err := robotgo.KeyTap(key, args...); err != nil {
		return fmt.Errorf("hotkey %s: %w", strings.Join(keys, "+"), err)
	}
	return nil
}

// Move positions the pointer. A positive speed moves smoothly; higher is
// faster.
func (d *Device) Move(x, y int, speed float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.moveLocked(x, y, speed)
	return nil
}

func (d *Device) moveLocked(x, y int, speed float64) {
	if speed <= 0 {
		robotgo.Move(x, y)
		return
	}
	robotgo.MoveSmooth(x, y, 1.0/speed, 3.0/speed)
}

func (d *Device) Click(button string, clicks int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case clicks == 2:
		robotgo.Click(button, true)
	case clicks > 0:
		for i := 0; i < clicks; i++ {
			robotgo.Click(button)
		}
	}
	return nil
}

// Drag holds button from the current position to toX, toY
func (d *Device) Drag(toX, toY int, button string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := robotgo.Toggle(button); err != nil {
		return fmt.Errorf("press %s: %w", button, err)
	}
	d.moveLocked(toX, toY, 1)
	if err := robotgo.Toggle(button, "up"); err != nil {
		return fmt.Errorf("release %s: %w", button, err)
	}
	return nil
}

// Scroll scrolls vertically; positive is up
func (d *Device) Scroll(amount int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	robotgo.Scroll(0, amount)
	return nil
}

// Position is the current pointer location
func (d *Device) Position() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	x, y := robotgo.Location()
	d.log.Debug().Int("x", x).Int("y", y).Msg("Pointer position")
	return x, y
}
