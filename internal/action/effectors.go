package action

import (
	"context"
	"image"
	"time"
)

// KeyboardDevice injects key events
type KeyboardDevice interface {
	TypeText(text string, perChar time.Duration) error
	PressKey(key string) error
	Hotkey(keys ...string) error
}

// MouseDevice injects pointer events
type MouseDevice interface {
	Move(x, y int, speed float64) error
	Click(button string, clicks int) error
	Drag(toX, toY int, button string) error
	Scroll(amount int) error
}

// CommandSpec describes a child process
type CommandSpec struct {
	// Shell runs Line through the platform shell. Otherwise Args is executed directly.
	Shell   bool
	Line    string
	Args    []string
	Dir     string
	Timeout time.Duration
}

// CommandResult is the captured outcome of a child process
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// ProcessRunner spawns child processes
type ProcessRunner interface {
	Run(ctx context.Context, spec CommandSpec) (CommandResult, error)
}

// Notifier shows a user notification
type Notifier interface {
	Notify(title, message string, sound bool) error
}

// Screenshotter saves a PNG of region (nil for the whole display) to path
type Screenshotter interface {
	SaveRegion(region *image.Rectangle, path string) error
}

// Effectors bundles the capabilities the executor drives. A nil capability
// makes the matching action kind fail.
type Effectors struct {
	Keyboard   KeyboardDevice
	Mouse      MouseDevice
	Process    ProcessRunner
	Notifier   Notifier
	Screenshot Screenshotter
}
