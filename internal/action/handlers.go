package action

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ocr-watch/internal/errs"
)

type handlerFunc func(e *Executor, ctx context.Context, a *Action) (string, error)

// actionHandlers maps action kinds to their execution functions
var actionHandlers = map[Kind]handlerFunc{
	Keyboard:     keyboardExecution,
	Mouse:        mouseExecution,
	Delay:        delayExecution,
	Command:      commandExecution,
	Script:       scriptExecution,
	Screenshot:   screenshotExecution,
	Notification: notificationExecution,
}

// KnownKind reports whether k has a handler
func KnownKind(k Kind) bool {
	_, ok := actionHandlers[k]
	return ok
}

func invalid(a *Action, format string, args ...interface{}) error {
	return errs.Newf(errs.ErrInvalidInput, "action %s: %s", a.ID, fmt.Sprintf(format, args...))
}

func unavailable(what string) error {
	return errs.Newf(errs.ErrAction, "%s effector is not available", what)
}

func keyboardExecution(e *Executor, _ context.Context, a *Action) (string, error) {
	kb := e.fx.Keyboard
	if kb == nil {
		return "", unavailable("keyboard")
	}
	switch t := a.Params.String("keyboard_type", "type"); t {
	case "type":
		text := a.Params.String("text", "")
		if text == "" {
			return "", invalid(a, "text is required")
		}
		return fmt.Sprintf("typed %d characters", len([]rune(text))), kb.TypeText(text, a.Params.Seconds("interval", 0))
	case "press":
		key := a.Params.String("key", "")
		if key == "" {
			return "", invalid(a, "key is required")
		}
		return "pressed " + key, kb.PressKey(key)
	case "hotkey":
		keys := a.Params.Strings("keys")
		if len(keys) == 0 {
			return "", invalid(a, "keys are required")
		}
		return "hotkey " + strings.Join(keys, "+"), kb.Hotkey(keys...)
	default:
		return "", invalid(a, "unknown keyboard_type %q", t)
	}
}

func mouseExecution(e *Executor, _ context.Context, a *Action) (string, error) {
	m := e.fx.Mouse
	if m == nil {
		return "", unavailable("mouse")
	}
	speed := a.Params.Float("speed", e.cfg.MouseSpeed)
	hasPos := a.Params.Has("x") && a.Params.Has("y")
	x, y := a.Params.Int("x", 0), a.Params.Int("y", 0)
	button := a.Params.String("button", "left")

	moveFirst := func() error {
		if !hasPos {
			return nil
		}
		return m.Move(x, y, speed)
	}

	switch t := a.Params.String("mouse_type", "click"); t {
	case "move":
		if !hasPos {
			return "", invalid(a, "x and y are required")
		}
		return fmt.Sprintf("moved to %d,%d", x, y), m.Move(x, y, speed)
	case "click", "double_click", "right_click":
		clicks := a.Params.Int("clicks", 1)
		if t == "double_click" {
			clicks = 2
		}
		if t == "right_click" {
			button = "right"
		}
		if err := moveFirst(); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s click x%d", button, clicks), m.Click(button, clicks)
	case "drag":
		if !a.Params.Has("to_x") || !a.Params.Has("to_y") {
			return "", invalid(a, "to_x and to_y are required")
		}
		if err := moveFirst(); err != nil {
			return "", err
		}
		toX, toY := a.Params.Int("to_x", 0), a.Params.Int("to_y", 0)
		return fmt.Sprintf("dragged to %d,%d", toX, toY), m.Drag(toX, toY, button)
	case "scroll":
		if err := moveFirst(); err != nil {
			return "", err
		}
		amount := a.Params.Int("amount", 1)
		return fmt.Sprintf("scrolled %d", amount), m.Scroll(amount)
	default:
		return "", invalid(a, "unknown mouse_type %q", t)
	}
}

func delayExecution(e *Executor, ctx context.Context, a *Action) (string, error) {
	d := a.Params.Seconds("delay", e.cfg.DefaultDelay)
	if d < 0 {
		return "", invalid(a, "delay must not be negative")
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return "waited " + d.String(), nil
	case <-ctx.Done():
		return "", errs.Wrap(ctx.Err(), errs.ErrAction, "delay interrupted")
	}
}

func commandExecution(e *Executor, ctx context.Context, a *Action) (string, error) {
	if !e.cfg.AllowCommands {
		return "", errs.New(errs.ErrAction, "command execution is disabled")
	}
	if e.fx.Process == nil {
		return "", unavailable("process")
	}
	line := a.Params.String("command", "")
	if strings.TrimSpace(line) == "" {
		return "", invalid(a, "command is required")
	}
	if e.cfg.SafeMode {
		if tok := e.dangerousToken(line); tok != "" {
			return "", errs.Newf(errs.ErrAction, "command rejected by safe mode: %q is not allowed", tok)
		}
	}
	spec := CommandSpec{
		Shell:   true,
		Line:    line,
		Dir:     a.Params.String("cwd", ""),
		Timeout: a.Params.Seconds("timeout", e.cfg.CommandTimeout),
	}
	return e.runProcess(ctx, a, spec)
}

func scriptExecution(e *Executor, ctx context.Context, a *Action) (string, error) {
	if !e.cfg.AllowCommands {
		return "", errs.New(errs.ErrAction, "script execution is disabled")
	}
	if e.fx.Process == nil {
		return "", unavailable("process")
	}
	path := a.Params.String("path", "")
	content := a.Params.String("content", "")
	interp := a.Params.String("interpreter", "")

	var args []string
	switch {
	case path != "":
		if interp == "" {
			interp = e.cfg.ScriptInterpreters[strings.TrimPrefix(filepath.Ext(path), ".")]
		}
		if interp == "" {
			return "", invalid(a, "no interpreter for %s", filepath.Base(path))
		}
		args = append([]string{interp, path}, a.Params.Strings("args")...)
		if e.cfg.SafeMode {
			body, err := os.ReadFile(path)
			if err != nil {
				return "", errs.Wrapf(err, errs.ErrAction, "script rejected by safe mode: cannot read %s", path)
			}
			content = string(body) + "\n" + strings.Join(args[2:], " ")
		}
	case content != "":
		if interp == "" {
			interp = "sh"
		}
		args = []string{interp, "-c", content}
	default:
		return "", invalid(a, "path or content is required")
	}
	if e.cfg.SafeMode {
		if tok := e.dangerousToken(content); tok != "" {
			return "", errs.Newf(errs.ErrAction, "script rejected by safe mode: %q is not allowed", tok)
		}
	}

	spec := CommandSpec{
		Args:    args,
		Dir:     a.Params.String("cwd", ""),
		Timeout: a.Params.Seconds("timeout", e.cfg.CommandTimeout),
	}
	return e.runProcess(ctx, a, spec)
}

func (e *Executor) runProcess(ctx context.Context, a *Action, spec CommandSpec) (string, error) {
	res, err := e.fx.Process.Run(ctx, spec)
	if err != nil {
		return "", errs.Wrap(err, errs.ErrAction, "process failed to start")
	}
	if res.TimedOut {
		return "", errs.Newf(errs.ErrAction, "process timed out after %s", spec.Timeout)
	}
	out := formatProcessOutput(res)
	if res.ExitCode != 0 {
		e.log.Warn().Str("action", a.ID).Int("exitCode", res.ExitCode).Msg("Process exited with non-zero status")
		if a.Params.Bool("fail_on_error", false) {
			return out, errs.Newf(errs.ErrAction, "process exited with status %d", res.ExitCode)
		}
	}
	return out, nil
}

func formatProcessOutput(res CommandResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "exit code: %d", res.ExitCode)
	if s := strings.TrimSpace(res.Stdout); s != "" {
		b.WriteString("\nstdout: " + s)
	}
	if s := strings.TrimSpace(res.Stderr); s != "" {
		b.WriteString("\nstderr: " + s)
	}
	return b.String()
}

// dangerousToken returns the first word of line whose program name is on
// the deny list
func (e *Executor) dangerousToken(line string) string {
	words := strings.FieldsFunc(line, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', ';', '|', '&', '(', ')', '`', '<', '>', '$', '{', '}':
			return true
		}
		return false
	})
	for _, w := range words {
		base := strings.ToLower(filepath.Base(strings.Trim(w, `"'`)))
		base = strings.TrimSuffix(base, ".exe")
		if e.denied[base] {
			return base
		}
	}
	return ""
}

func screenshotExecution(e *Executor, _ context.Context, a *Action) (string, error) {
	if e.fx.Screenshot == nil {
		return "", unavailable("screenshot")
	}
	var region *image.Rectangle
	if r := a.Params.Ints("region"); len(r) > 0 {
		if len(r) != 4 || r[2] <= 0 || r[3] <= 0 {
			return "", invalid(a, "region must be [x, y, width, height]")
		}
		rect := image.Rect(r[0], r[1], r[0]+r[2], r[1]+r[3])
		region = &rect
	}
	path := a.Params.String("path", "")
	if path == "" {
		path = filepath.Join(e.cfg.ScreenshotDir, fmt.Sprintf("screenshot_%s.png", e.now().Format("20060102_150405.000")))
	}
	if err := e.fx.Screenshot.SaveRegion(region, path); err != nil {
		return "", errs.Wrap(err, errs.ErrAction, "screenshot failed")
	}
	return path, nil
}

func notificationExecution(e *Executor, _ context.Context, a *Action) (string, error) {
	if e.fx.Notifier == nil {
		return "", unavailable("notification")
	}
	msg := a.Params.String("message", "")
	if msg == "" {
		return "", invalid(a, "message is required")
	}
	title := a.Params.String("title", "ocr-watch")
	if err := e.fx.Notifier.Notify(title, msg, a.Params.Bool("sound", false)); err != nil {
		return "", errs.Wrap(err, errs.ErrAction, "notification failed")
	}
	return "notified: " + title, nil
}
