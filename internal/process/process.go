// Package process runs child processes for command and script actions.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"ocr-watch/internal/action"
)

// waitDelay bounds how long Run waits for output pipes after a kill
const waitDelay = 2 * time.Second

// Runner executes processes with a timeout and captured output
type Runner struct {
	log zerolog.Logger
}

func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{log: log}
}

// Run starts spec and waits for it. A non-zero exit is reported in the
// result, not as an error; err is set only when the process could not run
// or ctx was cancelled.
func (r *Runner) Run(ctx context.Context, spec action.CommandSpec) (action.CommandResult, error) {
	args := spec.Args
	if spec.Shell {
		args = shellArgs(spec.Line)
	}
	if len(args) == 0 {
		return action.CommandResult{}, fmt.Errorf("empty command")
	}

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Dir = spec.Dir
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := action.CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	r.log.Debug().Strs("args", args).Dur("took", time.Since(start)).Msg("Process finished")

	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = -1
		return res, nil
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, err
	}
	return res, nil
}

func shellArgs(line string) []string {
	if runtime.GOOS == "windows" {
		return []string{"cmd", "/C", line}
	}
	return []string{"sh", "-c", line}
}
