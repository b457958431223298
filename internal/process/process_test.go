//go:build !windows

package process

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocr-watch/internal/action"
)

func TestRunCapturesOutput(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	res, err := r.Run(context.Background(), action.CommandSpec{Shell: true, Line: "echo hello; echo oops 1>&2", Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Zero(t, res.ExitCode)
	assert.False(t, res.TimedOut)
}

func TestRunReportsExitCode(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	res, err := r.Run(context.Background(), action.CommandSpec{Args: []string{"sh", "-c", "exit 3"}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
}

func TestRunTimesOut(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	start := time.Now()
	res, err := r.Run(context.Background(), action.CommandSpec{Args: []string{"sleep", "5"}, Timeout: 100 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRunHonoursCancellation(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := r.Run(ctx, action.CommandSpec{Args: []string{"sleep", "5"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunMissingProgram(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	_, err := r.Run(context.Background(), action.CommandSpec{Args: []string{"definitely-not-a-program-xyz"}})
	assert.Error(t, err)

	_, err = r.Run(context.Background(), action.CommandSpec{})
	assert.Error(t, err)
}

func TestRunWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner(zerolog.Nop())
	res, err := r.Run(context.Background(), action.CommandSpec{Shell: true, Line: "pwd", Dir: dir})
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, dir)
}
