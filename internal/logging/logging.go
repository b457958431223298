package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls logger setup
type Options struct {
	Level  string // trace|debug|info|warn|error
	Format string // auto|console|json
	// File is the log file path. Empty uses the XDG state dir, "-" disables file output.
	File string
}

// Setup configures the global logger. Console output is pretty-printed when
// stderr is a terminal (or format=console) and JSON otherwise; a copy of every
// record is appended to the log file.
func Setup(opts Options) error {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var console io.Writer = os.Stderr
	switch opts.Format {
	case "json":
	case "console":
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	default:
		if isatty.IsTerminal(os.Stderr.Fd()) {
			console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		}
	}

	writers := []io.Writer{console}
	logFile := opts.File
	var fileErr error
	if logFile != "-" {
		if logFile == "" {
			logFile = DefaultLogFile()
		}
		var f *os.File
		f, fileErr = openLogFile(logFile)
		if fileErr == nil {
			writers = append(writers, f)
		}
	}

	log.Logger = zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()
	if level <= zerolog.DebugLevel {
		log.Logger = log.Logger.With().Caller().Logger()
	}

	if fileErr != nil {
		log.Warn().Err(fileErr).Str("path", logFile).Msg("Failed to open log file, logging to console only")
	}
	log.Debug().Str("level", level.String()).Str("logFile", logFile).Msg("Logger initialized")
	return nil
}

// GetLogger returns a logger tagged with the given component name
func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// DefaultLogFile is ocr-watch.log under the XDG state home
func DefaultLogFile() string {
	return filepath.Join(xdg.StateHome, "ocr-watch", "ocr-watch.log")
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// LogDuration logs how long an operation took at debug level
func LogDuration(logger zerolog.Logger, start time.Time, operation string) {
	logger.Debug().
		Str("operation", operation).
		Dur("duration", time.Since(start)).
		Msg("Operation completed")
}
