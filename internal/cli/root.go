// Package cli defines the ocr-watch command line
package cli

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"ocr-watch/internal/config"
	"ocr-watch/internal/logging"
)

// RootOptions are the persistent flags plus the configuration they load
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	LogFile    string
	Verbosity  int

	cfg *config.Config
}

func (o *RootOptions) overrides() map[string]interface{} {
	out := map[string]interface{}{}
	switch {
	case o.Verbosity >= 2:
		out["log.level"] = "trace"
	case o.Verbosity == 1:
		out["log.level"] = "debug"
	}
	if o.LogLevel != "" {
		out["log.level"] = o.LogLevel
	}
	if o.LogFormat != "" {
		out["log.format"] = o.LogFormat
	}
	if o.LogFile != "" {
		out["log.file"] = o.LogFile
	}
	return out
}

// setup loads the configuration and configures logging from it
func (o *RootOptions) setup() error {
	cfg, err := config.Load(o.ConfigPath, o.overrides())
	if err != nil {
		return err
	}
	if err := logging.Setup(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	}); err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ocr-watch",
		Short: "Watch screen regions and react to the text they show",
		Long: `ocr-watch recognizes the text in configured screen areas, evaluates
rules against it and runs keyboard, mouse, command and notification actions
when rules match or schedules fire.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.setup(); err != nil {
				return err
			}
			log.Debug().Str("command", cmd.Name()).Msg("Command started")
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return fmt.Errorf("no command specified")
		},
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "Console log format (auto, console, json)")
	cmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", "", `Log file path, "-" disables file logging`)
	cmd.PersistentFlags().CountVarP(&opts.Verbosity, "verbose", "v", "Increase verbosity (-v DEBUG, -vv TRACE)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewCaptureCommand(opts))
	return cmd
}
