package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"ocr-watch/internal/app"
)

func NewRunCommand(opts *RootOptions) *cobra.Command {
	var (
		idle     bool
		noServer bool
		port     int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start monitoring and serve the control API",
		Long: `Loads the saved areas, rules, actions and tasks, starts the monitor
engine and serves the control API until interrupted. State is saved on
shutdown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			cfg.Engine.AutoStart = !idle
			if noServer {
				cfg.Server.Enabled = false
			}
			if port != 0 {
				cfg.Server.Port = port
			}

			a, err := app.New(cfg, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info().
				Str("store", cfg.Store.Driver).
				Str("path", cfg.Store.Path).
				Bool("server", cfg.Server.Enabled).
				Msg("Starting")
			return a.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&idle, "idle", false, "Do not start the engine; wait for /engine/start")
	cmd.Flags().BoolVar(&noServer, "no-server", false, "Do not serve the control API")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Control API port (overrides server.port)")
	return cmd
}
