package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"ocr-watch/internal/app"
	"ocr-watch/internal/logging"
	"ocr-watch/internal/ocr/tesseract"
)

func NewValidateCommand(opts *RootOptions) *cobra.Command {
	var skipOCR bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and the saved state",
		Long: `Loads the configuration and every saved rule, rule set, action,
sequence, area and task, and reports the ones that fail to compile or
reference missing items. Also checks that Tesseract language data is
installed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg := opts.cfg

			a, err := app.New(cfg, app.Offline())
			if err != nil {
				return err
			}
			defer a.Close()

			problems := 0
			if err := a.Engine().Load(context.Background()); err != nil {
				for _, e := range flatten(err) {
					fmt.Fprintf(out, "  ✗ %v\n", e)
					problems++
				}
			}

			e := a.Engine()
			fmt.Fprintf(out, "store %s (%s)\n", cfg.Store.Driver, cfg.Store.Path)
			fmt.Fprintf(out, "  %d rules, %d rule sets\n", len(e.Rules().Rules()), len(e.Rules().Sets()))
			fmt.Fprintf(out, "  %d actions, %d sequences\n", len(e.Actions().Actions()), len(e.Actions().Sequences()))
			fmt.Fprintf(out, "  %d areas, %d tasks\n", len(e.Areas()), len(e.Scheduler().Tasks()))

			if !skipOCR {
				problems += checkTesseract(out, tesseract.New(cfg.Recognizer, nil, logging.GetLogger("tesseract")))
			}

			if problems > 0 {
				return fmt.Errorf("%d problems found", problems)
			}
			fmt.Fprintln(out, "ok")
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipOCR, "skip-ocr", false, "Do not check the Tesseract installation")
	return cmd
}

func checkTesseract(out io.Writer, r *tesseract.Recognizer) int {
	if err := r.Ready(); err != nil {
		fmt.Fprintf(out, "  ✗ %v\n", err)
		return 1
	}
	langs, _ := r.Languages()
	fmt.Fprintf(out, "tesseract languages: %v\n", langs)
	return 0
}

// flatten expands joined errors into their parts
func flatten(err error) []error {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []error
		for _, e := range joined.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	return []error{err}
}
