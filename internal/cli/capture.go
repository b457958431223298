package cli

import (
	"encoding/json"
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"ocr-watch/internal/errs"
	"ocr-watch/internal/logging"
	"ocr-watch/internal/ocr"
	"ocr-watch/internal/ocr/tesseract"
	"ocr-watch/internal/screenshot"
	"ocr-watch/internal/window"
)

// parseRect parses "x,y,width,height"
func parseRect(s string) (image.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, errs.Newf(errs.ErrInvalidInput, "rect %q: want x,y,width,height", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, errs.Wrapf(err, errs.ErrInvalidInput, "rect %q", s)
		}
		v[i] = n
	}
	if v[2] <= 0 || v[3] <= 0 {
		return image.Rectangle{}, errs.Newf(errs.ErrInvalidInput, "rect %q: width and height must be positive", s)
	}
	return image.Rect(v[0], v[1], v[0]+v[2], v[1]+v[3]), nil
}

func NewCaptureCommand(opts *RootOptions) *cobra.Command {
	var (
		rectFlag   string
		language   string
		windowName string
		savePath   string
		raw        bool
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Recognize the text of one screen region",
		Example: `  ocr-watch capture --rect 0,0,400,120
  ocr-watch capture --rect 10,40,300,20 --window "Build Monitor" --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			rect, err := parseRect(rectFlag)
			if err != nil {
				return err
			}
			if language == "" {
				language = cfg.Engine.DefaultArea.Language
			}

			if windowName != "" {
				window.SuppressXGBLogs()
				locator := window.NewLocator(logging.GetLogger("window"))
				defer locator.Close()
				if rect, err = locator.Resolve(windowName, rect); err != nil {
					return err
				}
			}

			annotator, err := screenshot.NewAnnotatorFromConfig(cfg.Annotate)
			if err != nil {
				return err
			}
			capturer := screenshot.New(annotator, logging.GetLogger("screenshot"))
			recognizer := tesseract.New(cfg.Recognizer, capturer, logging.GetLogger("tesseract"))

			res, err := recognizer.Recognize(cmd.Context(), rect, ocr.Options{
				Language:   language,
				Preprocess: !raw,
			})
			if err != nil {
				return err
			}
			if savePath != "" {
				if err := capturer.SaveCapture(rect, savePath, "capture"); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			fmt.Fprintln(out, res.Text)
			fmt.Fprintf(out, "confidence %.1f, %d words, %s\n", res.Confidence, len(res.Words), res.ProcessingTime)
			return nil
		},
	}

	cmd.Flags().StringVarP(&rectFlag, "rect", "r", "", "Region as x,y,width,height")
	cmd.Flags().StringVarP(&language, "lang", "l", "", "Tesseract languages, e.g. eng+deu")
	cmd.Flags().StringVarP(&windowName, "window", "w", "", "Treat the region as relative to this window")
	cmd.Flags().StringVarP(&savePath, "save", "o", "", "Also save the captured region as PNG")
	cmd.Flags().BoolVar(&raw, "raw", false, "Skip grayscale and scaling before recognition")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	_ = cmd.MarkFlagRequired("rect")
	return cmd
}
