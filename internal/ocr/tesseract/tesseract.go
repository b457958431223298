// Package tesseract recognizes text in screen regions with Tesseract.
package tesseract

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog"

	"ocr-watch/internal/config"
	"ocr-watch/internal/errs"
	"ocr-watch/internal/ocr"
	"ocr-watch/internal/screenshot"
)

// Capturer supplies the pixels of a region
type Capturer interface {
	Capture(rect image.Rectangle) (image.Image, error)
}

// Recognizer captures a region and runs Tesseract over it. Each call uses
// its own client, so areas can be recognized concurrently.
type Recognizer struct {
	cfg     config.Recognizer
	capture Capturer
	log     zerolog.Logger
}

func New(cfg config.Recognizer, capture Capturer, log zerolog.Logger) *Recognizer {
	return &Recognizer{cfg: cfg, capture: capture, log: log}
}

// Languages lists the installed traineddata files
func (r *Recognizer) Languages() ([]string, error) {
	if r.cfg.TessdataPrefix == "" {
		return gosseract.GetAvailableLanguages()
	}
	files, err := filepath.Glob(filepath.Join(r.cfg.TessdataPrefix, "*.traineddata"))
	if err != nil {
		return nil, err
	}
	langs := make([]string, 0, len(files))
	for _, f := range files {
		langs = append(langs, strings.TrimSuffix(filepath.Base(f), ".traineddata"))
	}
	return langs, nil
}

// Ready fails when Tesseract has no language data installed
func (r *Recognizer) Ready() error {
	if r.cfg.TessdataPrefix != "" {
		if _, err := os.Stat(r.cfg.TessdataPrefix); err != nil {
			return errs.Wrapf(err, errs.ErrRecognition, "tessdata prefix %s", r.cfg.TessdataPrefix)
		}
	}
	langs, err := r.Languages()
	if err != nil {
		return errs.Wrap(err, errs.ErrRecognition, "failed to list tesseract languages")
	}
	if len(langs) == 0 {
		return errs.New(errs.ErrRecognition, "no tesseract language data installed")
	}
	r.log.Info().Str("version", gosseract.Version()).Strs("languages", langs).Msg("Tesseract ready")
	return nil
}

// Recognize captures rect and returns its text with word boxes relative to
// rect.
func (r *Recognizer) Recognize(ctx context.Context, rect image.Rectangle, opts ocr.Options) (ocr.Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}

	img, err := r.capture.Capture(rect)
	if err != nil {
		return ocr.Result{}, errs.Wrap(err, errs.ErrRecognition, "capture failed")
	}
	scale := 1.0
	if opts.Preprocess {
		scale = r.cfg.Scale
		img = screenshot.Preprocess(img, scale)
	}
	data, err := screenshot.EncodeToPNG(img)
	if err != nil {
		return ocr.Result{}, errs.Wrap(err, errs.ErrRecognition, "encode failed")
	}

	text, words, err := r.run(data, opts.Language, scale)
	if err != nil {
		return ocr.Result{}, err
	}
	return ocr.Result{
		Text:           text,
		Confidence:     ocr.MeanConfidence(words),
		Words:          words,
		ProcessingTime: time.Since(start),
	}, nil
}

func (r *Recognizer) run(png []byte, language string, scale float64) (string, []ocr.Word, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if r.cfg.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(r.cfg.TessdataPrefix); err != nil {
			return "", nil, errs.Wrap(err, errs.ErrRecognition, "set tessdata prefix")
		}
	}
	if language != "" {
		if err := client.SetLanguage(strings.Split(language, "+")...); err != nil {
			return "", nil, errs.Wrapf(err, errs.ErrRecognition, "set language %s", language)
		}
	}
	if err := client.SetImageFromBytes(png); err != nil {
		return "", nil, errs.Wrap(err, errs.ErrRecognition, "set image")
	}

	text, err := client.Text()
	if err != nil {
		return "", nil, errs.Wrap(err, errs.ErrRecognition, "tesseract failed")
	}
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return "", nil, errs.Wrap(err, errs.ErrRecognition, "tesseract boxes failed")
	}
	return strings.TrimSpace(text), toWords(boxes, scale), nil
}

// toWords maps boxes from the scaled image back to region coordinates
func toWords(boxes []gosseract.BoundingBox, scale float64) []ocr.Word {
	if scale <= 0 {
		scale = 1
	}
	unscale := func(v int) int { return int(float64(v) / scale) }
	words := make([]ocr.Word, 0, len(boxes))
	for _, b := range boxes {
		w := strings.TrimSpace(b.Word)
		if w == "" {
			continue
		}
		words = append(words, ocr.Word{
			Text:       w,
			Confidence: ocr.Float64WithPrecision(b.Confidence),
			BoundingBox: ocr.Box{
				XMin: unscale(b.Box.Min.X),
				YMin: unscale(b.Box.Min.Y),
				XMax: unscale(b.Box.Max.X),
				YMax: unscale(b.Box.Max.Y),
			},
		})
	}
	return slices.Clip(words)
}
