package app

import (
	"context"
	"image"

	"ocr-watch/internal/action"
	"ocr-watch/internal/errs"
	"ocr-watch/internal/ocr"
)

type offline struct{}

func (offline) Recognize(context.Context, image.Rectangle, ocr.Options) (ocr.Result, error) {
	return ocr.Result{}, errs.New(errs.ErrRecognition, "recognition is disabled")
}

func (offline) SaveCapture(image.Rectangle, string, string) error {
	return errs.New(errs.ErrRecognition, "capture is disabled")
}

func (offline) Resolve(string, image.Rectangle) (image.Rectangle, error) {
	return image.Rectangle{}, errs.New(errs.ErrRecognition, "window lookup is disabled")
}

// Offline returns options that touch neither the display nor the input
// devices. Used to load and check saved state without a desktop session.
func Offline() Options {
	return Options{
		Recognizer: offline{},
		Effectors:  &action.Effectors{},
		Saver:      offline{},
		Windows:    offline{},
	}
}
