package tesseract

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocr-watch/internal/config"
	"ocr-watch/internal/errs"
	"ocr-watch/internal/ocr"
)

type failingCapture struct{}

func (failingCapture) Capture(image.Rectangle) (image.Image, error) {
	return nil, errors.New("no display")
}

func TestToWordsUnscales(t *testing.T) {
	boxes := []gosseract.BoundingBox{
		{Word: "HP", Confidence: 91.2, Box: image.Rect(20, 10, 60, 30)},
		{Word: "  ", Confidence: 10, Box: image.Rect(0, 0, 1, 1)},
	}
	words := toWords(boxes, 2)
	require.Len(t, words, 1)
	assert.Equal(t, ocr.Box{XMin: 10, YMin: 5, XMax: 30, YMax: 15}, words[0].BoundingBox)
	assert.Equal(t, "HP", words[0].Text)
}

func TestLanguagesFromPrefix(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"eng.traineddata", "deu.traineddata", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), nil, 0o644))
	}
	r := New(config.Recognizer{TessdataPrefix: dir, Scale: 2}, failingCapture{}, zerolog.Nop())
	langs, err := r.Languages()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"eng", "deu"}, langs)
	assert.NoError(t, r.Ready())
}

func TestReadyFailsWithoutData(t *testing.T) {
	r := New(config.Recognizer{TessdataPrefix: t.TempDir()}, failingCapture{}, zerolog.Nop())
	err := r.Ready()
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.ErrRecognition))

	r = New(config.Recognizer{TessdataPrefix: filepath.Join(t.TempDir(), "missing")}, failingCapture{}, zerolog.Nop())
	assert.Error(t, r.Ready())
}

func TestRecognizeCaptureError(t *testing.T) {
	r := New(config.Recognizer{Scale: 2}, failingCapture{}, zerolog.Nop())
	_, err := r.Recognize(context.Background(), image.Rect(0, 0, 10, 10), ocr.Options{Language: "eng"})
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.ErrRecognition))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Recognize(ctx, image.Rect(0, 0, 10, 10), ocr.Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
