package app

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocr-watch/internal/action"
	"ocr-watch/internal/config"
	"ocr-watch/internal/events"
	"ocr-watch/internal/monitor"
	"ocr-watch/internal/ocr"
	"ocr-watch/internal/store"
)

type textRecognizer struct{}

func (textRecognizer) Recognize(context.Context, image.Rectangle, ocr.Options) (ocr.Result, error) {
	return ocr.Result{Text: "queue length 12", Confidence: 90}, nil
}

type nopSaver struct{}

func (nopSaver) SaveCapture(image.Rectangle, string, string) error { return nil }

type nopWindows struct{}

func (nopWindows) Resolve(_ string, rect image.Rectangle) (image.Rectangle, error) { return rect, nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("", map[string]interface{}{
		"store.driver":                     "memory",
		"server.enabled":                   false,
		"engine.auto_start":                true,
		"engine.default_area.refresh_rate": "10ms",
		"scheduler.check_interval":         "10ms",
	})
	require.NoError(t, err)
	return cfg
}

func testOptions() Options {
	return Options{
		Recognizer: textRecognizer{},
		Effectors:  &action.Effectors{},
		Saver:      nopSaver{},
		Windows:    nopWindows{},
	}
}

func TestRunStartsEngineAndSavesOnShutdown(t *testing.T) {
	a, err := New(testConfig(t), testOptions())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Engine().AddArea(monitor.Area{ID: "queue", Rect: monitor.Rect{Width: 50, Height: 10}, Enabled: true})
	require.NoError(t, err)

	sub, unsub := a.Bus().Subscribe(64)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// wait for the first recognition
	deadline := time.After(5 * time.Second)
wait:
	for {
		select {
		case ev := <-sub:
			if ev.Type == events.TextRecognized {
				break wait
			}
		case <-deadline:
			t.Fatal("no text recognized")
		}
	}
	assert.True(t, a.Engine().IsRunning())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
	assert.False(t, a.Engine().IsRunning())

	records, err := a.store.Load(context.Background(), store.Areas)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "queue", records[0].ID)
}

func TestNewRejectsUnknownStoreDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "postgres"
	_, err := New(cfg, testOptions())
	assert.Error(t, err)
}
