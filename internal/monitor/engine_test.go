package monitor

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocr-watch/internal/action"
	"ocr-watch/internal/config"
	"ocr-watch/internal/errs"
	"ocr-watch/internal/events"
	"ocr-watch/internal/ocr"
	"ocr-watch/internal/rule"
	"ocr-watch/internal/scheduler"
	"ocr-watch/internal/store"
)

type fakeRecognizer struct {
	mu    sync.Mutex
	texts []string
	fails int
	calls int
	rects []image.Rectangle
	opts  []ocr.Options
	ready error
	panic bool
}

func (r *fakeRecognizer) Ready() error { return r.ready }

// Recognize fails the first fails calls, then returns texts in order,
// repeating the last one.
func (r *fakeRecognizer) Recognize(_ context.Context, rect image.Rectangle, opts ocr.Options) (ocr.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.rects = append(r.rects, rect)
	r.opts = append(r.opts, opts)
	if r.panic {
		panic("tesseract exploded")
	}
	if r.fails > 0 {
		r.fails--
		return ocr.Result{}, errors.New("capture failed")
	}
	text := ""
	if len(r.texts) > 0 {
		text = r.texts[0]
		if len(r.texts) > 1 {
			r.texts = r.texts[1:]
		}
	}
	return ocr.Result{
		Text:       text,
		Confidence: 91.5,
		Words:      []ocr.Word{{Text: text, Confidence: 91.5, BoundingBox: ocr.Box{XMax: 40, YMax: 12}}},
	}, nil
}

func (r *fakeRecognizer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeSaver struct {
	mu     sync.Mutex
	paths  []string
	labels []string
}

func (s *fakeSaver) SaveCapture(_ image.Rectangle, path, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
	s.labels = append(s.labels, label)
	return nil
}

type fakeWindows struct{ origin image.Point }

func (w fakeWindows) Resolve(title string, rect image.Rectangle) (image.Rectangle, error) {
	if title != "Terminal" {
		return image.Rectangle{}, errs.Newf(errs.ErrNotFound, "window %q", title)
	}
	return rect.Add(w.origin), nil
}

func testEngineConfig() config.Engine {
	return config.Engine{
		ErrorBackoff: 5 * time.Millisecond,
		DefaultArea: config.Area{
			RefreshRate:   5 * time.Millisecond,
			Language:      "eng",
			Preprocessing: true,
		},
	}
}

func newTestEngine(t *testing.T, rec *fakeRecognizer, st store.Store) (*Engine, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	log := zerolog.Nop()
	rules := rule.NewEngine()
	exec := action.NewExecutor(config.Executor{}, action.Effectors{}, bus, log)
	sched := scheduler.New(config.Scheduler{
		CheckInterval:      10 * time.Millisecond,
		MaxConcurrentTasks: 4,
		StopTimeout:        time.Second,
	}, exec, rules, bus, log)

	e, err := New(testEngineConfig(), Deps{
		Recognizer: rec,
		Rules:      rules,
		Actions:    exec,
		Scheduler:  sched,
		Store:      st,
		Bus:        bus,
		Log:        log,
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Stop() })
	return e, bus
}

func area(id string, ruleIDs ...string) Area {
	return Area{
		ID:      id,
		Name:    "area " + id,
		Rect:    Rect{X: 10, Y: 20, Width: 200, Height: 50},
		Enabled: true,
		RuleIDs: ruleIDs,
	}
}

func TestNewFailsWhenRecognizerUnavailable(t *testing.T) {
	rec := &fakeRecognizer{ready: errors.New("no tessdata")}
	rules := rule.NewEngine()
	exec := action.NewExecutor(config.Executor{}, action.Effectors{}, nil, zerolog.Nop())
	sched := scheduler.New(config.Scheduler{CheckInterval: time.Second, MaxConcurrentTasks: 1}, exec, rules, nil, zerolog.Nop())

	_, err := New(testEngineConfig(), Deps{Recognizer: rec, Rules: rules, Actions: exec, Scheduler: sched})
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.ErrRecognition))

	_, err = New(testEngineConfig(), Deps{Rules: rules, Actions: exec, Scheduler: sched})
	assert.True(t, errs.HasCode(err, errs.ErrInvalidInput))
}

func TestAreaCRUD(t *testing.T) {
	e, _ := newTestEngine(t, &fakeRecognizer{}, nil)
	_, err := e.Rules().AddRule(rule.Spec{ID: "err", Kind: rule.Contains, Content: "error"})
	require.NoError(t, err)

	id, err := e.AddArea(Area{Name: "generated", Rect: Rect{Width: 10, Height: 10}})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	got, ok := e.GetArea(id)
	require.True(t, ok)
	assert.Equal(t, scheduler.Duration(5*time.Millisecond), got.Config.RefreshRate)
	assert.Equal(t, "eng", got.Config.Language)
	assert.True(t, got.Config.Preprocessing)

	_, err = e.AddArea(Area{ID: id, Rect: Rect{Width: 1, Height: 1}})
	assert.True(t, errs.HasCode(err, errs.ErrAlreadyExists))
	_, err = e.AddArea(Area{ID: "flat", Rect: Rect{Width: 10}})
	assert.True(t, errs.HasCode(err, errs.ErrInvalidInput))
	_, err = e.AddArea(area("ghost", "missing"))
	assert.True(t, errs.HasCode(err, errs.ErrNotFound))

	// a partially set config keeps its own values
	custom := area("custom")
	custom.Config = AreaConfig{Language: "deu", RefreshRate: scheduler.Duration(time.Second)}
	_, err = e.AddArea(custom)
	require.NoError(t, err)
	got, _ = e.GetArea("custom")
	assert.Equal(t, "deu", got.Config.Language)
	assert.False(t, got.Config.Preprocessing)

	require.NoError(t, e.AddRuleToArea("custom", "err"))
	assert.True(t, errs.HasCode(e.AddRuleToArea("custom", "err"), errs.ErrAlreadyExists))
	assert.True(t, errs.HasCode(e.AddRuleToArea("custom", "nope"), errs.ErrNotFound))
	got, _ = e.GetArea("custom")
	assert.Equal(t, []string{"err"}, got.RuleIDs)

	require.NoError(t, e.RemoveRuleFromArea("custom", "err"))
	assert.True(t, errs.HasCode(e.RemoveRuleFromArea("custom", "err"), errs.ErrNotFound))

	assert.True(t, e.DisableArea("custom"))
	got, _ = e.GetArea("custom")
	assert.False(t, got.Enabled)
	assert.False(t, e.EnableArea("nope"))

	ids := []string{}
	for _, a := range e.Areas() {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{id, "custom"}, ids)

	assert.True(t, e.RemoveArea(id))
	assert.False(t, e.RemoveArea(id))
	assert.Len(t, e.Areas(), 1)
}

func TestIterationMatchesRulesAndUpdatesStatus(t *testing.T) {
	rec := &fakeRecognizer{texts: []string{"Build ERROR 42"}}
	e, bus := newTestEngine(t, rec, nil)
	sub, unsub := bus.Subscribe(16)
	defer unsub()

	_, err := e.Rules().AddRule(rule.Spec{ID: "err", Kind: rule.Contains, Content: "error"})
	require.NoError(t, err)
	_, err = e.Rules().AddRule(rule.Spec{ID: "ok", Kind: rule.Contains, Content: "success"})
	require.NoError(t, err)
	_, err = e.AddArea(area("a1", "err", "ok"))
	require.NoError(t, err)

	st, err := e.state("a1")
	require.NoError(t, err)
	wait := e.iterate(context.Background(), st)
	assert.Equal(t, 5*time.Millisecond, wait)

	got, _ := e.GetArea("a1")
	assert.Equal(t, "Build ERROR 42", got.Status.LastText)
	assert.Equal(t, 1, got.Status.MatchCount)
	assert.InDelta(t, 91.5, got.Status.LastConfidence, 0.001)
	assert.False(t, got.Status.LastCaptureTime.IsZero())
	assert.Equal(t, image.Rect(10, 20, 210, 70), rec.rects[0])
	assert.Equal(t, ocr.Options{Language: "eng", Preprocess: true}, rec.opts[0])

	var types []events.Type
	for len(sub) > 0 {
		ev := <-sub
		types = append(types, ev.Type)
		if ev.Type == events.RuleMatched {
			assert.Equal(t, "a1", ev.Data["area_id"])
			assert.Equal(t, "err", ev.Data["rule_id"])
		}
	}
	assert.Contains(t, types, events.TextRecognized)
	assert.Contains(t, types, events.RuleMatched)
}

func TestRuleStateIsScopedPerArea(t *testing.T) {
	rec := &fakeRecognizer{texts: []string{"42"}}
	e, _ := newTestEngine(t, rec, nil)
	_, err := e.Rules().AddRule(rule.Spec{ID: "chg", Kind: rule.Changed})
	require.NoError(t, err)
	for _, id := range []string{"a1", "a2"} {
		_, err := e.AddArea(area(id, "chg"))
		require.NoError(t, err)
	}

	st1, _ := e.state("a1")
	st2, _ := e.state("a2")
	e.iterate(context.Background(), st1)
	e.iterate(context.Background(), st2)
	e.iterate(context.Background(), st1)

	a1, _ := e.GetArea("a1")
	a2, _ := e.GetArea("a2")
	// the first sighting in each area matches; repeats in a1 do not
	assert.Equal(t, 1, a1.Status.MatchCount)
	assert.Equal(t, 1, a2.Status.MatchCount)

	e.RemoveArea("a1")
	_, ok := e.Rules().State("a1", "chg")
	assert.False(t, ok)
}

func TestRecognizerErrorsBackOffAndAreReported(t *testing.T) {
	rec := &fakeRecognizer{fails: 1, texts: []string{"ready"}}
	e, bus := newTestEngine(t, rec, nil)
	_, err := e.AddArea(area("a1"))
	require.NoError(t, err)
	sub, unsub := bus.Subscribe(16)
	defer unsub()

	st, _ := e.state("a1")
	assert.Equal(t, 5*time.Millisecond, e.iterate(context.Background(), st))
	got, _ := e.GetArea("a1")
	assert.Contains(t, got.Status.LastError, "capture failed")

	ev := <-sub
	assert.Equal(t, events.ErrorOccurred, ev.Type)
	assert.Equal(t, "a1", ev.Data["area_id"])

	e.iterate(context.Background(), st)
	got, _ = e.GetArea("a1")
	assert.Empty(t, got.Status.LastError)
	assert.Equal(t, "ready", got.Status.LastText)
}

func TestRecognizerPanicIsRecovered(t *testing.T) {
	rec := &fakeRecognizer{panic: true}
	e, _ := newTestEngine(t, rec, nil)
	_, err := e.AddArea(area("a1"))
	require.NoError(t, err)

	_, err = e.CaptureArea(context.Background(), "a1")
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.ErrRecognition))
	assert.Contains(t, err.Error(), "tesseract exploded")
}

func TestLoopSurvivesErrorsAndTriggersEventTasks(t *testing.T) {
	rec := &fakeRecognizer{fails: 3, texts: []string{"disk FULL"}}
	e, _ := newTestEngine(t, rec, nil)

	got := make(chan map[string]interface{}, 8)
	e.Scheduler().RegisterCallback("record", func(_ context.Context, params map[string]interface{}) (string, error) {
		got <- params
		return "ok", nil
	})
	_, err := e.Rules().AddRule(rule.Spec{ID: "full", Kind: rule.Contains, Content: "full"})
	require.NoError(t, err)
	_, err = e.Scheduler().AddTask(scheduler.Task{
		ID:      "on-full",
		Kind:    scheduler.Event,
		Enabled: true,
		Schedule: scheduler.Schedule{
			EventType:   "rule_matched",
			EventParams: map[string]string{"rule_id": "full"},
		},
		Target: scheduler.TargetSpec{Type: scheduler.CallbackType, ID: "record"},
	})
	require.NoError(t, err)
	_, err = e.AddArea(area("a1", "full"))
	require.NoError(t, err)

	require.True(t, e.Start(context.Background()))
	assert.False(t, e.Start(context.Background()))
	assert.True(t, e.IsRunning())

	select {
	case params := <-got:
		assert.Equal(t, "a1", params["area_id"])
		assert.Equal(t, "full", params["rule_id"])
		assert.Equal(t, "disk FULL", params["text"])
	case <-time.After(5 * time.Second):
		t.Fatal("event task was not triggered")
	}
	assert.GreaterOrEqual(t, rec.Calls(), 4)

	require.True(t, e.Stop())
	assert.False(t, e.Stop())
	a, _ := e.GetArea("a1")
	assert.False(t, a.Status.Running)
	assert.False(t, e.Scheduler().IsRunning())
}

func TestDisableStopsLoopAndEnableRestarts(t *testing.T) {
	rec := &fakeRecognizer{texts: []string{"x"}}
	e, _ := newTestEngine(t, rec, nil)
	_, err := e.AddArea(area("a1"))
	require.NoError(t, err)
	require.True(t, e.Start(context.Background()))

	require.Eventually(t, func() bool { return rec.Calls() > 0 }, 5*time.Second, time.Millisecond)
	require.True(t, e.DisableArea("a1"))
	a, _ := e.GetArea("a1")
	assert.False(t, a.Status.Running)

	calls := rec.Calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, rec.Calls())

	require.True(t, e.EnableArea("a1"))
	require.Eventually(t, func() bool { return rec.Calls() > calls }, 5*time.Second, time.Millisecond)

	// a new enabled area starts immediately on a running engine
	_, err = e.AddArea(area("a2"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		a, _ := e.GetArea("a2")
		return !a.Status.LastCaptureTime.IsZero()
	}, 5*time.Second, time.Millisecond)
}

func TestSavedCaptureNaming(t *testing.T) {
	rec := &fakeRecognizer{texts: []string{"x"}}
	e, _ := newTestEngine(t, rec, nil)
	saver := &fakeSaver{}
	e.saver = saver
	e.now = func() time.Time { return time.Date(2026, 3, 10, 14, 5, 9, 0, time.UTC) }

	a := area("a1")
	a.Config = AreaConfig{SaveImages: true, SaveDir: "/tmp/caps"}
	_, err := e.AddArea(a)
	require.NoError(t, err)

	_, err = e.CaptureArea(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, saver.paths, 1)
	assert.Equal(t, filepath.Join("/tmp/caps", "a1_20260310_140509.png"), saver.paths[0])
	assert.Equal(t, "area a1", saver.labels[0])
}

func TestWindowRelativeAreas(t *testing.T) {
	rec := &fakeRecognizer{texts: []string{"x"}}
	e, _ := newTestEngine(t, rec, nil)
	e.windows = fakeWindows{origin: image.Pt(100, 300)}

	a := area("a1")
	a.Config = AreaConfig{WindowTitle: "Terminal"}
	_, err := e.AddArea(a)
	require.NoError(t, err)
	_, err = e.CaptureArea(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, image.Rect(110, 320, 310, 370), rec.rects[0])

	b := area("b1")
	b.Config = AreaConfig{WindowTitle: "Browser"}
	_, err = e.AddArea(b)
	require.NoError(t, err)
	_, err = e.CaptureArea(context.Background(), "b1")
	assert.True(t, errs.HasCode(err, errs.ErrRecognition))
}

func TestCaptureCallback(t *testing.T) {
	rec := &fakeRecognizer{texts: []string{"hello"}}
	e, _ := newTestEngine(t, rec, nil)
	for _, id := range []string{"a1", "a2", "a3"} {
		_, err := e.AddArea(area(id))
		require.NoError(t, err)
	}
	e.DisableArea("a3")

	out, err := e.captureCallback(context.Background(), map[string]interface{}{"area_id": "a1"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	out, err = e.captureCallback(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "captured 2 areas", out)
	assert.Equal(t, 3, rec.Calls())

	_, err = e.captureCallback(context.Background(), map[string]interface{}{"area_id": "zz"})
	assert.True(t, errs.HasCode(err, errs.ErrNotFound))
}

func TestMonitorCallbacksToggleAreas(t *testing.T) {
	rec := &fakeRecognizer{texts: []string{"x"}}
	e, _ := newTestEngine(t, rec, nil)
	_, err := e.AddArea(area("a1"))
	require.NoError(t, err)
	e.DisableArea("a1")

	for _, name := range []string{"start_monitor", "stop_monitor"} {
		_, err := e.Scheduler().AddTask(scheduler.Task{
			ID:       name,
			Kind:     scheduler.Event,
			Enabled:  true,
			Schedule: scheduler.Schedule{EventType: name},
			Target: scheduler.TargetSpec{
				Type:   scheduler.CallbackType,
				ID:     name,
				Params: map[string]interface{}{"area_id": "a1"},
			},
		})
		require.NoError(t, err)
	}
	require.True(t, e.Start(context.Background()))

	require.Equal(t, 1, e.Scheduler().TriggerEvent("start_monitor", nil))
	require.Eventually(t, func() bool {
		a, _ := e.GetArea("a1")
		return a.Enabled && a.Status.Running
	}, 5*time.Second, time.Millisecond)

	require.Equal(t, 1, e.Scheduler().TriggerEvent("stop_monitor", nil))
	require.Eventually(t, func() bool {
		a, _ := e.GetArea("a1")
		return !a.Enabled && !a.Status.Running
	}, 5*time.Second, time.Millisecond)
	assert.True(t, e.IsRunning())
}
