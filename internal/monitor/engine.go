// Package monitor watches screen areas, feeds their text to the rule
// engine and raises scheduler events when rules match.
package monitor

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ocr-watch/internal/action"
	"ocr-watch/internal/config"
	"ocr-watch/internal/errs"
	"ocr-watch/internal/events"
	"ocr-watch/internal/ocr"
	"ocr-watch/internal/rule"
	"ocr-watch/internal/scheduler"
	"ocr-watch/internal/store"
)

// Deps are the collaborators an Engine composes. Recognizer, Rules,
// Actions and Scheduler are required.
type Deps struct {
	Recognizer Recognizer
	Rules      *rule.Engine
	Actions    *action.Executor
	Scheduler  *scheduler.Scheduler
	Store      store.Store
	Saver      CaptureSaver
	Windows    WindowResolver
	Bus        events.Publisher
	Log        zerolog.Logger
}

type areaState struct {
	mu    sync.Mutex
	area  Area
	words []ocr.Word

	cancel context.CancelFunc
	done   chan struct{}
}

func (a *areaState) snapshot() Area {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.area.clone()
}

// Engine owns the area table and runs one loop per enabled area while
// started.
type Engine struct {
	cfg        config.Engine
	recognizer Recognizer
	rules      *rule.Engine
	actions    *action.Executor
	sched      *scheduler.Scheduler
	store      store.Store
	saver      CaptureSaver
	windows    WindowResolver
	bus        events.Publisher
	log        zerolog.Logger
	now        func() time.Time

	mu        sync.Mutex
	areas     map[string]*areaState
	order     []string
	running   bool
	runCtx    context.Context
	runCancel context.CancelFunc
	loops     sync.WaitGroup
	saverDone chan struct{}
}

// New builds an engine and registers its scheduler callbacks. It fails when
// the recognizer reports that it cannot work at all.
func New(cfg config.Engine, deps Deps) (*Engine, error) {
	switch {
	case deps.Recognizer == nil:
		return nil, errs.New(errs.ErrInvalidInput, "monitor engine needs a recognizer")
	case deps.Rules == nil || deps.Actions == nil || deps.Scheduler == nil:
		return nil, errs.New(errs.ErrInvalidInput, "monitor engine needs rules, actions and a scheduler")
	}
	if rc, ok := deps.Recognizer.(ReadyChecker); ok {
		if err := rc.Ready(); err != nil {
			return nil, errs.Wrap(err, errs.ErrRecognition, "recognizer is unavailable")
		}
	}
	if deps.Bus == nil {
		deps.Bus = events.Discard{}
	}
	if deps.Store == nil {
		deps.Store = store.NewMemory()
	}

	e := &Engine{
		cfg:        cfg,
		recognizer: deps.Recognizer,
		rules:      deps.Rules,
		actions:    deps.Actions,
		sched:      deps.Scheduler,
		store:      deps.Store,
		saver:      deps.Saver,
		windows:    deps.Windows,
		bus:        deps.Bus,
		log:        deps.Log,
		now:        time.Now,
		areas:      make(map[string]*areaState),
	}
	e.registerCallbacks()
	return e, nil
}

func (e *Engine) Rules() *rule.Engine { return e.rules }

func (e *Engine) Actions() *action.Executor { return e.actions }

func (e *Engine) Scheduler() *scheduler.Scheduler { return e.sched }

// AddArea validates and stores a, generating an id when empty. The area's
// loop starts right away when the engine is running and a is enabled.
func (e *Engine) AddArea(a Area) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if err := e.validate(a); err != nil {
		return "", err
	}
	a = a.clone()
	a.Config = a.Config.withDefaults(e.cfg.DefaultArea)
	a.Status = Status{}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.areas[a.ID]; exists {
		return "", errs.Newf(errs.ErrAlreadyExists, "area %s already exists", a.ID)
	}
	st := &areaState{area: a}
	e.areas[a.ID] = st
	e.order = append(e.order, a.ID)
	if e.running && a.Enabled {
		e.startLoopLocked(st)
	}
	e.log.Info().Str("area", a.ID).Str("name", a.Name).Msg("Area added")
	e.bus.Publish(events.AreaAdded, map[string]interface{}{"area_id": a.ID, "name": a.Name})
	return a.ID, nil
}

func (e *Engine) validate(a Area) error {
	if a.Rect.Width <= 0 || a.Rect.Height <= 0 {
		return errs.Newf(errs.ErrInvalidInput, "area %s: width and height must be positive", a.ID)
	}
	if a.Config.RefreshRate < 0 {
		return errs.Newf(errs.ErrInvalidInput, "area %s: refresh_rate must not be negative", a.ID)
	}
	for _, id := range a.RuleIDs {
		if !e.rules.HasRule(id) {
			return errs.Newf(errs.ErrNotFound, "area %s: rule %s", a.ID, id)
		}
	}
	return nil
}

// UpdateArea replaces the definition of an existing area, keeping its
// status. A running loop picks up the change on its next iteration.
func (e *Engine) UpdateArea(a Area) error {
	if err := e.validate(a); err != nil {
		return err
	}
	a = a.clone()
	a.Config = a.Config.withDefaults(e.cfg.DefaultArea)

	e.mu.Lock()
	st, ok := e.areas[a.ID]
	if !ok {
		e.mu.Unlock()
		return errs.Newf(errs.ErrNotFound, "area %s", a.ID)
	}
	st.mu.Lock()
	a.Status = st.area.Status
	st.area = a
	st.mu.Unlock()

	var wait chan struct{}
	switch {
	case e.running && a.Enabled && st.cancel == nil:
		e.startLoopLocked(st)
	case !a.Enabled && st.cancel != nil:
		wait = e.stopLoopLocked(st)
	}
	e.mu.Unlock()

	if wait != nil {
		<-wait
	}
	return nil
}

// RemoveArea stops the area's loop and forgets it and its rule state
func (e *Engine) RemoveArea(id string) bool {
	e.mu.Lock()
	st, ok := e.areas[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	wait := e.stopLoopLocked(st)
	delete(e.areas, id)
	e.order = slices.DeleteFunc(e.order, func(v string) bool { return v == id })
	e.mu.Unlock()

	if wait != nil {
		<-wait
	}
	e.rules.ResetScope(id)
	e.log.Info().Str("area", id).Msg("Area removed")
	e.bus.Publish(events.AreaRemoved, map[string]interface{}{"area_id": id})
	return true
}

// GetArea returns a snapshot of the area
func (e *Engine) GetArea(id string) (Area, bool) {
	e.mu.Lock()
	st, ok := e.areas[id]
	e.mu.Unlock()
	if !ok {
		return Area{}, false
	}
	return st.snapshot(), true
}

// Areas returns snapshots in insertion order
func (e *Engine) Areas() []Area {
	e.mu.Lock()
	states := make([]*areaState, 0, len(e.order))
	for _, id := range e.order {
		states = append(states, e.areas[id])
	}
	e.mu.Unlock()

	out := make([]Area, 0, len(states))
	for _, st := range states {
		out = append(out, st.snapshot())
	}
	return out
}

func (e *Engine) EnableArea(id string) bool {
	return e.setEnabled(id, true)
}

// DisableArea stops the area's loop, waiting for an in-flight iteration to
// finish before returning.
func (e *Engine) DisableArea(id string) bool {
	return e.setEnabled(id, false)
}

func (e *Engine) setEnabled(id string, enabled bool) bool {
	e.mu.Lock()
	st, ok := e.areas[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	st.mu.Lock()
	st.area.Enabled = enabled
	st.mu.Unlock()

	var wait chan struct{}
	switch {
	case enabled && e.running && st.cancel == nil:
		e.startLoopLocked(st)
	case !enabled:
		wait = e.stopLoopLocked(st)
	}
	e.mu.Unlock()

	if wait != nil {
		<-wait
	}
	typ := events.AreaEnabled
	if !enabled {
		typ = events.AreaDisabled
	}
	e.log.Info().Str("area", id).Bool("enabled", enabled).Msg("Area toggled")
	e.bus.Publish(typ, map[string]interface{}{"area_id": id, "enabled": enabled})
	return true
}

// AddRuleToArea attaches an existing rule to an area
func (e *Engine) AddRuleToArea(areaID, ruleID string) error {
	if !e.rules.HasRule(ruleID) {
		return errs.Newf(errs.ErrNotFound, "rule %s", ruleID)
	}
	st, err := e.state(areaID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if slices.Contains(st.area.RuleIDs, ruleID) {
		return errs.Newf(errs.ErrAlreadyExists, "rule %s is already attached to area %s", ruleID, areaID)
	}
	st.area.RuleIDs = append(slices.Clip(st.area.RuleIDs), ruleID)
	return nil
}

func (e *Engine) RemoveRuleFromArea(areaID, ruleID string) error {
	st, err := e.state(areaID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	i := slices.Index(st.area.RuleIDs, ruleID)
	if i < 0 {
		return errs.Newf(errs.ErrNotFound, "rule %s is not attached to area %s", ruleID, areaID)
	}
	st.area.RuleIDs = slices.Delete(slices.Clone(st.area.RuleIDs), i, i+1)
	return nil
}

func (e *Engine) state(id string) (*areaState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.areas[id]
	if !ok {
		return nil, errs.Newf(errs.ErrNotFound, "area %s", id)
	}
	return st, nil
}

// Start starts the scheduler and a loop for every enabled area. Returns
// false if already running.
func (e *Engine) Start(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		e.log.Warn().Msg("Engine already running")
		return false
	}
	e.runCtx, e.runCancel = context.WithCancel(ctx)
	e.running = true

	e.sched.Start(ctx)
	for _, id := range e.order {
		st := e.areas[id]
		st.mu.Lock()
		enabled := st.area.Enabled
		st.mu.Unlock()
		if enabled {
			e.startLoopLocked(st)
		}
	}
	if e.cfg.AutoSave && e.cfg.SaveInterval > 0 {
		e.saverDone = make(chan struct{})
		go e.autoSave(e.runCtx, e.saverDone)
	}

	e.log.Info().Int("areas", len(e.order)).Msg("Engine started")
	e.bus.Publish(events.EngineStarted, nil)
	return true
}

// Stop signals every area loop and the scheduler and waits for them.
// Returns false if not running.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return false
	}
	e.running = false
	var waits []chan struct{}
	for _, id := range e.order {
		if w := e.stopLoopLocked(e.areas[id]); w != nil {
			waits = append(waits, w)
		}
	}
	e.runCancel()
	saverDone := e.saverDone
	e.saverDone = nil
	e.mu.Unlock()

	for _, w := range waits {
		<-w
	}
	e.loops.Wait()
	e.sched.Stop()
	if saverDone != nil {
		<-saverDone
	}
	if e.cfg.AutoSave {
		if err := e.Save(context.Background()); err != nil {
			e.reportError("persistence", "", err)
		}
	}

	e.log.Info().Msg("Engine stopped")
	e.bus.Publish(events.EngineStopped, nil)
	return true
}

func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// startLoopLocked launches st's loop. Caller holds e.mu.
func (e *Engine) startLoopLocked(st *areaState) {
	ctx, cancel := context.WithCancel(e.runCtx)
	done := make(chan struct{})
	st.cancel = cancel
	st.done = done

	st.mu.Lock()
	st.area.Status.Running = true
	st.mu.Unlock()

	e.loops.Add(1)
	go e.runArea(ctx, st, done)
}

// stopLoopLocked cancels st's loop and returns a channel closed when it has
// exited, or nil if it was not running. Caller holds e.mu.
func (e *Engine) stopLoopLocked(st *areaState) chan struct{} {
	if st.cancel == nil {
		return nil
	}
	st.cancel()
	done := st.done
	st.cancel, st.done = nil, nil
	return done
}

func (e *Engine) registerCallbacks() {
	e.sched.RegisterCallback("start_monitor", func(_ context.Context, params map[string]interface{}) (string, error) {
		if id, _ := params["area_id"].(string); id != "" {
			if !e.EnableArea(id) {
				return "", errs.Newf(errs.ErrNotFound, "area %s", id)
			}
			return "area " + id + " enabled", nil
		}
		if !e.Start(context.Background()) {
			return "engine already running", nil
		}
		return "engine started", nil
	})
	e.sched.RegisterCallback("stop_monitor", func(_ context.Context, params map[string]interface{}) (string, error) {
		if id, _ := params["area_id"].(string); id != "" {
			if !e.DisableArea(id) {
				return "", errs.Newf(errs.ErrNotFound, "area %s", id)
			}
			return "area " + id + " disabled", nil
		}
		// Stop waits for scheduler workers, this one included
		go e.Stop()
		return "engine stopping", nil
	})
	e.sched.RegisterCallback("capture_area", e.captureCallback)
}

func (e *Engine) reportError(source, areaID string, err error) {
	ev := e.log.Error().Err(err).Str("source", source)
	data := map[string]interface{}{"source": source, "error": err.Error()}
	if areaID != "" {
		ev = ev.Str("area", areaID)
		data["area_id"] = areaID
	}
	ev.Msg("Engine error")
	e.bus.Publish(events.ErrorOccurred, data)
}
