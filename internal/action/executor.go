// Package action runs keyboard, mouse, process and notification effects,
// alone or as ordered sequences.
package action

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ocr-watch/internal/config"
	"ocr-watch/internal/errs"
	"ocr-watch/internal/events"
)

// Executor owns the action and sequence tables. At most one sequence runs
// at a time; single actions may run concurrently with it.
type Executor struct {
	cfg    config.Executor
	fx     Effectors
	log    zerolog.Logger
	bus    events.Publisher
	denied map[string]bool
	now    func() time.Time

	mu        sync.RWMutex
	actions   map[string]*Action
	order     []string
	sequences map[string]*Sequence
	seqOrder  []string

	running  atomic.Bool
	runMu    sync.Mutex
	stopCh   chan struct{}
	stopOnce *sync.Once
	current  string
}

func NewExecutor(cfg config.Executor, fx Effectors, bus events.Publisher, log zerolog.Logger) *Executor {
	if bus == nil {
		bus = events.Discard{}
	}
	denied := make(map[string]bool, len(cfg.DangerousCommands))
	for _, c := range cfg.DangerousCommands {
		denied[strings.ToLower(c)] = true
	}
	return &Executor{
		cfg:       cfg,
		fx:        fx,
		log:       log,
		bus:       bus,
		denied:    denied,
		now:       time.Now,
		actions:   make(map[string]*Action),
		sequences: make(map[string]*Sequence),
	}
}

// AddAction registers a; an empty id is generated. Returns the stored id.
func (e *Executor) AddAction(a Action) (string, error) {
	if !KnownKind(a.Kind) {
		return "", errs.Newf(errs.ErrInvalidInput, "unknown action kind %q", a.Kind)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Params == nil {
		a.Params = Params{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.actions[a.ID]; exists {
		return "", errs.Newf(errs.ErrAlreadyExists, "action %s already exists", a.ID)
	}
	e.actions[a.ID] = &a
	e.order = append(e.order, a.ID)
	return a.ID, nil
}

// UpdateAction replaces the definition of an existing action
func (e *Executor) UpdateAction(a Action) error {
	if !KnownKind(a.Kind) {
		return errs.Newf(errs.ErrInvalidInput, "unknown action kind %q", a.Kind)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	old, exists := e.actions[a.ID]
	if !exists {
		return errs.Newf(errs.ErrNotFound, "action %s", a.ID)
	}
	a.LastExecuted = old.LastExecuted
	e.actions[a.ID] = &a
	return nil
}

// RemoveAction deletes an action and drops it from every sequence
func (e *Executor) RemoveAction(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.actions[id]; !exists {
		return false
	}
	delete(e.actions, id)
	e.order = slices.DeleteFunc(e.order, func(s string) bool { return s == id })
	for _, seq := range e.sequences {
		seq.ActionIDs = slices.DeleteFunc(slices.Clone(seq.ActionIDs), func(s string) bool { return s == id })
	}
	return true
}

// GetAction returns a copy of the action
func (e *Executor) GetAction(id string) (Action, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.actions[id]
	if !ok {
		return Action{}, false
	}
	return *a, true
}

// Actions returns copies of all actions in insertion order
func (e *Executor) Actions() []Action {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Action, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, *e.actions[id])
	}
	return out
}

// CreateSequence registers a sequence of existing actions
func (e *Executor) CreateSequence(s Sequence) (string, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.ActionIDs = slices.Clone(s.ActionIDs)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.sequences[s.ID]; exists {
		return "", errs.Newf(errs.ErrAlreadyExists, "sequence %s already exists", s.ID)
	}
	for _, id := range s.ActionIDs {
		if _, ok := e.actions[id]; !ok {
			return "", errs.Newf(errs.ErrNotFound, "sequence %s: action %s", s.ID, id)
		}
	}
	e.sequences[s.ID] = &s
	e.seqOrder = append(e.seqOrder, s.ID)
	return s.ID, nil
}

func (e *Executor) RemoveSequence(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.sequences[id]; !exists {
		return false
	}
	delete(e.sequences, id)
	e.seqOrder = slices.DeleteFunc(e.seqOrder, func(s string) bool { return s == id })
	return true
}

// AddToSequence inserts actionID at position; a negative or out of range
// position appends.
func (e *Executor) AddToSequence(seqID, actionID string, position int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	seq, ok := e.sequences[seqID]
	if !ok {
		return errs.Newf(errs.ErrNotFound, "sequence %s", seqID)
	}
	if _, ok := e.actions[actionID]; !ok {
		return errs.Newf(errs.ErrNotFound, "action %s", actionID)
	}
	ids := slices.Clone(seq.ActionIDs)
	if position < 0 || position >= len(ids) {
		ids = append(ids, actionID)
	} else {
		ids = slices.Insert(ids, position, actionID)
	}
	seq.ActionIDs = ids
	return nil
}

// RemoveFromSequence removes the step at index
func (e *Executor) RemoveFromSequence(seqID string, index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	seq, ok := e.sequences[seqID]
	if !ok {
		return errs.Newf(errs.ErrNotFound, "sequence %s", seqID)
	}
	if index < 0 || index >= len(seq.ActionIDs) {
		return errs.Newf(errs.ErrInvalidInput, "sequence %s has no step %d", seqID, index)
	}
	seq.ActionIDs = slices.Delete(slices.Clone(seq.ActionIDs), index, index+1)
	return nil
}

// ReorderSequence replaces the step order. ids must be a permutation of the
// current steps.
func (e *Executor) ReorderSequence(seqID string, ids []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	seq, ok := e.sequences[seqID]
	if !ok {
		return errs.Newf(errs.ErrNotFound, "sequence %s", seqID)
	}
	a, b := slices.Clone(seq.ActionIDs), slices.Clone(ids)
	slices.Sort(a)
	slices.Sort(b)
	if !slices.Equal(a, b) {
		return errs.Newf(errs.ErrInvalidInput, "sequence %s: new order must contain the same steps", seqID)
	}
	seq.ActionIDs = slices.Clone(ids)
	return nil
}

// GetSequence returns a copy of the sequence
func (e *Executor) GetSequence(id string) (Sequence, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sequences[id]
	if !ok {
		return Sequence{}, false
	}
	out := *s
	out.ActionIDs = slices.Clone(s.ActionIDs)
	return out, true
}

// Sequences returns copies of all sequences in insertion order
func (e *Executor) Sequences() []Sequence {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Sequence, 0, len(e.seqOrder))
	for _, id := range e.seqOrder {
		s := *e.sequences[id]
		s.ActionIDs = slices.Clone(s.ActionIDs)
		out = append(out, s)
	}
	return out
}

// ExecuteAction runs a single action. Failures are reported in the result.
func (e *Executor) ExecuteAction(ctx context.Context, id string) Result {
	start := time.Now()
	a, ok := e.GetAction(id)
	if !ok {
		return failed(start, errs.Newf(errs.ErrNotFound, "action %s", id))
	}
	handler, ok := actionHandlers[a.Kind]
	if !ok {
		return failed(start, errs.Newf(errs.ErrAction, "unsupported action kind %q", a.Kind))
	}

	e.log.Debug().Str("action", a.ID).Str("kind", string(a.Kind)).Msg("Executing action")
	e.bus.Publish(events.ActionStarted, map[string]interface{}{"action_id": a.ID, "kind": a.Kind})

	out, err := handler(e, ctx, &a)

	e.mu.Lock()
	if stored, ok := e.actions[id]; ok {
		stored.LastExecuted = e.now()
	}
	e.mu.Unlock()

	res := Result{Success: err == nil, Output: out, Duration: time.Since(start)}
	if err != nil {
		res.Error = err.Error()
		e.log.Error().Err(err).Str("action", a.ID).Msg("Action failed")
		e.bus.Publish(events.ErrorOccurred, map[string]interface{}{"source": "action", "action_id": a.ID, "error": res.Error})
	}
	e.bus.Publish(events.ActionDone, map[string]interface{}{"action_id": a.ID, "success": res.Success})
	return res
}

// ExecuteSequence runs the steps of a sequence in order with the default
// delay between them. The stop signal is checked before every step. The
// first failing step ends the run and is reported as "step i/n".
func (e *Executor) ExecuteSequence(ctx context.Context, id string) Result {
	start := time.Now()
	seq, ok := e.GetSequence(id)
	if !ok {
		return failed(start, errs.Newf(errs.ErrNotFound, "sequence %s", id))
	}
	// running and stopCh change together under runMu
	stop := make(chan struct{})
	e.runMu.Lock()
	if e.running.Load() {
		cur := e.current
		e.runMu.Unlock()
		return failed(start, errs.Newf(errs.ErrAction, "sequence %s rejected: %s is already running", id, cur))
	}
	e.running.Store(true)
	e.stopCh, e.stopOnce, e.current = stop, &sync.Once{}, id
	e.runMu.Unlock()
	defer func() {
		e.runMu.Lock()
		e.stopCh, e.stopOnce, e.current = nil, nil, ""
		e.running.Store(false)
		e.runMu.Unlock()
	}()

	e.log.Info().Str("sequence", id).Int("steps", len(seq.ActionIDs)).Msg("Sequence started")
	res := e.runSteps(ctx, seq, stop)
	res.Duration = time.Since(start)

	e.log.Info().Str("sequence", id).Bool("success", res.Success).Bool("cancelled", res.Cancelled).Msg("Sequence finished")
	e.bus.Publish(events.SequenceDone, map[string]interface{}{
		"sequence_id": id, "success": res.Success, "cancelled": res.Cancelled, "error": res.Error,
	})
	return res
}

func (e *Executor) runSteps(ctx context.Context, seq Sequence, stop <-chan struct{}) Result {
	n := len(seq.ActionIDs)
	outputs := make([]string, 0, n)

	for i, aid := range seq.ActionIDs {
		if stopped(ctx, stop) {
			return Result{Cancelled: true, Output: fmt.Sprintf("cancelled before step %d/%d", i+1, n)}
		}
		r := e.ExecuteAction(ctx, aid)
		if !r.Success {
			return Result{
				Output: strings.Join(outputs, "\n"),
				Error:  fmt.Sprintf("step %d/%d (%s) failed: %s", i+1, n, aid, r.Error),
			}
		}
		outputs = append(outputs, r.Output)

		if i < n-1 && e.cfg.DefaultDelay > 0 {
			timer := time.NewTimer(e.cfg.DefaultDelay)
			select {
			case <-timer.C:
			case <-stop:
			case <-ctx.Done():
			}
			timer.Stop()
		}
	}
	return Result{Success: true, Output: strings.Join(outputs, "\n")}
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Stop asks the running sequence to end before its next step. Returns
// false when nothing is running. A sequence reported by IsRunning always
// observes the request.
func (e *Executor) Stop() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.stopCh == nil {
		return false
	}
	ch := e.stopCh
	e.stopOnce.Do(func() { close(ch) })
	e.log.Info().Str("sequence", e.current).Msg("Sequence stop requested")
	return true
}

// IsRunning reports whether a sequence is in flight
func (e *Executor) IsRunning() bool {
	return e.running.Load()
}

// CurrentSequence is the id of the running sequence, or ""
func (e *Executor) CurrentSequence() string {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.current
}
