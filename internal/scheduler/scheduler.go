// Package scheduler dispatches tasks on time-based recurrences and on
// named events, with a cap on how many run at once.
package scheduler

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ocr-watch/internal/action"
	"ocr-watch/internal/config"
	"ocr-watch/internal/errs"
	"ocr-watch/internal/events"
)

// Scheduler owns the task table. A polling loop dispatches due tasks to
// worker goroutines; a task that is already running is never dispatched
// again until its worker finishes.
type Scheduler struct {
	cfg     config.Scheduler
	actions ActionRunner
	rules   RuleMatcher
	bus     events.Publisher
	log     zerolog.Logger
	now     func() time.Time

	mu        sync.Mutex
	tasks     map[string]*Task
	order     []string
	callbacks map[string]Callback
	active    map[string]context.CancelFunc

	running      bool
	cancel       context.CancelFunc
	loopDone     chan struct{}
	workerCtx    context.Context
	workerCancel context.CancelFunc
	wg           sync.WaitGroup
}

func New(cfg config.Scheduler, actions ActionRunner, rules RuleMatcher, bus events.Publisher, log zerolog.Logger) *Scheduler {
	if bus == nil {
		bus = events.Discard{}
	}
	workerCtx, workerCancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:          cfg,
		actions:      actions,
		rules:        rules,
		bus:          bus,
		log:          log,
		now:          time.Now,
		tasks:        make(map[string]*Task),
		callbacks:    make(map[string]Callback),
		active:       make(map[string]context.CancelFunc),
		workerCtx:    workerCtx,
		workerCancel: workerCancel,
	}
}

// RegisterCallback makes fn reachable from callback targets named name
func (s *Scheduler) RegisterCallback(name string, fn Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks[name] = fn
}

func (s *Scheduler) UnregisterCallback(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.callbacks[name]; !ok {
		return false
	}
	delete(s.callbacks, name)
	return true
}

func (s *Scheduler) callback(name string) (Callback, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn, ok := s.callbacks[name]
	return fn, ok
}

// AddTask validates t, computes its first run and stores it. An empty id
// is generated. Tasks restored in the running state become pending.
func (s *Scheduler) AddTask(t Task) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := t.Validate(); err != nil {
		return "", err
	}
	t = t.clone()
	now := s.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.Status == "" || t.Status == Running {
		t.Status = Pending
	}
	if t.Status != Cancelled && (t.NextRunTime == nil || t.Kind == Event) {
		t.NextRunTime = NextRun(&t, now)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.ID]; exists {
		return "", errs.Newf(errs.ErrAlreadyExists, "task %s already exists", t.ID)
	}
	s.tasks[t.ID] = &t
	s.order = append(s.order, t.ID)
	s.log.Info().Str("task", t.ID).Str("kind", string(t.Kind)).Msg("Task added")
	s.bus.Publish(events.TaskAdded, map[string]interface{}{"task_id": t.ID, "kind": t.Kind})
	return t.ID, nil
}

// RemoveTask deletes a task, cancelling it if it is running
func (s *Scheduler) RemoveTask(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[id]; !exists {
		return false
	}
	if cancel, busy := s.active[id]; busy {
		cancel()
	}
	delete(s.tasks, id)
	s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == id })
	s.bus.Publish(events.TaskRemoved, map[string]interface{}{"task_id": id})
	return true
}

// GetTask returns a snapshot of the task
func (s *Scheduler) GetTask(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.clone(), true
}

// Tasks returns snapshots of all tasks in insertion order
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].clone())
	}
	return out
}

// EnableTask re-arms a task, recomputing its next run
func (s *Scheduler) EnableTask(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false
	}
	t.Enabled = true
	if _, busy := s.active[id]; !busy && t.Status == Cancelled {
		t.Status = Pending
	}
	if t.NextRunTime == nil {
		t.NextRunTime = NextRun(t, s.now())
	}
	return true
}

func (s *Scheduler) DisableTask(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false
	}
	t.Enabled = false
	return true
}

// CancelTask marks a task cancelled and signals its worker if it is running.
// A cancelled task is not dispatched until it is enabled again.
func (s *Scheduler) CancelTask(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status == Cancelled {
		return false
	}
	if cancel, busy := s.active[id]; busy {
		cancel()
	}
	t.Status = Cancelled
	t.NextRunTime = nil
	s.log.Info().Str("task", id).Msg("Task cancelled")
	return true
}

// RunTask dispatches a task now regardless of its schedule. It honours the
// running dedup and the concurrency cap.
func (s *Scheduler) RunTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return errs.New(errs.ErrLifecycle, "scheduler is not running")
	}
	t, ok := s.tasks[id]
	if !ok {
		return errs.Newf(errs.ErrNotFound, "task %s", id)
	}
	if _, busy := s.active[id]; busy {
		return errs.Newf(errs.ErrLifecycle, "task %s is already running", id)
	}
	if len(s.active) >= s.cfg.MaxConcurrentTasks {
		return errs.Newf(errs.ErrLifecycle, "concurrency limit %d reached", s.cfg.MaxConcurrentTasks)
	}
	s.dispatchLocked(t, nil)
	return nil
}

// TriggerEvent dispatches every enabled event task whose type matches and
// whose configured params are a subset of params. Returns how many were
// dispatched; tasks already running or over the cap are skipped.
func (s *Scheduler) TriggerEvent(eventType string, params map[string]string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		s.log.Debug().Str("event", eventType).Msg("Scheduler not running, event ignored")
		return 0
	}

	count := 0
	for _, id := range s.order {
		t := s.tasks[id]
		if t.Kind != Event || !t.Enabled || t.Status == Cancelled || t.Schedule.EventType != eventType {
			continue
		}
		if !subset(t.Schedule.EventParams, params) {
			continue
		}
		if _, busy := s.active[id]; busy {
			continue
		}
		if len(s.active) >= s.cfg.MaxConcurrentTasks {
			s.log.Warn().Str("task", id).Str("event", eventType).Msg("Concurrency limit reached, event task skipped")
			continue
		}
		s.dispatchLocked(t, params)
		count++
	}
	if count > 0 {
		s.log.Debug().Str("event", eventType).Int("tasks", count).Msg("Event dispatched")
	}
	return count
}

func subset(want, have map[string]string) bool {
	for k, v := range want {
		if hv, ok := have[k]; !ok || hv != v {
			return false
		}
	}
	return true
}

// Start launches the polling loop. Returns false if already running.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return false
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.workerCtx, s.workerCancel = context.WithCancel(context.WithoutCancel(ctx))
	s.loopDone = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	go s.loop(loopCtx, s.loopDone)
	s.log.Info().Dur("interval", s.cfg.CheckInterval).Int("maxConcurrent", s.cfg.MaxConcurrentTasks).Msg("Scheduler started")
	return true
}

// Stop ends the loop and waits up to the stop timeout for running workers.
// Workers still running after that have their context cancelled. Returns
// false if not running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	s.running = false
	s.cancel()
	done := s.loopDone
	workerCancel := s.workerCancel
	s.mu.Unlock()

	<-done

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-finished:
	case <-timer.C:
		s.log.Warn().Dur("timeout", s.cfg.StopTimeout).Msg("Tasks still running at shutdown, cancelling")
	}
	workerCancel()
	s.log.Info().Msg("Scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunningCount is the number of tasks currently executing
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	s.tick(s.now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(s.now())
		}
	}
}

// tick dispatches every due task while below the concurrency cap
func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		if len(s.active) >= s.cfg.MaxConcurrentTasks {
			return
		}
		t := s.tasks[id]
		if !t.Enabled || t.Kind == Event || t.Status == Cancelled || t.NextRunTime == nil || t.NextRunTime.After(now) {
			continue
		}
		if _, busy := s.active[id]; busy {
			continue
		}
		s.dispatchLocked(t, nil)
	}
}

// dispatchLocked marks t running and starts its worker. Caller holds s.mu.
func (s *Scheduler) dispatchLocked(t *Task, payload map[string]string) {
	ctx, cancel := context.WithCancel(s.workerCtx)
	s.active[t.ID] = cancel

	start := s.now()
	t.Status = Running
	t.LastRunTime = &start
	t.RunCount++

	s.bus.Publish(events.TaskStarted, map[string]interface{}{"task_id": t.ID, "name": t.Name})
	s.log.Info().Str("task", t.ID).Str("name", t.Name).Msg("Task started")

	s.wg.Add(1)
	go s.runTask(ctx, t.ID, t.Target, maps.Clone(payload))
}

func (s *Scheduler) runTask(ctx context.Context, id string, spec TargetSpec, payload map[string]string) {
	defer s.wg.Done()
	res, err := s.dispatch(ctx, spec, payload)
	s.finish(id, res, err)
}

// dispatch runs the target, turning a panic into a task failure
func (s *Scheduler) dispatch(ctx context.Context, spec TargetSpec, payload map[string]string) (res action.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.Newf(errs.ErrDispatch, "target panicked: %v", r)
		}
	}()
	target, err := spec.Bind(payload)
	if err != nil {
		return action.Result{}, err
	}
	env := Env{Actions: s.actions, Rules: s.rules, Callback: s.callback}
	return target.Dispatch(ctx, env)
}

func (s *Scheduler) finish(id string, res action.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.active[id]; ok {
		cancel()
		delete(s.active, id)
	}
	t, ok := s.tasks[id]
	if !ok {
		return
	}
	if t.Status == Cancelled {
		return
	}

	now := s.now()
	success := err == nil && res.Success
	if success {
		t.Status = Completed
		t.LastResult = res.Output
		t.LastError = ""
		t.Retries = 0
	} else {
		t.Status = Failed
		t.LastResult = res.Output
		switch {
		case err != nil:
			t.LastError = err.Error()
		case res.Error != "":
			t.LastError = res.Error
		default:
			t.LastError = "target reported failure"
		}
	}

	switch {
	case t.Kind == Once && success:
		t.Enabled = false
		t.NextRunTime = nil
	case !success && s.cfg.RetryFailedTasks && t.Kind != Event && t.Retries < s.cfg.MaxRetries:
		t.Retries++
		next := now.Add(s.cfg.RetryDelay)
		t.NextRunTime = &next
	default:
		t.NextRunTime = NextRun(t, now)
	}

	data := map[string]interface{}{"task_id": id, "name": t.Name, "success": success}
	if success {
		s.log.Info().Str("task", id).Msg("Task completed")
		s.bus.Publish(events.TaskCompleted, data)
		return
	}
	data["error"] = t.LastError
	s.log.Error().Str("task", id).Str("error", t.LastError).Msg("Task failed")
	s.bus.Publish(events.TaskFailed, data)
	s.bus.Publish(events.ErrorOccurred, map[string]interface{}{"source": "task", "task_id": id, "error": t.LastError})
}
