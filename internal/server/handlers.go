package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ocr-watch/internal/action"
	"ocr-watch/internal/errs"
	"ocr-watch/internal/monitor"
	"ocr-watch/internal/rule"
	"ocr-watch/internal/scheduler"
)

type idResponse struct {
	ID string `json:"id"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type textRequest struct {
	Text string `json:"text"`
}

type ruleView struct {
	rule.Spec
	State rule.State `json:"state"`
}

func notFound(kind, id string) error {
	return errs.Newf(errs.ErrNotFound, "%s %s", kind, id)
}

// toggled answers a bool-returning lookup operation
func toggled(w http.ResponseWriter, ok bool, kind, id string) {
	if !ok {
		respondError(w, notFound(kind, id))
		return
	}
	respondJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Engine

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sched := s.engine.Scheduler()
	respondJSON(w, http.StatusOK, map[string]any{
		"running":           s.engine.IsRunning(),
		"scheduler_running": sched.IsRunning(),
		"areas":             len(s.engine.Areas()),
		"rules":             len(s.engine.Rules().Rules()),
		"tasks":             len(sched.Tasks()),
		"running_tasks":     sched.RunningCount(),
		"sequence_running":  s.engine.Actions().IsRunning(),
		"current_sequence":  s.engine.Actions().CurrentSequence(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	// the engine outlives the request
	if !s.engine.Start(context.WithoutCancel(r.Context())) {
		respondError(w, errs.New(errs.ErrLifecycle, "engine is already running"))
		return
	}
	respondJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Stop() {
		respondError(w, errs.New(errs.ErrLifecycle, "engine is not running"))
		return
	}
	respondJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Save(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Load(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, okResponse{OK: true})
}

// Areas

func (s *Server) handleListAreas(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Areas())
}

func (s *Server) handleCreateArea(w http.ResponseWriter, r *http.Request) {
	var a monitor.Area
	if err := decode(r, &a); err != nil {
		respondError(w, err)
		return
	}
	id, err := s.engine.AddArea(a)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleGetArea(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "areaID")
	a, ok := s.engine.GetArea(id)
	if !ok {
		respondError(w, notFound("area", id))
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleUpdateArea(w http.ResponseWriter, r *http.Request) {
	var a monitor.Area
	if err := decode(r, &a); err != nil {
		respondError(w, err)
		return
	}
	a.ID = chi.URLParam(r, "areaID")
	if err := s.engine.UpdateArea(a); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleDeleteArea(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "areaID")
	if !s.engine.RemoveArea(id) {
		respondError(w, notFound("area", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnableArea(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "areaID")
	toggled(w, s.engine.EnableArea(id), "area", id)
}

func (s *Server) handleDisableArea(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "areaID")
	toggled(w, s.engine.DisableArea(id), "area", id)
}

func (s *Server) handleCaptureArea(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.CaptureArea(r.Context(), chi.URLParam(r, "areaID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleAttachRule(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.AddRuleToArea(chi.URLParam(r, "areaID"), chi.URLParam(r, "ruleID")); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleDetachRule(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RemoveRuleFromArea(chi.URLParam(r, "areaID"), chi.URLParam(r, "ruleID")); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, okResponse{OK: true})
}

// Rules

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Rules().RuleSpecs())
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var spec rule.Spec
	if err := decode(r, &spec); err != nil {
		respondError(w, err)
		return
	}
	created, err := s.engine.Rules().AddRule(spec)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, idResponse{ID: created.ID()})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ruleID")
	found, ok := s.engine.Rules().GetRule(id)
	if !ok {
		respondError(w, notFound("rule", id))
		return
	}
	respondJSON(w, http.StatusOK, ruleView{Spec: found.Spec(), State: found.State()})
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var spec rule.Spec
	if err := decode(r, &spec); err != nil {
		respondError(w, err)
		return
	}
	spec.ID = chi.URLParam(r, "ruleID")
	if _, err := s.engine.Rules().ReplaceRule(spec); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Rules().RemoveRule(chi.URLParam(r, "ruleID")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMatchRule(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	matched, err := s.engine.Rules().Match(chi.URLParam(r, "ruleID"), req.Text)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"matched": matched})
}

// Rule sets

func (s *Server) handleListSets(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Rules().Sets())
}

func (s *Server) handleCreateSet(w http.ResponseWriter, r *http.Request) {
	var spec rule.SetSpec
	if err := decode(r, &spec); err != nil {
		respondError(w, err)
		return
	}
	created, err := s.engine.Rules().AddSet(spec)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, idResponse{ID: created.ID()})
}

func (s *Server) handleGetSet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "setID")
	set, ok := s.engine.Rules().GetSet(id)
	if !ok {
		respondError(w, notFound("rule set", id))
		return
	}
	respondJSON(w, http.StatusOK, set)
}

func (s *Server) handleDeleteSet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "setID")
	if !s.engine.Rules().RemoveSet(id) {
		respondError(w, notFound("rule set", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvaluateSet(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	matched, err := s.engine.Rules().EvaluateSet(chi.URLParam(r, "setID"), req.Text)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"matched": matched})
}

// Actions and sequences

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Actions().Actions())
}

func (s *Server) handleCreateAction(w http.ResponseWriter, r *http.Request) {
	var a action.Action
	if err := decode(r, &a); err != nil {
		respondError(w, err)
		return
	}
	id, err := s.engine.Actions().AddAction(a)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "actionID")
	a, ok := s.engine.Actions().GetAction(id)
	if !ok {
		respondError(w, notFound("action", id))
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleUpdateAction(w http.ResponseWriter, r *http.Request) {
	var a action.Action
	if err := decode(r, &a); err != nil {
		respondError(w, err)
		return
	}
	a.ID = chi.URLParam(r, "actionID")
	if err := s.engine.Actions().UpdateAction(a); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleDeleteAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "actionID")
	if !s.engine.Actions().RemoveAction(id) {
		respondError(w, notFound("action", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExecuteAction(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Actions().ExecuteAction(r.Context(), chi.URLParam(r, "actionID")))
}

func (s *Server) handleListSequences(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Actions().Sequences())
}

func (s *Server) handleCreateSequence(w http.ResponseWriter, r *http.Request) {
	var seq action.Sequence
	if err := decode(r, &seq); err != nil {
		respondError(w, err)
		return
	}
	id, err := s.engine.Actions().CreateSequence(seq)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleGetSequence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "seqID")
	seq, ok := s.engine.Actions().GetSequence(id)
	if !ok {
		respondError(w, notFound("sequence", id))
		return
	}
	respondJSON(w, http.StatusOK, seq)
}

func (s *Server) handleDeleteSequence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "seqID")
	if !s.engine.Actions().RemoveSequence(id) {
		respondError(w, notFound("sequence", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExecuteSequence(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Actions().ExecuteSequence(r.Context(), chi.URLParam(r, "seqID")))
}

func (s *Server) handleStopSequence(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{"stopped": s.engine.Actions().Stop()})
}

// Tasks

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Scheduler().Tasks())
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var t scheduler.Task
	if err := decode(r, &t); err != nil {
		respondError(w, err)
		return
	}
	id, err := s.engine.Scheduler().AddTask(t)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	t, ok := s.engine.Scheduler().GetTask(id)
	if !ok {
		respondError(w, notFound("task", id))
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	if !s.engine.Scheduler().RemoveTask(id) {
		respondError(w, notFound("task", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Scheduler().RunTask(chi.URLParam(r, "taskID")); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, okResponse{OK: true})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	toggled(w, s.engine.Scheduler().CancelTask(id), "task", id)
}

func (s *Server) handleEnableTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	toggled(w, s.engine.Scheduler().EnableTask(id), "task", id)
}

func (s *Server) handleDisableTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	toggled(w, s.engine.Scheduler().DisableTask(id), "task", id)
}

func (s *Server) handleTriggerEvent(w http.ResponseWriter, r *http.Request) {
	params := map[string]string{}
	if r.ContentLength != 0 {
		if err := decode(r, &params); err != nil {
			respondError(w, err)
			return
		}
	}
	n := s.engine.Scheduler().TriggerEvent(chi.URLParam(r, "eventType"), params)
	respondJSON(w, http.StatusOK, map[string]int{"dispatched": n})
}
