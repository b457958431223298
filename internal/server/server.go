// Package server exposes the engine over a JSON control API
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"ocr-watch/internal/errs"
	"ocr-watch/internal/monitor"
)

type Server struct {
	engine *monitor.Engine
	hub    http.Handler
	log    zerolog.Logger
	router *chi.Mux
}

// New builds the router. hub serves /ws and may be nil.
func New(engine *monitor.Engine, hub http.Handler, log zerolog.Logger) *Server {
	s := &Server{engine: engine, hub: hub, log: log}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware)

	r.Get("/health", s.handleHealth)
	if s.hub != nil {
		r.Handle("/ws", s.hub)
	}

	// the websocket route must not be wrapped by the timeout
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/engine", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Post("/save", s.handleSave)
			r.Post("/load", s.handleLoad)
		})

		r.Route("/areas", func(r chi.Router) {
			r.Get("/", s.handleListAreas)
			r.Post("/", s.handleCreateArea)
			r.Route("/{areaID}", func(r chi.Router) {
				r.Get("/", s.handleGetArea)
				r.Put("/", s.handleUpdateArea)
				r.Delete("/", s.handleDeleteArea)
				r.Post("/enable", s.handleEnableArea)
				r.Post("/disable", s.handleDisableArea)
				r.Post("/capture", s.handleCaptureArea)
				r.Post("/rules/{ruleID}", s.handleAttachRule)
				r.Delete("/rules/{ruleID}", s.handleDetachRule)
			})
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Get("/{ruleID}", s.handleGetRule)
			r.Put("/{ruleID}", s.handleUpdateRule)
			r.Delete("/{ruleID}", s.handleDeleteRule)
			r.Post("/{ruleID}/match", s.handleMatchRule)
		})

		r.Route("/rulesets", func(r chi.Router) {
			r.Get("/", s.handleListSets)
			r.Post("/", s.handleCreateSet)
			r.Get("/{setID}", s.handleGetSet)
			r.Delete("/{setID}", s.handleDeleteSet)
			r.Post("/{setID}/evaluate", s.handleEvaluateSet)
		})

		r.Route("/actions", func(r chi.Router) {
			r.Get("/", s.handleListActions)
			r.Post("/", s.handleCreateAction)
			r.Get("/{actionID}", s.handleGetAction)
			r.Put("/{actionID}", s.handleUpdateAction)
			r.Delete("/{actionID}", s.handleDeleteAction)
			r.Post("/{actionID}/execute", s.handleExecuteAction)
		})

		r.Route("/sequences", func(r chi.Router) {
			r.Get("/", s.handleListSequences)
			r.Post("/", s.handleCreateSequence)
			r.Post("/stop", s.handleStopSequence)
			r.Get("/{seqID}", s.handleGetSequence)
			r.Delete("/{seqID}", s.handleDeleteSequence)
			r.Post("/{seqID}/execute", s.handleExecuteSequence)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Delete("/", s.handleDeleteTask)
				r.Post("/run", s.handleRunTask)
				r.Post("/cancel", s.handleCancelTask)
				r.Post("/enable", s.handleEnableTask)
				r.Post("/disable", s.handleDisableTask)
			})
		})

		r.Post("/events/{eventType}", s.handleTriggerEvent)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("Control API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errs.Wrapf(err, errs.ErrConfig, "listen on %s", addr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("Control API shutdown")
		return err
	}
	s.log.Info().Msg("Control API stopped")
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request")
	})
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError maps the error code to an HTTP status
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := errs.CodeOf(err)
	switch code {
	case errs.ErrNotFound:
		status = http.StatusNotFound
	case errs.ErrAlreadyExists, errs.ErrLifecycle:
		status = http.StatusConflict
	case errs.ErrInvalidInput, errs.ErrRuleConfig:
		status = http.StatusBadRequest
	}
	respondJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  string(code),
	})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Wrap(err, errs.ErrInvalidInput, "invalid request body")
	}
	return nil
}
