// Package server exposes the HTTP surface: blocking and streaming run
// endpoints, health, metrics, and trace retrieval. The surface is a
// boundary; all semantics live in the runtime packages.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/config"
	"github.com/kadirpekel/conductor/pkg/protocol"
	"github.com/kadirpekel/conductor/pkg/runtime"
)

// RunRequest is the body of /v1/agent/run and /v1/agent/run/stream. A
// follow-up request carrying the session of a paused run resumes it;
// UserInput answers the pending field list.
type RunRequest struct {
	Message   string         `json:"message"`
	SessionID string         `json:"session_id,omitempty"`
	UserInput map[string]any `json:"user_input,omitempty"`
}

// RunResponse is the blocking endpoint's reply.
type RunResponse struct {
	Success       bool                       `json:"success"`
	Message       string                     `json:"message"`
	Steps         int                        `json:"steps"`
	RunID         string                     `json:"run_id"`
	SessionID     string                     `json:"session_id"`
	LogFile       string                     `json:"log_file,omitempty"`
	RequiresInput bool                       `json:"requires_input,omitempty"`
	InputRequest  *protocol.UserInputRequest `json:"input_request,omitempty"`
}

// Server serves the HTTP API.
type Server struct {
	cfg     *config.Config
	runtime *runtime.Runtime
	router  chi.Router
}

func New(cfg *config.Config, rt *runtime.Runtime) *Server {
	s := &Server{cfg: cfg, runtime: rt}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/agent/run", s.handleRun)
		r.Post("/agent/run/stream", s.handleRunStream)
		r.Get("/trace/{traceID}", s.handleTrace)
	})

	s.router = r
	return s
}

// ListenAndServe blocks serving the API until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// resolveAgent returns the paused agent of the session after answering its
// pending input, or a fresh agent. The returned task is the user turn to
// run with.
func (s *Server) resolveAgent(ctx context.Context, req *RunRequest) (*agent.Agent, string, error) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	if paused, ok := s.runtime.TakePaused(req.SessionID); ok {
		values := req.UserInput
		if values == nil {
			values = map[string]any{}
		}
		if err := paused.ProvideUserInput(values); err != nil {
			return nil, "", err
		}
		return paused, req.Message, nil
	}

	if req.Message == "" {
		return nil, "", fmt.Errorf("message cannot be empty")
	}

	a, err := s.runtime.NewAgent(ctx, req.SessionID, s.runtime.DefaultPromptConfig())
	if err != nil {
		return nil, "", err
	}
	return a, req.Message, nil
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}

	a, task, err := s.resolveAgent(r.Context(), &req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	result, err := a.Run(r.Context(), task)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	if result.RequiresInput {
		s.runtime.RememberPaused(req.SessionID, a)
	}

	writeJSON(w, http.StatusOK, RunResponse{
		Success:       result.Success,
		Message:       result.Response,
		Steps:         result.Steps,
		RunID:         result.RunID,
		SessionID:     req.SessionID,
		LogFile:       result.LogFile,
		RequiresInput: result.RequiresInput,
		InputRequest:  result.InputRequest,
	})
}

func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "streaming unsupported"})
		return
	}

	a, task, err := s.resolveAgent(r.Context(), &req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for event := range a.RunStream(r.Context(), task) {
		if event.Type == agent.EventUserInputRequired {
			s.runtime.RememberPaused(req.SessionID, a)
		}

		data, err := json.Marshal(event.Data)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
		flusher.Flush()
	}
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceID")

	trace, ok := s.runtime.Trace(traceID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "trace not found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"trace_id": traceID,
		"events":   trace.Events(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
