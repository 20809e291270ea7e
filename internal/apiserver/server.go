// Package apiserver exposes the request-facing HTTP surface: starting stages,
// reading status, fetching extraction output, and the websocket push channel.
// It holds no task state of its own; every answer is backed by a store round
// trip, so a response always reflects committed state.
package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"distill/internal/config"
	"distill/internal/fault"
	"distill/internal/logging"
	"distill/internal/pipeline"
	"distill/internal/pushhub"
	"distill/internal/task"
)

// Server is the request-facing HTTP service.
type Server struct {
	cfg    *config.Config
	runner *pipeline.Runner
	hub    *pushhub.Hub
	logger *slog.Logger

	listener net.Listener
	server   *http.Server
}

// NewServer wires the HTTP surface over a pipeline runner.
func NewServer(cfg *config.Config, runner *pipeline.Runner, hub *pushhub.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	srv := &Server{
		cfg:    cfg,
		runner: runner,
		hub:    hub,
		logger: logging.WithComponent(logger, "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", srv.handleHealth)
	mux.HandleFunc("GET /api/tasks", srv.handleStatus)
	mux.HandleFunc("POST /api/tasks/stage1", srv.requireToken(srv.handleStartStage1))
	mux.HandleFunc("POST /api/tasks/{id}/stage2", srv.requireToken(srv.handleStartStage2))
	mux.HandleFunc("GET /api/tasks/{id}/stage1-output", srv.handleStage1Output)
	mux.HandleFunc("POST /api/tasks/reset-stuck", srv.requireToken(srv.handleResetStuck))
	mux.HandleFunc("GET /api/events", srv.handleEvents)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

// Start binds the listener and serves until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.API.Bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("addr", listener.Addr().String()))
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.API.Bind
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, allowing in-flight requests to finish.
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := s.cfg.API.Token
		if token != "" {
			presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if presented != token {
				s.writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
				return
			}
		}
		next(w, r)
	}
}

type startStage1Request struct {
	SourceRef string `json:"source_ref"`
	ModelName string `json:"model_name"`
}

func (s *Server) handleStartStage1(w http.ResponseWriter, r *http.Request) {
	var req startStage1Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_input", "request body must be JSON")
		return
	}
	created, err := s.runner.StartStage1(req.SourceRef, req.ModelName)
	if err != nil {
		s.writeFault(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, taskResponse{Task: created.Summarize()})
}

func (s *Server) handleStartStage2(w http.ResponseWriter, r *http.Request) {
	begun, err := s.runner.StartStage2(r.PathValue("id"))
	if err != nil {
		s.writeFault(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, taskResponse{Task: begun.Summarize()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.runner.Status()
	if err != nil {
		s.writeFault(w, err)
		return
	}
	if summaries == nil {
		summaries = []task.Summary{}
	}
	s.writeJSON(w, http.StatusOK, statusResponse{Tasks: summaries})
}

func (s *Server) handleStage1Output(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	outputRef, err := s.runner.Stage1Output(taskID)
	if err != nil {
		s.writeFault(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, outputResponse{TaskID: taskID, OutputRef: outputRef})
}

func (s *Server) handleResetStuck(w http.ResponseWriter, r *http.Request) {
	updated, err := s.runner.ResetStuck()
	if err != nil {
		s.writeFault(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resetResponse{Updated: updated})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.runner.Stats()
	if err != nil {
		s.writeFault(w, err)
		return
	}
	stuck, err := s.runner.StuckCount()
	if err != nil {
		s.writeFault(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Stats: stats, Stuck: stuck})
}

type taskResponse struct {
	Task task.Summary `json:"task"`
}

type statusResponse struct {
	Tasks []task.Summary `json:"tasks"`
}

type outputResponse struct {
	TaskID    string `json:"task_id"`
	OutputRef string `json:"output_ref"`
}

type resetResponse struct {
	Updated int64 `json:"updated"`
}

type healthResponse struct {
	Status string     `json:"status"`
	Stats  task.Stats `json:"stats"`
	Stuck  int        `json:"stuck"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (s *Server) writeFault(w http.ResponseWriter, err error) {
	s.writeError(w, fault.HTTPStatus(err), fault.Code(err), fault.Detail(err))
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write response failed", logging.Error(err))
	}
}
