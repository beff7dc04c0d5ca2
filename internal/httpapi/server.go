// Package httpapi exposes the engine over REST plus a websocket channel hub.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aaronjnichols/puter/internal/config"
	"github.com/aaronjnichols/puter/internal/engine"
	"github.com/aaronjnichols/puter/internal/observability"
	"github.com/aaronjnichols/puter/internal/project"
	"github.com/aaronjnichols/puter/internal/reliability"
)

// Params collects the server's collaborators. Hub and Metrics may be nil.
type Params struct {
	Config      config.Config
	Engine      *engine.Engine
	Projects    *project.Registry
	Metrics     *observability.Metrics
	Hub         *Hub
	OutputsDir  string
	HistoryMode string
}

type Server struct {
	cfg         config.Config
	engine      *engine.Engine
	projects    *project.Registry
	metrics     *observability.Metrics
	hub         *Hub
	outputs     string
	historyMode string
}

func New(p Params) *Server {
	return &Server{
		cfg:         p.Config,
		engine:      p.Engine,
		projects:    p.Projects,
		metrics:     p.Metrics,
		hub:         p.Hub,
		outputs:     p.OutputsDir,
		historyMode: p.HistoryMode,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/tasks", s.handleSubmitTask)
	r.Get("/v1/queues", s.handleListQueues)
	r.Get("/v1/queues/{project}", s.handleGetQueue)
	r.Post("/v1/queues/{project}/skip", s.handleSkipQueue)

	r.Post("/v1/approvals/resolve", s.handleResolveApproval)
	r.Get("/v1/approvals/pending", s.handlePendingApprovals)

	r.Get("/v1/projects", s.handleListProjects)
	r.Post("/v1/projects", s.handleAddProject)
	r.Delete("/v1/projects/{name}", s.handleRemoveProject)
	r.Post("/v1/projects/{name}/default", s.handleSetDefaultProject)

	r.Get("/v1/sessions", s.handleListSessions)
	r.Post("/v1/sessions/{project}/reset", s.handleResetSession)

	r.Post("/v1/schedules", s.handleCreateSchedule)
	r.Get("/v1/schedules", s.handleListSchedules)
	r.Get("/v1/schedules/{id}", s.handleGetSchedule)
	r.Delete("/v1/schedules/{id}", s.handleDeleteSchedule)

	r.Get("/v1/history", s.handleListHistory)
	r.Get("/v1/outputs/{name}", s.handleGetOutput)
	r.Get("/v1/stats", s.handleStats)

	r.Get("/v1/channels/{id}/ws", s.handleChannelWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"agent_mode":    s.cfg.AgentMode,
		"history_store": s.historyMode,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotStages())
}

func (s *Server) handleChannelWS(w http.ResponseWriter, r *http.Request) {
	channelID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || channelID == 0 {
		respondError(w, http.StatusBadRequest, "invalid_channel_id", "channel id must be a non-zero integer")
		return
	}
	if s.hub == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "channel hub not configured")
		return
	}
	s.hub.ServeWS(w, r, channelID)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondFault maps engine errors onto HTTP statuses.
func respondFault(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, project.ErrNotFound):
		respondError(w, http.StatusNotFound, "project_not_found", err.Error())
	case errors.Is(err, project.ErrNoDefault):
		respondError(w, http.StatusBadRequest, "no_default_project", err.Error())
	case reliability.IsKind(err, reliability.KindConfig):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case reliability.IsKind(err, reliability.KindPersistence):
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
