package httpapi

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aaronjnichols/puter/internal/engine"
	"github.com/aaronjnichols/puter/internal/history"
	"github.com/aaronjnichols/puter/internal/queue"
)

type submitTaskRequest struct {
	Project     string   `json:"project"`
	Prompt      string   `json:"prompt"`
	Attachments []string `json:"attachments"`
	ChannelID   int64    `json:"channel_id"`
}

type apiTask struct {
	ID          string    `json:"id"`
	Project     string    `json:"project"`
	Prompt      string    `json:"prompt"`
	Attachments []string  `json:"attachments,omitempty"`
	ChannelID   int64     `json:"channel_id,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

type apiQueueStatus struct {
	Depth   int      `json:"depth"`
	Current *apiTask `json:"current,omitempty"`
}

func toAPITask(t *queue.Task) *apiTask {
	if t == nil {
		return nil
	}
	return &apiTask{
		ID:          t.ID,
		Project:     t.Project,
		Prompt:      t.Prompt,
		Attachments: t.Attachments,
		ChannelID:   t.ChannelID,
		EnqueuedAt:  t.EnqueuedAt,
	}
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "prompt is required")
		return
	}

	receipt, err := s.engine.Submit(engine.SubmitParams{
		Project:     req.Project,
		Prompt:      req.Prompt,
		Attachments: req.Attachments,
		ChannelID:   req.ChannelID,
	})
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, receipt)
}

func (s *Server) handleListQueues(w http.ResponseWriter, _ *http.Request) {
	snap := s.engine.QueueSnapshot()
	queues := make(map[string]apiQueueStatus, len(snap))
	for name, st := range snap {
		queues[name] = apiQueueStatus{Depth: st.Depth, Current: toAPITask(st.Current)}
	}
	respondJSON(w, http.StatusOK, map[string]any{"queues": queues})
}

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "project"))
	st, err := s.engine.QueueStatus(name)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"project": name,
		"depth":   st.Depth,
		"current": toAPITask(st.Current),
	})
}

func (s *Server) handleSkipQueue(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "project"))
	skipped, err := s.engine.Skip(name)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"project": name,
		"skipped": skipped,
	})
}

type resolveApprovalRequest struct {
	ChannelID int64 `json:"channel_id"`
	MessageID int   `json:"message_id"`
	Approved  bool  `json:"approved"`
}

func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	var req resolveApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.ChannelID == 0 || req.MessageID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "channel_id and message_id are required")
		return
	}

	resolved := s.engine.ResolveApproval(req.ChannelID, req.MessageID, req.Approved)
	if s.hub != nil {
		s.hub.announceDecision(req.ChannelID, req.MessageID, resolved, req.Approved)
	}
	status := "expired"
	if resolved {
		status = "denied"
		if req.Approved {
			status = "approved"
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"resolved": resolved,
		"status":   status,
	})
}

func (s *Server) handlePendingApprovals(w http.ResponseWriter, _ *http.Request) {
	pending := s.engine.PendingApprovals()
	out := make([]map[string]any, 0, len(pending))
	for _, p := range pending {
		out = append(out, map[string]any{
			"project":    p.Project,
			"tool":       p.Tool,
			"channel_id": p.ChannelID,
			"message_id": p.MessageID,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"pending": out})
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	projectName := strings.TrimSpace(r.URL.Query().Get("project"))

	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		if n > 200 {
			n = 200
		}
		limit = n
	}

	runs, err := s.engine.History(r.Context(), projectName, limit)
	if err != nil {
		respondFault(w, err)
		return
	}
	if runs == nil {
		runs = []history.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetOutput(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	// Spill files live flat in the outputs dir; anything that is not a bare
	// file name is an escape attempt.
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		respondError(w, http.StatusBadRequest, "invalid_output_name", "output name must be a bare file name")
		return
	}
	path := filepath.Join(s.outputs, name)
	if _, err := os.Stat(path); err != nil {
		respondError(w, http.StatusNotFound, "output_not_found", "no such output file")
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"sessions": s.engine.Sessions()})
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	name, existed, err := s.engine.ResetSession(chi.URLParam(r, "project"))
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"project": name,
		"existed": existed,
	})
}
