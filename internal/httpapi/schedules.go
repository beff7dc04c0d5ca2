package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aaronjnichols/puter/internal/schedule"
)

type createScheduleRequest struct {
	Project   string `json:"project"`
	Prompt    string `json:"prompt"`
	Kind      string `json:"kind"`
	FirstRun  string `json:"first_run"`
	TimeOfDay string `json:"time_of_day"`
	DayOfWeek *int   `json:"day_of_week"`
	ChannelID int64  `json:"channel_id"`
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var firstRun time.Time
	if raw := strings.TrimSpace(req.FirstRun); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "first_run must be RFC 3339")
			return
		}
		firstRun = t
	}

	created, err := s.engine.ScheduleCreate(schedule.CreateParams{
		ChannelID: req.ChannelID,
		Project:   req.Project,
		Prompt:    strings.TrimSpace(req.Prompt),
		Kind:      schedule.Kind(strings.TrimSpace(req.Kind)),
		FirstRun:  firstRun,
		TimeOfDay: strings.TrimSpace(req.TimeOfDay),
		DayOfWeek: req.DayOfWeek,
	})
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	var tasks []schedule.Task
	if raw := strings.TrimSpace(r.URL.Query().Get("channel_id")); raw != "" {
		channelID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "channel_id must be an integer")
			return
		}
		tasks = s.engine.SchedulesForChannel(channelID)
	} else {
		tasks = s.engine.Schedules()
	}
	if tasks == nil {
		tasks = []schedule.Task{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	task, ok := s.engine.ScheduleGet(id)
	if !ok {
		respondError(w, http.StatusNotFound, "schedule_not_found", "no scheduled task with that id")
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if !s.engine.ScheduleDelete(id) {
		respondError(w, http.StatusNotFound, "schedule_not_found", "no scheduled task with that id")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
}
