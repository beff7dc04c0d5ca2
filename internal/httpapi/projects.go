package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aaronjnichols/puter/internal/policy"
	"github.com/aaronjnichols/puter/internal/project"
)

type apiProject struct {
	Path         string `json:"path"`
	ApprovalMode string `json:"approval_mode"`
}

type addProjectRequest struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	ApprovalMode string `json:"approval_mode"`
}

func (s *Server) handleListProjects(w http.ResponseWriter, _ *http.Request) {
	list := s.projects.List()
	out := make(map[string]apiProject, len(list))
	for name, p := range list {
		out[name] = apiProject{Path: p.Path, ApprovalMode: p.ApprovalMode.String()}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"default":  s.projects.DefaultName(),
		"projects": out,
	})
}

func (s *Server) handleAddProject(w http.ResponseWriter, r *http.Request) {
	var req addProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Path = strings.TrimSpace(req.Path)
	if req.Name == "" || req.Path == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "name and path are required")
		return
	}
	mode, err := policy.ParseApprovalMode(req.ApprovalMode)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if err := s.projects.Add(req.Name, req.Path, mode); err != nil {
		if errors.Is(err, project.ErrExists) {
			respondError(w, http.StatusConflict, "project_exists", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "project_add_failed", err.Error())
		return
	}

	added, _ := s.projects.Get(req.Name)
	respondJSON(w, http.StatusCreated, map[string]any{
		"name":          req.Name,
		"path":          added.Path,
		"approval_mode": added.ApprovalMode.String(),
		"default":       s.projects.DefaultName() == req.Name,
	})
}

func (s *Server) handleRemoveProject(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if err := s.projects.Remove(name); err != nil {
		if errors.Is(err, project.ErrNotFound) {
			respondError(w, http.StatusNotFound, "project_not_found", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "project_remove_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"removed": name,
		"default": s.projects.DefaultName(),
	})
}

func (s *Server) handleSetDefaultProject(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if err := s.projects.SetDefault(name); err != nil {
		if errors.Is(err, project.ErrNotFound) {
			respondError(w, http.StatusNotFound, "project_not_found", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "project_default_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"default": name})
}
