package gateway

import (
	"net/http"
	"strings"

	"github.com/shabbark/pocketpaw/internal/deepwork"
	"github.com/shabbark/pocketpaw/internal/store"
)

func (s *Server) registerDeepWorkRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/deep-work/start", s.handleDeepWorkStart)
	mux.HandleFunc("POST /api/deep-work/projects/{id}/plan", s.handleDeepWorkPlan)
	mux.HandleFunc("GET /api/deep-work/projects/{id}/plan", s.handleDeepWorkGetPlan)
	mux.HandleFunc("POST /api/deep-work/projects/{id}/approve", s.handleDeepWorkApprove)
	mux.HandleFunc("POST /api/deep-work/projects/{id}/pause", s.handleDeepWorkPause)
	mux.HandleFunc("POST /api/deep-work/projects/{id}/resume", s.handleDeepWorkResume)
}

func (s *Server) handleDeepWorkApprove(w http.ResponseWriter, r *http.Request) {
	s.runProjectLifecycle(w, r, "approve", true, func(id string) (*store.Project, error) {
		return s.session.Approve(id)
	})
}

func (s *Server) handleDeepWorkPause(w http.ResponseWriter, r *http.Request) {
	s.runProjectLifecycle(w, r, "pause", true, func(id string) (*store.Project, error) {
		return s.session.Pause(id)
	})
}

func (s *Server) handleDeepWorkResume(w http.ResponseWriter, r *http.Request) {
	s.runProjectLifecycle(w, r, "resume", true, func(id string) (*store.Project, error) {
		return s.session.Resume(id)
	})
}

// handleDeepWorkStart plans a new project from a free-form description.
func (s *Server) handleDeepWorkStart(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		writeError(w, http.StatusServiceUnavailable, "deep work is not enabled")
		return
	}
	var req struct {
		Description   string `json:"description"`
		ResearchDepth string `json:"research_depth"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.ResearchDepth == "" {
		req.ResearchDepth = "standard"
	}

	project, err := s.session.Start(r.Context(), req.Description, req.ResearchDepth)
	if err != nil {
		writeError(w, statusForDeepWorkError(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"project": project,
		"tasks":   s.manager.ProjectTasks(project.ID),
	})
}

// handleDeepWorkPlan plans or re-plans an existing project.
func (s *Server) handleDeepWorkPlan(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		writeError(w, http.StatusServiceUnavailable, "deep work is not enabled")
		return
	}
	id := r.PathValue("id")
	var req struct {
		UserInput     string `json:"user_input"`
		ResearchDepth string `json:"research_depth"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.ResearchDepth == "" {
		req.ResearchDepth = "standard"
	}

	project, err := s.session.PlanExistingProject(r.Context(), id, req.UserInput, req.ResearchDepth)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, "%v", err)
			return
		}
		writeError(w, statusForDeepWorkError(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"project": project,
		"tasks":   s.manager.ProjectTasks(project.ID),
	})
}

// handleDeepWorkGetPlan returns the dependency layering of a planned
// project: which tasks can run in parallel and in what order.
func (s *Server) handleDeepWorkGetPlan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	project, ok := s.manager.GetProject(id)
	if !ok {
		writeError(w, http.StatusNotFound, "project %s not found", id)
		return
	}

	tasks := s.manager.ProjectTasks(id)
	levels, levelMap, err := deepwork.ExecutionLevels(tasks)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "dependency graph: %v", err)
		return
	}

	resp := map[string]any{
		"project_id":       project.ID,
		"status":           project.Status,
		"execution_levels": levels,
		"task_level_map":   levelMap,
		"progress":         s.manager.ProjectProgress(id),
		"tasks":            tasks,
	}
	if project.PRDDocumentID != "" {
		if prd, ok := s.manager.GetDocument(project.PRDDocumentID); ok {
			resp["prd"] = prd
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusForDeepWorkError maps validation failures to 422 and everything
// else to 500.
func statusForDeepWorkError(err error) int {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Invalid research_depth"),
		strings.Contains(msg, "cannot be empty"),
		strings.Contains(msg, "too long"),
		strings.Contains(msg, "must be between"):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
