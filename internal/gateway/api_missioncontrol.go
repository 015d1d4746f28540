package gateway

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/shabbark/pocketpaw/internal/store"
)

func (s *Server) registerMissionControlRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/mission-control/projects", s.handleCreateProject)
	mux.HandleFunc("GET /api/mission-control/projects", s.handleListProjects)
	mux.HandleFunc("GET /api/mission-control/projects/{id}", s.handleGetProject)
	mux.HandleFunc("PATCH /api/mission-control/projects/{id}", s.handlePatchProject)
	mux.HandleFunc("DELETE /api/mission-control/projects/{id}", s.handleDeleteProject)
	mux.HandleFunc("POST /api/mission-control/projects/{id}/approve", s.handleApproveProject)
	mux.HandleFunc("POST /api/mission-control/projects/{id}/pause", s.handlePauseProject)
	mux.HandleFunc("POST /api/mission-control/projects/{id}/resume", s.handleResumeProject)

	mux.HandleFunc("POST /api/mission-control/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/mission-control/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/mission-control/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("POST /api/mission-control/tasks/{id}/status", s.handleTaskStatus)
	mux.HandleFunc("POST /api/mission-control/tasks/{id}/skip", s.handleSkipTask)
	mux.HandleFunc("POST /api/mission-control/tasks/{id}/assign", s.handleAssignTask)
	mux.HandleFunc("POST /api/mission-control/tasks/{id}/execute", s.handleExecuteTask)
	mux.HandleFunc("POST /api/mission-control/tasks/{id}/stop", s.handleStopTask)
	mux.HandleFunc("GET /api/mission-control/tasks/{id}/documents", s.handleTaskDocuments)

	mux.HandleFunc("POST /api/mission-control/agents", s.handleCreateAgent)
	mux.HandleFunc("GET /api/mission-control/agents", s.handleListAgents)
	mux.HandleFunc("DELETE /api/mission-control/agents/{id}", s.handleDeleteAgent)

	mux.HandleFunc("GET /api/mission-control/activities", s.handleListActivities)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Tags        []string `json:"tags"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusUnprocessableEntity, "title cannot be empty")
		return
	}
	project, err := s.manager.CreateProject(req.Title, req.Description, req.Tags)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create project: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": project})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && !store.ValidProjectStatus(status) {
		writeError(w, http.StatusUnprocessableEntity, "invalid status %q", status)
		return
	}
	projects := s.manager.ListProjects(status)
	writeJSON(w, http.StatusOK, map[string]any{
		"projects": projects,
		"count":    len(projects),
	})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	project, ok := s.manager.GetProject(id)
	if !ok {
		writeError(w, http.StatusNotFound, "project %s not found", id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project":  project,
		"tasks":    s.manager.ProjectTasks(id),
		"progress": s.manager.ProjectProgress(id),
	})
}

func (s *Server) handlePatchProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	project, ok := s.manager.GetProject(id)
	if !ok {
		writeError(w, http.StatusNotFound, "project %s not found", id)
		return
	}

	var req struct {
		Title       *string   `json:"title"`
		Description *string   `json:"description"`
		Tags        *[]string `json:"tags"`
		Status      *string   `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			writeError(w, http.StatusUnprocessableEntity, "title cannot be empty")
			return
		}
		project.Title = *req.Title
	}
	if req.Description != nil {
		project.Description = *req.Description
	}
	if req.Tags != nil {
		project.Tags = *req.Tags
	}
	if req.Status != nil {
		if !store.ValidProjectStatus(*req.Status) {
			writeError(w, http.StatusUnprocessableEntity, "invalid status %q", *req.Status)
			return
		}
		project.Status = store.ProjectStatus(*req.Status)
	}

	if err := s.manager.SaveProject(project); err != nil {
		writeError(w, http.StatusInternalServerError, "save project: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": project})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.manager.GetProject(id); !ok {
		writeError(w, http.StatusNotFound, "project %s not found", id)
		return
	}
	if err := s.manager.DeleteProject(id); err != nil {
		writeError(w, http.StatusInternalServerError, "delete project: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// runProjectLifecycle applies a session verb (approve, pause, resume) to
// the project in the path. The deep-work aliases add a success flag to the
// response body.
func (s *Server) runProjectLifecycle(w http.ResponseWriter, r *http.Request, verb string, withSuccess bool, op func(string) (*store.Project, error)) {
	if s.session == nil {
		writeError(w, http.StatusServiceUnavailable, "deep work is not enabled")
		return
	}
	id := r.PathValue("id")
	if _, ok := s.manager.GetProject(id); !ok {
		writeError(w, http.StatusNotFound, "project %s not found", id)
		return
	}
	project, err := op(id)
	if err != nil {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "cannot approve") {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, "%s project: %v", verb, err)
		return
	}
	body := map[string]any{"project": project}
	if withSuccess {
		body["success"] = true
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleApproveProject(w http.ResponseWriter, r *http.Request) {
	s.runProjectLifecycle(w, r, "approve", false, func(id string) (*store.Project, error) {
		return s.session.Approve(id)
	})
}

func (s *Server) handlePauseProject(w http.ResponseWriter, r *http.Request) {
	s.runProjectLifecycle(w, r, "pause", false, func(id string) (*store.Project, error) {
		return s.session.Pause(id)
	})
}

func (s *Server) handleResumeProject(w http.ResponseWriter, r *http.Request) {
	s.runProjectLifecycle(w, r, "resume", false, func(id string) (*store.Project, error) {
		return s.session.Resume(id)
	})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		ProjectID   string   `json:"project_id"`
		Priority    string   `json:"priority"`
		TaskType    string   `json:"task_type"`
		BlockedBy   []string `json:"blocked_by"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusUnprocessableEntity, "title cannot be empty")
		return
	}

	task := store.NewTask(req.Title)
	task.Description = req.Description
	task.ProjectID = req.ProjectID
	task.BlockedBy = req.BlockedBy
	if req.Priority != "" {
		task.Priority = store.TaskPriority(req.Priority)
	}
	if req.TaskType != "" {
		task.TaskType = req.TaskType
	}
	if err := s.manager.CreateTask(task); err != nil {
		writeError(w, http.StatusInternalServerError, "create task: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var tasks []*store.Task
	if projectID := r.URL.Query().Get("project_id"); projectID != "" {
		tasks = s.manager.ProjectTasks(projectID)
	} else {
		tasks = s.manager.ListTasks()
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task, ok := s.manager.GetTask(id)
	if !ok {
		writeError(w, http.StatusNotFound, "task %s not found", id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task":      task,
		"documents": s.manager.TaskDocuments(id),
		"running":   s.executor.IsTaskRunning(id),
	})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}
	if !store.ValidTaskStatus(req.Status) {
		writeError(w, http.StatusUnprocessableEntity, "invalid status %q", req.Status)
		return
	}
	task, err := s.manager.UpdateTaskStatus(id, store.TaskStatus(req.Status), "")
	if err != nil {
		writeError(w, http.StatusNotFound, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

// handleSkipTask marks a task skipped; a skipped blocker satisfies its
// dependents, so the scheduler is poked afterwards.
func (s *Server) handleSkipTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task, ok := s.manager.GetTask(id)
	if !ok {
		writeError(w, http.StatusNotFound, "task %s not found", id)
		return
	}
	if s.executor.IsTaskRunning(id) {
		s.executor.StopTask(id)
	}
	task, err := s.manager.UpdateTaskStatus(id, store.TaskSkipped, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "skip task: %v", err)
		return
	}
	if s.session != nil && task.ProjectID != "" {
		s.session.OnTaskResolved(task.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *Server) handleAssignTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		AgentIDs []string `json:"agent_ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if len(req.AgentIDs) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "agent_ids cannot be empty")
		return
	}
	task, err := s.manager.AssignTask(id, req.AgentIDs)
	if err != nil {
		writeError(w, http.StatusNotFound, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *Server) handleExecuteTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusUnprocessableEntity, "agent_id is required")
		return
	}
	if !s.executor.ExecuteTaskBackground(id, req.AgentID) {
		writeError(w, http.StatusConflict, "task %s could not be started", id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"started": id})
}

func (s *Server) handleStopTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.executor.StopTask(id) {
		writeError(w, http.StatusNotFound, "task %s is not running", id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": id})
}

func (s *Server) handleTaskDocuments(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.manager.GetTask(id); !ok {
		writeError(w, http.StatusNotFound, "task %s not found", id)
		return
	}
	docs := s.manager.TaskDocuments(id)
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string   `json:"name"`
		Role        string   `json:"role"`
		Description string   `json:"description"`
		Specialties []string `json:"specialties"`
		Backend     string   `json:"backend"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusUnprocessableEntity, "name cannot be empty")
		return
	}
	agent := store.NewAgent(req.Name, req.Role)
	agent.Description = req.Description
	agent.Specialties = req.Specialties
	if req.Backend != "" {
		agent.Backend = req.Backend
	}
	if err := s.manager.CreateAgent(agent); err != nil {
		writeError(w, http.StatusInternalServerError, "create agent: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent": agent})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.manager.ListAgents()
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents, "count": len(agents)})
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.manager.GetAgent(id); !ok {
		writeError(w, http.StatusNotFound, "agent %s not found", id)
		return
	}
	if err := s.manager.DeleteAgent(id); err != nil {
		writeError(w, http.StatusInternalServerError, "delete agent: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusUnprocessableEntity, "invalid limit %q", v)
			return
		}
		limit = n
	}
	activities := s.manager.ListActivities(limit)
	writeJSON(w, http.StatusOK, map[string]any{"activities": activities, "count": len(activities)})
}
