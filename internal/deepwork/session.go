package deepwork

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shabbark/pocketpaw/internal/bus"
	"github.com/shabbark/pocketpaw/internal/missioncontrol"
	"github.com/shabbark/pocketpaw/internal/store"
	"github.com/shabbark/pocketpaw/pkg/protocol"
)

// ValidResearchDepths enumerates accepted research_depth values, in order of
// increasing effort. Matching is case sensitive.
var ValidResearchDepths = []string{"none", "quick", "standard", "deep"}

const (
	minDescriptionLen = 10
	maxDescriptionLen = 5000
	maxUserInputLen   = 5000
)

// Session is the deep-work facade: it validates requests, runs the planner,
// materializes the task graph, and hands approved projects to the scheduler.
type Session struct {
	manager   *missioncontrol.Manager
	scheduler *Scheduler
	planner   Planner
	bus       *bus.MessageBus
}

// NewSession wires a session over its collaborators.
func NewSession(m *missioncontrol.Manager, sched *Scheduler, planner Planner, b *bus.MessageBus) *Session {
	return &Session{manager: m, scheduler: sched, planner: planner, bus: b}
}

// Start creates a project from a free-form description and plans it. The
// project lands in awaiting_approval; nothing executes until Approve.
func (s *Session) Start(ctx context.Context, description, researchDepth string) (*store.Project, error) {
	trimmed := strings.TrimSpace(description)
	if len(trimmed) < minDescriptionLen || len(trimmed) > maxDescriptionLen {
		return nil, fmt.Errorf("description must be between %d and %d characters, got %d",
			minDescriptionLen, maxDescriptionLen, len(trimmed))
	}
	if err := validateResearchDepth(researchDepth); err != nil {
		return nil, err
	}

	project, err := s.manager.CreateProject(titleFromDescription(trimmed), trimmed, nil)
	if err != nil {
		return nil, err
	}
	if err := s.plan(ctx, project, trimmed, researchDepth); err != nil {
		if _, ferr := s.manager.SetProjectStatus(project.ID, store.ProjectFailed); ferr != nil {
			return nil, fmt.Errorf("planning failed: %w (status update also failed: %v)", err, ferr)
		}
		return nil, fmt.Errorf("planning failed: %w", err)
	}
	return s.mustGetProject(project.ID), nil
}

// PlanExistingProject plans (or re-plans) a project that already exists.
func (s *Session) PlanExistingProject(ctx context.Context, projectID, userInput, researchDepth string) (*store.Project, error) {
	if err := validateResearchDepth(researchDepth); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userInput) == "" {
		return nil, fmt.Errorf("user input cannot be empty")
	}
	if len(userInput) > maxUserInputLen {
		return nil, fmt.Errorf("user input too long: %d characters (max %d)", len(userInput), maxUserInputLen)
	}

	project, ok := s.manager.GetProject(projectID)
	if !ok {
		return nil, fmt.Errorf("project %s not found", projectID)
	}
	if err := s.plan(ctx, project, userInput, researchDepth); err != nil {
		return nil, fmt.Errorf("planning failed: %w", err)
	}
	return s.mustGetProject(projectID), nil
}

// plan runs the planner and materializes its output: one task per planned
// node with dependency edges kept symmetric (blocked_by on the dependent,
// blocks on the blocker), plus a PRD document linked to the project.
func (s *Session) plan(ctx context.Context, project *store.Project, userInput, researchDepth string) error {
	result, err := s.planner.Plan(ctx, PlanRequest{
		UserInput:     userInput,
		ResearchDepth: researchDepth,
		ProjectTitle:  project.Title,
	})
	if err != nil {
		return err
	}

	if result.PRD != "" {
		prd := store.NewDocument(fmt.Sprintf("PRD: %s", project.Title), result.PRD)
		prd.Type = store.DocumentPRD
		prd.ProjectID = project.ID
		if err := s.manager.SaveDocument(prd); err != nil {
			return err
		}
		project.PRDDocumentID = prd.ID
	}

	tasks := make([]*store.Task, len(result.Tasks))
	for i, pt := range result.Tasks {
		t := store.NewTask(pt.Title)
		t.Description = pt.Description
		t.ProjectID = project.ID
		if pt.TaskType != "" {
			t.TaskType = pt.TaskType
		}
		if pt.Priority != "" {
			t.Priority = store.TaskPriority(pt.Priority)
		}
		if pt.EstimatedMinutes > 0 {
			est := pt.EstimatedMinutes
			t.EstimatedMinutes = &est
		}
		tasks[i] = t
	}
	for i, pt := range result.Tasks {
		for _, dep := range pt.DependsOn {
			tasks[i].BlockedBy = append(tasks[i].BlockedBy, tasks[dep].ID)
			tasks[dep].Blocks = append(tasks[dep].Blocks, tasks[i].ID)
		}
	}
	for _, t := range tasks {
		if err := s.manager.CreateTask(t); err != nil {
			return err
		}
	}

	if result.Title != "" {
		project.Title = result.Title
	}
	project.Status = store.ProjectAwaitingApproval
	if err := s.manager.SaveProject(project); err != nil {
		return err
	}

	s.bus.Broadcast(protocol.EventProjectPlanned, map[string]any{
		"project_id": project.ID,
		"title":      project.Title,
		"task_count": len(tasks),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
	return nil
}

// Approve marks a project approved and starts executing it. The task graph
// is validated first: a plan with a dependency cycle or an edge pointing
// outside the project would sit in executing forever with nothing ready.
func (s *Session) Approve(projectID string) (*store.Project, error) {
	if err := validateTaskGraph(s.manager.ProjectTasks(projectID)); err != nil {
		return nil, fmt.Errorf("cannot approve project: %w", err)
	}
	if _, err := s.manager.SetProjectStatus(projectID, store.ProjectApproved); err != nil {
		return nil, err
	}
	if err := s.scheduler.StartProject(projectID); err != nil {
		return nil, err
	}
	return s.mustGetProject(projectID), nil
}

// Pause stops dispatching new tasks for a project. Tasks already running
// finish normally.
func (s *Session) Pause(projectID string) (*store.Project, error) {
	return s.manager.SetProjectStatus(projectID, store.ProjectPaused)
}

// Resume returns a paused project to executing and dispatches ready work.
func (s *Session) Resume(projectID string) (*store.Project, error) {
	p, err := s.manager.SetProjectStatus(projectID, store.ProjectExecuting)
	if err != nil {
		return nil, err
	}
	s.scheduler.DispatchReady(projectID)
	return p, nil
}

// OnTaskResolved tells the scheduler a task reached a terminal state
// outside the executor path, e.g. skipped from the dashboard.
func (s *Session) OnTaskResolved(taskID string) {
	s.scheduler.OnTaskCompleted(taskID)
}

// ProjectTasks returns the tasks of a planned project.
func (s *Session) ProjectTasks(projectID string) []*store.Task {
	return s.manager.ProjectTasks(projectID)
}

func (s *Session) mustGetProject(id string) *store.Project {
	p, _ := s.manager.GetProject(id)
	return p
}

// validateTaskGraph checks that every blocked_by edge stays inside the
// project and that the graph layers without a cycle.
func validateTaskGraph(tasks []*store.Task) error {
	ids := make(map[string]string, len(tasks))
	for _, t := range tasks {
		ids[t.ID] = t.Title
	}
	for _, t := range tasks {
		for _, dep := range t.BlockedBy {
			if _, ok := ids[dep]; !ok {
				return fmt.Errorf("task %q is blocked by unknown task %s", t.Title, dep)
			}
		}
	}
	if _, _, err := ExecutionLevels(tasks); err != nil {
		return err
	}
	return nil
}

func validateResearchDepth(depth string) error {
	for _, v := range ValidResearchDepths {
		if depth == v {
			return nil
		}
	}
	return fmt.Errorf("Invalid research_depth %q: valid values are %s",
		depth, strings.Join(ValidResearchDepths, ", "))
}

// titleFromDescription derives a short project title from the request's
// first line.
func titleFromDescription(description string) string {
	line := description
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if len(line) > 60 {
		line = strings.TrimSpace(line[:60]) + "..."
	}
	return line
}
