package deepwork

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shabbark/pocketpaw/internal/missioncontrol"
	"github.com/shabbark/pocketpaw/internal/store"
	"github.com/shabbark/pocketpaw/pkg/protocol"
)

// humanNotifiedKey marks a human task whose notification already went out,
// so re-dispatch passes do not nag.
const humanNotifiedKey = "human_notified"

// taskExecutor is the slice of the executor the scheduler drives.
type taskExecutor interface {
	ExecuteTaskBackground(taskID, agentID string) bool
	IsTaskRunning(taskID string) bool
}

// eventBroadcaster is the bus surface the scheduler needs.
type eventBroadcaster interface {
	Broadcast(eventType string, data map[string]any)
}

// Scheduler dispatches a project's tasks in dependency order. A task is
// ready when it is still pending and every blocker is done or skipped;
// human tasks are routed to a person instead of an agent.
type Scheduler struct {
	manager  *missioncontrol.Manager
	executor taskExecutor
	bus      eventBroadcaster

	mu sync.Mutex
}

// NewScheduler wires a scheduler over the manager, executor, and bus.
func NewScheduler(m *missioncontrol.Manager, exec taskExecutor, b eventBroadcaster) *Scheduler {
	return &Scheduler{manager: m, executor: exec, bus: b}
}

// ReadyTasks returns the project's tasks whose dependencies are satisfied
// and which are not yet running. A blocker id that matches no stored task is
// treated as satisfied so a dangling reference cannot wedge the project.
func (s *Scheduler) ReadyTasks(projectID string) []*store.Task {
	tasks := s.manager.ProjectTasks(projectID)
	byID := make(map[string]*store.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	var ready []*store.Task
	for _, t := range tasks {
		if t.Status != store.TaskInbox && t.Status != store.TaskAssigned {
			continue
		}
		if s.executor.IsTaskRunning(t.ID) {
			continue
		}
		satisfied := true
		for _, depID := range t.BlockedBy {
			dep, ok := byID[depID]
			if !ok {
				if dep, ok = s.manager.GetTask(depID); !ok {
					continue
				}
			}
			if !store.TaskSatisfiesDependents(dep.Status) {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, t)
		}
	}
	return ready
}

// StartProject begins executing an approved project.
func (s *Scheduler) StartProject(projectID string) error {
	p, ok := s.manager.GetProject(projectID)
	if !ok {
		return fmt.Errorf("project %s not found", projectID)
	}
	if p.Status != store.ProjectExecuting {
		if _, err := s.manager.SetProjectStatus(projectID, store.ProjectExecuting); err != nil {
			return err
		}
	}
	s.DispatchReady(projectID)
	return nil
}

// DispatchReady launches every ready task of an executing project. Dispatch
// stops early when the executor reports capacity; deferred tasks are picked
// up on the next completion callback.
func (s *Scheduler) DispatchReady(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.manager.GetProject(projectID)
	if !ok || p.Status != store.ProjectExecuting {
		return
	}

	for _, t := range s.ReadyTasks(projectID) {
		switch t.TaskType {
		case store.TaskTypeHuman, store.TaskTypeReview:
			s.routeHumanTask(t)
		default:
			agentID := s.pickAgent(t)
			if agentID == "" {
				slog.Warn("no agent available for task", "task_id", t.ID, "title", t.Title)
				continue
			}
			if !s.executor.ExecuteTaskBackground(t.ID, agentID) {
				// At capacity; the completion callback retries.
				return
			}
		}
	}
}

// OnTaskCompleted is installed as the executor's completion callback. It
// closes out the project when every task is done or skipped, otherwise
// dispatches newly unblocked work.
func (s *Scheduler) OnTaskCompleted(taskID string) {
	t, ok := s.manager.GetTask(taskID)
	if !ok || t.ProjectID == "" {
		return
	}
	p, ok := s.manager.GetProject(t.ProjectID)
	if !ok {
		return
	}

	if s.projectFinished(p.ID) {
		if p.Status != store.ProjectCompleted {
			if _, err := s.manager.SetProjectStatus(p.ID, store.ProjectCompleted); err != nil {
				slog.Warn("project completion update failed", "project_id", p.ID, "error", err)
				return
			}
			s.bus.Broadcast(protocol.EventProjectCompleted, map[string]any{
				"project_id": p.ID,
				"title":      p.Title,
				"timestamp":  time.Now().UTC().Format(time.RFC3339),
			})
		}
		return
	}

	s.DispatchReady(p.ID)
}

// projectFinished reports whether every task of the project is done or
// skipped. An empty project is not finished; completion requires work.
func (s *Scheduler) projectFinished(projectID string) bool {
	tasks := s.manager.ProjectTasks(projectID)
	if len(tasks) == 0 {
		return false
	}
	for _, t := range tasks {
		if !store.TaskSatisfiesDependents(t.Status) {
			return false
		}
	}
	return true
}

// routeHumanTask notifies the project owner once and parks the task in
// assigned until a person resolves it.
func (s *Scheduler) routeHumanTask(t *store.Task) {
	if t.Metadata[humanNotifiedKey] == "true" {
		return
	}
	body := fmt.Sprintf("Task needs your attention: %s", t.Title)
	if t.TaskType == store.TaskTypeReview {
		body = fmt.Sprintf("Review requested: %s", t.Title)
	}
	if _, err := s.manager.NotifyHuman("human", t.TaskType, body, t.ID); err != nil {
		slog.Warn("human notification failed", "task_id", t.ID, "error", err)
		return
	}
	if t.Metadata == nil {
		t.Metadata = map[string]string{}
	}
	t.Metadata[humanNotifiedKey] = "true"
	if t.Status == store.TaskInbox {
		t.Status = store.TaskAssigned
	}
	if err := s.manager.SaveTask(t); err != nil {
		slog.Warn("human task update failed", "task_id", t.ID, "error", err)
	}
}

// pickAgent chooses who runs a task: its first assignee when set, otherwise
// the first idle agent on the team.
func (s *Scheduler) pickAgent(t *store.Task) string {
	if len(t.AssigneeIDs) > 0 {
		return t.AssigneeIDs[0]
	}
	for _, a := range s.manager.ListAgents() {
		if a.Status == store.AgentIdle {
			return a.ID
		}
	}
	return ""
}

// ExecutionLevels groups a project's tasks into waves that may run in
// parallel: level 0 has no in-project dependencies, level n depends only on
// earlier levels. Returns the level list, a task-to-level index, and an
// error when the dependency graph contains a cycle.
func ExecutionLevels(tasks []*store.Task) ([][]string, map[string]int, error) {
	levels := [][]string{}
	levelMap := map[string]int{}
	if len(tasks) == 0 {
		return levels, levelMap, nil
	}

	inProject := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		inProject[t.ID] = true
	}

	placed := map[string]bool{}
	remaining := len(tasks)
	for remaining > 0 {
		var level []string
		for _, t := range tasks {
			if placed[t.ID] {
				continue
			}
			eligible := true
			for _, dep := range t.BlockedBy {
				if inProject[dep] && !placed[dep] {
					eligible = false
					break
				}
			}
			if eligible {
				level = append(level, t.ID)
			}
		}
		if len(level) == 0 {
			return nil, nil, fmt.Errorf("dependency cycle among %d remaining tasks", remaining)
		}
		for _, id := range level {
			placed[id] = true
			levelMap[id] = len(levels)
		}
		levels = append(levels, level)
		remaining -= len(level)
	}
	return levels, levelMap, nil
}
