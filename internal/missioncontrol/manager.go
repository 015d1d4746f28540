// Package missioncontrol holds the business layer over the store: the
// manager (assignments, progress, cascades) and the concurrent task
// executor that runs agents against tasks.
package missioncontrol

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shabbark/pocketpaw/internal/bus"
	"github.com/shabbark/pocketpaw/internal/store"
	"github.com/shabbark/pocketpaw/pkg/protocol"
)

// Manager is the policy layer atop the store. Every status transition writes
// an activity entry and broadcasts a system event after the mutation has
// been persisted.
type Manager struct {
	store *store.Store
	bus   *bus.MessageBus
}

// NewManager wires a manager over its store and bus.
func NewManager(st *store.Store, b *bus.MessageBus) *Manager {
	return &Manager{store: st, bus: b}
}

// Store exposes the underlying store for read paths that need no policy.
func (m *Manager) Store() *store.Store { return m.store }

// --- Projects ---

// CreateProject persists a new project and logs the creation.
func (m *Manager) CreateProject(title, description string, tags []string) (*store.Project, error) {
	p := store.NewProject(title)
	p.Description = description
	if len(tags) > 0 {
		p.Tags = tags
	}
	if err := m.store.SaveProject(p); err != nil {
		return nil, err
	}
	m.logActivity(&store.Activity{
		Type:      store.ActivityProjectCreated,
		ProjectID: p.ID,
		Message:   fmt.Sprintf("Project '%s' created", p.Title),
	})
	return p, nil
}

// GetProject returns a project by id.
func (m *Manager) GetProject(id string) (*store.Project, bool) {
	return m.store.GetProject(id)
}

// ListProjects lists projects, optionally filtered by status.
func (m *Manager) ListProjects(status string) []*store.Project {
	return m.store.ListProjects(status)
}

// SaveProject persists caller-side edits to a project.
func (m *Manager) SaveProject(p *store.Project) error {
	return m.store.SaveProject(p)
}

// SetProjectStatus transitions a project and logs the change.
func (m *Manager) SetProjectStatus(id string, status store.ProjectStatus) (*store.Project, error) {
	p, ok := m.store.GetProject(id)
	if !ok {
		return nil, fmt.Errorf("project %s not found", id)
	}
	p.Status = status
	if err := m.store.SaveProject(p); err != nil {
		return nil, err
	}
	m.logActivity(&store.Activity{
		Type:      store.ActivityProjectUpdated,
		ProjectID: p.ID,
		Message:   fmt.Sprintf("Project '%s' moved to %s", p.Title, status),
	})
	return p, nil
}

// DeleteProject removes a project and its tasks.
func (m *Manager) DeleteProject(id string) error {
	return m.store.DeleteProject(id)
}

// --- Tasks ---

// CreateTask persists a new task and logs the creation.
func (m *Manager) CreateTask(t *store.Task) error {
	if err := m.store.SaveTask(t); err != nil {
		return err
	}
	m.logActivity(&store.Activity{
		Type:      store.ActivityTaskCreated,
		TaskID:    t.ID,
		ProjectID: t.ProjectID,
		Message:   fmt.Sprintf("Task '%s' created", t.Title),
	})
	return nil
}

// GetTask returns a task by id.
func (m *Manager) GetTask(id string) (*store.Task, bool) {
	return m.store.GetTask(id)
}

// ProjectTasks returns every task belonging to a project.
func (m *Manager) ProjectTasks(projectID string) []*store.Task {
	return m.store.ListTasks(projectID)
}

// ListTasks returns all tasks.
func (m *Manager) ListTasks() []*store.Task {
	return m.store.ListTasks("")
}

// SaveTask persists caller-side edits to a task.
func (m *Manager) SaveTask(t *store.Task) error {
	return m.store.SaveTask(t)
}

// DeleteTask removes a task.
func (m *Manager) DeleteTask(id string) error {
	return m.store.DeleteTask(id)
}

// AssignTask sets the assignees of a task, promoting inbox tasks to
// assigned.
func (m *Manager) AssignTask(taskID string, agentIDs []string) (*store.Task, error) {
	t, ok := m.store.GetTask(taskID)
	if !ok {
		return nil, fmt.Errorf("task %s not found", taskID)
	}
	t.AssigneeIDs = agentIDs
	if t.Status == store.TaskInbox {
		t.Status = store.TaskAssigned
	}
	if err := m.store.SaveTask(t); err != nil {
		return nil, err
	}
	m.logActivity(&store.Activity{
		Type:      store.ActivityTaskUpdated,
		TaskID:    t.ID,
		ProjectID: t.ProjectID,
		Message:   fmt.Sprintf("Task '%s' assigned", t.Title),
	})
	return t, nil
}

// UpdateTaskStatus transitions a task. Moving to done stamps completed_at in
// the same write. The mutation persists before the status-changed broadcast.
func (m *Manager) UpdateTaskStatus(taskID string, status store.TaskStatus, actorAgentID string) (*store.Task, error) {
	if !store.ValidTaskStatus(string(status)) {
		return nil, fmt.Errorf("invalid task status %q", status)
	}
	t, ok := m.store.GetTask(taskID)
	if !ok {
		return nil, fmt.Errorf("task %s not found", taskID)
	}

	t.Status = status
	if status == store.TaskDone {
		now := time.Now().UTC()
		t.CompletedAt = &now
	}
	if err := m.store.SaveTask(t); err != nil {
		return nil, err
	}

	m.logActivity(&store.Activity{
		Type:      store.ActivityTaskUpdated,
		AgentID:   actorAgentID,
		TaskID:    t.ID,
		ProjectID: t.ProjectID,
		Message:   fmt.Sprintf("Task '%s' moved to %s", t.Title, status),
	})
	m.bus.Broadcast(protocol.EventTaskStatusChanged, map[string]any{
		"task_id":        t.ID,
		"status":         string(status),
		"actor_agent_id": actorAgentID,
		"task":           t,
	})
	return t, nil
}

// Progress summarizes how far a project has come.
type Progress struct {
	Total        int     `json:"total"`
	Completed    int     `json:"completed"`
	InProgress   int     `json:"in_progress"`
	Blocked      int     `json:"blocked"`
	Skipped      int     `json:"skipped"`
	HumanPending int     `json:"human_pending"`
	Percent      float64 `json:"percent"`
}

// ProjectProgress computes progress over a project's tasks. Percent counts
// skipped tasks as finished and is rounded to one decimal.
func (m *Manager) ProjectProgress(projectID string) Progress {
	var p Progress
	for _, t := range m.store.ListTasks(projectID) {
		p.Total++
		switch t.Status {
		case store.TaskDone:
			p.Completed++
		case store.TaskInProgress:
			p.InProgress++
		case store.TaskBlocked:
			p.Blocked++
		case store.TaskSkipped:
			p.Skipped++
		}
		if t.TaskType == store.TaskTypeHuman && !store.TaskSatisfiesDependents(t.Status) {
			p.HumanPending++
		}
	}
	if p.Total > 0 {
		p.Percent = math.Round(float64(p.Completed+p.Skipped)/float64(p.Total)*1000) / 10
	}
	return p
}

// --- Agents ---

// CreateAgent persists a new agent profile.
func (m *Manager) CreateAgent(a *store.AgentProfile) error {
	return m.store.SaveAgent(a)
}

// GetAgent returns an agent profile by id.
func (m *Manager) GetAgent(id string) (*store.AgentProfile, bool) {
	return m.store.GetAgent(id)
}

// ListAgents returns every agent profile.
func (m *Manager) ListAgents() []*store.AgentProfile {
	return m.store.ListAgents()
}

// SetAgentStatus updates an agent's availability and its current task link.
// currentTaskID must be the task now executing on the agent, or empty.
func (m *Manager) SetAgentStatus(agentID string, status store.AgentStatus, currentTaskID string) error {
	a, ok := m.store.GetAgent(agentID)
	if !ok {
		return fmt.Errorf("agent %s not found", agentID)
	}
	a.Status = status
	a.CurrentTaskID = currentTaskID
	a.LastHeartbeat = time.Now().UTC()
	if err := m.store.SaveAgent(a); err != nil {
		return err
	}
	m.bus.Broadcast(protocol.EventAgentStatus, map[string]any{
		"agent_id":        a.ID,
		"status":          string(status),
		"current_task_id": currentTaskID,
	})
	return nil
}

// DeleteAgent removes an agent profile.
func (m *Manager) DeleteAgent(id string) error {
	return m.store.DeleteAgent(id)
}

// --- Documents ---

// SaveDocument persists a document.
func (m *Manager) SaveDocument(d *store.Document) error {
	return m.store.SaveDocument(d)
}

// GetDocument returns a document by id.
func (m *Manager) GetDocument(id string) (*store.Document, bool) {
	return m.store.GetDocument(id)
}

// TaskDocuments returns documents linked to a task, newest first.
func (m *Manager) TaskDocuments(taskID string) []*store.Document {
	return m.store.TaskDocuments(taskID)
}

// --- Activities & notifications ---

// LogActivity persists a feed entry and broadcasts it. The entry is written
// before the broadcast so subscribers never see an activity that is not yet
// durable.
func (m *Manager) LogActivity(activityType, agentID, taskID, projectID, message string) *store.Activity {
	return m.logActivity(&store.Activity{
		Type:      activityType,
		AgentID:   agentID,
		TaskID:    taskID,
		ProjectID: projectID,
		Message:   message,
	})
}

func (m *Manager) logActivity(a *store.Activity) *store.Activity {
	if a.ID == "" {
		full := store.NewActivity(a.Type, a.Message)
		full.AgentID = a.AgentID
		full.TaskID = a.TaskID
		full.ProjectID = a.ProjectID
		a = full
	}
	if err := m.store.AppendActivity(a); err != nil {
		// A lost feed entry must never fail the operation that produced it.
		slog.Warn("activity append failed", "type", a.Type, "error", err)
		return a
	}
	m.bus.Broadcast(protocol.EventActivityCreated, map[string]any{"activity": a})
	return a
}

// NotifyHuman creates a notification for a human-gated task and announces it
// on the bus.
func (m *Manager) NotifyHuman(recipientID, kind, body, taskID string) (*store.Notification, error) {
	n := store.NewNotification(recipientID, kind, body)
	n.TaskID = taskID
	if err := m.store.SaveNotification(n); err != nil {
		return nil, err
	}
	m.bus.Broadcast("notification_created", map[string]any{"notification": n})
	return n, nil
}

// ListActivities returns the newest feed entries.
func (m *Manager) ListActivities(limit int) []*store.Activity {
	return m.store.ListActivities(limit)
}
