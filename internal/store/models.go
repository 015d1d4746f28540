package store

import (
	"time"

	"github.com/google/uuid"
)

// ProjectStatus is the lifecycle state of a deep-work project.
type ProjectStatus string

const (
	ProjectDraft            ProjectStatus = "draft"
	ProjectAwaitingApproval ProjectStatus = "awaiting_approval"
	ProjectApproved         ProjectStatus = "approved"
	ProjectExecuting        ProjectStatus = "executing"
	ProjectPaused           ProjectStatus = "paused"
	ProjectCompleted        ProjectStatus = "completed"
	ProjectFailed           ProjectStatus = "failed"
)

// ValidProjectStatus reports whether s is a known project status.
func ValidProjectStatus(s string) bool {
	switch ProjectStatus(s) {
	case ProjectDraft, ProjectAwaitingApproval, ProjectApproved,
		ProjectExecuting, ProjectPaused, ProjectCompleted, ProjectFailed:
		return true
	}
	return false
}

// TaskStatus is the workflow state of a task.
type TaskStatus string

const (
	TaskInbox      TaskStatus = "inbox"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskReview     TaskStatus = "review"
	TaskDone       TaskStatus = "done"
	TaskSkipped    TaskStatus = "skipped"
	TaskBlocked    TaskStatus = "blocked"
)

// ValidTaskStatus reports whether s is a known task status.
func ValidTaskStatus(s string) bool {
	switch TaskStatus(s) {
	case TaskInbox, TaskAssigned, TaskInProgress, TaskReview,
		TaskDone, TaskSkipped, TaskBlocked:
		return true
	}
	return false
}

// TaskSatisfiesDependents reports whether a dependency in this status
// unblocks its dependents. Skipped counts the same as done.
func TaskSatisfiesDependents(s TaskStatus) bool {
	return s == TaskDone || s == TaskSkipped
}

// TaskPriority orders tasks for display.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// Task type values.
const (
	TaskTypeAgent  = "agent"
	TaskTypeHuman  = "human"
	TaskTypeReview = "review"
)

// AgentStatus is the availability state of an agent profile.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentActive  AgentStatus = "active"
	AgentBusy    AgentStatus = "busy"
	AgentOffline AgentStatus = "offline"
)

// Document type values.
const (
	DocumentNote        = "note"
	DocumentPRD         = "prd"
	DocumentDeliverable = "deliverable"
)

// Activity type values used across the manager and executor.
const (
	ActivityTaskCreated     = "task_created"
	ActivityTaskUpdated     = "task_updated"
	ActivityTaskCompleted   = "task_completed"
	ActivityDocumentCreated = "document_created"
	ActivityAgentUpdated    = "agent_updated"
	ActivityProjectCreated  = "project_created"
	ActivityProjectUpdated  = "project_updated"
)

// Project is a deep-work request decomposed into a task graph.
type Project struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	Tags          []string      `json:"tags"`
	Status        ProjectStatus `json:"status"`
	CreatorID     string        `json:"creator_id"`
	PRDDocumentID string        `json:"prd_document_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// NewProject creates a draft project with a fresh UUID.
func NewProject(title string) *Project {
	now := time.Now().UTC()
	return &Project{
		ID:        uuid.NewString(),
		Title:     title,
		Tags:      []string{},
		Status:    ProjectDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy safe for callers to mutate.
func (p *Project) Clone() *Project {
	cp := *p
	cp.Tags = append([]string(nil), p.Tags...)
	return &cp
}

// Task is one unit of work in a project (or standalone in the inbox).
type Task struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`
	AssigneeIDs []string     `json:"assignee_ids"`
	CreatorID   string       `json:"creator_id"`

	ParentTaskID string   `json:"parent_task_id,omitempty"`
	BlockedBy    []string `json:"blocked_by"`
	Blocks       []string `json:"blocks"`
	Tags         []string `json:"tags"`

	ProjectID         string     `json:"project_id,omitempty"`
	TaskType          string     `json:"task_type"`
	ActiveDescription string     `json:"active_description"`
	EstimatedMinutes  *int       `json:"estimated_minutes"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`

	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewTask creates an inbox task with a fresh UUID and field defaults.
func NewTask(title string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:          uuid.NewString(),
		Title:       title,
		Status:      TaskInbox,
		Priority:    PriorityMedium,
		AssigneeIDs: []string{},
		BlockedBy:   []string{},
		Blocks:      []string{},
		Tags:        []string{},
		TaskType:    TaskTypeAgent,
		Metadata:    map[string]string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy safe for callers to mutate.
func (t *Task) Clone() *Task {
	cp := *t
	cp.AssigneeIDs = append([]string(nil), t.AssigneeIDs...)
	cp.BlockedBy = append([]string(nil), t.BlockedBy...)
	cp.Blocks = append([]string(nil), t.Blocks...)
	cp.Tags = append([]string(nil), t.Tags...)
	if t.EstimatedMinutes != nil {
		v := *t.EstimatedMinutes
		cp.EstimatedMinutes = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		cp.CompletedAt = &v
	}
	if t.Metadata != nil {
		cp.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// AgentProfile describes one member of the agent team.
type AgentProfile struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Role          string      `json:"role"`
	Description   string      `json:"description"`
	Specialties   []string    `json:"specialties"`
	Status        AgentStatus `json:"status"`
	CurrentTaskID string      `json:"current_task_id,omitempty"`
	Backend       string      `json:"backend"`
	Level         int         `json:"level"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// NewAgent creates an idle agent profile with a fresh UUID.
func NewAgent(name, role string) *AgentProfile {
	now := time.Now().UTC()
	return &AgentProfile{
		ID:            uuid.NewString(),
		Name:          name,
		Role:          role,
		Specialties:   []string{},
		Status:        AgentIdle,
		Level:         1,
		LastHeartbeat: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a deep copy safe for callers to mutate.
func (a *AgentProfile) Clone() *AgentProfile {
	cp := *a
	cp.Specialties = append([]string(nil), a.Specialties...)
	return &cp
}

// Activity is one append-only feed entry.
type Activity struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	AgentID   string    `json:"agent_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	ProjectID string    `json:"project_id,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// NewActivity creates a feed entry stamped with the current time.
func NewActivity(activityType, message string) *Activity {
	return &Activity{
		ID:        uuid.NewString(),
		Type:      activityType,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
}

// Document is stored prose: notes, PRDs, and task deliverables.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	AuthorID  string    `json:"author_id"`
	TaskID    string    `json:"task_id,omitempty"`
	ProjectID string    `json:"project_id,omitempty"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDocument creates a note document with a fresh UUID.
func NewDocument(title, content string) *Document {
	now := time.Now().UTC()
	return &Document{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   content,
		Type:      DocumentNote,
		Tags:      []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy safe for callers to mutate.
func (d *Document) Clone() *Document {
	cp := *d
	cp.Tags = append([]string(nil), d.Tags...)
	return &cp
}

// Notification is a pending message for a human participant.
type Notification struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	Kind        string    `json:"kind"`
	Body        string    `json:"body"`
	TaskID      string    `json:"task_id,omitempty"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewNotification creates an unread notification with a fresh UUID.
func NewNotification(recipientID, kind, body string) *Notification {
	now := time.Now().UTC()
	return &Notification{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Kind:        kind,
		Body:        body,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
