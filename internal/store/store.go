package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Store is the durable mission-control data layer: one JSON file per entity
// kind under the config directory, loaded at construction, written back
// atomically on every mutation. Each kind has its own lock; there are no
// cross-entity transactions, callers compose higher-level operations and the
// scheduler callback compensates for the race window.
type Store struct {
	projects      *collection[Project]
	tasks         *collection[Task]
	agents        *collection[AgentProfile]
	activities    *collection[Activity]
	documents     *collection[Document]
	notifications *collection[Notification]
}

// New opens (or creates) a store rooted at dir.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	s := &Store{
		projects:      newCollection[Project](filepath.Join(dir, "projects.json"), func(p *Project) string { return p.ID }, (*Project).Clone),
		tasks:         newCollection[Task](filepath.Join(dir, "tasks.json"), func(t *Task) string { return t.ID }, (*Task).Clone),
		agents:        newCollection[AgentProfile](filepath.Join(dir, "agents.json"), func(a *AgentProfile) string { return a.ID }, (*AgentProfile).Clone),
		activities:    newCollection[Activity](filepath.Join(dir, "activities.json"), func(a *Activity) string { return a.ID }, cloneShallow[Activity]),
		documents:     newCollection[Document](filepath.Join(dir, "documents.json"), func(d *Document) string { return d.ID }, (*Document).Clone),
		notifications: newCollection[Notification](filepath.Join(dir, "notifications.json"), func(n *Notification) string { return n.ID }, cloneShallow[Notification]),
	}

	for _, load := range []func() error{
		s.projects.load, s.tasks.load, s.agents.load,
		s.activities.load, s.documents.load, s.notifications.load,
	} {
		if err := load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// --- Projects ---

// SaveProject upserts a project, stamping updated_at.
func (s *Store) SaveProject(p *Project) error {
	p.UpdatedAt = time.Now().UTC()
	return s.projects.put(p)
}

// GetProject returns a project copy, or false when absent.
func (s *Store) GetProject(id string) (*Project, bool) { return s.projects.get(id) }

// ListProjects returns projects, optionally filtered by status, newest first.
func (s *Store) ListProjects(status string) []*Project {
	items := s.projects.list(func(p *Project) bool {
		return status == "" || string(p.Status) == status
	})
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items
}

// DeleteProject removes a project and every task belonging to it. Other
// entity kinds are untouched.
func (s *Store) DeleteProject(id string) error {
	if err := s.projects.delete(id); err != nil {
		return err
	}
	var orphaned []string
	for _, t := range s.tasks.list(func(t *Task) bool { return t.ProjectID == id }) {
		orphaned = append(orphaned, t.ID)
	}
	for _, taskID := range orphaned {
		if err := s.tasks.delete(taskID); err != nil {
			return err
		}
	}
	return nil
}

// --- Tasks ---

// SaveTask upserts a task, stamping updated_at.
func (s *Store) SaveTask(t *Task) error {
	t.UpdatedAt = time.Now().UTC()
	return s.tasks.put(t)
}

// GetTask returns a task copy, or false when absent.
func (s *Store) GetTask(id string) (*Task, bool) { return s.tasks.get(id) }

// ListTasks returns tasks, optionally filtered by project, oldest first.
func (s *Store) ListTasks(projectID string) []*Task {
	items := s.tasks.list(func(t *Task) bool {
		return projectID == "" || t.ProjectID == projectID
	})
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items
}

// DeleteTask removes a single task.
func (s *Store) DeleteTask(id string) error { return s.tasks.delete(id) }

// --- Agents ---

// SaveAgent upserts an agent profile, stamping updated_at.
func (s *Store) SaveAgent(a *AgentProfile) error {
	a.UpdatedAt = time.Now().UTC()
	return s.agents.put(a)
}

// GetAgent returns an agent copy, or false when absent.
func (s *Store) GetAgent(id string) (*AgentProfile, bool) { return s.agents.get(id) }

// ListAgents returns every agent profile, oldest first.
func (s *Store) ListAgents() []*AgentProfile {
	items := s.agents.list(nil)
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items
}

// DeleteAgent removes an agent profile.
func (s *Store) DeleteAgent(id string) error { return s.agents.delete(id) }

// --- Activities ---

// AppendActivity persists one feed entry. The feed is append-only.
func (s *Store) AppendActivity(a *Activity) error { return s.activities.put(a) }

// ListActivities returns the newest entries first, capped at limit
// (0 = all).
func (s *Store) ListActivities(limit int) []*Activity {
	items := s.activities.list(nil)
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// --- Documents ---

// SaveDocument upserts a document, stamping updated_at.
func (s *Store) SaveDocument(d *Document) error {
	d.UpdatedAt = time.Now().UTC()
	return s.documents.put(d)
}

// GetDocument returns a document copy, or false when absent.
func (s *Store) GetDocument(id string) (*Document, bool) { return s.documents.get(id) }

// TaskDocuments returns every document linked to a task, newest first.
func (s *Store) TaskDocuments(taskID string) []*Document {
	items := s.documents.list(func(d *Document) bool { return d.TaskID == taskID })
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items
}

// DeleteDocument removes a document.
func (s *Store) DeleteDocument(id string) error { return s.documents.delete(id) }

// --- Notifications ---

// SaveNotification upserts a notification, stamping updated_at.
func (s *Store) SaveNotification(n *Notification) error {
	n.UpdatedAt = time.Now().UTC()
	return s.notifications.put(n)
}

// ListNotifications returns notifications for a recipient ("" = all),
// newest first.
func (s *Store) ListNotifications(recipientID string) []*Notification {
	items := s.notifications.list(func(n *Notification) bool {
		return recipientID == "" || n.RecipientID == recipientID
	})
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items
}

// --- per-kind collection ---

// collection holds one entity kind: an in-memory map guarded by its own
// lock, persisted as a JSON array via write-temp-then-rename.
type collection[T any] struct {
	mu    sync.RWMutex
	path  string
	items map[string]*T
	keyOf func(*T) string
	clone func(*T) *T
}

func newCollection[T any](path string, keyOf func(*T) string, clone func(*T) *T) *collection[T] {
	return &collection[T]{
		path:  path,
		items: make(map[string]*T),
		keyOf: keyOf,
		clone: clone,
	}
}

func cloneShallow[T any](v *T) *T {
	cp := *v
	return &cp
}

func (c *collection[T]) load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", c.path, err)
	}

	var list []*T
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("parse %s: %w", c.path, err)
	}
	for _, item := range list {
		c.items[c.keyOf(item)] = item
	}
	return nil
}

func (c *collection[T]) get(id string) (*T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[id]
	if !ok {
		return nil, false
	}
	return c.clone(item), true
}

func (c *collection[T]) put(item *T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[c.keyOf(item)] = c.clone(item)
	return c.persistLocked()
}

func (c *collection[T]) delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[id]; !ok {
		return nil
	}
	delete(c.items, id)
	return c.persistLocked()
}

func (c *collection[T]) list(match func(*T) bool) []*T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*T
	for _, item := range c.items {
		if match == nil || match(item) {
			out = append(out, c.clone(item))
		}
	}
	return out
}

// persistLocked writes the full collection atomically. Caller holds c.mu.
func (c *collection[T]) persistLocked() error {
	list := make([]*T, 0, len(c.items))
	for _, item := range c.items {
		list = append(list, item)
	}
	sort.Slice(list, func(i, j int) bool { return c.keyOf(list[i]) < c.keyOf(list[j]) })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", c.path, err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
