package store

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, dir
}

func TestStore_SaveAndReload(t *testing.T) {
	s, dir := newTestStore(t)

	p := NewProject("alpha")
	if err := s.SaveProject(p); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}
	task := NewTask("first")
	task.ProjectID = p.ID
	if err := s.SaveTask(task); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}

	// A second store over the same directory sees persisted state.
	reloaded, err := New(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, ok := reloaded.GetProject(p.ID)
	if !ok {
		t.Fatal("project missing after reload")
	}
	if got.Title != "alpha" {
		t.Errorf("title = %q", got.Title)
	}
	if tasks := reloaded.ListTasks(p.ID); len(tasks) != 1 || tasks[0].ID != task.ID {
		t.Errorf("tasks after reload = %v", tasks)
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s, _ := newTestStore(t)

	task := NewTask("immutable")
	_ = s.SaveTask(task)

	got, _ := s.GetTask(task.ID)
	got.Title = "mutated"
	got.Blocks = append(got.Blocks, "x")

	again, _ := s.GetTask(task.ID)
	if again.Title != "immutable" || len(again.Blocks) != 0 {
		t.Errorf("store state mutated through a returned copy: %+v", again)
	}
}

func TestStore_DeleteProjectCascadesToTasks(t *testing.T) {
	s, _ := newTestStore(t)

	p := NewProject("doomed")
	_ = s.SaveProject(p)

	inProject := NewTask("belongs")
	inProject.ProjectID = p.ID
	_ = s.SaveTask(inProject)

	standalone := NewTask("survives")
	_ = s.SaveTask(standalone)

	doc := NewDocument("note", "content")
	doc.ProjectID = p.ID
	_ = s.SaveDocument(doc)

	if err := s.DeleteProject(p.ID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}

	if _, ok := s.GetProject(p.ID); ok {
		t.Error("project still present")
	}
	if _, ok := s.GetTask(inProject.ID); ok {
		t.Error("project task should be cascaded away")
	}
	if _, ok := s.GetTask(standalone.ID); !ok {
		t.Error("standalone task should survive")
	}
	if _, ok := s.GetDocument(doc.ID); !ok {
		t.Error("documents are untouched by project deletion")
	}
}

func TestStore_ListProjectsByStatus(t *testing.T) {
	s, _ := newTestStore(t)

	draft := NewProject("draft one")
	_ = s.SaveProject(draft)
	approved := NewProject("approved one")
	approved.Status = ProjectApproved
	_ = s.SaveProject(approved)

	if got := s.ListProjects("approved"); len(got) != 1 || got[0].ID != approved.ID {
		t.Errorf("ListProjects(approved) = %v", got)
	}
	if got := s.ListProjects(""); len(got) != 2 {
		t.Errorf("ListProjects() = %d projects, want 2", len(got))
	}
}

func TestStore_TaskDocuments(t *testing.T) {
	s, _ := newTestStore(t)

	task := NewTask("with docs")
	_ = s.SaveTask(task)

	linked := NewDocument("deliverable", "output")
	linked.Type = DocumentDeliverable
	linked.TaskID = task.ID
	_ = s.SaveDocument(linked)

	other := NewDocument("unrelated", "x")
	_ = s.SaveDocument(other)

	docs := s.TaskDocuments(task.ID)
	if len(docs) != 1 || docs[0].ID != linked.ID {
		t.Errorf("TaskDocuments = %v", docs)
	}
}

func TestStore_ActivitiesNewestFirstWithLimit(t *testing.T) {
	s, _ := newTestStore(t)

	for _, msg := range []string{"one", "two", "three"} {
		a := NewActivity(ActivityTaskUpdated, msg)
		_ = s.AppendActivity(a)
	}

	got := s.ListActivities(2)
	if len(got) != 2 {
		t.Fatalf("limit ignored: %d entries", len(got))
	}
	if got[0].CreatedAt.Before(got[1].CreatedAt) {
		t.Error("activities not newest-first")
	}
}

func TestStore_DeleteMissingIsNoop(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.DeleteTask("nonexistent"); err != nil {
		t.Errorf("deleting a missing task should not error: %v", err)
	}
}

func TestStore_PersistsAtomically(t *testing.T) {
	s, dir := newTestStore(t)
	_ = s.SaveTask(NewTask("x"))

	// No temp artifacts should linger after a write.
	if _, err := os.Stat(filepath.Join(dir, "tasks.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind after persist")
	}
	if _, err := os.Stat(filepath.Join(dir, "tasks.json")); err != nil {
		t.Errorf("tasks.json missing: %v", err)
	}
}
