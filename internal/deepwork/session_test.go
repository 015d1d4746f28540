package deepwork

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shabbark/pocketpaw/internal/bus"
	"github.com/shabbark/pocketpaw/internal/missioncontrol"
	"github.com/shabbark/pocketpaw/internal/store"
)

// scriptedPlanner returns a fixed plan, or fails.
type scriptedPlanner struct {
	plan  *Plan
	err   error
	calls int
}

func (s *scriptedPlanner) Plan(ctx context.Context, req PlanRequest) (*Plan, error) {
	s.calls++
	return s.plan, s.err
}

func twoStepPlan() *Plan {
	return &Plan{
		Title: "Widget study",
		PRD:   "## Goal\nUnderstand the widget market.",
		Tasks: []PlannedTask{
			{Title: "Research widgets", TaskType: "agent", Priority: "high"},
			{Title: "Write report", TaskType: "agent", DependsOn: []int{0}},
		},
	}
}

type sessionFixture struct {
	session *Session
	manager *missioncontrol.Manager
	exec    *fakeExecutor
	planner *scriptedPlanner
	project *store.Project
}

func newSessionFixture(t *testing.T, planner *scriptedPlanner) *sessionFixture {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	b := bus.New()
	m := missioncontrol.NewManager(st, b)
	exec := &fakeExecutor{}
	sched := NewScheduler(m, exec, b)

	project, err := m.CreateProject("Existing project", "for validation tests", nil)
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return &sessionFixture{
		session: NewSession(m, sched, planner, b),
		manager: m,
		exec:    exec,
		planner: planner,
		project: project,
	}
}

func TestValidResearchDepths(t *testing.T) {
	if len(ValidResearchDepths) != 4 {
		t.Fatalf("depths = %v", ValidResearchDepths)
	}
	for _, want := range []string{"none", "quick", "standard", "deep"} {
		found := false
		for _, d := range ValidResearchDepths {
			if d == want {
				found = true
			}
		}
		if !found {
			t.Errorf("missing depth %q", want)
		}
	}
}

func TestPlanExistingProject_InvalidResearchDepth(t *testing.T) {
	f := newSessionFixture(t, &scriptedPlanner{plan: twoStepPlan()})

	for _, depth := range []string{"invalid_depth", "", "STANDARD"} {
		_, err := f.session.PlanExistingProject(context.Background(), f.project.ID, "Build a todo app", depth)
		if err == nil {
			t.Fatalf("depth %q should be rejected", depth)
		}
		if !strings.Contains(err.Error(), "Invalid research_depth") {
			t.Errorf("depth %q error = %q", depth, err)
		}
		if depth != "" && !strings.Contains(err.Error(), depth) {
			t.Errorf("error should name the bad value, got %q", err)
		}
		if !strings.Contains(err.Error(), "none") {
			t.Errorf("error should list valid options, got %q", err)
		}
	}
	if f.planner.calls != 0 {
		t.Errorf("planner must not run on invalid input, ran %d times", f.planner.calls)
	}
}

func TestPlanExistingProject_UserInputValidation(t *testing.T) {
	f := newSessionFixture(t, &scriptedPlanner{plan: twoStepPlan()})

	for _, input := range []string{"", "   ", "\n", "\t", "  \n  \t  "} {
		_, err := f.session.PlanExistingProject(context.Background(), f.project.ID, input, "standard")
		if err == nil || !strings.Contains(err.Error(), "cannot be empty") {
			t.Errorf("input %q error = %v, want empty-input error", input, err)
		}
	}

	long := strings.Repeat("a", 5001)
	_, err := f.session.PlanExistingProject(context.Background(), f.project.ID, long, "standard")
	if err == nil || !strings.Contains(err.Error(), "too long") || !strings.Contains(err.Error(), "5000") {
		t.Errorf("oversize input error = %v", err)
	}

	exact := strings.Repeat("a", 5000)
	if _, err := f.session.PlanExistingProject(context.Background(), f.project.ID, exact, "standard"); err != nil {
		t.Errorf("input of exactly 5000 chars should pass validation, got %v", err)
	}
}

func TestPlanExistingProject_AllDepthsAccepted(t *testing.T) {
	for _, depth := range ValidResearchDepths {
		f := newSessionFixture(t, &scriptedPlanner{plan: twoStepPlan()})
		if _, err := f.session.PlanExistingProject(context.Background(), f.project.ID, "Build a simple app", depth); err != nil {
			t.Errorf("depth %q rejected: %v", depth, err)
		}
	}
}

func TestPlanExistingProject_UnknownProject(t *testing.T) {
	f := newSessionFixture(t, &scriptedPlanner{plan: twoStepPlan()})
	if _, err := f.session.PlanExistingProject(context.Background(), "missing", "Build it", "none"); err == nil {
		t.Fatal("expected error for unknown project")
	}
}

func TestPlanExistingProject_MaterializesGraph(t *testing.T) {
	f := newSessionFixture(t, &scriptedPlanner{plan: twoStepPlan()})

	project, err := f.session.PlanExistingProject(context.Background(), f.project.ID, "Study the widget market", "standard")
	if err != nil {
		t.Fatalf("PlanExistingProject: %v", err)
	}

	if project.Status != store.ProjectAwaitingApproval {
		t.Errorf("status = %s, want awaiting_approval", project.Status)
	}
	if project.PRDDocumentID == "" {
		t.Error("project should reference its PRD document")
	}
	if prd, ok := f.manager.GetDocument(project.PRDDocumentID); !ok || prd.Type != store.DocumentPRD {
		t.Errorf("PRD document = %+v", prd)
	}

	tasks := f.manager.ProjectTasks(project.ID)
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(tasks))
	}
	var research, report *store.Task
	for _, task := range tasks {
		switch task.Title {
		case "Research widgets":
			research = task
		case "Write report":
			report = task
		}
	}
	if research == nil || report == nil {
		t.Fatalf("task titles missing: %v", tasks)
	}
	if len(report.BlockedBy) != 1 || report.BlockedBy[0] != research.ID {
		t.Errorf("report.blocked_by = %v", report.BlockedBy)
	}
	if len(research.Blocks) != 1 || research.Blocks[0] != report.ID {
		t.Errorf("research.blocks = %v, edges must stay symmetric", research.Blocks)
	}
}

func TestStart_DescriptionLengthValidation(t *testing.T) {
	f := newSessionFixture(t, &scriptedPlanner{plan: twoStepPlan()})

	if _, err := f.session.Start(context.Background(), "short", "none"); err == nil {
		t.Error("nine characters or fewer should be rejected")
	}
	long := strings.Repeat("b", 5001)
	if _, err := f.session.Start(context.Background(), long, "none"); err == nil {
		t.Error("oversize description should be rejected")
	}
	if f.planner.calls != 0 {
		t.Errorf("planner ran %d times on invalid input", f.planner.calls)
	}
}

func TestStart_PlansAndAwaitsApproval(t *testing.T) {
	f := newSessionFixture(t, &scriptedPlanner{plan: twoStepPlan()})

	project, err := f.session.Start(context.Background(), "Research the widget market and write a report", "quick")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if project.Status != store.ProjectAwaitingApproval {
		t.Errorf("status = %s, want awaiting_approval", project.Status)
	}
	if project.Title != "Widget study" {
		t.Errorf("title = %q, want the planner's title", project.Title)
	}
	if got := f.exec.launches(); len(got) != 0 {
		t.Errorf("nothing may execute before approval, launched %v", got)
	}
}

func TestStart_PlannerFailureMarksProjectFailed(t *testing.T) {
	f := newSessionFixture(t, &scriptedPlanner{err: errors.New("backend down")})

	_, err := f.session.Start(context.Background(), "A perfectly valid request description", "none")
	if err == nil {
		t.Fatal("expected planning error")
	}

	failed := f.manager.ListProjects(string(store.ProjectFailed))
	if len(failed) != 1 {
		t.Errorf("failed projects = %d, want 1", len(failed))
	}
}

func TestApprove_StartsExecution(t *testing.T) {
	f := newSessionFixture(t, &scriptedPlanner{plan: twoStepPlan()})
	agent := store.NewAgent("Ada", "worker")
	if err := f.manager.CreateAgent(agent); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	planned, err := f.session.PlanExistingProject(context.Background(), f.project.ID, "Study widgets", "none")
	if err != nil {
		t.Fatalf("PlanExistingProject: %v", err)
	}

	approved, err := f.session.Approve(planned.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Status != store.ProjectExecuting {
		t.Errorf("status = %s, want executing", approved.Status)
	}
	if got := f.exec.launches(); len(got) != 1 {
		t.Errorf("launched = %v, want the single unblocked task", got)
	}
}

func TestApprove_RejectsCyclicGraph(t *testing.T) {
	f := newSessionFixture(t, &scriptedPlanner{plan: twoStepPlan()})

	a := store.NewTask("A")
	b := store.NewTask("B")
	a.ProjectID, b.ProjectID = f.project.ID, f.project.ID
	a.BlockedBy, a.Blocks = []string{b.ID}, []string{b.ID}
	b.BlockedBy, b.Blocks = []string{a.ID}, []string{a.ID}
	for _, task := range []*store.Task{a, b} {
		if err := f.manager.CreateTask(task); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}

	_, err := f.session.Approve(f.project.ID)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("Approve error = %v, want cycle rejection", err)
	}
	project, _ := f.manager.GetProject(f.project.ID)
	if project.Status == store.ProjectExecuting || project.Status == store.ProjectApproved {
		t.Errorf("status = %s, rejected project must not advance", project.Status)
	}
	if got := f.exec.launches(); len(got) != 0 {
		t.Errorf("launched %v from a rejected plan", got)
	}
}

func TestApprove_RejectsUnknownDependency(t *testing.T) {
	f := newSessionFixture(t, &scriptedPlanner{plan: twoStepPlan()})

	task := store.NewTask("Orphaned")
	task.ProjectID = f.project.ID
	task.BlockedBy = []string{"no-such-task"}
	if err := f.manager.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	_, err := f.session.Approve(f.project.ID)
	if err == nil || !strings.Contains(err.Error(), "unknown task") {
		t.Fatalf("Approve error = %v, want unknown-dependency rejection", err)
	}
	if got := f.exec.launches(); len(got) != 0 {
		t.Errorf("launched %v from a rejected plan", got)
	}
}

func TestPauseAndResume(t *testing.T) {
	f := newSessionFixture(t, &scriptedPlanner{plan: twoStepPlan()})

	paused, err := f.session.Pause(f.project.ID)
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if paused.Status != store.ProjectPaused {
		t.Errorf("status = %s, want paused", paused.Status)
	}

	resumed, err := f.session.Resume(f.project.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != store.ProjectExecuting {
		t.Errorf("status = %s, want executing", resumed.Status)
	}
}

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"bare json", `{"title":"t","prd":"p","tasks":[{"title":"a"}]}`, false},
		{"fenced json", "Here you go:\n```json\n{\"tasks\":[{\"title\":\"a\"}]}\n```", false},
		{"no json", "I cannot plan this.", true},
		{"empty tasks", `{"tasks":[]}`, true},
		{"untitled task", `{"tasks":[{"description":"x"}]}`, true},
		{"dangling dependency", `{"tasks":[{"title":"a","depends_on":[5]}]}`, true},
		{"self dependency", `{"tasks":[{"title":"a","depends_on":[0]}]}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parsePlan(tt.content)
			if (err != nil) != tt.wantErr {
				t.Errorf("parsePlan error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
