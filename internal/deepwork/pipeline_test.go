package deepwork

import (
	"context"
	"testing"
	"time"

	"github.com/shabbark/pocketpaw/internal/bus"
	"github.com/shabbark/pocketpaw/internal/missioncontrol"
	"github.com/shabbark/pocketpaw/internal/router"
	"github.com/shabbark/pocketpaw/internal/store"
	"github.com/shabbark/pocketpaw/pkg/protocol"
)

// instantRouter completes every run immediately with a short message.
type instantRouter struct{}

func (instantRouter) Run(ctx context.Context, prompt string) <-chan router.Chunk {
	out := make(chan router.Chunk, 2)
	out <- router.Chunk{Type: router.ChunkMessage, Content: "done"}
	out <- router.Chunk{Type: router.ChunkDone}
	close(out)
	return out
}

func (instantRouter) Stop() {}

// pipelineFixture wires the scheduler to a real executor so dispatch runs
// end to end: ready tasks launch, completions unblock dependents, and the
// project closes itself out.
type pipelineFixture struct {
	manager   *missioncontrol.Manager
	scheduler *Scheduler
	bus       *bus.MessageBus
	project   *store.Project
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	b := bus.New()
	m := missioncontrol.NewManager(st, b)

	exec := missioncontrol.NewExecutor(m, b, router.Settings{APIKey: "test"}, t.TempDir())
	exec.SetRouterFactory(func(router.Settings) (missioncontrol.TaskRouter, error) {
		return instantRouter{}, nil
	})
	sched := NewScheduler(m, exec, b)
	exec.SetOnTaskDone(sched.OnTaskCompleted)

	agent := store.NewAgent("Ada", "worker")
	agent.Backend = "anthropic"
	if err := m.CreateAgent(agent); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	project, err := m.CreateProject("Pipeline", "dependency dispatch", nil)
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return &pipelineFixture{manager: m, scheduler: sched, bus: b, project: project}
}

func (f *pipelineFixture) addTask(t *testing.T, title string, blockers ...*store.Task) *store.Task {
	t.Helper()
	task := store.NewTask(title)
	task.ProjectID = f.project.ID
	for _, dep := range blockers {
		task.BlockedBy = append(task.BlockedBy, dep.ID)
		dep.Blocks = append(dep.Blocks, task.ID)
		if err := f.manager.SaveTask(dep); err != nil {
			t.Fatalf("SaveTask: %v", err)
		}
	}
	if err := f.manager.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

// runToCompletion starts the project and collects the launch order until
// the completion event lands.
func (f *pipelineFixture) runToCompletion(t *testing.T) []string {
	t.Helper()
	events := f.bus.SubscribeEvents("pipeline-test")
	defer f.bus.UnsubscribeEvents("pipeline-test")

	if err := f.scheduler.StartProject(f.project.ID); err != nil {
		t.Fatalf("StartProject: %v", err)
	}

	var started []string
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			switch ev.Type {
			case protocol.EventTaskStarted:
				if id, ok := ev.Data["task_id"].(string); ok {
					started = append(started, id)
				}
			case protocol.EventProjectCompleted:
				return started
			}
		case <-deadline:
			t.Fatalf("project never completed; started = %v", started)
		}
	}
}

func TestPipeline_LinearChainRunsInOrder(t *testing.T) {
	f := newPipelineFixture(t)
	a := f.addTask(t, "collect")
	b := f.addTask(t, "analyze", a)
	c := f.addTask(t, "report", b)

	started := f.runToCompletion(t)

	want := []string{a.ID, b.ID, c.ID}
	if len(started) != len(want) {
		t.Fatalf("launches = %v, want 3", started)
	}
	for i := range want {
		if started[i] != want[i] {
			t.Fatalf("dispatch order = %v, want %v", started, want)
		}
	}

	for _, task := range []*store.Task{a, b, c} {
		got, _ := f.manager.GetTask(task.ID)
		if got.Status != store.TaskDone {
			t.Errorf("%s status = %s, want done", got.Title, got.Status)
		}
	}
	project, _ := f.manager.GetProject(f.project.ID)
	if project.Status != store.ProjectCompleted {
		t.Errorf("project status = %s, want completed", project.Status)
	}
}

func TestPipeline_DiamondMergeWaitsForBothBranches(t *testing.T) {
	f := newPipelineFixture(t)
	a := f.addTask(t, "setup")
	b := f.addTask(t, "left branch", a)
	c := f.addTask(t, "right branch", a)
	d := f.addTask(t, "merge", b, c)

	started := f.runToCompletion(t)

	if len(started) != 4 {
		t.Fatalf("launches = %v, want 4", started)
	}
	if started[0] != a.ID {
		t.Errorf("first launch = %s, want the root task", started[0])
	}
	if started[len(started)-1] != d.ID {
		t.Errorf("last launch = %s, the merge task must wait for both branches", started[len(started)-1])
	}

	project, _ := f.manager.GetProject(f.project.ID)
	if project.Status != store.ProjectCompleted {
		t.Errorf("project status = %s, want completed", project.Status)
	}
	for _, task := range []*store.Task{a, b, c, d} {
		got, _ := f.manager.GetTask(task.ID)
		if got.Status != store.TaskDone {
			t.Errorf("%s status = %s, want done", got.Title, got.Status)
		}
	}
}
