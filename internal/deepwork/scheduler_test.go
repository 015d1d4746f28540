package deepwork

import (
	"sync"
	"testing"
	"time"

	"github.com/shabbark/pocketpaw/internal/bus"
	"github.com/shabbark/pocketpaw/internal/missioncontrol"
	"github.com/shabbark/pocketpaw/internal/store"
	"github.com/shabbark/pocketpaw/pkg/protocol"
)

// fakeExecutor records launches without running anything.
type fakeExecutor struct {
	mu       sync.Mutex
	launched []string
	reject   bool
}

func (f *fakeExecutor) ExecuteTaskBackground(taskID, agentID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return false
	}
	f.launched = append(f.launched, taskID)
	return true
}

func (f *fakeExecutor) IsTaskRunning(taskID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.launched {
		if id == taskID {
			return true
		}
	}
	return false
}

func (f *fakeExecutor) launches() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.launched...)
}

type schedFixture struct {
	sched   *Scheduler
	manager *missioncontrol.Manager
	exec    *fakeExecutor
	bus     *bus.MessageBus
	project *store.Project
}

func newSchedFixture(t *testing.T) *schedFixture {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	b := bus.New()
	m := missioncontrol.NewManager(st, b)
	exec := &fakeExecutor{}

	p, err := m.CreateProject("graph project", "", nil)
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return &schedFixture{sched: NewScheduler(m, exec, b), manager: m, exec: exec, bus: b, project: p}
}

func (f *schedFixture) addTask(t *testing.T, title string, status store.TaskStatus, blockedBy ...string) *store.Task {
	t.Helper()
	task := store.NewTask(title)
	task.ProjectID = f.project.ID
	task.Status = status
	task.BlockedBy = blockedBy
	if err := f.manager.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

func TestReadyTasks_SkippedBlockerUnblocks(t *testing.T) {
	f := newSchedFixture(t)
	t1 := f.addTask(t, "t1", store.TaskSkipped)
	t2 := f.addTask(t, "t2", store.TaskInbox, t1.ID)

	ready := f.sched.ReadyTasks(f.project.ID)
	if len(ready) != 1 || ready[0].ID != t2.ID {
		t.Errorf("ready = %v, want just t2", taskIDs(ready))
	}
}

func TestReadyTasks_MixedDoneAndSkipped(t *testing.T) {
	f := newSchedFixture(t)
	t1 := f.addTask(t, "t1", store.TaskDone)
	t2 := f.addTask(t, "t2", store.TaskSkipped)
	t3 := f.addTask(t, "t3", store.TaskInbox, t1.ID, t2.ID)

	ready := f.sched.ReadyTasks(f.project.ID)
	if len(ready) != 1 || ready[0].ID != t3.ID {
		t.Errorf("ready = %v, want just t3", taskIDs(ready))
	}
}

func TestReadyTasks_PendingBlockerBlocks(t *testing.T) {
	f := newSchedFixture(t)
	t1 := f.addTask(t, "t1", store.TaskSkipped)
	t2 := f.addTask(t, "t2", store.TaskInProgress)
	f.addTask(t, "t3", store.TaskInbox, t1.ID, t2.ID)

	if ready := f.sched.ReadyTasks(f.project.ID); len(ready) != 0 {
		t.Errorf("ready = %v, want none", taskIDs(ready))
	}
}

func TestReadyTasks_RunningTaskExcluded(t *testing.T) {
	f := newSchedFixture(t)
	t1 := f.addTask(t, "t1", store.TaskAssigned)
	f.exec.launched = []string{t1.ID}

	if ready := f.sched.ReadyTasks(f.project.ID); len(ready) != 0 {
		t.Errorf("ready = %v, running task must be excluded", taskIDs(ready))
	}
}

func TestDispatchReady_LaunchesAgentTasks(t *testing.T) {
	f := newSchedFixture(t)
	agent := store.NewAgent("Ada", "worker")
	if err := f.manager.CreateAgent(agent); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	t1 := f.addTask(t, "t1", store.TaskInbox)
	f.addTask(t, "t2", store.TaskInbox, t1.ID)

	if _, err := f.manager.SetProjectStatus(f.project.ID, store.ProjectExecuting); err != nil {
		t.Fatalf("SetProjectStatus: %v", err)
	}
	f.sched.DispatchReady(f.project.ID)

	got := f.exec.launches()
	if len(got) != 1 || got[0] != t1.ID {
		t.Errorf("launched = %v, want only the unblocked task", got)
	}
}

func TestDispatchReady_SkipsNonExecutingProject(t *testing.T) {
	f := newSchedFixture(t)
	agent := store.NewAgent("Ada", "worker")
	if err := f.manager.CreateAgent(agent); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	f.addTask(t, "t1", store.TaskInbox)

	f.sched.DispatchReady(f.project.ID)
	if got := f.exec.launches(); len(got) != 0 {
		t.Errorf("draft project dispatched %v", got)
	}
}

func TestDispatchReady_HumanTaskNotifiedOnce(t *testing.T) {
	f := newSchedFixture(t)
	task := store.NewTask("sign the contract")
	task.ProjectID = f.project.ID
	task.TaskType = store.TaskTypeHuman
	if err := f.manager.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := f.manager.SetProjectStatus(f.project.ID, store.ProjectExecuting); err != nil {
		t.Fatalf("SetProjectStatus: %v", err)
	}

	f.sched.DispatchReady(f.project.ID)
	f.sched.DispatchReady(f.project.ID)

	notifs := f.manager.Store().ListNotifications("human")
	if len(notifs) != 1 {
		t.Fatalf("notifications = %d, want exactly 1", len(notifs))
	}
	if notifs[0].TaskID != task.ID {
		t.Errorf("notification task = %s", notifs[0].TaskID)
	}
	if got := f.exec.launches(); len(got) != 0 {
		t.Errorf("human task must not be launched, got %v", got)
	}
	stored, _ := f.manager.GetTask(task.ID)
	if stored.Status != store.TaskAssigned {
		t.Errorf("human task status = %s, want assigned", stored.Status)
	}
}

func TestOnTaskCompleted_AllSkippedCompletesProject(t *testing.T) {
	f := newSchedFixture(t)
	events := f.bus.SubscribeEvents("test")
	t1 := f.addTask(t, "t1", store.TaskSkipped)
	f.addTask(t, "t2", store.TaskSkipped)
	if _, err := f.manager.SetProjectStatus(f.project.ID, store.ProjectExecuting); err != nil {
		t.Fatalf("SetProjectStatus: %v", err)
	}

	f.sched.OnTaskCompleted(t1.ID)

	p, _ := f.manager.GetProject(f.project.ID)
	if p.Status != store.ProjectCompleted {
		t.Errorf("project status = %s, want completed", p.Status)
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == protocol.EventProjectCompleted {
				if ev.Data["project_id"] != f.project.ID {
					t.Errorf("event project_id = %v", ev.Data["project_id"])
				}
				return
			}
		case <-timeout:
			t.Fatal("no project_completed event")
		}
	}
}

func TestOnTaskCompleted_MixedDoneSkippedCompletesProject(t *testing.T) {
	f := newSchedFixture(t)
	t1 := f.addTask(t, "t1", store.TaskDone)
	f.addTask(t, "t2", store.TaskSkipped)
	if _, err := f.manager.SetProjectStatus(f.project.ID, store.ProjectExecuting); err != nil {
		t.Fatalf("SetProjectStatus: %v", err)
	}

	f.sched.OnTaskCompleted(t1.ID)

	p, _ := f.manager.GetProject(f.project.ID)
	if p.Status != store.ProjectCompleted {
		t.Errorf("project status = %s, want completed", p.Status)
	}
}

func TestOnTaskCompleted_DispatchesUnblockedWork(t *testing.T) {
	f := newSchedFixture(t)
	agent := store.NewAgent("Ada", "worker")
	if err := f.manager.CreateAgent(agent); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	t1 := f.addTask(t, "t1", store.TaskDone)
	t2 := f.addTask(t, "t2", store.TaskInbox, t1.ID)
	if _, err := f.manager.SetProjectStatus(f.project.ID, store.ProjectExecuting); err != nil {
		t.Fatalf("SetProjectStatus: %v", err)
	}

	f.sched.OnTaskCompleted(t1.ID)

	got := f.exec.launches()
	if len(got) != 1 || got[0] != t2.ID {
		t.Errorf("launched = %v, want t2", got)
	}
}

func taskIDs(tasks []*store.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

// --- Execution levels ---

func TestExecutionLevels_LinearChain(t *testing.T) {
	a := store.NewTask("A")
	b := store.NewTask("B")
	b.BlockedBy = []string{a.ID}
	c := store.NewTask("C")
	c.BlockedBy = []string{b.ID}

	levels, levelMap, err := ExecutionLevels([]*store.Task{a, b, c})
	if err != nil {
		t.Fatalf("ExecutionLevels: %v", err)
	}
	if len(levels) != 3 {
		t.Fatalf("levels = %v, want 3", levels)
	}
	for i, id := range []string{a.ID, b.ID, c.ID} {
		if len(levels[i]) != 1 || levels[i][0] != id {
			t.Errorf("level %d = %v, want [%s]", i, levels[i], id)
		}
		if levelMap[id] != i {
			t.Errorf("level_map[%s] = %d, want %d", id, levelMap[id], i)
		}
	}
}

func TestExecutionLevels_Diamond(t *testing.T) {
	a := store.NewTask("A")
	b := store.NewTask("B")
	b.BlockedBy = []string{a.ID}
	c := store.NewTask("C")
	c.BlockedBy = []string{a.ID}
	d := store.NewTask("D")
	d.BlockedBy = []string{b.ID, c.ID}

	levels, levelMap, err := ExecutionLevels([]*store.Task{a, b, c, d})
	if err != nil {
		t.Fatalf("ExecutionLevels: %v", err)
	}
	if len(levels) != 3 {
		t.Fatalf("levels = %v, want 3", levels)
	}
	if len(levels[1]) != 2 {
		t.Errorf("middle level = %v, want b and c", levels[1])
	}
	if levelMap[d.ID] != 2 {
		t.Errorf("level_map[d] = %d, want 2", levelMap[d.ID])
	}
}

func TestExecutionLevels_IndependentTasksSingleLevel(t *testing.T) {
	tasks := []*store.Task{store.NewTask("A"), store.NewTask("B"), store.NewTask("C")}
	levels, _, err := ExecutionLevels(tasks)
	if err != nil {
		t.Fatalf("ExecutionLevels: %v", err)
	}
	if len(levels) != 1 || len(levels[0]) != 3 {
		t.Errorf("levels = %v, want one level of 3", levels)
	}
}

func TestExecutionLevels_Empty(t *testing.T) {
	levels, levelMap, err := ExecutionLevels(nil)
	if err != nil {
		t.Fatalf("ExecutionLevels: %v", err)
	}
	if len(levels) != 0 || len(levelMap) != 0 {
		t.Errorf("levels = %v, map = %v, want empty", levels, levelMap)
	}
}

func TestExecutionLevels_CycleDetected(t *testing.T) {
	a := store.NewTask("A")
	b := store.NewTask("B")
	a.BlockedBy = []string{b.ID}
	b.BlockedBy = []string{a.ID}

	if _, _, err := ExecutionLevels([]*store.Task{a, b}); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestExecutionLevels_ExternalDependencyIgnored(t *testing.T) {
	a := store.NewTask("A")
	a.BlockedBy = []string{"some-task-outside-the-project"}

	levels, _, err := ExecutionLevels([]*store.Task{a})
	if err != nil {
		t.Fatalf("ExecutionLevels: %v", err)
	}
	if len(levels) != 1 {
		t.Errorf("levels = %v, external deps must not block layering", levels)
	}
}
