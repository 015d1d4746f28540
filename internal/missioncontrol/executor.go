package missioncontrol

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/shabbark/pocketpaw/internal/bus"
	"github.com/shabbark/pocketpaw/internal/router"
	"github.com/shabbark/pocketpaw/internal/store"
	"github.com/shabbark/pocketpaw/pkg/protocol"
)

// MaxConcurrentTasks caps how many tasks may execute at once.
const MaxConcurrentTasks = 5

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// Result is the outcome of one task execution.
type Result struct {
	Status string `json:"status"` // completed, error, or stopped
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// TaskRouter is the slice of router.Router the executor drives. Tests swap
// in scripted implementations through the router factory.
type TaskRouter interface {
	Run(ctx context.Context, prompt string) <-chan router.Chunk
	Stop()
}

type taskHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Executor runs tasks against agent backends with a hard concurrency cap.
// One router per running task; stop flags and the running set live behind a
// single mutex.
type Executor struct {
	manager      *Manager
	bus          *bus.MessageBus
	settings     router.Settings
	workspaceDir string

	newRouter func(settings router.Settings) (TaskRouter, error)

	mu                 sync.Mutex
	running            map[string]*taskHandle
	routers            map[string]TaskRouter
	stopFlags          map[string]bool
	backgroundLaunched map[string]struct{}
	onTaskDone         func(taskID string)
}

// NewExecutor builds an executor over the manager and bus. settings carries
// the process-level backend credentials; each run clones them with the
// assigned agent's backend.
func NewExecutor(m *Manager, b *bus.MessageBus, settings router.Settings, workspaceDir string) *Executor {
	return &Executor{
		manager:      m,
		bus:          b,
		settings:     settings,
		workspaceDir: workspaceDir,
		newRouter: func(s router.Settings) (TaskRouter, error) {
			return router.New(s)
		},
		running:            make(map[string]*taskHandle),
		routers:            make(map[string]TaskRouter),
		stopFlags:          make(map[string]bool),
		backgroundLaunched: make(map[string]struct{}),
	}
}

// SetOnTaskDone registers the completion callback invoked after every run
// regardless of outcome. The scheduler uses it to dispatch newly unblocked
// tasks.
func (e *Executor) SetOnTaskDone(fn func(taskID string)) {
	e.mu.Lock()
	e.onTaskDone = fn
	e.mu.Unlock()
}

// SetRouterFactory overrides router construction. Tests use it to script
// backend output without network access.
func (e *Executor) SetRouterFactory(fn func(settings router.Settings) (TaskRouter, error)) {
	e.newRouter = fn
}

func (e *Executor) projectDir(projectID string) string {
	return filepath.Join(e.workspaceDir, "projects", projectID)
}

// IsTaskRunning reports whether a task is currently tracked as executing.
func (e *Executor) IsTaskRunning(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[taskID]
	return ok
}

// RunningTasks lists the ids of tasks currently executing.
func (e *Executor) RunningTasks() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.running))
	for id := range e.running {
		ids = append(ids, id)
	}
	return ids
}

// ExecuteTaskBackground launches a task without blocking the caller. It
// returns false when the executor is at capacity or the task is already
// running; the scheduler retries deferred tasks on its next pass.
func (e *Executor) ExecuteTaskBackground(taskID, agentID string) bool {
	e.mu.Lock()
	if len(e.running) >= MaxConcurrentTasks {
		e.mu.Unlock()
		slog.Info("deferring task, executor at capacity", "task_id", taskID, "running", MaxConcurrentTasks)
		return false
	}
	if _, ok := e.running[taskID]; ok {
		e.mu.Unlock()
		slog.Warn("task already running, ignoring duplicate launch", "task_id", taskID)
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &taskHandle{cancel: cancel, done: make(chan struct{})}
	e.running[taskID] = h
	e.backgroundLaunched[taskID] = struct{}{}
	e.mu.Unlock()

	go func() {
		defer close(h.done)
		defer func() {
			e.mu.Lock()
			delete(e.running, taskID)
			delete(e.backgroundLaunched, taskID)
			delete(e.stopFlags, taskID)
			delete(e.routers, taskID)
			e.mu.Unlock()
		}()
		e.ExecuteTask(ctx, taskID, agentID)
	}()
	return true
}

// StopTask requests cancellation of a running task and waits for its run to
// unwind. Returns false when the task is not running.
func (e *Executor) StopTask(taskID string) bool {
	e.mu.Lock()
	h, ok := e.running[taskID]
	if !ok {
		e.mu.Unlock()
		return false
	}
	e.stopFlags[taskID] = true
	r := e.routers[taskID]
	e.mu.Unlock()

	if r != nil {
		r.Stop()
	}
	h.cancel()
	<-h.done
	return true
}

// ExecuteTask runs a task to completion on the calling goroutine. It
// validates ids before any lookup, streams backend output to the bus, and
// always restores task and agent state on the way out.
func (e *Executor) ExecuteTask(ctx context.Context, taskID, agentID string) Result {
	if !uuidPattern.MatchString(taskID) {
		slog.Warn("rejected task execution, malformed task id", "task_id", taskID)
		return Result{Status: "error", Error: "Invalid task ID format"}
	}
	if !uuidPattern.MatchString(agentID) {
		slog.Warn("rejected task execution, malformed agent id", "agent_id", agentID)
		return Result{Status: "error", Error: "Invalid agent ID format"}
	}

	e.mu.Lock()
	_, isBackground := e.backgroundLaunched[taskID]
	if len(e.running) >= MaxConcurrentTasks && !isBackground {
		e.mu.Unlock()
		return Result{Status: "error", Error: fmt.Sprintf("Maximum concurrent tasks (%d) reached.", MaxConcurrentTasks)}
	}
	if _, ok := e.running[taskID]; ok && !isBackground {
		e.mu.Unlock()
		return Result{Status: "error", Error: "Task is already running"}
	}
	delete(e.backgroundLaunched, taskID)
	e.mu.Unlock()

	task, ok := e.manager.GetTask(taskID)
	if !ok {
		return Result{Status: "error", Error: "Task not found"}
	}
	agent, ok := e.manager.GetAgent(agentID)
	if !ok {
		return Result{Status: "error", Error: "Agent not found"}
	}

	tracer := otel.Tracer("pocketpaw/missioncontrol")
	ctx, span := tracer.Start(ctx, "task.execute")
	span.SetAttributes(
		attribute.String("task.id", taskID),
		attribute.String("agent.id", agentID),
		attribute.String("agent.backend", agent.Backend),
	)
	defer span.End()

	runSettings := e.settings
	runSettings.Backend = agent.Backend
	runSettings.BypassPermissions = true

	rt, err := e.newRouter(runSettings)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return e.abortRun(task, agent, sanitizeError(err.Error()))
	}

	e.mu.Lock()
	e.stopFlags[taskID] = false
	e.routers[taskID] = rt
	e.mu.Unlock()

	if _, err := e.manager.UpdateTaskStatus(taskID, store.TaskInProgress, agentID); err != nil {
		span.SetStatus(codes.Error, err.Error())
		e.mu.Lock()
		delete(e.routers, taskID)
		delete(e.stopFlags, taskID)
		e.mu.Unlock()
		return e.abortRun(task, agent, sanitizeError(err.Error()))
	}
	if err := e.manager.SetAgentStatus(agentID, store.AgentActive, taskID); err != nil {
		slog.Warn("agent status update failed", "agent_id", agentID, "error", err)
	}

	e.bus.Broadcast(protocol.EventTaskStarted, map[string]any{
		"task_id":    taskID,
		"agent_id":   agentID,
		"agent_name": agent.Name,
		"task_title": task.Title,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
	e.manager.LogActivity(store.ActivityTaskUpdated, agentID, taskID, task.ProjectID,
		fmt.Sprintf("%s started working on '%s'", agent.Name, task.Title))

	prompt := e.buildTaskPrompt(task, agent)

	var output strings.Builder
	finalStatus := "completed"
	errorMessage := ""

drain:
	for chunk := range rt.Run(ctx, prompt) {
		if e.stopRequested(taskID) {
			finalStatus = "stopped"
			break drain
		}
		switch chunk.Type {
		case router.ChunkMessage:
			if chunk.Content == "" {
				continue
			}
			output.WriteString(chunk.Content)
			e.broadcastOutput(taskID, chunk.Content, protocol.OutputTypeMessage)
		case router.ChunkToolUse:
			name := chunk.Content
			if name == "" {
				name = "unknown"
			}
			e.broadcastOutput(taskID, fmt.Sprintf("Using tool: %s", name), protocol.OutputTypeToolUse)
		case router.ChunkToolResult:
			e.broadcastOutput(taskID, fmt.Sprintf("Tool result: %s", truncate(chunk.Content, 200)), protocol.OutputTypeToolResult)
		case router.ChunkError:
			errorMessage = sanitizeError(chunk.Content)
			finalStatus = "error"
			break drain
		case router.ChunkDone:
			break drain
		}
	}

	if finalStatus == "completed" && (e.stopRequested(taskID) || ctx.Err() != nil) {
		finalStatus = "stopped"
	}

	e.mu.Lock()
	delete(e.routers, taskID)
	delete(e.stopFlags, taskID)
	onDone := e.onTaskDone
	e.mu.Unlock()

	e.finishTask(task, agent, finalStatus, errorMessage, output.String())

	if finalStatus == "error" {
		span.SetStatus(codes.Error, errorMessage)
	}

	if onDone != nil {
		onDone(taskID)
	}

	return Result{Status: finalStatus, Output: output.String(), Error: errorMessage}
}

// abortRun terminates a run that failed before its backend produced any
// output. It drives the same cleanup as a drained run so the task lands in
// blocked and the completion callback still fires.
func (e *Executor) abortRun(task *store.Task, agent *store.AgentProfile, errorMessage string) Result {
	e.mu.Lock()
	onDone := e.onTaskDone
	e.mu.Unlock()

	e.finishTask(task, agent, "error", errorMessage, "")
	if onDone != nil {
		onDone(task.ID)
	}
	return Result{Status: "error", Error: errorMessage}
}

func (e *Executor) stopRequested(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopFlags[taskID]
}

func (e *Executor) broadcastOutput(taskID, content, outputType string) {
	e.bus.Broadcast(protocol.EventTaskOutput, map[string]any{
		"task_id":     taskID,
		"content":     content,
		"output_type": outputType,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

// finishTask restores task and agent state after a run and announces the
// outcome. A completed run moves the task to done; anything else parks it in
// blocked for a human to triage.
func (e *Executor) finishTask(task *store.Task, agent *store.AgentProfile, finalStatus, errorMessage, output string) {
	target := store.TaskBlocked
	if finalStatus == "completed" {
		target = store.TaskDone
	}
	if _, err := e.manager.UpdateTaskStatus(task.ID, target, agent.ID); err != nil {
		slog.Warn("task status restore failed", "task_id", task.ID, "error", err)
	}
	if err := e.manager.SetAgentStatus(agent.ID, store.AgentIdle, ""); err != nil {
		slog.Warn("agent status restore failed", "agent_id", agent.ID, "error", err)
	}

	e.bus.Broadcast(protocol.EventTaskCompleted, map[string]any{
		"task_id":   task.ID,
		"agent_id":  agent.ID,
		"status":    finalStatus,
		"error":     errorMessage,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})

	switch finalStatus {
	case "completed":
		e.manager.LogActivity(store.ActivityTaskCompleted, agent.ID, task.ID, task.ProjectID,
			fmt.Sprintf("%s completed '%s'", agent.Name, task.Title))
		e.saveDeliverable(task, agent, output)
	case "error":
		e.manager.LogActivity(store.ActivityTaskUpdated, agent.ID, task.ID, task.ProjectID,
			fmt.Sprintf("%s encountered an error on '%s': %s", agent.Name, task.Title, errorMessage))
	case "stopped":
		e.manager.LogActivity(store.ActivityTaskUpdated, agent.ID, task.ID, task.ProjectID,
			fmt.Sprintf("Execution stopped for '%s'", task.Title))
	}
}

// saveDeliverable persists non-blank task output as a document linked to the
// task, so downstream tasks can read it as upstream context.
func (e *Executor) saveDeliverable(task *store.Task, agent *store.AgentProfile, output string) {
	if strings.TrimSpace(output) == "" {
		return
	}
	doc := store.NewDocument(fmt.Sprintf("Deliverable: %s", task.Title), output)
	doc.Type = store.DocumentDeliverable
	doc.AuthorID = agent.ID
	doc.TaskID = task.ID
	doc.ProjectID = task.ProjectID
	doc.Tags = []string{"auto-generated", "task-output"}
	if err := e.manager.SaveDocument(doc); err != nil {
		slog.Warn("deliverable save failed", "task_id", task.ID, "error", err)
		return
	}
	e.manager.LogActivity(store.ActivityDocumentCreated, agent.ID, task.ID, task.ProjectID,
		fmt.Sprintf("Deliverable saved for '%s'", task.Title))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
