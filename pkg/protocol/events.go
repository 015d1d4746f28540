package protocol

// ProtocolVersion is bumped when the dashboard WebSocket contract changes.
const ProtocolVersion = 1

// WebSocket event names pushed from server to dashboard clients.
const (
	EventHealth    = "health"
	EventShutdown  = "shutdown"
	EventHeartbeat = "heartbeat"

	// Mission-control task telemetry.
	EventTaskStarted       = "mc_task_started"
	EventTaskOutput        = "mc_task_output"
	EventTaskCompleted     = "mc_task_completed"
	EventTaskStatusChanged = "mc_task_status_changed"
	EventActivityCreated   = "mc_activity_created"
	EventAgentStatus       = "mc_agent_status"

	// Deep-work project lifecycle.
	EventProjectCompleted = "project_completed"
	EventProjectPlanned   = "project_planned"

	// Chat relay to the dashboard conversation pane.
	EventChat = "chat"
)

// Output types carried in mc_task_output payloads (payload.output_type).
const (
	OutputTypeMessage    = "message"
	OutputTypeToolUse    = "tool_use"
	OutputTypeToolResult = "tool_result"
)

// Final statuses carried in mc_task_completed payloads (payload.status).
const (
	FinalStatusCompleted = "completed"
	FinalStatusError     = "error"
	FinalStatusStopped   = "stopped"
)

// Chat event subtypes (in payload.type).
const (
	ChatEventChunk   = "chunk"
	ChatEventMessage = "message"
)
