package protocol

// Stream event type discriminators — the tagged variants every
// event struct below carries "type" as its first JSON field so a browser
// or controller client can dispatch on it without a second parse.
const (
	EventTaskStart    = "task_start"
	EventTaskOutput   = "task_output"
	EventTaskComplete = "task_complete"
	EventStatsUpdate  = "stats_update"
	EventCPUAlert     = "cpu_alert"
	EventPong         = "pong"
)

// TaskStartEvent announces a new task on the main channel.
type TaskStartEvent struct {
	Type    string `json:"type"`
	TaskID  uint64 `json:"task_id"`
	Command string `json:"command"`
}

// NewTaskStartEvent is the constructor every emitter should use so the
// discriminator can never be forgotten.
func NewTaskStartEvent(taskID uint64, command string) TaskStartEvent {
	return TaskStartEvent{Type: EventTaskStart, TaskID: taskID, Command: command}
}

// TaskOutputEvent carries one captured output chunk (a line, or a fragment
// when a line exceeds the supervisor's read buffer).
type TaskOutputEvent struct {
	Type      string `json:"type"`
	TaskID    uint64 `json:"task_id"`
	Output    string `json:"output"`
	Timestamp int64  `json:"timestamp"`
}

func NewTaskOutputEvent(taskID uint64, output string, timestampMS int64) TaskOutputEvent {
	return TaskOutputEvent{Type: EventTaskOutput, TaskID: taskID, Output: output, Timestamp: timestampMS}
}

// TaskCompleteEvent is emitted exactly once per task, last, on the main channel.
type TaskCompleteEvent struct {
	Type     string `json:"type"`
	TaskID   uint64 `json:"task_id"`
	ExitCode int    `json:"exit_code"`
}

func NewTaskCompleteEvent(taskID uint64, exitCode int) TaskCompleteEvent {
	return TaskCompleteEvent{Type: EventTaskComplete, TaskID: taskID, ExitCode: exitCode}
}

// StatsUpdateEvent is emitted once per sampler tick on the stats channel.
type StatsUpdateEvent struct {
	Type      string  `json:"type"`
	CPU       float64 `json:"cpu"`
	RAMUsed   int64   `json:"ram_used"`
	RAMTotal  int64   `json:"ram_total"`
	Timestamp int64   `json:"timestamp"`
}

func NewStatsUpdateEvent(s StatsSnapshot) StatsUpdateEvent {
	return StatsUpdateEvent{
		Type:      EventStatsUpdate,
		CPU:       s.CPU,
		RAMUsed:   s.RAMUsedMB,
		RAMTotal:  s.RAMTotalMB,
		Timestamp: s.Timestamp,
	}
}

// CPUAlertEvent fires when a sampler tick crosses the configured threshold
// and the cooldown window has elapsed since the last alert.
type CPUAlertEvent struct {
	Type      string  `json:"type"`
	CPU       float64 `json:"cpu"`
	Hostname  string  `json:"hostname"`
	Message   string  `json:"message"`
	Timestamp int64   `json:"timestamp"`
}

func NewCPUAlertEvent(cpu float64, hostname, message string, timestampMS int64) CPUAlertEvent {
	return CPUAlertEvent{Type: EventCPUAlert, CPU: cpu, Hostname: hostname, Message: message, Timestamp: timestampMS}
}

// PongEvent answers a client "ping" on any channel, addressed to that client only.
type PongEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func NewPongEvent(timestampMS int64) PongEvent {
	return PongEvent{Type: EventPong, Timestamp: timestampMS}
}

// StatsSnapshot is one point-in-time CPU/RAM sample. The all-zero value is
// the "agent unreachable" sentinel used by the controller's RefreshStats.
type StatsSnapshot struct {
	CPU        float64 `json:"cpu"`
	RAMUsedMB  int64   `json:"ram_used_mb"`
	RAMTotalMB int64   `json:"ram_total_mb"`
	Timestamp  int64   `json:"timestamp"`
}

// UnreachableSnapshot returns the sentinel snapshot: zero totals, which the controller UI
// interprets as "agent unreachable".
func UnreachableSnapshot() StatsSnapshot {
	return StatsSnapshot{}
}
