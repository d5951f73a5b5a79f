// Package commbus provides CommBus Message Definitions.
//
// This module defines all message types carried on the evolution daemon bus.
//
// Categories:
//   - EVENT: Fire-and-forget, fan-out to subscribers
//   - QUERY: Request-response, single handler
//   - COMMAND: Fire-and-forget, single handler
package commbus

// =============================================================================
// MESSAGE CATEGORIES
// =============================================================================

// MessageCategory represents message routing categories.
type MessageCategory string

const (
	// MessageCategoryEvent represents fire-and-forget, fan-out to all subscribers.
	MessageCategoryEvent MessageCategory = "event"
	// MessageCategoryQuery represents request-response, single handler.
	MessageCategoryQuery MessageCategory = "query"
	// MessageCategoryCommand represents fire-and-forget, single handler.
	MessageCategoryCommand MessageCategory = "command"
)

// =============================================================================
// TASK LIFECYCLE EVENTS
// =============================================================================

// TaskSubmitted is emitted when a new evolution task enters the queue.
// Subscribers: event emitter, history recorder.
type TaskSubmitted struct {
	TaskID         string `json:"task_id"`
	Goal           string `json:"goal"`
	TargetArtifact string `json:"target_artifact"`
}

// Category implements the Message interface.
func (m *TaskSubmitted) Category() string { return string(MessageCategoryEvent) }

// PhaseTransition is emitted when a task moves to a new pipeline phase.
// Subscribers: event emitter, metrics.
type PhaseTransition struct {
	TaskID    string `json:"task_id"`
	FromPhase string `json:"from_phase"`
	ToPhase   string `json:"to_phase"`
	Note      string `json:"note,omitempty"`
}

// Category implements the Message interface.
func (m *PhaseTransition) Category() string { return string(MessageCategoryEvent) }

// TaskCompleted is emitted when a task reaches any terminal phase.
// Subscribers: event emitter, history recorder, metrics.
type TaskCompleted struct {
	TaskID     string  `json:"task_id"`
	Status     string  `json:"status"`
	Result     string  `json:"result"`
	DurationMS int     `json:"duration_ms"`
	Error      *string `json:"error,omitempty"`
}

// Category implements the Message interface.
func (m *TaskCompleted) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// VALIDATION EVENTS
// =============================================================================

// SandboxChecked is emitted after sandbox validation finishes.
type SandboxChecked struct {
	TaskID       string   `json:"task_id"`
	Passed       bool     `json:"passed"`
	ChecksPassed int      `json:"checks_passed"`
	ChecksTotal  int      `json:"checks_total"`
	Errors       []string `json:"errors,omitempty"`
}

// Category implements the Message interface.
func (m *SandboxChecked) Category() string { return string(MessageCategoryEvent) }

// PerceptionValidated is emitted after the perception mirror check finishes.
type PerceptionValidated struct {
	TaskID            string  `json:"task_id"`
	Success           bool    `json:"success"`
	Accuracy          float64 `json:"accuracy"`
	ImmortalityPassed bool    `json:"immortality_passed"`
}

// Category implements the Message interface.
func (m *PerceptionValidated) Category() string { return string(MessageCategoryEvent) }

// ReviewDecided is emitted when the reviewer gate returns a verdict.
type ReviewDecided struct {
	TaskID     string   `json:"task_id"`
	Approved   bool     `json:"approved"`
	Risk       string   `json:"risk"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Issues     []string `json:"issues,omitempty"`
}

// Category implements the Message interface.
func (m *ReviewDecided) Category() string { return string(MessageCategoryEvent) }

// TierAssigned is emitted when the router classifies an approved change.
type TierAssigned struct {
	TaskID string `json:"task_id"`
	Tier   int    `json:"tier"`
	Points int    `json:"points"`
}

// Category implements the Message interface.
func (m *TierAssigned) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// DELIVERY EVENTS
// =============================================================================

// EvolutionCommitted is emitted after a change lands on the working branch.
type EvolutionCommitted struct {
	TaskID    string `json:"task_id"`
	CommitSHA string `json:"commit_sha"`
	Branch    string `json:"branch"`
}

// Category implements the Message interface.
func (m *EvolutionCommitted) Category() string { return string(MessageCategoryEvent) }

// ReviewBranchCreated is emitted when a tier 3 change is parked for humans.
type ReviewBranchCreated struct {
	TaskID string `json:"task_id"`
	Branch string `json:"branch"`
}

// Category implements the Message interface.
func (m *ReviewBranchCreated) Category() string { return string(MessageCategoryEvent) }

// VisualVerified is emitted after a live verification attempt.
type VisualVerified struct {
	TaskID     string  `json:"task_id"`
	Success    bool    `json:"success"`
	Confidence float64 `json:"confidence"`
	Attempt    int     `json:"attempt"`
}

// Category implements the Message interface.
func (m *VisualVerified) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// RECOVERY EVENTS
// =============================================================================

// RegressionDetected is emitted when post-commit monitoring finds trouble.
type RegressionDetected struct {
	TaskID    string   `json:"task_id"`
	CommitSHA string   `json:"commit_sha"`
	Issues    []string `json:"issues"`
	Action    string   `json:"action"`
}

// Category implements the Message interface.
func (m *RegressionDetected) Category() string { return string(MessageCategoryEvent) }

// EvolutionReverted is emitted after a rollback restores the snapshot.
type EvolutionReverted struct {
	TaskID    string `json:"task_id"`
	CommitSHA string `json:"commit_sha"`
	Reason    string `json:"reason"`
}

// Category implements the Message interface.
func (m *EvolutionReverted) Category() string { return string(MessageCategoryEvent) }

// EvolutionPaused is emitted when the recovery breaker halts the loop.
type EvolutionPaused struct {
	Reason       string `json:"reason"`
	FailureCount int    `json:"failure_count"`
}

// Category implements the Message interface.
func (m *EvolutionPaused) Category() string { return string(MessageCategoryEvent) }

// EvolutionResumed is emitted when an operator lifts the pause.
type EvolutionResumed struct {
	Operator string `json:"operator,omitempty"`
}

// Category implements the Message interface.
func (m *EvolutionResumed) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// TECTONIC EVENTS
// =============================================================================

// TectonicShiftStarted is emitted when a generational optimization begins.
type TectonicShiftStarted struct {
	ShiftID  string `json:"shift_id"`
	Artifact string `json:"artifact"`
}

// Category implements the Message interface.
func (m *TectonicShiftStarted) Category() string { return string(MessageCategoryEvent) }

// TectonicGenerationCompleted is emitted after each generation is scored.
type TectonicGenerationCompleted struct {
	ShiftID      string  `json:"shift_id"`
	Generation   int     `json:"generation"`
	BestFitness  float64 `json:"best_fitness"`
	MeanFitness  float64 `json:"mean_fitness"`
	FailedScores int     `json:"failed_scores"`
}

// Category implements the Message interface.
func (m *TectonicGenerationCompleted) Category() string { return string(MessageCategoryEvent) }

// TectonicShiftCompleted is emitted when an optimization run ends.
type TectonicShiftCompleted struct {
	ShiftID     string  `json:"shift_id"`
	Artifact    string  `json:"artifact"`
	Improved    bool    `json:"improved"`
	Improvement float64 `json:"improvement"`
	Generations int     `json:"generations"`
	StopReason  string  `json:"stop_reason"`
}

// Category implements the Message interface.
func (m *TectonicShiftCompleted) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// CONTROL QUERIES
// =============================================================================

// GetTaskStatus queries the current phase of a task.
type GetTaskStatus struct {
	TaskID string `json:"task_id"`
}

// Category implements the Message interface.
func (m *GetTaskStatus) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetTaskStatus) IsQuery() {}

// TaskStatusResponse is the response for GetTaskStatus query.
type TaskStatusResponse struct {
	Found  bool   `json:"found"`
	Status string `json:"status,omitempty"`
	Result string `json:"result,omitempty"`
}

// GetPipelineStats queries the daemon counters.
type GetPipelineStats struct{}

// Category implements the Message interface.
func (m *GetPipelineStats) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetPipelineStats) IsQuery() {}

// PipelineStatsResponse is the response for GetPipelineStats query.
type PipelineStatsResponse struct {
	EvolutionCount int    `json:"evolution_count"`
	ActiveTasks    int    `json:"active_tasks"`
	QueueDepth     int    `json:"queue_depth"`
	Paused         bool   `json:"paused"`
	PauseReason    string `json:"pause_reason,omitempty"`
}

// GetApprovalQueue queries tasks parked for human review.
type GetApprovalQueue struct{}

// Category implements the Message interface.
func (m *GetApprovalQueue) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetApprovalQueue) IsQuery() {}

// ApprovalQueueResponse is the response for GetApprovalQueue query.
type ApprovalQueueResponse struct {
	TaskIDs []string `json:"task_ids"`
}

// =============================================================================
// CONTROL COMMANDS
// =============================================================================

// PauseEvolution halts the evolution loop.
type PauseEvolution struct {
	Reason string `json:"reason"`
}

// Category implements the Message interface.
func (m *PauseEvolution) Category() string { return string(MessageCategoryCommand) }

// ResumeEvolution lifts a pause.
type ResumeEvolution struct {
	Operator string `json:"operator,omitempty"`
}

// Category implements the Message interface.
func (m *ResumeEvolution) Category() string { return string(MessageCategoryCommand) }

// ApproveTask releases a parked tier 3 task for commit.
type ApproveTask struct {
	TaskID   string `json:"task_id"`
	Approver string `json:"approver"`
}

// Category implements the Message interface.
func (m *ApproveTask) Category() string { return string(MessageCategoryCommand) }

// RejectTask discards a parked tier 3 task.
type RejectTask struct {
	TaskID   string `json:"task_id"`
	Approver string `json:"approver"`
	Reason   string `json:"reason,omitempty"`
}

// Category implements the Message interface.
func (m *RejectTask) Category() string { return string(MessageCategoryCommand) }

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// TypedMessage is an optional interface for messages that can provide their own type name.
// Useful for dynamically-typed messages like those arriving over gRPC.
type TypedMessage interface {
	Message
	MessageType() string
}

// GetMessageType returns the type name of a message for routing.
func GetMessageType(msg Message) string {
	// First check if the message can provide its own type
	if typed, ok := msg.(TypedMessage); ok {
		return typed.MessageType()
	}

	// Otherwise use the static type switch
	switch msg.(type) {
	case *TaskSubmitted:
		return "TaskSubmitted"
	case *PhaseTransition:
		return "PhaseTransition"
	case *TaskCompleted:
		return "TaskCompleted"
	case *SandboxChecked:
		return "SandboxChecked"
	case *PerceptionValidated:
		return "PerceptionValidated"
	case *ReviewDecided:
		return "ReviewDecided"
	case *TierAssigned:
		return "TierAssigned"
	case *EvolutionCommitted:
		return "EvolutionCommitted"
	case *ReviewBranchCreated:
		return "ReviewBranchCreated"
	case *VisualVerified:
		return "VisualVerified"
	case *RegressionDetected:
		return "RegressionDetected"
	case *EvolutionReverted:
		return "EvolutionReverted"
	case *EvolutionPaused:
		return "EvolutionPaused"
	case *EvolutionResumed:
		return "EvolutionResumed"
	case *TectonicShiftStarted:
		return "TectonicShiftStarted"
	case *TectonicGenerationCompleted:
		return "TectonicGenerationCompleted"
	case *TectonicShiftCompleted:
		return "TectonicShiftCompleted"
	case *GetTaskStatus:
		return "GetTaskStatus"
	case *GetPipelineStats:
		return "GetPipelineStats"
	case *GetApprovalQueue:
		return "GetApprovalQueue"
	case *PauseEvolution:
		return "PauseEvolution"
	case *ResumeEvolution:
		return "ResumeEvolution"
	case *ApproveTask:
		return "ApproveTask"
	case *RejectTask:
		return "RejectTask"
	default:
		return "Unknown"
	}
}
