package events

import (
	"context"
	"encoding/json"

	"github.com/jeeves-cluster-organization/evolvecore/commbus"
)

// busEventTypes maps bus message types to the telemetry vocabulary. Anything
// the pipeline publishes that observers care about appears here; bus traffic
// without a mapping stays internal.
var busEventTypes = map[string]string{
	"TaskSubmitted":               TypeTaskStarted,
	"PhaseTransition":             "phase_transition",
	"TaskCompleted":               TypeTaskCompleted,
	"SandboxChecked":              "sandbox_checked",
	"PerceptionValidated":         "perception_validated",
	"ReviewDecided":               "review_decided",
	"TierAssigned":                "tier_assigned",
	"EvolutionCommitted":          TypeCommitApplied,
	"ReviewBranchCreated":         "review_branch_created",
	"VisualVerified":              "visual_verified",
	"RegressionDetected":          TypeRegression,
	"EvolutionReverted":           "evolution_reverted",
	"EvolutionPaused":             "evolution_paused",
	"EvolutionResumed":            "evolution_resumed",
	"TectonicShiftStarted":        "tectonic_shift_started",
	"TectonicGenerationCompleted": "tectonic_generation_completed",
	"TectonicShiftCompleted":      TypeShiftCompleted,
}

// AttachBus subscribes the emitter to every broadcastable pipeline event.
// Each bus message becomes one queued telemetry event carrying the message's
// fields as payload. Returns an unsubscribe function.
func AttachBus(bus commbus.CommBus, emitter *Emitter) func() {
	unsubs := make([]func(), 0, len(busEventTypes))
	for busType, emitType := range busEventTypes {
		emitAs := emitType
		unsubs = append(unsubs, bus.Subscribe(busType, func(ctx context.Context, msg commbus.Message) (any, error) {
			payload, taskID := messagePayload(msg)
			emitter.Emit(ctx, emitAs, taskID, payload)
			return nil, nil
		}))
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// messagePayload flattens a bus message into a payload map through its JSON
// form. The task id, when present, is lifted into the event envelope.
func messagePayload(msg commbus.Message) (map[string]any, string) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, ""
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, ""
	}
	taskID, _ := payload["task_id"].(string)
	return payload, taskID
}
