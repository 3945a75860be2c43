package persistence

import (
	"time"

	"github.com/paigeant/paigeant/common/contracts"
)

// Workflow statuses.
const (
	WorkflowInProgress = "in_progress"
	WorkflowCompleted  = "completed"
	WorkflowFailed     = "failed"
)

// Step statuses.
const (
	StepStarted   = "started"
	StepCompleted = "completed"
	StepFailed    = "failed"
)

// StepRecord is the persisted record of one step execution. The
// (correlation_id, step_name, run_id) triple is unique; duplicate starts
// for the same triple are ignored.
type StepRecord struct {
	ID            int64          `json:"id"`
	CorrelationID string         `json:"correlation_id"`
	StepName      string         `json:"step_name"`
	RunID         int            `json:"run_id"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	Status        string         `json:"status,omitempty"`
	Output        map[string]any `json:"output,omitempty"`
}

// WorkflowInstance is the durable mirror of a workflow in flight.
type WorkflowInstance struct {
	CorrelationID string               `json:"correlation_id"`
	RoutingSlip   contracts.RoutingSlip `json:"routing_slip"`
	Payload       map[string]any       `json:"payload,omitempty"`
	Status        string               `json:"status"`
	Steps         []StepRecord         `json:"steps"`
}
