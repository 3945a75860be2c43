// Package persistence mirrors workflow instances and per-step execution
// history to a durable store so workflows survive process restarts and can
// be queried. Writes are idempotent where redelivery can repeat them.
package persistence

import (
	"context"
	"errors"
	"strings"

	"github.com/paigeant/paigeant/common/contracts"
	"github.com/paigeant/paigeant/common/logger"
)

// ErrNotFound is returned when a workflow does not exist.
var ErrNotFound = errors.New("workflow not found")

// ErrUnknownBackend is returned for database URLs with an unsupported scheme.
var ErrUnknownBackend = errors.New("unknown repository backend")

// Repository stores workflow state. Step writes keyed by
// (correlation_id, step_name, run_id) absorb at-least-once redelivery:
// a duplicate start is a no-op and re-asserting the same terminal state
// leaves the stored row unchanged.
type Repository interface {
	// CreateWorkflow persists the initial state of a new workflow with
	// status in_progress.
	CreateWorkflow(ctx context.Context, correlationID string, slip *contracts.RoutingSlip, payload map[string]any) error

	// UpdateRoutingSlip overwrites the stored slip snapshot.
	UpdateRoutingSlip(ctx context.Context, correlationID string, slip *contracts.RoutingSlip) error

	// UpdatePayload overwrites the stored payload.
	UpdatePayload(ctx context.Context, correlationID string, payload map[string]any) error

	// MarkStepStarted records the start of a step run. Idempotent: an
	// existing (correlation_id, step_name, run_id) record is left alone.
	MarkStepStarted(ctx context.Context, correlationID, stepName string, runID int) error

	// MarkStepCompleted closes the matching open step record. Calling it
	// again for an already-closed record is a no-op.
	MarkStepCompleted(ctx context.Context, correlationID, stepName, status string, output map[string]any, runID int) error

	// MarkWorkflowCompleted sets the workflow's terminal status.
	MarkWorkflowCompleted(ctx context.Context, correlationID, status string) error

	// GetWorkflow returns the instance with its ordered step history, or
	// ErrNotFound.
	GetWorkflow(ctx context.Context, correlationID string) (*WorkflowInstance, error)

	// ListWorkflows returns all persisted workflows without step history.
	ListWorkflows(ctx context.Context) ([]*WorkflowInstance, error)

	// Close releases backend resources.
	Close() error
}

// Open selects a repository backend by URL scheme: empty for in-memory,
// sqlite:// for SQLite, postgres:// (or postgresql://) for Postgres.
func Open(ctx context.Context, url string, log *logger.Logger) (Repository, error) {
	switch {
	case url == "":
		return NewInMemoryRepository(), nil
	case strings.HasPrefix(url, "sqlite://"):
		return NewSQLiteRepository(strings.TrimPrefix(url, "sqlite://"), log)
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return NewPostgresRepository(ctx, url, log)
	default:
		return nil, ErrUnknownBackend
	}
}

func normalizeRunID(runID int) int {
	if runID <= 0 {
		return 1
	}
	return runID
}
