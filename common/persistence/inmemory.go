package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/paigeant/paigeant/common/contracts"
)

// InMemoryRepository keeps workflow state in process memory. Useful for
// tests and for running without a database; nothing survives a restart.
type InMemoryRepository struct {
	mu        sync.Mutex
	workflows map[string]*WorkflowInstance
	nextID    int64
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{workflows: make(map[string]*WorkflowInstance)}
}

func (r *InMemoryRepository) CreateWorkflow(ctx context.Context, correlationID string, slip *contracts.RoutingSlip, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if payload == nil {
		payload = map[string]any{}
	}
	r.workflows[correlationID] = &WorkflowInstance{
		CorrelationID: correlationID,
		RoutingSlip:   *slip,
		Payload:       payload,
		Status:        WorkflowInProgress,
	}
	return nil
}

func (r *InMemoryRepository) UpdateRoutingSlip(ctx context.Context, correlationID string, slip *contracts.RoutingSlip) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if wf, ok := r.workflows[correlationID]; ok {
		wf.RoutingSlip = *slip
	}
	return nil
}

func (r *InMemoryRepository) UpdatePayload(ctx context.Context, correlationID string, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if wf, ok := r.workflows[correlationID]; ok {
		wf.Payload = payload
	}
	return nil
}

func (r *InMemoryRepository) MarkStepStarted(ctx context.Context, correlationID, stepName string, runID int) error {
	runID = normalizeRunID(runID)
	r.mu.Lock()
	defer r.mu.Unlock()
	wf, ok := r.workflows[correlationID]
	if !ok {
		return nil
	}
	// Duplicate starts for the same (step, run) are ignored.
	for i := range wf.Steps {
		if wf.Steps[i].StepName == stepName && wf.Steps[i].RunID == runID {
			return nil
		}
	}
	r.nextID++
	now := time.Now().UTC()
	wf.Steps = append(wf.Steps, StepRecord{
		ID:            r.nextID,
		CorrelationID: correlationID,
		StepName:      stepName,
		RunID:         runID,
		StartedAt:     &now,
		Status:        StepStarted,
	})
	return nil
}

func (r *InMemoryRepository) MarkStepCompleted(ctx context.Context, correlationID, stepName, status string, output map[string]any, runID int) error {
	runID = normalizeRunID(runID)
	r.mu.Lock()
	defer r.mu.Unlock()
	wf, ok := r.workflows[correlationID]
	if !ok {
		return nil
	}
	for i := range wf.Steps {
		step := &wf.Steps[i]
		if step.StepName == stepName && step.RunID == runID && step.CompletedAt == nil {
			now := time.Now().UTC()
			step.CompletedAt = &now
			step.Status = status
			if output == nil {
				output = map[string]any{}
			}
			step.Output = output
			break
		}
	}
	return nil
}

func (r *InMemoryRepository) MarkWorkflowCompleted(ctx context.Context, correlationID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if wf, ok := r.workflows[correlationID]; ok {
		wf.Status = status
	}
	return nil
}

func (r *InMemoryRepository) GetWorkflow(ctx context.Context, correlationID string) (*WorkflowInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wf, ok := r.workflows[correlationID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyInstance(wf), nil
}

func (r *InMemoryRepository) ListWorkflows(ctx context.Context) ([]*WorkflowInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*WorkflowInstance, 0, len(r.workflows))
	for _, wf := range r.workflows {
		out = append(out, copyInstance(wf))
	}
	return out, nil
}

func (r *InMemoryRepository) Close() error { return nil }

// copyInstance detaches the returned instance from the stored one so
// callers cannot mutate repository state behind the lock.
func copyInstance(wf *WorkflowInstance) *WorkflowInstance {
	out := *wf
	out.Steps = append([]StepRecord(nil), wf.Steps...)
	return &out
}
