// Package contracts defines the message contracts exchanged over the
// paigeant bus: the activity spec, the routing slip and the envelope.
package contracts

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// SpecVersion is the wire format version stamped on every envelope.
const SpecVersion = "1.0"

// DefaultItineraryEditLimit caps mid-flight insertions per workflow.
const DefaultItineraryEditLimit = 3

// SerializedDeps is the transport form of a step's input object.
// A nil Data means "no deps".
type SerializedDeps struct {
	Data   any    `json:"data"`
	Type   string `json:"type,omitempty"`
	Module string `json:"module,omitempty"`
}

// ActivitySpec defines one step in a workflow.
type ActivitySpec struct {
	AgentName string          `json:"agent_name"`
	Prompt    string          `json:"prompt"`
	Deps      *SerializedDeps `json:"deps,omitempty"`
	Arguments map[string]any  `json:"arguments,omitempty"` // reserved
}

// PreviousOutput is the output produced by the prior agent in the workflow.
type PreviousOutput struct {
	AgentName string `json:"agent_name"`
	Output    any    `json:"output"`
}

// WorkflowDependencies is the context container shared across workflow
// activities. Workers overlay PreviousOutput and ActivityRegistry onto it
// fresh on every delivery.
type WorkflowDependencies struct {
	UserToken          string                  `json:"user_token,omitempty"`
	PreviousOutput     *PreviousOutput         `json:"previous_output,omitempty"`
	ItineraryEditLimit int                     `json:"itinerary_edit_limit,omitempty"`
	ActivityRegistry   map[string]ActivitySpec `json:"activity_registry,omitempty"`
}

// EditLimit returns the itinerary edit limit, falling back to the default
// when unset.
func (w *WorkflowDependencies) EditLimit() int {
	if w == nil || w.ItineraryEditLimit <= 0 {
		return DefaultItineraryEditLimit
	}
	return w.ItineraryEditLimit
}

// RoutingSlip describes remaining, executed and compensating activities.
// The head of Itinerary is the step currently being executed.
type RoutingSlip struct {
	Itinerary     []ActivitySpec `json:"itinerary"`
	Executed      []ActivitySpec `json:"executed"`
	Compensations []ActivitySpec `json:"compensations"` // reserved
	InsertedSteps int            `json:"inserted_steps"`
}

// NextStep returns the next step to execute, or nil when the slip is done.
func (r *RoutingSlip) NextStep() *ActivitySpec {
	if len(r.Itinerary) == 0 {
		return nil
	}
	return &r.Itinerary[0]
}

// IsFinished reports whether all activities have been executed.
func (r *RoutingSlip) IsFinished() bool {
	return len(r.Itinerary) == 0
}

// MarkComplete pops the head of the itinerary onto the executed list,
// provided step still is the head. A non-matching step is a silent no-op so
// that benign redeliveries cannot corrupt the slip.
func (r *RoutingSlip) MarkComplete(step *ActivitySpec) {
	if step == nil || len(r.Itinerary) == 0 {
		return
	}
	if !reflect.DeepEqual(r.Itinerary[0], *step) {
		return
	}
	completed := r.Itinerary[0]
	r.Itinerary = r.Itinerary[1:]
	r.Executed = append(r.Executed, completed)
}

// InsertActivities inserts new steps immediately after the current head, so
// the running worker's MarkComplete still matches. Insertion is capped at
// limit minus the slip's lifetime insertion count; the number actually
// inserted is returned.
func (r *RoutingSlip) InsertActivities(newSteps []ActivitySpec, limit int) int {
	remaining := limit - r.InsertedSteps
	if remaining < 0 {
		remaining = 0
	}
	if len(newSteps) > remaining {
		newSteps = newSteps[:remaining]
	}
	if len(newSteps) == 0 {
		return 0
	}

	const insertPos = 1
	head := r.Itinerary[:min(insertPos, len(r.Itinerary))]
	tail := r.Itinerary[min(insertPos, len(r.Itinerary)):]

	itinerary := make([]ActivitySpec, 0, len(r.Itinerary)+len(newSteps))
	itinerary = append(itinerary, head...)
	itinerary = append(itinerary, newSteps...)
	itinerary = append(itinerary, tail...)

	r.Itinerary = itinerary
	r.InsertedSteps += len(newSteps)
	return len(newSteps)
}

// PreviousStep returns the most recently executed step, or nil.
func (r *RoutingSlip) PreviousStep() *ActivitySpec {
	if len(r.Executed) == 0 {
		return nil
	}
	return &r.Executed[len(r.Executed)-1]
}

// Publisher is the slice of the transport the envelope needs to forward
// itself.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg *Message) error
}

// WorkflowCompleter is the slice of the repository the envelope needs to
// record terminal workflow state.
type WorkflowCompleter interface {
	MarkWorkflowCompleted(ctx context.Context, correlationID, status string) error
}

// Message is the envelope exchanged over the bus: metadata, routing slip
// and accumulated payload.
type Message struct {
	MessageID        string                  `json:"message_id"`
	CorrelationID    string                  `json:"correlation_id"`
	TraceID          string                  `json:"trace_id,omitempty"`
	Timestamp        time.Time               `json:"timestamp"`
	OboToken         string                  `json:"obo_token,omitempty"`
	Signature        string                  `json:"signature,omitempty"` // reserved for a future integrity layer
	RoutingSlip      RoutingSlip             `json:"routing_slip"`
	Payload          map[string]any          `json:"payload"`
	SpecVersion      string                  `json:"spec_version"`
	ActivityRegistry map[string]ActivitySpec `json:"activity_registry,omitempty"`
}

// NewMessage mints an envelope for a new publication within a workflow.
func NewMessage(correlationID string, slip RoutingSlip) *Message {
	return &Message{
		MessageID:     uuid.NewString(),
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		RoutingSlip:   slip,
		Payload:       map[string]any{},
		SpecVersion:   SpecVersion,
	}
}

// ToJSON serializes the envelope to its wire form.
func (m *Message) ToJSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message %s: %w", m.MessageID, err)
	}
	return data, nil
}

// FromJSON deserializes an envelope from its wire form.
func FromJSON(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return &m, nil
}

// ForwardToNextStep advances the routing slip past the current activity and
// publishes the envelope to the next activity's topic. When the slip is
// exhausted the workflow is marked completed instead.
//
// A publish failure after the slip has advanced is returned to the caller;
// the delivery being processed stays un-acked so the transport redelivers
// it, and idempotent step persistence makes the retry safe.
func (m *Message) ForwardToNextStep(ctx context.Context, transport Publisher, repository WorkflowCompleter) error {
	current := m.RoutingSlip.NextStep()
	if current == nil {
		return nil
	}

	m.RoutingSlip.MarkComplete(current)

	next := m.RoutingSlip.NextStep()
	if next == nil {
		if repository != nil {
			if err := repository.MarkWorkflowCompleted(ctx, m.CorrelationID, "completed"); err != nil {
				return fmt.Errorf("mark workflow %s completed: %w", m.CorrelationID, err)
			}
		}
		return nil
	}

	if err := transport.Publish(ctx, next.AgentName, m); err != nil {
		return fmt.Errorf("forward to %s: %w", next.AgentName, err)
	}
	return nil
}
