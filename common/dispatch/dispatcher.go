// Package dispatch builds and launches workflows: an ordered itinerary of
// activities plus a registry of extra activities workers may insert
// mid-flight.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/paigeant/paigeant/common/contracts"
	"github.com/paigeant/paigeant/common/deps"
	"github.com/paigeant/paigeant/common/logger"
	"github.com/paigeant/paigeant/common/persistence"
	"github.com/paigeant/paigeant/common/transport"
)

// ErrEmptyItinerary is returned when dispatching a workflow with no
// activities.
var ErrEmptyItinerary = errors.New("cannot dispatch workflow with empty itinerary")

// Dispatcher assembles a workflow. Itinerary order is execution order; the
// registry additionally holds activities reachable through mid-flight
// insertion but not initially executed.
type Dispatcher struct {
	itinerary []contracts.ActivitySpec
	registry  map[string]contracts.ActivitySpec
	log       *logger.Logger
}

// New creates an empty dispatcher.
func New(log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		registry: make(map[string]contracts.ActivitySpec),
		log:      log.WithComponent("dispatcher"),
	}
}

// AddActivity appends a step to the itinerary and registers it under its
// agent name. Dependencies are serialized immediately so the step definition
// is frozen from here on.
func (d *Dispatcher) AddActivity(agentName, prompt string, dependencies any) error {
	spec, err := d.buildSpec(agentName, prompt, dependencies)
	if err != nil {
		return err
	}
	d.itinerary = append(d.itinerary, spec)
	d.registry[agentName] = spec
	return nil
}

// RegisterActivity makes an activity insertable mid-flight without putting
// it on the initial itinerary.
func (d *Dispatcher) RegisterActivity(agentName, prompt string, dependencies any) error {
	spec, err := d.buildSpec(agentName, prompt, dependencies)
	if err != nil {
		return err
	}
	d.registry[agentName] = spec
	return nil
}

func (d *Dispatcher) buildSpec(agentName, prompt string, dependencies any) (contracts.ActivitySpec, error) {
	serialized, err := deps.Serialize(dependencies)
	if err != nil {
		return contracts.ActivitySpec{}, fmt.Errorf("serialize deps for %s: %w", agentName, err)
	}
	return contracts.ActivitySpec{
		AgentName: agentName,
		Prompt:    prompt,
		Deps:      serialized,
	}, nil
}

// Dispatch mints a correlation id, persists the new workflow and publishes
// the envelope to the first step's topic. Returns the correlation id.
func (d *Dispatcher) Dispatch(ctx context.Context, t transport.Transport, variables map[string]any, oboToken string, repo persistence.Repository) (string, error) {
	if len(d.itinerary) == 0 {
		return "", ErrEmptyItinerary
	}

	correlationID := uuid.NewString()

	slip := contracts.RoutingSlip{
		Itinerary: append([]contracts.ActivitySpec(nil), d.itinerary...),
		Executed:  []contracts.ActivitySpec{},
	}

	msg := contracts.NewMessage(correlationID, slip)
	msg.TraceID = correlationID
	msg.OboToken = oboToken
	if variables != nil {
		msg.Payload = variables
	}
	msg.ActivityRegistry = d.registrySnapshot()

	if err := repo.CreateWorkflow(ctx, correlationID, &msg.RoutingSlip, msg.Payload); err != nil {
		return "", fmt.Errorf("create workflow %s: %w", correlationID, err)
	}

	firstTopic := d.itinerary[0].AgentName
	if err := t.Publish(ctx, firstTopic, msg); err != nil {
		return "", fmt.Errorf("dispatch workflow %s to %s: %w", correlationID, firstTopic, err)
	}

	d.log.Info("workflow dispatched",
		"correlation_id", correlationID,
		"first_step", firstTopic,
		"itinerary_len", len(d.itinerary),
	)
	return correlationID, nil
}

// registrySnapshot copies the registry so envelopes never alias dispatcher
// state; the registry on an envelope is immutable after dispatch.
func (d *Dispatcher) registrySnapshot() map[string]contracts.ActivitySpec {
	snapshot := make(map[string]contracts.ActivitySpec, len(d.registry))
	for name, spec := range d.registry {
		snapshot[name] = spec
	}
	return snapshot
}
