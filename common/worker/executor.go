// Package worker runs the per-topic consumer loop: it receives envelopes
// addressed to one agent, executes the activity locally, persists the
// outcome and forwards the envelope to the next step.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/paigeant/paigeant/common/agent"
	"github.com/paigeant/paigeant/common/contracts"
	"github.com/paigeant/paigeant/common/deps"
	"github.com/paigeant/paigeant/common/logger"
	"github.com/paigeant/paigeant/common/persistence"
	"github.com/paigeant/paigeant/common/transport"
)

// Executor consumes one topic (its agent name) and applies the routing-slip
// protocol to every delivery. One delivery is processed at a time;
// parallelism comes from running more executors on the same topic.
type Executor struct {
	transport      transport.Transport
	agentName      string
	repo           persistence.Repository
	resolver       agent.Resolver
	log            *logger.Logger
	lifespan       time.Duration
	depsRegistry   *deps.Registry
	fallbackModule string
	editLimit      int
}

// Option configures an Executor.
type Option func(*Executor)

// WithLifespan bounds the subscription; after it elapses the loop drains
// the current delivery and exits. Zero means run until ctx cancellation.
func WithLifespan(d time.Duration) Option {
	return func(e *Executor) { e.lifespan = d }
}

// WithDepsRegistry replaces the default dependency type registry.
func WithDepsRegistry(r *deps.Registry) Option {
	return func(e *Executor) { e.depsRegistry = r }
}

// WithFallbackModule supplies the module used to resolve dependency types
// whose recorded module is "main".
func WithFallbackModule(module string) Option {
	return func(e *Executor) { e.fallbackModule = module }
}

// WithEditLimit overrides the per-workflow itinerary edit limit carried in
// the workflow dependencies.
func WithEditLimit(limit int) Option {
	return func(e *Executor) { e.editLimit = limit }
}

// NewExecutor creates a worker for one agent topic.
func NewExecutor(t transport.Transport, agentName string, repo persistence.Repository, resolver agent.Resolver, log *logger.Logger, opts ...Option) *Executor {
	e := &Executor{
		transport:    t,
		agentName:    agentName,
		repo:         repo,
		resolver:     resolver,
		log:          log.WithAgent(agentName),
		depsRegistry: deps.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start consumes deliveries until the subscription ends. A failed delivery
// is logged and left un-acked so the transport can redeliver it; the loop
// moves on to the next delivery.
func (e *Executor) Start(ctx context.Context) error {
	ch, err := e.transport.Subscribe(ctx, e.agentName, e.lifespan)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", e.agentName, err)
	}

	e.log.Info("worker started", "lifespan", e.lifespan)
	for d := range ch {
		if err := e.handleDelivery(ctx, d); err != nil {
			e.log.Error("delivery failed, leaving un-acked",
				"message_id", d.Message.MessageID,
				"correlation_id", d.Message.CorrelationID,
				"error", err,
			)
		}
	}
	e.log.Info("worker stopped")
	return nil
}

// handleDelivery walks one delivery through the state machine:
// Received -> Hydrated -> Started -> agent run -> Persisted ->
// (Forwarded | Terminal) -> Acked.
func (e *Executor) handleDelivery(ctx context.Context, d transport.Delivery) error {
	msg := d.Message
	log := e.log.WithCorrelationID(msg.CorrelationID)

	activity := msg.RoutingSlip.NextStep()
	if activity == nil || activity.AgentName != e.agentName {
		// Malformed routing: this envelope does not belong here.
		got := "<none>"
		if activity != nil {
			got = activity.AgentName
		}
		log.Warn("misrouted delivery, discarding", "head", got)
		return e.transport.Nack(ctx, d, false)
	}

	hydrated := e.rehydrate(activity, log)

	if err := e.repo.MarkStepStarted(ctx, msg.CorrelationID, activity.AgentName, 1); err != nil {
		return fmt.Errorf("mark step started: %w", err)
	}

	runDeps, editLimit := e.overlay(msg, hydrated, log)
	if e.editLimit > 0 {
		editLimit = e.editLimit
	}

	handle, err := e.resolver.Resolve(e.agentName)
	if err != nil {
		return e.failStep(ctx, msg, activity, fmt.Errorf("resolve agent: %w", err))
	}

	result, err := handle.Run(ctx, activity.Prompt, runDeps)
	if err != nil {
		return e.failStep(ctx, msg, activity, fmt.Errorf("agent run: %w", err))
	}

	if added := e.allowedInsertions(result.AddedActivities, msg.ActivityRegistry, log); len(added) > 0 {
		inserted := msg.RoutingSlip.InsertActivities(added, editLimit)
		log.Info("itinerary edited", "requested", len(added), "inserted", inserted)
	}

	msg.Payload[activity.AgentName] = result.Output

	if err := e.repo.UpdateRoutingSlip(ctx, msg.CorrelationID, &msg.RoutingSlip); err != nil {
		return fmt.Errorf("update routing slip: %w", err)
	}
	if err := e.repo.UpdatePayload(ctx, msg.CorrelationID, msg.Payload); err != nil {
		return fmt.Errorf("update payload: %w", err)
	}
	if err := e.repo.MarkStepCompleted(ctx, msg.CorrelationID, activity.AgentName,
		persistence.StepCompleted, map[string]any{"result": result.Output}, 1); err != nil {
		return fmt.Errorf("mark step completed: %w", err)
	}

	if err := msg.ForwardToNextStep(ctx, e.transport, e.repo); err != nil {
		return err
	}

	return e.transport.Ack(ctx, d)
}

// rehydrate reconstructs the step's typed input. Failures are soft: the
// worker logs and proceeds with nil deps, the overlay still applies.
func (e *Executor) rehydrate(activity *contracts.ActivitySpec, log *logger.Logger) any {
	if activity.Deps == nil {
		return nil
	}
	v, err := e.depsRegistry.Deserialize(activity.Deps, e.fallbackModule)
	if err != nil {
		log.Warn("dependency rehydration failed, continuing with nil deps", "error", err)
		return nil
	}
	return v
}

// overlay injects the workflow context: the previous step's output and the
// insertion catalog. A workflow-deps value gets the fields set in place, a
// nil gets a fresh container, anything else passes through untouched.
func (e *Executor) overlay(msg *contracts.Message, hydrated any, log *logger.Logger) (any, int) {
	wd, ok := hydrated.(*contracts.WorkflowDependencies)
	if hydrated != nil && !ok {
		log.Debug("deps are not workflow dependencies, passing through", "type", fmt.Sprintf("%T", hydrated))
		return hydrated, contracts.DefaultItineraryEditLimit
	}
	if wd == nil {
		wd = &contracts.WorkflowDependencies{}
	}

	if prev := msg.RoutingSlip.PreviousStep(); prev != nil {
		wd.PreviousOutput = &contracts.PreviousOutput{
			AgentName: prev.AgentName,
			Output:    msg.Payload[prev.AgentName],
		}
	}
	wd.ActivityRegistry = msg.ActivityRegistry

	return wd, wd.EditLimit()
}

// allowedInsertions resolves requested follow-ups against the envelope's
// activity registry. Unknown names are skipped; a requested prompt
// overrides the registered one.
func (e *Executor) allowedInsertions(requested []contracts.ActivitySpec, registry map[string]contracts.ActivitySpec, log *logger.Logger) []contracts.ActivitySpec {
	var out []contracts.ActivitySpec
	for _, req := range requested {
		spec, ok := registry[req.AgentName]
		if !ok {
			log.Warn("skipping follow-up not in activity registry", "agent", req.AgentName)
			continue
		}
		if req.Prompt != "" {
			spec.Prompt = req.Prompt
		}
		out = append(out, spec)
	}
	return out
}

// failStep records the failure and returns the error so the delivery stays
// un-acked and the transport can retry the step.
func (e *Executor) failStep(ctx context.Context, msg *contracts.Message, activity *contracts.ActivitySpec, cause error) error {
	if err := e.repo.MarkStepCompleted(ctx, msg.CorrelationID, activity.AgentName,
		persistence.StepFailed, map[string]any{"error": cause.Error()}, 1); err != nil {
		return fmt.Errorf("record step failure (%v): %w", cause, err)
	}
	return cause
}
