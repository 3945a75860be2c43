package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paigeant/paigeant/common/logger"
	"github.com/paigeant/paigeant/common/persistence"
	"github.com/paigeant/paigeant/common/transport"
)

func TestDispatchEmptyItinerary(t *testing.T) {
	d := New(logger.NewNop())
	tr := transport.NewInMemoryTransport(logger.NewNop())
	repo := persistence.NewInMemoryRepository()

	_, err := d.Dispatch(context.Background(), tr, nil, "", repo)

	assert.ErrorIs(t, err, ErrEmptyItinerary)
	workflows, listErr := repo.ListWorkflows(context.Background())
	require.NoError(t, listErr)
	assert.Empty(t, workflows, "no repository row on failed dispatch")
}

func TestDispatchPublishesToFirstTopic(t *testing.T) {
	ctx := context.Background()
	d := New(logger.NewNop())
	tr := transport.NewInMemoryTransport(logger.NewNop())
	repo := persistence.NewInMemoryRepository()

	require.NoError(t, d.AddActivity("summarize", "summarize the report", nil))
	require.NoError(t, d.AddActivity("notify", "notify the team", nil))
	require.NoError(t, d.RegisterActivity("escalate", "escalate to a human", nil))

	correlationID, err := d.Dispatch(ctx, tr, map[string]any{"k": "v"}, "obo-token", repo)
	require.NoError(t, err)
	require.NotEmpty(t, correlationID)

	// Repository row exists and is in progress.
	wf, err := repo.GetWorkflow(ctx, correlationID)
	require.NoError(t, err)
	assert.Equal(t, persistence.WorkflowInProgress, wf.Status)
	assert.Equal(t, "v", wf.Payload["k"])

	// Exactly one message, on the first step's topic.
	assert.Equal(t, 1, tr.Depth("summarize"))
	assert.Equal(t, 0, tr.Depth("notify"))

	ch, err := tr.Subscribe(ctx, "summarize", 300*time.Millisecond)
	require.NoError(t, err)
	d0 := <-ch

	msg := d0.Message
	assert.Equal(t, correlationID, msg.CorrelationID)
	assert.Equal(t, correlationID, msg.TraceID)
	assert.Equal(t, "obo-token", msg.OboToken)
	assert.Equal(t, "v", msg.Payload["k"])
	require.Len(t, msg.RoutingSlip.Itinerary, 2)
	assert.Empty(t, msg.RoutingSlip.Executed)
	assert.Zero(t, msg.RoutingSlip.InsertedSteps)

	// Registry holds itinerary steps and the extra, insertable one.
	assert.Contains(t, msg.ActivityRegistry, "summarize")
	assert.Contains(t, msg.ActivityRegistry, "notify")
	assert.Contains(t, msg.ActivityRegistry, "escalate")
}

func TestAddActivitySerializesDeps(t *testing.T) {
	d := New(logger.NewNop())

	require.NoError(t, d.AddActivity("summarize", "p", "token-ref"))

	require.Len(t, d.itinerary, 1)
	spec := d.itinerary[0]
	require.NotNil(t, spec.Deps)
	assert.Equal(t, "token-ref", spec.Deps.Data)
	assert.Equal(t, "string", spec.Deps.Type)
}

func TestRegisterActivityDoesNotExtendItinerary(t *testing.T) {
	d := New(logger.NewNop())

	require.NoError(t, d.RegisterActivity("escalate", "p", nil))

	assert.Empty(t, d.itinerary)
	assert.Contains(t, d.registry, "escalate")
}
