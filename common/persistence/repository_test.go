package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paigeant/paigeant/common/contracts"
	"github.com/paigeant/paigeant/common/logger"
)

func testSlip(names ...string) *contracts.RoutingSlip {
	itinerary := make([]contracts.ActivitySpec, 0, len(names))
	for _, n := range names {
		itinerary = append(itinerary, contracts.ActivitySpec{AgentName: n, Prompt: "p"})
	}
	return &contracts.RoutingSlip{Itinerary: itinerary, Executed: []contracts.ActivitySpec{}}
}

// backends runs a test against every repository variant that needs no
// external server.
func backends(t *testing.T, run func(t *testing.T, repo Repository)) {
	t.Helper()

	t.Run("inmemory", func(t *testing.T) {
		repo := NewInMemoryRepository()
		defer repo.Close()
		run(t, repo)
	})

	t.Run("sqlite", func(t *testing.T) {
		repo, err := NewSQLiteRepository(":memory:", logger.NewNop())
		require.NoError(t, err)
		defer repo.Close()
		run(t, repo)
	})
}

func TestCreateAndGetWorkflow(t *testing.T) {
	backends(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		err := repo.CreateWorkflow(ctx, "wf-1", testSlip("a", "b"), map[string]any{"k": "v"})
		require.NoError(t, err)

		wf, err := repo.GetWorkflow(ctx, "wf-1")
		require.NoError(t, err)
		assert.Equal(t, "wf-1", wf.CorrelationID)
		assert.Equal(t, WorkflowInProgress, wf.Status)
		assert.Equal(t, "v", wf.Payload["k"])
		require.Len(t, wf.RoutingSlip.Itinerary, 2)
		assert.Equal(t, "a", wf.RoutingSlip.Itinerary[0].AgentName)
		assert.Empty(t, wf.Steps)
	})
}

func TestGetWorkflowNotFound(t *testing.T) {
	backends(t, func(t *testing.T, repo Repository) {
		_, err := repo.GetWorkflow(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpdateRoutingSlipAndPayload(t *testing.T) {
	backends(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		require.NoError(t, repo.CreateWorkflow(ctx, "wf-1", testSlip("a", "b"), nil))

		advanced := testSlip("b")
		advanced.Executed = []contracts.ActivitySpec{{AgentName: "a", Prompt: "p"}}
		require.NoError(t, repo.UpdateRoutingSlip(ctx, "wf-1", advanced))
		require.NoError(t, repo.UpdatePayload(ctx, "wf-1", map[string]any{"a": "out"}))

		wf, err := repo.GetWorkflow(ctx, "wf-1")
		require.NoError(t, err)
		require.Len(t, wf.RoutingSlip.Itinerary, 1)
		assert.Equal(t, "b", wf.RoutingSlip.Itinerary[0].AgentName)
		require.Len(t, wf.RoutingSlip.Executed, 1)
		assert.Equal(t, "out", wf.Payload["a"])
	})
}

func TestStepLifecycle(t *testing.T) {
	backends(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		require.NoError(t, repo.CreateWorkflow(ctx, "wf-1", testSlip("a"), nil))

		require.NoError(t, repo.MarkStepStarted(ctx, "wf-1", "a", 1))
		require.NoError(t, repo.MarkStepCompleted(ctx, "wf-1", "a", StepCompleted, map[string]any{"result": "ok"}, 1))

		wf, err := repo.GetWorkflow(ctx, "wf-1")
		require.NoError(t, err)
		require.Len(t, wf.Steps, 1)
		step := wf.Steps[0]
		assert.Equal(t, "a", step.StepName)
		assert.Equal(t, 1, step.RunID)
		assert.Equal(t, StepCompleted, step.Status)
		require.NotNil(t, step.StartedAt)
		require.NotNil(t, step.CompletedAt)
		assert.Equal(t, "ok", step.Output["result"])
	})
}

func TestMarkStepStartedIsIdempotent(t *testing.T) {
	backends(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		require.NoError(t, repo.CreateWorkflow(ctx, "wf-1", testSlip("a"), nil))

		require.NoError(t, repo.MarkStepStarted(ctx, "wf-1", "a", 1))
		require.NoError(t, repo.MarkStepStarted(ctx, "wf-1", "a", 1))
		require.NoError(t, repo.MarkStepStarted(ctx, "wf-1", "a", 1))

		wf, err := repo.GetWorkflow(ctx, "wf-1")
		require.NoError(t, err)
		assert.Len(t, wf.Steps, 1)
	})
}

func TestMarkStepCompletedReassertionIsNoop(t *testing.T) {
	backends(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		require.NoError(t, repo.CreateWorkflow(ctx, "wf-1", testSlip("a"), nil))
		require.NoError(t, repo.MarkStepStarted(ctx, "wf-1", "a", 1))
		require.NoError(t, repo.MarkStepCompleted(ctx, "wf-1", "a", StepCompleted, map[string]any{"result": "first"}, 1))

		before, err := repo.GetWorkflow(ctx, "wf-1")
		require.NoError(t, err)

		// A redelivered worker re-asserts the same terminal state.
		require.NoError(t, repo.MarkStepCompleted(ctx, "wf-1", "a", StepCompleted, map[string]any{"result": "second"}, 1))

		after, err := repo.GetWorkflow(ctx, "wf-1")
		require.NoError(t, err)
		require.Len(t, after.Steps, 1)
		assert.Equal(t, "first", after.Steps[0].Output["result"])
		assert.Equal(t, before.Steps[0].CompletedAt.UnixNano(), after.Steps[0].CompletedAt.UnixNano())
	})
}

func TestDistinctRunIDsAreDistinctRows(t *testing.T) {
	backends(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		require.NoError(t, repo.CreateWorkflow(ctx, "wf-1", testSlip("a"), nil))

		require.NoError(t, repo.MarkStepStarted(ctx, "wf-1", "a", 1))
		require.NoError(t, repo.MarkStepStarted(ctx, "wf-1", "a", 2))

		wf, err := repo.GetWorkflow(ctx, "wf-1")
		require.NoError(t, err)
		assert.Len(t, wf.Steps, 2)
	})
}

func TestMarkWorkflowCompleted(t *testing.T) {
	backends(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		require.NoError(t, repo.CreateWorkflow(ctx, "wf-1", testSlip("a"), nil))

		require.NoError(t, repo.MarkWorkflowCompleted(ctx, "wf-1", WorkflowCompleted))

		wf, err := repo.GetWorkflow(ctx, "wf-1")
		require.NoError(t, err)
		assert.Equal(t, WorkflowCompleted, wf.Status)
	})
}

func TestListWorkflows(t *testing.T) {
	backends(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		require.NoError(t, repo.CreateWorkflow(ctx, "wf-1", testSlip("a"), nil))
		require.NoError(t, repo.CreateWorkflow(ctx, "wf-2", testSlip("b"), nil))

		workflows, err := repo.ListWorkflows(ctx)
		require.NoError(t, err)
		assert.Len(t, workflows, 2)
	})
}

func TestOpenSelectsBackendByScheme(t *testing.T) {
	ctx := context.Background()
	log := logger.NewNop()

	repo, err := Open(ctx, "", log)
	require.NoError(t, err)
	assert.IsType(t, &InMemoryRepository{}, repo)
	repo.Close()

	repo, err = Open(ctx, "sqlite://:memory:", log)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteRepository{}, repo)
	repo.Close()

	_, err = Open(ctx, "mysql://nope", log)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
