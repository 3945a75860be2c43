package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func step(name string) ActivitySpec {
	return ActivitySpec{AgentName: name, Prompt: "do " + name}
}

func TestNextStep(t *testing.T) {
	slip := RoutingSlip{Itinerary: []ActivitySpec{step("a"), step("b")}}

	next := slip.NextStep()
	require.NotNil(t, next)
	assert.Equal(t, "a", next.AgentName)

	empty := RoutingSlip{}
	assert.Nil(t, empty.NextStep())
	assert.True(t, empty.IsFinished())
	assert.False(t, slip.IsFinished())
}

func TestMarkCompleteAdvancesHead(t *testing.T) {
	slip := RoutingSlip{Itinerary: []ActivitySpec{step("a"), step("b")}}

	head := slip.NextStep()
	slip.MarkComplete(head)

	require.Len(t, slip.Itinerary, 1)
	assert.Equal(t, "b", slip.Itinerary[0].AgentName)
	require.Len(t, slip.Executed, 1)
	assert.Equal(t, "a", slip.Executed[0].AgentName)

	prev := slip.PreviousStep()
	require.NotNil(t, prev)
	assert.Equal(t, "a", prev.AgentName)
}

func TestMarkCompleteMismatchIsNoop(t *testing.T) {
	slip := RoutingSlip{Itinerary: []ActivitySpec{step("a"), step("b")}}

	other := step("b")
	slip.MarkComplete(&other)

	assert.Len(t, slip.Itinerary, 2)
	assert.Empty(t, slip.Executed)

	// A stale step from a previous hop also does not match.
	stale := step("a")
	slip.MarkComplete(slip.NextStep())
	slip.MarkComplete(&stale)
	assert.Len(t, slip.Itinerary, 1)
	assert.Len(t, slip.Executed, 1)
}

func TestMarkCompleteOnEmptySlip(t *testing.T) {
	slip := RoutingSlip{}
	s := step("a")
	slip.MarkComplete(&s)
	slip.MarkComplete(nil)
	assert.Empty(t, slip.Executed)
}

func TestInsertActivitiesAfterHead(t *testing.T) {
	slip := RoutingSlip{Itinerary: []ActivitySpec{step("a"), step("c")}}

	inserted := slip.InsertActivities([]ActivitySpec{step("b")}, DefaultItineraryEditLimit)

	assert.Equal(t, 1, inserted)
	assert.Equal(t, 1, slip.InsertedSteps)
	// The running worker's head is unchanged; the new step lands behind it.
	require.Len(t, slip.Itinerary, 3)
	assert.Equal(t, "a", slip.Itinerary[0].AgentName)
	assert.Equal(t, "b", slip.Itinerary[1].AgentName)
	assert.Equal(t, "c", slip.Itinerary[2].AgentName)
}

func TestInsertActivitiesCapsAtLimit(t *testing.T) {
	slip := RoutingSlip{Itinerary: []ActivitySpec{step("a")}}

	inserted := slip.InsertActivities([]ActivitySpec{step("x"), step("y")}, 1)

	assert.Equal(t, 1, inserted)
	assert.Equal(t, 1, slip.InsertedSteps)
	require.Len(t, slip.Itinerary, 2)
	assert.Equal(t, "x", slip.Itinerary[1].AgentName)
}

func TestInsertActivitiesLimitIsCumulative(t *testing.T) {
	slip := RoutingSlip{Itinerary: []ActivitySpec{step("a")}}

	assert.Equal(t, 2, slip.InsertActivities([]ActivitySpec{step("x"), step("y")}, 3))
	assert.Equal(t, 1, slip.InsertActivities([]ActivitySpec{step("z"), step("w")}, 3))
	assert.Equal(t, 0, slip.InsertActivities([]ActivitySpec{step("q")}, 3))
	assert.Equal(t, 3, slip.InsertedSteps)
}

func TestInsertActivitiesZeroAndNegativeHeadroom(t *testing.T) {
	slip := RoutingSlip{Itinerary: []ActivitySpec{step("a")}, InsertedSteps: 5}

	assert.Equal(t, 0, slip.InsertActivities([]ActivitySpec{step("x")}, 3))
	assert.Equal(t, 5, slip.InsertedSteps)
	assert.Len(t, slip.Itinerary, 1)
}

func TestPreviousStepEmpty(t *testing.T) {
	slip := RoutingSlip{}
	assert.Nil(t, slip.PreviousStep())
}

func TestWorkflowDependenciesEditLimit(t *testing.T) {
	var nilDeps *WorkflowDependencies
	assert.Equal(t, DefaultItineraryEditLimit, nilDeps.EditLimit())
	assert.Equal(t, DefaultItineraryEditLimit, (&WorkflowDependencies{}).EditLimit())
	assert.Equal(t, 1, (&WorkflowDependencies{ItineraryEditLimit: 1}).EditLimit())
}
