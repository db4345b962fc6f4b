package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orderDefinition(t *testing.T) string {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("..", "..", "testdata", "processes", "order.cue"))
	require.NoError(t, err)
	return path
}

func intPtr(n int) *int { return &n }

func TestRun_WaitAndResume(t *testing.T) {
	scenario := &Scenario{
		Name:        "wait_resume",
		Description: "an instance waits and is resumed",
		Definitions: []string{createTestDefinition(t, t.TempDir())},
		Steps: []Step{
			{Start: "wait", As: "w", Expect: &Expect{Status: "active"}},
			{Signal: "go", Payload: "hello", Expect: &Expect{Resumed: intPtr(1)}},
		},
		Assertions: []Assertion{
			{Type: AssertStatus, Instance: "w", Status: "completed"},
			{Type: AssertVariable, Instance: "w", Variable: "input", Value: "hello"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)

	require.Len(t, result.Steps, 2)
	assert.Equal(t, "start wait as w -> instance 1 active", result.Steps[0].Summary)
	assert.Equal(t, "signal go -> resumed [1]", result.Steps[1].Summary)

	require.Len(t, result.Instances, 1)
	in := result.Instances[0]
	assert.Equal(t, "w", in.Alias)
	assert.Equal(t, "wait", in.ProcessID)
	assert.Nil(t, in.Parent)
	assert.Equal(t, []string{"Start", "hold", "done"}, enteredNodes(&in))
	assert.Empty(t, in.Waiting)
}

func TestRun_RecordsEngineCounters(t *testing.T) {
	scenario := &Scenario{
		Name:        "counters",
		Description: "engine counters are reported with the result",
		Definitions: []string{createTestDefinition(t, t.TempDir())},
		Steps: []Step{
			{Start: "wait", As: "w1"},
			{Start: "wait", As: "w2"},
			{Signal: "nobody"},
			{Abort: "w2"},
			{Signal: "go", Payload: "hello", Expect: &Expect{Resumed: intPtr(1)}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)

	assert.Equal(t, 2.0, result.Counters[`procflow_instances_started_total{process_id="wait"}`])
	assert.Equal(t, 1.0, result.Counters[`procflow_instances_completed_total{process_id="wait"}`])
	assert.Equal(t, 1.0, result.Counters[`procflow_instances_aborted_total{process_id="wait"}`])
	assert.Equal(t, 1.0, result.Counters[`procflow_events_delivered_total{event_ref="go",result="matched"}`])
	assert.Equal(t, 1.0, result.Counters[`procflow_events_delivered_total{event_ref="nobody",result="missed"}`])
	assert.Equal(t, 2.0, result.Counters[`procflow_node_visits_total{node_type="start"}`])
}

func TestRun_DecimalValues(t *testing.T) {
	dir := t.TempDir()
	createTestDefinition(t, dir)
	scenario, err := LoadScenario(writeScenario(t, dir, `
name: decimals
description: "Decimal numbers flow through variables and payloads"
definitions:
  - flows.cue
steps:
  - start: wait
    as: w
    vars: { price: 9.99, rate: 1.5e-9 }
  - signal: go
    payload: { amount: 120.50 }
    expect: { resumed: 1 }
assertions:
  - type: variable
    instance: w
    variable: price
    value: 9.990
  - type: variable
    instance: w
    variable: input
    value: { amount: 120.5 }
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)

	values := map[string]string{}
	for _, v := range result.Instances[0].Variables {
		values[v.VariableID] = v.Value
	}
	assert.Equal(t, "9.99", values["price"])
	assert.Equal(t, "1.5e-9", values["rate"])
	assert.Equal(t, `{"amount":120.5}`, values["input"])
}

func TestRun_ExpectationFailures(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong_expectations",
		Description: "expect clauses that do not hold",
		Definitions: []string{createTestDefinition(t, t.TempDir())},
		Steps: []Step{
			{Start: "wait", As: "w", Expect: &Expect{Status: "completed"}},
			{Signal: "nobody", Expect: &Expect{Resumed: intPtr(1)}},
			{Abort: "w", Expect: &Expect{Error: "HANDLER_FAILED"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, []string{
		"step 1: expected status completed, got active",
		"step 2: expected 1 resumed instances, got 0",
		"step 3: expected error HANDLER_FAILED, got none",
	}, result.Errors)
}

func TestRun_UnexpectedError(t *testing.T) {
	scenario := &Scenario{
		Name:        "unknown_process",
		Description: "starting an unknown process fails",
		Definitions: []string{createTestDefinition(t, t.TempDir())},
		Steps:       []Step{{Start: "missing"}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "step 1: unexpected error")
	assert.Equal(t, "start missing -> error ERROR", result.Steps[0].Summary)
}

func TestRun_ExpectedGenericError(t *testing.T) {
	scenario := &Scenario{
		Name:        "expected_error",
		Description: "a non-handler error has code ERROR",
		Definitions: []string{createTestDefinition(t, t.TempDir())},
		Steps:       []Step{{Start: "missing", Expect: &Expect{Error: "ERROR"}}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_ActionFailure(t *testing.T) {
	scenario := &Scenario{
		Name:        "reserve_fails",
		Description: "a failing action aborts the instance at start",
		Definitions: []string{orderDefinition(t)},
		Actions: map[string]ActionScript{
			"reserve": {Set: map[string]any{"attempted": true}, Fail: "out of stock"},
		},
		Steps: []Step{
			{Start: "order", As: "o", Vars: map[string]any{"orderId": "A-9"}, Expect: &Expect{Status: "aborted", Error: "HANDLER_FAILED"}},
		},
		Assertions: []Assertion{
			{Type: AssertStatus, Instance: "o", Status: "aborted"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, "start order as o -> instance 1 aborted error HANDLER_FAILED", result.Steps[0].Summary)

	in, ok := result.Instance(1)
	require.True(t, ok)
	assert.Equal(t, []string{"Start"}, enteredNodes(in), "the failed step is rolled back")
	require.Len(t, in.Variables, 1)
	assert.Equal(t, "orderId", in.Variables[0].VariableID)
}

func TestRun_Advance(t *testing.T) {
	scenario := &Scenario{
		Name:        "advance",
		Description: "advancing skips the pending event",
		Definitions: []string{orderDefinition(t)},
		Steps: []Step{
			{Start: "order", As: "o", Vars: map[string]any{"orderId": "A-3"}},
			{Advance: "o", Node: "cancel", Expect: &Expect{Status: "completed"}},
			{Signal: "paid#A-3", Expect: &Expect{Resumed: intPtr(0)}},
		},
		Assertions: []Assertion{
			{Type: AssertTrailOrder, Instance: "o", Nodes: []string{"reserve", "payment", "cancel", "done"}},
			{Type: AssertTrailContains, Instance: "o", Node: "payment", Log: "enter"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, "advance o from cancel -> instance 1 completed", result.Steps[1].Summary)
}

func TestRun_UnknownAlias(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad_alias",
		Description: "abort of an unknown alias",
		Definitions: []string{createTestDefinition(t, t.TempDir())},
		Steps:       []Step{{Abort: "ghost"}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown instance "ghost"`)
}

func TestRun_UnknownAdvanceNode(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad_node",
		Description: "advance to a node the process does not have",
		Definitions: []string{createTestDefinition(t, t.TempDir())},
		Steps: []Step{
			{Start: "wait", As: "w"},
			{Advance: "w", Node: "nowhere"},
		},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `has no node "nowhere"`)
}

func TestRun_BadDefinitions(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad_definitions",
		Description: "definitions that do not load",
		Definitions: []string{filepath.Join(t.TempDir(), "missing")},
		Steps:       []Step{{Start: "wait"}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load")
}

func TestRun_Deterministic(t *testing.T) {
	scenario := &Scenario{
		Name:        "twice",
		Description: "same scenario, same trail",
		Definitions: []string{orderDefinition(t)},
		Steps: []Step{
			{Start: "order", Vars: map[string]any{"orderId": "A-1"}},
			{Signal: "paid#A-1", Payload: map[string]any{"ok": true}},
		},
	}

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Instances, second.Instances, "dates and ids repeat across runs")
	assert.Equal(t, Render("twice", first), Render("twice", second))
}

func TestActionNames(t *testing.T) {
	result, err := Run(&Scenario{
		Name:        "names",
		Description: "unscripted actions are no-ops",
		Definitions: []string{orderDefinition(t)},
		Steps:       []Step{{Start: "order", As: "o", Vars: map[string]any{"orderId": "A-1"}}},
		Assertions:  []Assertion{{Type: AssertWaiting, Instance: "o", Event: "paid#A-1"}},
	})
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}
