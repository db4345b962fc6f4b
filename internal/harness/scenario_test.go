package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defSrc = `package flows

process: wait: {
	initial: "hold"
	states: {
		hold: {event: {ref: "go", output: "input"}, next: "done"}
		done: {end: true}
	}
}
`

// createTestDefinition writes a small process definition into dir.
func createTestDefinition(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "flows.cue")
	require.NoError(t, os.WriteFile(path, []byte(defSrc), 0o644))
	return path
}

func writeScenario(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	createTestDefinition(t, dir)

	path := writeScenario(t, dir, `
name: test_scenario
description: "Test scenario for validation"
definitions:
  - flows.cue
actions:
  notify:
    set: { sent: true }
steps:
  - start: wait
    as: w
    vars: { customer: c-1 }
  - signal: go
    payload: { n: 3 }
    expect: { resumed: 1 }
assertions:
  - type: status
    instance: w
    status: completed
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, []string{filepath.Join(dir, "flows.cue")}, scenario.Definitions,
		"definitions resolve relative to the scenario file")
	require.Len(t, scenario.Steps, 2)
	assert.Equal(t, StepStart, scenario.Steps[0].Kind())
	assert.Equal(t, "c-1", scenario.Steps[0].Vars["customer"])
	assert.Equal(t, StepSignal, scenario.Steps[1].Kind())
	assert.Equal(t, map[string]any{"n": 3}, scenario.Steps[1].Payload)
	require.NotNil(t, scenario.Steps[1].Expect.Resumed)
	assert.Equal(t, 1, *scenario.Steps[1].Expect.Resumed)
	assert.Equal(t, map[string]any{"sent": true}, scenario.Actions["notify"].Set)
}

func TestLoadScenarioWithBasePath(t *testing.T) {
	defDir := t.TempDir()
	createTestDefinition(t, defDir)

	path := writeScenario(t, t.TempDir(), `
name: based
description: "definitions resolve against the base path"
definitions: [flows.cue]
steps:
  - start: wait
`)

	scenario, err := LoadScenarioWithBasePath(path, defDir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(defDir, "flows.cue")}, scenario.Definitions)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	dir := t.TempDir()
	createTestDefinition(t, dir)

	path := writeScenario(t, dir, `
name: typo
description: "misspelled key"
definitions: [flows.cue]
steps:
  - start: wait
assertion:
  - type: status
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_MissingDefinition(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, `
name: missing_def
description: "definition file does not exist"
definitions: [nowhere.cue]
steps:
  - start: wait
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "definition not found")
}

func TestValidateScenario(t *testing.T) {
	dir := t.TempDir()
	def := createTestDefinition(t, dir)

	valid := func() *Scenario {
		return &Scenario{
			Name:        "v",
			Description: "valid",
			Definitions: []string{def},
			Steps:       []Step{{Start: "wait", As: "w"}},
		}
	}
	one := 1

	tests := []struct {
		name   string
		mutate func(*Scenario)
		want   string
	}{
		{"no name", func(s *Scenario) { s.Name = "" }, "name is required"},
		{"no description", func(s *Scenario) { s.Description = "" }, "description is required"},
		{"no definitions", func(s *Scenario) { s.Definitions = nil }, "definitions list is required"},
		{"bad mode", func(s *Scenario) { s.CorrelationMode = "fanout" }, "correlation_mode"},
		{"no steps", func(s *Scenario) { s.Steps = nil }, "steps list is required"},
		{"empty step", func(s *Scenario) { s.Steps = []Step{{}} }, "steps[0]: exactly one of"},
		{"two kinds", func(s *Scenario) { s.Steps = []Step{{Start: "wait", Signal: "go"}} }, "exactly one of"},
		{"alias on signal", func(s *Scenario) { s.Steps = []Step{{Signal: "go", As: "x"}} }, "as is only allowed on start"},
		{"duplicate alias", func(s *Scenario) { s.Steps = append(s.Steps, Step{Start: "wait", As: "w"}) }, "already used"},
		{"advance without node", func(s *Scenario) { s.Steps = []Step{{Advance: "w"}} }, "node is required"},
		{"payload on start", func(s *Scenario) { s.Steps = []Step{{Start: "wait", Payload: "x"}} }, "payload is only allowed"},
		{"resumed on start", func(s *Scenario) { s.Steps[0].Expect = &Expect{Resumed: &one} }, "resumed is only allowed"},
		{"bad expect status", func(s *Scenario) { s.Steps[0].Expect = &Expect{Status: "done"} }, `unknown status "done"`},
		{"start without process", func(s *Scenario) {
			s.Actions = map[string]ActionScript{"spawn": {Start: &SubProcess{}}}
		}, "actions.spawn.start"},
		{"assertion without instance", func(s *Scenario) {
			s.Assertions = []Assertion{{Type: AssertStatus, Status: "active"}}
		}, "instance is required"},
		{"unknown assertion", func(s *Scenario) {
			s.Assertions = []Assertion{{Type: "trace_count", Instance: "w"}}
		}, `unknown assertion type "trace_count"`},
		{"bad log", func(s *Scenario) {
			s.Assertions = []Assertion{{Type: AssertTrailContains, Instance: "w", Node: "hold", Log: "leave"}}
		}, "log must be enter or exit"},
		{"order without nodes", func(s *Scenario) {
			s.Assertions = []Assertion{{Type: AssertTrailOrder, Instance: "w"}}
		}, "nodes list is required"},
		{"waiting without event", func(s *Scenario) {
			s.Assertions = []Assertion{{Type: AssertWaiting, Instance: "w"}}
		}, "event is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := validateScenario(s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	require.NoError(t, validateScenario(valid()))
}

func TestStepKind(t *testing.T) {
	assert.Equal(t, StepStart, Step{Start: "p"}.Kind())
	assert.Equal(t, StepSignal, Step{Signal: "e"}.Kind())
	assert.Equal(t, StepAbort, Step{Abort: "x"}.Kind())
	assert.Equal(t, StepAdvance, Step{Advance: "x", Node: "n"}.Kind())
	assert.Equal(t, "", Step{}.Kind())
	assert.Equal(t, "", Step{Start: "p", Abort: "x"}.Kind())
}
