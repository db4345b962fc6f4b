package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/procflow/internal/engine"
	"github.com/roach88/procflow/internal/ir"
)

// Scenario defines a process execution test.
// A scenario loads process definitions, drives instances through a list of
// steps and asserts on the resulting audit trail.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Definitions lists CUE files or directories holding process
	// definitions. Paths are relative to the scenario file location.
	Definitions []string `yaml:"definitions"`

	// CorrelationMode is "broadcast" (default) or "exclusive".
	CorrelationMode string `yaml:"correlation_mode,omitempty"`

	// Actions scripts the host actions by action name. Actions referenced
	// by a definition but not scripted here do nothing and succeed.
	Actions map[string]ActionScript `yaml:"actions,omitempty"`

	// Steps drive the engine, in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final audit trail.
	Assertions []Assertion `yaml:"assertions"`
}

// ActionScript is the behavior of a mocked host action.
// Set is applied first, then Start, then Fail.
type ActionScript struct {
	// Set assigns instance variables.
	Set map[string]any `yaml:"set,omitempty"`

	// Start launches a sub-process of the running instance.
	Start *SubProcess `yaml:"start,omitempty"`

	// Fail makes the action return an error with this message.
	Fail string `yaml:"fail,omitempty"`
}

// SubProcess describes a child instance started by an action.
type SubProcess struct {
	Process string         `yaml:"process"`
	Vars    map[string]any `yaml:"vars,omitempty"`

	// Copy lists parent variables passed to the child under the same name.
	Copy []string `yaml:"copy,omitempty"`
}

// Step is one engine operation. Exactly one of Start, Signal, Abort and
// Advance is set.
type Step struct {
	// Start is the process id of a new instance.
	Start string `yaml:"start,omitempty"`
	// As names the started instance for later steps and assertions.
	As   string         `yaml:"as,omitempty"`
	Vars map[string]any `yaml:"vars,omitempty"`

	// Signal is an event key ("ref" or "ref#scope") to deliver.
	Signal  string `yaml:"signal,omitempty"`
	Payload any    `yaml:"payload,omitempty"`

	// Abort is the instance to abort.
	Abort string `yaml:"abort,omitempty"`

	// Advance is the instance to advance from the node named Node.
	Advance string `yaml:"advance,omitempty"`
	Node    string `yaml:"node,omitempty"`

	// Expect checks the outcome of this step. If nil, the step must not
	// fail.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Step kinds.
const (
	StepStart   = "start"
	StepSignal  = "signal"
	StepAbort   = "abort"
	StepAdvance = "advance"
)

// Kind returns the kind of the step, or "" when none or several are set.
func (s Step) Kind() string {
	var kinds []string
	if s.Start != "" {
		kinds = append(kinds, StepStart)
	}
	if s.Signal != "" {
		kinds = append(kinds, StepSignal)
	}
	if s.Abort != "" {
		kinds = append(kinds, StepAbort)
	}
	if s.Advance != "" {
		kinds = append(kinds, StepAdvance)
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// Expect specifies the expected outcome of a step.
type Expect struct {
	// Status is the instance status after the step (start, abort, advance).
	Status string `yaml:"status,omitempty"`

	// Resumed is the number of instances a signal resumed.
	Resumed *int `yaml:"resumed,omitempty"`

	// Error is the expected error code, e.g. HANDLER_FAILED. Errors that
	// are not handler failures have the code ERROR.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the final audit trail.
type Assertion struct {
	// Type specifies the assertion type:
	// - "status": Instance has Status
	// - "trail_contains": Instance entered (or exited, with Log) Node
	// - "trail_order": Instance entered Nodes in this order
	// - "visit_count": Instance entered Node exactly Count times
	// - "variable": latest value of Variable equals Value
	// - "waiting": Instance waits for Event
	// - "subprocess_count": Instance started Count sub-processes
	Type string `yaml:"type"`

	// Instance is an alias from a start step or a numeric instance id.
	Instance string `yaml:"instance"`

	Status   string   `yaml:"status,omitempty"`
	Node     string   `yaml:"node,omitempty"`
	Log      string   `yaml:"log,omitempty"`
	Nodes    []string `yaml:"nodes,omitempty"`
	Count    int      `yaml:"count,omitempty"`
	Variable string   `yaml:"variable,omitempty"`
	Value    any      `yaml:"value,omitempty"`
	Event    string   `yaml:"event,omitempty"`
}

// Assertion type constants.
const (
	AssertStatus          = "status"
	AssertTrailContains   = "trail_contains"
	AssertTrailOrder      = "trail_order"
	AssertVisitCount      = "visit_count"
	AssertVariable        = "variable"
	AssertWaiting         = "waiting"
	AssertSubProcessCount = "subprocess_count"
)

// LoadScenario reads and parses a scenario YAML file, resolving definition
// paths relative to the file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving definition paths relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	for i, def := range scenario.Definitions {
		if !filepath.IsAbs(def) && basePath != "" {
			scenario.Definitions[i] = filepath.Join(basePath, def)
		}
	}

	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return scenario, nil
}

// ParseScenario decodes scenario YAML without validating it.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Definitions) == 0 {
		return fmt.Errorf("definitions list is required and must be non-empty")
	}

	for _, def := range s.Definitions {
		if _, err := os.Stat(def); os.IsNotExist(err) {
			return fmt.Errorf("definition not found: %s", def)
		}
	}

	if _, err := engine.ParseCorrelationMode(s.CorrelationMode); err != nil {
		return fmt.Errorf("correlation_mode: %w", err)
	}

	for name, script := range s.Actions {
		if script.Start != nil && script.Start.Process == "" {
			return fmt.Errorf("actions.%s.start: process is required", name)
		}
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	aliases := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, step, aliases); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(i int, step Step, aliases map[string]bool) error {
	kind := step.Kind()
	if kind == "" {
		return fmt.Errorf("steps[%d]: exactly one of start, signal, abort or advance is required", i)
	}
	if step.As != "" {
		if kind != StepStart {
			return fmt.Errorf("steps[%d]: as is only allowed on start", i)
		}
		if aliases[step.As] {
			return fmt.Errorf("steps[%d]: alias %q is already used", i, step.As)
		}
		aliases[step.As] = true
	}
	if kind == StepAdvance && step.Node == "" {
		return fmt.Errorf("steps[%d]: node is required for advance", i)
	}
	if step.Node != "" && kind != StepAdvance {
		return fmt.Errorf("steps[%d]: node is only allowed on advance", i)
	}
	if step.Payload != nil && kind != StepSignal {
		return fmt.Errorf("steps[%d]: payload is only allowed on signal", i)
	}
	if step.Vars != nil && kind != StepStart {
		return fmt.Errorf("steps[%d]: vars is only allowed on start", i)
	}

	if e := step.Expect; e != nil {
		if e.Resumed != nil && kind != StepSignal {
			return fmt.Errorf("steps[%d].expect: resumed is only allowed on signal", i)
		}
		if e.Status != "" {
			if kind == StepSignal {
				return fmt.Errorf("steps[%d].expect: status is not allowed on signal", i)
			}
			if _, err := parseStatus(e.Status); err != nil {
				return fmt.Errorf("steps[%d].expect: %w", i, err)
			}
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Instance == "" {
		return fmt.Errorf("assertions[%d]: instance is required", index)
	}

	switch a.Type {
	case AssertStatus:
		if _, err := parseStatus(a.Status); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertTrailContains:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for trail_contains", index)
		}
		if a.Log != "" && a.Log != ir.LogEnter.String() && a.Log != ir.LogExit.String() {
			return fmt.Errorf("assertions[%d]: log must be enter or exit, got %q", index, a.Log)
		}
	case AssertTrailOrder:
		if len(a.Nodes) == 0 {
			return fmt.Errorf("assertions[%d]: nodes list is required for trail_order", index)
		}
	case AssertVisitCount:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for visit_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for visit_count", index)
		}
	case AssertVariable:
		if a.Variable == "" {
			return fmt.Errorf("assertions[%d]: variable is required for variable", index)
		}
	case AssertWaiting:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for waiting", index)
		}
	case AssertSubProcessCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for subprocess_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

// parseStatus is the inverse of ir.Status.String.
func parseStatus(s string) (ir.Status, error) {
	for _, st := range []ir.Status{ir.StatusActive, ir.StatusCompleted, ir.StatusAborted} {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", s)
}
