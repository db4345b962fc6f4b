package harness

import "github.com/roach88/procflow/internal/ir"

// StepResult summarizes one executed step.
type StepResult struct {
	// Summary is a one-line, date-free description of the outcome, e.g.
	// "start order as o1 -> instance 1 active".
	Summary string `json:"summary"`
}

// InstanceTrail is the final audit trail of one process instance.
type InstanceTrail struct {
	ID        int64     `json:"id"`
	Alias     string    `json:"alias,omitempty"`
	ProcessID string    `json:"process_id"`
	Parent    *int64    `json:"parent,omitempty"`
	Status    ir.Status `json:"status"`

	Nodes     []ir.NodeInstanceLog     `json:"nodes"`
	Variables []ir.VariableInstanceLog `json:"variables"`
	Waiting   []ir.PendingCallback     `json:"waiting"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expect clauses and assertions match.
	Pass bool `json:"pass"`

	// Steps holds one entry per executed step.
	Steps []StepResult `json:"steps"`

	// Instances holds the audit trail of every instance, ordered by id.
	Instances []InstanceTrail `json:"instances"`

	// Counters holds the engine's counters at the end of the run, keyed
	// name{label="value",...}.
	Counters map[string]float64 `json:"counters"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Steps:     []StepResult{},
		Instances: []InstanceTrail{},
		Counters:  map[string]float64{},
		Errors:    []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Instance returns the trail of instance id.
func (r *Result) Instance(id int64) (*InstanceTrail, bool) {
	for i := range r.Instances {
		if r.Instances[i].ID == id {
			return &r.Instances[i], true
		}
	}
	return nil, false
}

// Children returns the trails whose parent is id.
func (r *Result) Children(id int64) []InstanceTrail {
	var out []InstanceTrail
	for _, in := range r.Instances {
		if in.Parent != nil && *in.Parent == id {
			out = append(out, in)
		}
	}
	return out
}
