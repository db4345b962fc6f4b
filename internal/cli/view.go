package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/roach88/procflow/internal/engine"
	"github.com/roach88/procflow/internal/ir"
)

// InstanceView is the printed form of a process instance.
type InstanceView struct {
	ID        int64      `json:"process_instance_id"`
	ProcessID string     `json:"process_id"`
	Parent    *int64     `json:"parent_process_instance_id,omitempty"`
	Status    string     `json:"status"`
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`

	// Set only for instances returned by the engine.
	Variables map[string]string `json:"variables,omitempty"` // canonical JSON values
	Waiting   []string          `json:"waiting,omitempty"`   // event keys
}

func logView(p ir.ProcessInstanceLog) InstanceView {
	return InstanceView{
		ID:        p.ProcessInstanceID,
		ProcessID: p.ProcessID,
		Parent:    p.ParentProcessInstanceID,
		Status:    p.Status.String(),
		StartDate: p.StartDate,
		EndDate:   p.EndDate,
	}
}

func instanceView(inst *engine.Instance) (InstanceView, error) {
	v := logView(inst.ProcessInstanceLog)
	if len(inst.Variables) > 0 {
		v.Variables = make(map[string]string, len(inst.Variables))
		for _, name := range inst.Variables.SortedKeys() {
			s, err := ir.CanonicalString(inst.Variables[name])
			if err != nil {
				return InstanceView{}, fmt.Errorf("variable %s: %w", name, err)
			}
			v.Variables[name] = s
		}
	}
	for _, p := range inst.Waiting {
		v.Waiting = append(v.Waiting, p.Key().String())
	}
	return v, nil
}

func instanceViews(insts []*engine.Instance) ([]InstanceView, error) {
	views := make([]InstanceView, 0, len(insts))
	for _, inst := range insts {
		v, err := instanceView(inst)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// summary is the one-line form: "instance 3 order active (parent 1)".
func (v InstanceView) summary() string {
	s := fmt.Sprintf("instance %d %s %s", v.ID, v.ProcessID, v.Status)
	if v.Parent != nil {
		s += fmt.Sprintf(" (parent %d)", *v.Parent)
	}
	return s
}

func (v InstanceView) renderText(w io.Writer) {
	fmt.Fprintln(w, v.summary())
	fmt.Fprintf(w, "  started %s\n", v.StartDate.Format(time.RFC3339Nano))
	if v.EndDate != nil {
		fmt.Fprintf(w, "  ended   %s\n", v.EndDate.Format(time.RFC3339Nano))
	}
	for _, name := range slices.Sorted(maps.Keys(v.Variables)) {
		fmt.Fprintf(w, "  var %s = %s\n", name, v.Variables[name])
	}
	for _, key := range v.Waiting {
		fmt.Fprintf(w, "  waiting %s\n", key)
	}
}

