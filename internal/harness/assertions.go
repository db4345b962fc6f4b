package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/procflow/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string         // Assertion type for categorization
	Expected string         // Human-readable expected outcome
	Actual   string         // Human-readable actual outcome
	Trail    *InstanceTrail // Trail of the asserted instance, if it exists
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if e.Trail != nil {
		fmt.Fprintf(&buf, "\nTrail of instance %d:\n", e.Trail.ID)
		for _, n := range e.Trail.Nodes {
			fmt.Fprintf(&buf, "  %s\n", nodeLine(n))
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against the result and returns
// one message per failure. Instances are named by alias or numeric id.
func EvaluateAssertions(result *Result, assertions []Assertion, aliases map[string]int64) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, aliases); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, aliases map[string]int64) error {
	id, err := resolveInstance(aliases, a.Instance)
	if err != nil {
		return err
	}
	trail, ok := result.Instance(id)
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("instance %s", a.Instance),
			Actual:   "no such instance",
		}
	}

	switch a.Type {
	case AssertStatus:
		return assertStatus(trail, a)
	case AssertTrailContains:
		return assertTrailContains(trail, a)
	case AssertTrailOrder:
		return assertTrailOrder(trail, a)
	case AssertVisitCount:
		return assertVisitCount(trail, a)
	case AssertVariable:
		return assertVariable(trail, a)
	case AssertWaiting:
		return assertWaiting(trail, a)
	case AssertSubProcessCount:
		return assertSubProcessCount(result, trail, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertStatus(trail *InstanceTrail, a Assertion) error {
	if trail.Status.String() == a.Status {
		return nil
	}
	return &AssertionError{
		Type:     AssertStatus,
		Expected: a.Status,
		Actual:   trail.Status.String(),
		Trail:    trail,
	}
}

// assertTrailContains checks that the node was entered, or exited when
// Log is "exit".
func assertTrailContains(trail *InstanceTrail, a Assertion) error {
	for _, n := range trail.Nodes {
		if n.NodeName == a.Node && (a.Log == "" || n.Type.String() == a.Log) {
			return nil
		}
	}
	what := "any entry"
	if a.Log != "" {
		what = a.Log
	}
	return &AssertionError{
		Type:     AssertTrailContains,
		Expected: fmt.Sprintf("%s of node %s", what, a.Node),
		Actual:   "not found in trail",
		Trail:    trail,
	}
}

// assertTrailOrder checks that the nodes were entered in the given order.
// Other nodes may be entered in between.
func assertTrailOrder(trail *InstanceTrail, a Assertion) error {
	entered := enteredNodes(trail)
	next := 0
	for _, name := range entered {
		if next < len(a.Nodes) && name == a.Nodes[next] {
			next++
		}
	}
	if next == len(a.Nodes) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTrailOrder,
		Expected: fmt.Sprintf("nodes entered in order: %s", strings.Join(a.Nodes, ", ")),
		Actual:   fmt.Sprintf("%s not entered after %s; entered: %s", a.Nodes[next], previous(a.Nodes, next), strings.Join(entered, ", ")),
		Trail:    trail,
	}
}

func previous(nodes []string, i int) string {
	if i == 0 {
		return "start"
	}
	return nodes[i-1]
}

func assertVisitCount(trail *InstanceTrail, a Assertion) error {
	count := 0
	for _, name := range enteredNodes(trail) {
		if name == a.Node {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertVisitCount,
		Expected: fmt.Sprintf("node %s entered %d times", a.Node, a.Count),
		Actual:   fmt.Sprintf("entered %d times", count),
		Trail:    trail,
	}
}

// assertVariable compares the latest value of a variable in canonical
// form.
func assertVariable(trail *InstanceTrail, a Assertion) error {
	v, err := ir.FromGo(a.Value)
	if err != nil {
		return fmt.Errorf("value: %w", err)
	}
	want, err := ir.CanonicalString(v)
	if err != nil {
		return fmt.Errorf("value: %w", err)
	}

	got, ok := latestValue(trail, a.Variable)
	if ok && got == want {
		return nil
	}
	if !ok {
		got = "not set"
	}
	return &AssertionError{
		Type:     AssertVariable,
		Expected: fmt.Sprintf("%s = %s", a.Variable, want),
		Actual:   got,
		Trail:    trail,
	}
}

func assertWaiting(trail *InstanceTrail, a Assertion) error {
	var keys []string
	for _, p := range trail.Waiting {
		if p.Key().String() == a.Event {
			return nil
		}
		keys = append(keys, p.Key().String())
	}
	actual := "not waiting"
	if len(keys) > 0 {
		actual = "waiting for " + strings.Join(keys, ", ")
	}
	return &AssertionError{
		Type:     AssertWaiting,
		Expected: "waiting for " + a.Event,
		Actual:   actual,
		Trail:    trail,
	}
}

func assertSubProcessCount(result *Result, trail *InstanceTrail, a Assertion) error {
	n := len(result.Children(trail.ID))
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertSubProcessCount,
		Expected: fmt.Sprintf("%d sub-processes", a.Count),
		Actual:   fmt.Sprintf("%d sub-processes", n),
		Trail:    trail,
	}
}

// enteredNodes lists the names of entered nodes in trail order.
func enteredNodes(trail *InstanceTrail) []string {
	var names []string
	for _, n := range trail.Nodes {
		if n.Type == ir.LogEnter {
			names = append(names, n.NodeName)
		}
	}
	return names
}

func latestValue(trail *InstanceTrail, name string) (string, bool) {
	for i := len(trail.Variables) - 1; i >= 0; i-- {
		if trail.Variables[i].VariableID == name {
			return trail.Variables[i].Value, true
		}
	}
	return "", false
}
