package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/procflow/internal/ir"
)

// Render writes a date-free text snapshot of a scenario run: the step
// summaries followed by the node and variable log of every instance.
//
//	scenario: order_paid
//	step 1: start order as o1 -> instance 1 active
//
//	instance 1 (o1) order active
//	  enter 1 Start (start)
//	  exit 1 Start (start)
//	  set orderId = "A-1"
//	  waiting paid#A-1
func Render(scenarioName string, result *Result) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "scenario: %s\n", scenarioName)
	for i, s := range result.Steps {
		fmt.Fprintf(&buf, "step %d: %s\n", i+1, s.Summary)
	}

	for _, in := range result.Instances {
		fmt.Fprintf(&buf, "\ninstance %d", in.ID)
		if in.Alias != "" {
			fmt.Fprintf(&buf, " (%s)", in.Alias)
		}
		fmt.Fprintf(&buf, " %s %s", in.ProcessID, in.Status)
		if in.Parent != nil {
			fmt.Fprintf(&buf, " parent %d", *in.Parent)
		}
		buf.WriteByte('\n')

		for _, n := range in.Nodes {
			fmt.Fprintf(&buf, "  %s\n", nodeLine(n))
		}
		for _, v := range in.Variables {
			fmt.Fprintf(&buf, "  set %s = %s\n", v.VariableID, v.Value)
		}
		for _, p := range in.Waiting {
			fmt.Fprintf(&buf, "  waiting %s\n", p.Key())
		}
	}
	return buf.Bytes()
}

func nodeLine(n ir.NodeInstanceLog) string {
	return fmt.Sprintf("%s %s %s (%s)", n.Type, n.NodeID, n.NodeName, n.NodeType)
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file. The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can check Pass, or an error if the
// scenario could not be executed.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares the snapshot of an existing result against the
// golden file named scenarioName.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, Render(scenarioName, result))
}
