package engine

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/procflow/internal/graph"
	"github.com/roach88/procflow/internal/ir"
	"github.com/roach88/procflow/internal/store"
	"github.com/roach88/procflow/internal/testutil"
)

func setupTestStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEngine(t *testing.T, s *store.Store, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithNow(testutil.NewDeterministicClock().Now)}, opts...)
	e, err := New(context.Background(), s, opts...)
	require.NoError(t, err)
	return e
}

// buildWaitGraph builds Start -> Event(ref) -> End.
func buildWaitGraph(t *testing.T, processID string, ev graph.EventSpec) *graph.Graph {
	t.Helper()
	b := graph.NewBuilder(processID, nil)
	start := b.Start("Start")
	wait := b.Event("Wait", ev)
	end := b.End("End", true)
	b.Connect(start, wait).Connect(wait, end)
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

// buildActionGraph builds Start -> Action(action) -> End.
func buildActionGraph(t *testing.T, processID, action string) *graph.Graph {
	t.Helper()
	b := graph.NewBuilder(processID, nil)
	start := b.Start("Start")
	act := b.Action("Act", action)
	end := b.End("End", true)
	b.Connect(start, act).Connect(act, end)
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

// nodeByName finds a node of g by name.
func nodeByName(t *testing.T, g *graph.Graph, name string) graph.Node {
	t.Helper()
	for _, n := range g.Nodes() {
		if n.Name == name {
			return n
		}
	}
	t.Fatalf("no node named %q", name)
	return graph.Node{}
}

// trail renders the node log of an instance as "name:enter" entries.
func trail(t *testing.T, s *store.Store, instanceID int64) []string {
	t.Helper()
	logs, err := s.FindNodeInstances(context.Background(), instanceID)
	require.NoError(t, err)
	out := make([]string, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.NodeName+":"+l.Type.String())
	}
	return out
}

func nodeID(n graph.Node) string {
	return strconv.FormatInt(n.ID, 10)
}

func incrementAction(name string) ActionFunc {
	return func(ctx context.Context, ac *ActionContext) error {
		var n ir.Int
		if v, ok := ac.Get(name); ok {
			n, _ = v.(ir.Int)
		}
		return ac.Set(ctx, name, n+1)
	}
}
