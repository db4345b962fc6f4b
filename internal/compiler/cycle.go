package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/procflow/internal/graph"
)

// Cycle levels.
const (
	LevelWarning = "warning"
	LevelInfo    = "info"
)

// CycleWarning represents a loop in a process graph.
//
// Loops are legal: retries and review rounds are modeled that way. A loop
// with no waiting node in it runs until a condition breaks it or the step
// quota aborts the instance, so it is reported at warning level. Loops
// that wait for an event are reported as info.
type CycleWarning struct {
	ProcessID string   `json:"process_id"`
	Path      []string `json:"path"` // node names: ["a", "b", "a"]
	Message   string   `json:"message"`
	Level     string   `json:"level"`
}

// AnalyzeCycles finds the loops of every container of g.
//
// The algorithm:
//  1. Build the node -> successor graph from the connections
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or a self-loop
//
// Nodes are visited in declaration order so the result is deterministic.
// An acyclic graph returns an empty list.
func AnalyzeCycles(g *graph.Graph) []CycleWarning {
	deps := buildDependencyGraph(g)
	order := make([]int64, 0, len(deps))
	for _, n := range g.Nodes() {
		order = append(order, n.ID)
	}

	warnings := []CycleWarning{}
	for _, scc := range tarjanSCC(order, deps) {
		if len(scc) > 1 || hasSelfLoop(scc[0], deps) {
			warnings = append(warnings, cycleSCCToWarning(g, scc, deps))
		}
	}
	return warnings
}

// dependencyGraph maps node id -> successor ids.
type dependencyGraph map[int64][]int64

func buildDependencyGraph(g *graph.Graph) dependencyGraph {
	deps := make(dependencyGraph)
	for _, n := range g.Nodes() {
		deps[n.ID] = []int64{}
		for _, c := range g.Outgoing(n.ID) {
			deps[n.ID] = append(deps[n.ID], c.To)
		}
	}
	return deps
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node int64, deps dependencyGraph) bool {
	for _, neighbor := range deps[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(order []int64, deps dependencyGraph) [][]int64 {
	var (
		index   = 0
		stack   []int64
		indices = make(map[int64]int)
		lowlink = make(map[int64]int)
		onStack = make(map[int64]bool)
		sccs    [][]int64
	)

	var strongConnect func(int64)
	strongConnect = func(v int64) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range deps[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root: pop its component.
		if lowlink[v] == indices[v] {
			var scc []int64
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning with a readable path.
func cycleSCCToWarning(g *graph.Graph, scc []int64, deps dependencyGraph) CycleWarning {
	var ids []int64
	if len(scc) == 1 {
		ids = []int64{scc[0], scc[0]}
	} else {
		ids = reconstructCyclePath(earliest(g, scc), scc, deps)
	}

	path := make([]string, len(ids))
	for i, id := range ids {
		n, _ := g.Node(id)
		path[i] = n.Name
	}

	level, kind := LevelWarning, "loop without a wait state"
	for _, id := range scc {
		if waits(g, id) {
			level, kind = LevelInfo, "loop"
			break
		}
	}

	return CycleWarning{
		ProcessID: g.ProcessID(),
		Path:      path,
		Message:   fmt.Sprintf("%s: %s", kind, strings.Join(path, " → ")),
		Level:     level,
	}
}

// earliest returns the SCC member declared first, so paths start at the
// same node on every run.
func earliest(g *graph.Graph, scc []int64) []int64 {
	members := make(map[int64]bool, len(scc))
	for _, id := range scc {
		members[id] = true
	}
	ordered := make([]int64, 0, len(scc))
	for _, n := range g.Nodes() {
		if members[n.ID] {
			ordered = append(ordered, n.ID)
		}
	}
	return ordered
}

// reconstructCyclePath follows edges between SCC members from the first
// member until it returns to it.
func reconstructCyclePath(ordered, scc []int64, deps dependencyGraph) []int64 {
	if len(ordered) == 0 {
		return []int64{}
	}

	sccSet := make(map[int64]bool, len(scc))
	for _, node := range scc {
		sccSet[node] = true
	}

	start := ordered[0]
	current := start
	path := []int64{current}
	visited := make(map[int64]bool)

	for {
		visited[current] = true

		var next int64
		found := false
		for _, neighbor := range deps[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next, found = neighbor, true
				break
			}
		}
		if !found {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}

// waits reports whether visiting the node can suspend the instance: an
// Event node, or a composite whose body contains one.
func waits(g *graph.Graph, id int64) bool {
	n, ok := g.Node(id)
	if !ok {
		return false
	}
	switch n.Type {
	case graph.NodeEvent:
		return true
	case graph.NodeComposite:
		for _, child := range g.Container(n.Body).Nodes {
			if waits(g, child) {
				return true
			}
		}
	}
	return false
}
