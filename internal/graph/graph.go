package graph

import "slices"

// Graph is an immutable, validated process definition.
// Safe for concurrent read-only use.
type Graph struct {
	processID  string
	name       string
	nodes      []Node
	index      map[int64]int
	containers []Container
	out        map[int64][]Connection
	in         map[int64][]Connection
}

// ProcessID returns the process identifier the graph defines.
func (g *Graph) ProcessID() string {
	return g.processID
}

// Name returns the human-readable process name.
func (g *Graph) Name() string {
	return g.name
}

// Node looks up a node by id.
func (g *Graph) Node(id int64) (Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return g.nodes[i], true
}

// Start returns the Start node of the root container.
func (g *Graph) Start() Node {
	n, _ := g.Node(g.containers[rootContainer].Start)
	return n
}

// Nodes returns every node in declaration order.
func (g *Graph) Nodes() []Node {
	return slices.Clone(g.nodes)
}

// Container returns the container at index i.
func (g *Graph) Container(i int) Container {
	c := g.containers[i]
	c.Nodes = slices.Clone(c.Nodes)
	return c
}

// ContainerCount returns the number of containers, root included.
func (g *Graph) ContainerCount() int {
	return len(g.containers)
}

// Owner returns the composite node owning the container of n.
// ok is false when n lives in the root container.
func (g *Graph) Owner(n Node) (Node, bool) {
	c := g.containers[n.Container]
	if c.IsRoot() {
		return Node{}, false
	}
	return g.Node(c.Owner)
}

// Outgoing returns the outgoing connections of a node in declaration order.
func (g *Graph) Outgoing(id int64) []Connection {
	return slices.Clone(g.out[id])
}

// Incoming returns the incoming connections of a node.
func (g *Graph) Incoming(id int64) []Connection {
	return slices.Clone(g.in[id])
}

// EventRefs returns the distinct event references the graph waits on.
func (g *Graph) EventRefs() []string {
	var refs []string
	for _, n := range g.nodes {
		if n.Type == NodeEvent && !slices.Contains(refs, n.Event.Ref) {
			refs = append(refs, n.Event.Ref)
		}
	}
	return refs
}
