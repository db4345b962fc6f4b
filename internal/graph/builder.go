package graph

import "fmt"

// draft is the mutable state shared by a root Builder and the builders of
// its composite bodies.
type draft struct {
	processID  string
	name       string
	gen        *IDGenerator
	nodes      []Node
	index      map[int64]int
	containers []Container
	conns      []Connection
	errs       []error
	built      bool
}

// Builder assembles a Graph. The builder returned by NewBuilder writes to
// the root container; Composite returns builders for embedded bodies that
// share the same draft and id generator.
//
// Builders are not safe for concurrent use.
type Builder struct {
	d         *draft
	container int
}

// NewBuilder starts a graph for processID. A nil gen uses a fresh
// IDGenerator.
func NewBuilder(processID string, gen *IDGenerator) *Builder {
	if gen == nil {
		gen = NewIDGenerator()
	}
	d := &draft{
		processID:  processID,
		name:       processID,
		gen:        gen,
		index:      make(map[int64]int),
		containers: []Container{{Index: rootContainer}},
	}
	return &Builder{d: d, container: rootContainer}
}

// Name sets the human-readable process name.
func (b *Builder) Name(name string) *Builder {
	b.d.name = name
	return b
}

// Start adds a Start node.
func (b *Builder) Start(name string) int64 {
	return b.AddNode(Node{Type: NodeStart, Name: name})
}

// Action adds an Action node firing the named action.
func (b *Builder) Action(name, action string) int64 {
	return b.AddNode(Node{Type: NodeAction, Name: name, Action: action})
}

// Event adds an Event node.
func (b *Builder) Event(name string, ev EventSpec) int64 {
	return b.AddNode(Node{Type: NodeEvent, Name: name, Event: ev})
}

// End adds an End node.
func (b *Builder) End(name string, terminate bool) int64 {
	return b.AddNode(Node{Type: NodeEnd, Name: name, Terminate: terminate})
}

// Composite adds a Composite node and returns its id together with a
// builder for its embedded body.
func (b *Builder) Composite(name string) (int64, *Builder) {
	body := len(b.d.containers)
	id := b.AddNode(Node{Type: NodeComposite, Name: name, Body: body})
	b.d.containers = append(b.d.containers, Container{Index: body, Owner: id})
	return id, &Builder{d: b.d, container: body}
}

// AddNode adds a node to this builder's container. A zero ID is assigned
// from the generator; an explicit ID is kept and the generator is advanced
// past it. Duplicate ids are reported by Build.
func (b *Builder) AddNode(n Node) int64 {
	if n.ID == 0 {
		n.ID = b.d.gen.Next()
	} else {
		b.d.gen.observe(n.ID)
	}
	if _, dup := b.d.index[n.ID]; dup {
		b.d.errs = append(b.d.errs, NewGraphError(ErrCodeDuplicateNode, b.d.processID, n.ID,
			"node id %d declared twice", n.ID))
		return n.ID
	}
	if n.Type != NodeComposite {
		n.Body = -1
	}
	n.Container = b.container
	b.d.index[n.ID] = len(b.d.nodes)
	b.d.nodes = append(b.d.nodes, n)

	c := &b.d.containers[b.container]
	c.Nodes = append(c.Nodes, n.ID)
	if n.Type == NodeStart && c.Start == 0 {
		c.Start = n.ID
	}
	return n.ID
}

// Connect adds an unconditioned connection.
func (b *Builder) Connect(from, to int64) *Builder {
	return b.ConnectWhen(from, to, "")
}

// ConnectWhen adds a connection taken when condition evaluates to true.
func (b *Builder) ConnectWhen(from, to int64, condition string) *Builder {
	b.d.conns = append(b.d.conns, Connection{From: from, To: to, Condition: condition})
	return b
}

// Build validates the whole definition (root and all bodies) and returns
// the immutable Graph. A builder can be built once.
func (b *Builder) Build() (*Graph, error) {
	d := b.d
	if d.built {
		return nil, fmt.Errorf("build %s: graph already built", d.processID)
	}
	if len(d.errs) > 0 {
		return nil, d.errs[0]
	}

	g := &Graph{
		processID:  d.processID,
		name:       d.name,
		nodes:      d.nodes,
		index:      d.index,
		containers: d.containers,
		out:        make(map[int64][]Connection),
		in:         make(map[int64][]Connection),
	}
	for _, c := range d.conns {
		g.out[c.From] = append(g.out[c.From], c)
		g.in[c.To] = append(g.in[c.To], c)
	}

	if err := validate(g, d.conns); err != nil {
		return nil, err
	}
	d.built = true
	return g, nil
}
