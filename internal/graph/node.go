package graph

import "fmt"

// NodeType tags the behavior of a node.
type NodeType int

const (
	// NodeStart is the entry point of a container.
	NodeStart NodeType = iota + 1
	// NodeAction fires a named action and continues.
	NodeAction
	// NodeEvent suspends the instance until a correlated event arrives.
	NodeEvent
	// NodeComposite runs an embedded body to completion, then continues.
	NodeComposite
	// NodeEnd finishes its container.
	NodeEnd
)

var nodeTypeNames = map[NodeType]string{
	NodeStart:     "start",
	NodeAction:    "action",
	NodeEvent:     "event",
	NodeComposite: "composite",
	NodeEnd:       "end",
}

// String returns the lowercase type name.
func (t NodeType) String() string {
	if name, ok := nodeTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("nodetype(%d)", int(t))
}

// ParseNodeType is the inverse of NodeType.String.
func ParseNodeType(s string) (NodeType, error) {
	for t, name := range nodeTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown node type %q", s)
}

// rootContainer is the index of the top-level container.
const rootContainer = 0

// Node is one step of a process graph.
//
// Only the fields relevant to Type are meaningful.
type Node struct {
	ID   int64
	Type NodeType
	Name string

	// Container is the index of the container the node belongs to.
	Container int

	// Action is the action name fired by an Action node.
	Action string

	// Event wait configuration of an Event node.
	Event EventSpec

	// Terminate on an End node ends its container. Inside a composite body
	// that finishes only the embedded sub-process, never the parent.
	Terminate bool

	// Body is the container index of a Composite node's embedded graph.
	Body int
}

// EventSpec configures an Event node.
type EventSpec struct {
	// Ref is the event reference the node waits for.
	Ref string

	// CorrelationVar names the instance variable whose value scopes the
	// wait. Empty means the node accepts any delivery of Ref.
	CorrelationVar string

	// OutputVar names the variable that receives the event payload.
	OutputVar string
}

// Connection is a directed edge between two nodes of the same container.
type Connection struct {
	From int64
	To   int64

	// Condition is evaluated by the rule evaluator when the source node has
	// several outgoing connections. Empty means unconditioned.
	Condition string
}

// Conditioned reports whether the connection carries a condition.
func (c Connection) Conditioned() bool {
	return c.Condition != ""
}

// Container is the node set of the root graph or of one composite body.
type Container struct {
	Index int

	// Owner is the id of the composite node owning this body, or 0 for the
	// root container.
	Owner int64

	// Start is the id of the container's Start node.
	Start int64

	// Nodes lists node ids in declaration order.
	Nodes []int64
}

// IsRoot reports whether the container is the top-level graph.
func (c Container) IsRoot() bool {
	return c.Index == rootContainer
}
