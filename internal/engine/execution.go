package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/roach88/procflow/internal/graph"
	"github.com/roach88/procflow/internal/ir"
	"github.com/roach88/procflow/internal/store"
)

// Execution is one instance being advanced. Handlers and actions use it to
// read and set variables and to resolve transitions. Writes go to the unit
// of work of the current step.
type Execution struct {
	engine *Engine
	store  *store.Store
	graph  *graph.Graph
	log    ir.ProcessInstanceLog
	vars   ir.Object

	// claimed is set once a resume step consuming a callback committed.
	claimed bool
}

// InstanceID returns the process instance id.
func (x *Execution) InstanceID() int64 {
	return x.log.ProcessInstanceID
}

// ProcessID returns the process the instance runs.
func (x *Execution) ProcessID() string {
	return x.log.ProcessID
}

// Graph returns the instance's process graph.
func (x *Execution) Graph() *graph.Graph {
	return x.graph
}

// Get returns the current value of a variable.
func (x *Execution) Get(name string) (ir.Value, bool) {
	v, ok := x.vars[name]
	return v, ok
}

// Variables returns a copy of the current variables.
func (x *Execution) Variables() ir.Object {
	return x.vars.Clone()
}

// Set assigns a variable and records the change in the variable log.
func (x *Execution) Set(ctx context.Context, name string, v ir.Value) error {
	value, err := ir.CanonicalString(v)
	if err != nil {
		return fmt.Errorf("set %q: %w", name, err)
	}
	_, err = x.store.AppendVariableInstance(ctx, ir.VariableInstanceLog{
		ProcessInstanceID: x.InstanceID(),
		VariableID:        name,
		Value:             value,
		Date:              x.engine.now(),
	})
	if err != nil {
		return fmt.Errorf("set %q: %w", name, err)
	}
	x.vars[name] = v
	return nil
}

// Transition picks the connection to take out of n: the first conditioned
// connection whose condition holds, in declaration order, else the single
// unconditioned connection.
func (x *Execution) Transition(ctx context.Context, n graph.Node) (graph.Node, error) {
	var fallback *graph.Connection
	for _, c := range x.graph.Outgoing(n.ID) {
		if !c.Conditioned() {
			if fallback == nil {
				fallback = &c
			}
			continue
		}
		ok, err := x.engine.evaluator.Evaluate(ctx, c.Condition, x.vars)
		if err != nil {
			return graph.Node{}, fmt.Errorf("node %d: %w", n.ID, err)
		}
		if ok {
			return x.target(c)
		}
	}
	if fallback != nil {
		return x.target(*fallback)
	}
	return graph.Node{}, graph.NewGraphError(graph.ErrCodeNoTransition, x.ProcessID(), n.ID,
		"no outgoing connection of %q can be taken", n.Name)
}

// Follow resolves the transition out of n and continues there.
func (x *Execution) Follow(ctx context.Context, n graph.Node) (Next, error) {
	target, err := x.Transition(ctx, n)
	if err != nil {
		return Next{}, err
	}
	return Continue(target), nil
}

func (x *Execution) target(c graph.Connection) (graph.Node, error) {
	n, ok := x.graph.Node(c.To)
	if !ok {
		return graph.Node{}, fmt.Errorf("connection %d -> %d: %w", c.From, c.To, ErrUnknownNode)
	}
	return n, nil
}

// EventKey returns the key an Event node waits for. A node with a
// correlation variable is scoped by that variable's value: strings are
// used as they are, other values in canonical JSON.
func (x *Execution) EventKey(n graph.Node) (ir.EventKey, error) {
	key := ir.EventKey{Ref: n.Event.Ref}
	name := n.Event.CorrelationVar
	if name == "" {
		return key, nil
	}
	v, ok := x.vars[name]
	if !ok {
		return ir.EventKey{}, fmt.Errorf("event %q: correlation variable %q is not set", n.Event.Ref, name)
	}
	if s, ok := v.(ir.String); ok {
		key.Scope = string(s)
		return key, nil
	}
	scope, err := ir.CanonicalString(v)
	if err != nil {
		return ir.EventKey{}, fmt.Errorf("event %q: %w", n.Event.Ref, err)
	}
	key.Scope = scope
	return key, nil
}

// StartSubProcess starts an instance of processID whose parent is this
// instance. It runs inside the current unit of work, so the child is
// rolled back with the parent's step.
func (x *Execution) StartSubProcess(ctx context.Context, processID string, vars ir.Object) (*Instance, error) {
	return x.engine.startProcess(ctx, x.store, processID, vars, startConfig{parent: ptr(x.InstanceID())})
}

// logNode appends an Enter or Exit entry for n.
func (x *Execution) logNode(ctx context.Context, n graph.Node, typ ir.LogType) error {
	_, err := x.store.AppendNodeInstance(ctx, ir.NodeInstanceLog{
		ProcessInstanceID: x.InstanceID(),
		NodeID:            strconv.FormatInt(n.ID, 10),
		NodeName:          n.Name,
		NodeType:          n.Type.String(),
		Type:              typ,
		Date:              x.engine.now(),
	})
	return err
}

func ptr[T any](v T) *T {
	return &v
}
