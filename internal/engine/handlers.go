package engine

import (
	"context"
	"fmt"

	"github.com/roach88/procflow/internal/graph"
	"github.com/roach88/procflow/internal/ir"
)

// NextKind says what the engine does after a handler returns.
type NextKind int

const (
	// KindContinue moves to the target node.
	KindContinue NextKind = iota + 1
	// KindSuspend parks the instance until an event with the key arrives.
	KindSuspend
	// KindTerminate finishes the node's container.
	KindTerminate
)

// Next is a handler's decision.
type Next struct {
	Kind   NextKind
	Target graph.Node
	Key    ir.EventKey
}

// Continue moves the instance to target. A target inside the body of the
// current node keeps the current node entered until the body finishes.
func Continue(target graph.Node) Next {
	return Next{Kind: KindContinue, Target: target}
}

// Suspend parks the instance until an event matching key is delivered.
func Suspend(key ir.EventKey) Next {
	return Next{Kind: KindSuspend, Key: key}
}

// Terminate finishes the container of the current node.
func Terminate() Next {
	return Next{Kind: KindTerminate}
}

// Handler implements the behavior of one node type.
type Handler interface {
	Enter(ctx context.Context, x *Execution, n graph.Node) (Next, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, x *Execution, n graph.Node) (Next, error)

// Enter calls f.
func (f HandlerFunc) Enter(ctx context.Context, x *Execution, n graph.Node) (Next, error) {
	return f(ctx, x, n)
}

// Resumer is implemented by handlers of nodes that suspend. Resume runs
// when a delivered event wakes the instance at n. Handlers without Resume
// store nothing and follow n's outgoing connections.
type Resumer interface {
	Resume(ctx context.Context, x *Execution, n graph.Node, payload ir.Value) (Next, error)
}

// ActionFunc is the body of an Action node.
type ActionFunc func(ctx context.Context, ac *ActionContext) error

// ActionContext is what an action sees: the running execution and the
// node that fired it.
type ActionContext struct {
	*Execution
	Node graph.Node
}

func defaultHandlers() map[graph.NodeType]Handler {
	return map[graph.NodeType]Handler{
		graph.NodeStart:     HandlerFunc(followHandler),
		graph.NodeAction:    HandlerFunc(actionHandler),
		graph.NodeEvent:     eventHandler{},
		graph.NodeComposite: HandlerFunc(compositeHandler),
		graph.NodeEnd:       HandlerFunc(endHandler),
	}
}

func followHandler(ctx context.Context, x *Execution, n graph.Node) (Next, error) {
	return x.Follow(ctx, n)
}

func actionHandler(ctx context.Context, x *Execution, n graph.Node) (Next, error) {
	fn, ok := x.engine.actions[n.Action]
	if !ok {
		return Next{}, fmt.Errorf("action %q: %w", n.Action, ErrUnknownAction)
	}
	if err := fn(ctx, &ActionContext{Execution: x, Node: n}); err != nil {
		return Next{}, fmt.Errorf("action %q: %w", n.Action, err)
	}
	return x.Follow(ctx, n)
}

func compositeHandler(ctx context.Context, x *Execution, n graph.Node) (Next, error) {
	body := x.graph.Container(n.Body)
	start, ok := x.graph.Node(body.Start)
	if !ok {
		return Next{}, fmt.Errorf("composite %d: body has no start node", n.ID)
	}
	return Continue(start), nil
}

func endHandler(context.Context, *Execution, graph.Node) (Next, error) {
	return Terminate(), nil
}

// eventHandler suspends on Enter and stores the payload on Resume.
type eventHandler struct{}

func (eventHandler) Enter(ctx context.Context, x *Execution, n graph.Node) (Next, error) {
	key, err := x.EventKey(n)
	if err != nil {
		return Next{}, err
	}
	return Suspend(key), nil
}

func (eventHandler) Resume(ctx context.Context, x *Execution, n graph.Node, payload ir.Value) (Next, error) {
	if out := n.Event.OutputVar; out != "" {
		if payload == nil {
			payload = ir.Null{}
		}
		if err := x.Set(ctx, out, payload); err != nil {
			return Next{}, err
		}
	}
	return x.Follow(ctx, n)
}
