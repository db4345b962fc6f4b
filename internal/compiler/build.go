package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/procflow/internal/graph"
)

// CompileProcess parses, validates and builds one process definition.
// Validation problems are returned together as ValidationErrors.
func CompileProcess(v cue.Value) (*graph.Graph, error) {
	def, err := ParseProcess(v)
	if err != nil {
		return nil, err
	}
	if errs := Validate(def); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return Build(def)
}

// CompileProcesses compiles every definition under the top-level process
// field of v, in declaration order.
func CompileProcesses(v cue.Value) ([]*graph.Graph, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	procs := v.LookupPath(cue.ParsePath("process"))
	if !procs.Exists() {
		return nil, &CompileError{
			Field:   "process",
			Message: "no process definitions found",
			Pos:     v.Pos(),
		}
	}

	iter, err := procs.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var graphs []*graph.Graph
	for iter.Next() {
		g, err := CompileProcess(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("process %s: %w", iter.Label(), err)
		}
		graphs = append(graphs, g)
	}
	return graphs, nil
}

// Build turns a validated definition into a graph. Node ids follow
// declaration order, so rebuilding the same definition yields the same ids.
func Build(def *ProcessDef) (*graph.Graph, error) {
	b := graph.NewBuilder(def.ID, nil).Name(def.Name)
	if err := buildBody(b, def.Body, "states"); err != nil {
		return nil, err
	}
	return b.Build()
}

// buildBody adds a Start node, one node per state and the transitions
// between them to the builder's container.
func buildBody(b *graph.Builder, body Body, path string) error {
	start := b.Start(StartNodeName)

	ids := make(map[string]int64, len(body.States))
	for _, st := range body.States {
		id, err := addState(b, st, path+"."+st.Name)
		if err != nil {
			return err
		}
		ids[st.Name] = id
	}

	initial, ok := ids[body.Initial]
	if !ok {
		return &CompileError{Field: path, Message: fmt.Sprintf("unknown initial state %q", body.Initial)}
	}
	b.Connect(start, initial)

	for _, st := range body.States {
		for _, t := range st.Next {
			to, ok := ids[t.To]
			if !ok {
				return &CompileError{
					Field:   path + "." + st.Name + ".next",
					Message: fmt.Sprintf("unknown state %q", t.To),
					Pos:     st.Pos,
				}
			}
			b.ConnectWhen(ids[st.Name], to, t.When)
		}
	}
	return nil
}

func addState(b *graph.Builder, st StateDef, path string) (int64, error) {
	switch st.Kind() {
	case KindAction:
		return b.Action(st.Name, st.Action), nil
	case KindEvent:
		return b.Event(st.Name, *st.Event), nil
	case KindCallback:
		return graph.CallbackState(b, st.Name, st.Callback.Action, st.Callback.Event), nil
	case KindComposite:
		id, body := b.Composite(st.Name)
		if err := buildBody(body, *st.Composite, path+".composite.states"); err != nil {
			return 0, err
		}
		return id, nil
	case KindEnd:
		return b.End(st.Name, st.Terminate), nil
	}
	return 0, &CompileError{
		Field:   path,
		Message: fmt.Sprintf("state must declare exactly one kind, got %v", st.Kinds()),
		Pos:     st.Pos,
	}
}
