// Package compiler turns CUE process definitions into node graphs.
//
// A definition lists named states under a process label:
//
//	process: order: {
//		name:    "Order fulfilment"
//		initial: "reserve"
//		states: {
//			reserve: {action: "reserve", next: "payment"}
//			payment: {
//				event: {ref: "paid", correlate: "orderId", output: "payment"}
//				next: [{to: "ship", when: "payment.ok"}, {to: "cancel"}]
//			}
//			ship: {
//				callback: {action: "requestShipment", event: {ref: "shipped", correlate: "orderId"}}
//				next: "done"
//			}
//			cancel: {action: "refund", next: "done"}
//			done: {end: true}
//		}
//	}
//
// Each state has exactly one kind: action, event, callback, composite or
// end. A composite carries its own initial and states.
package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/procflow/internal/graph"
)

// StateKind is the behavior a state compiles to.
type StateKind string

const (
	KindAction    StateKind = "action"
	KindEvent     StateKind = "event"
	KindCallback  StateKind = "callback"
	KindComposite StateKind = "composite"
	KindEnd       StateKind = "end"
)

// ProcessDef is a parsed, not yet validated process definition.
type ProcessDef struct {
	ID   string
	Name string
	Body Body
	Pos  token.Pos
}

// Body is the state set of a process or of one composite state.
type Body struct {
	Initial string
	States  []StateDef
}

// StateDef is one named state. Exactly one of the kind fields should be
// set; Validate reports anything else.
type StateDef struct {
	Name string

	Action    string
	Event     *graph.EventSpec
	Callback  *CallbackDef
	Composite *Body
	End       bool

	// Terminate applies to end states. Defaults to true.
	Terminate bool

	Next []Transition
	Pos  token.Pos
}

// CallbackDef fires an optional action, then waits for an event.
type CallbackDef struct {
	Action string
	Event  graph.EventSpec
}

// Transition is one outgoing edge of a state.
type Transition struct {
	To   string
	When string
}

// Kinds returns every kind the state declares, in a fixed order.
func (s StateDef) Kinds() []StateKind {
	var kinds []StateKind
	if s.Action != "" {
		kinds = append(kinds, KindAction)
	}
	if s.Event != nil {
		kinds = append(kinds, KindEvent)
	}
	if s.Callback != nil {
		kinds = append(kinds, KindCallback)
	}
	if s.Composite != nil {
		kinds = append(kinds, KindComposite)
	}
	if s.End {
		kinds = append(kinds, KindEnd)
	}
	return kinds
}

// Kind returns the declared kind, or "" unless exactly one is declared.
func (s StateDef) Kind() StateKind {
	kinds := s.Kinds()
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// State looks up a state of the body by name.
func (b Body) State(name string) (StateDef, bool) {
	for _, s := range b.States {
		if s.Name == name {
			return s, true
		}
	}
	return StateDef{}, false
}

// ParseProcess reads a process definition from a CUE value. The process id
// is the value's label unless an explicit id field is present.
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(src)
//	def, err := ParseProcess(v.LookupPath(cue.ParsePath("process.order")))
func ParseProcess(v cue.Value) (*ProcessDef, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := &ProcessDef{Pos: v.Pos()}
	if labels := v.Path().Selectors(); len(labels) > 0 {
		def.ID = unquoteLabel(labels[len(labels)-1].String())
	}

	id, err := optString(v, "id")
	if err != nil {
		return nil, err
	}
	if id != "" {
		def.ID = id
	}

	def.Name, err = optString(v, "name")
	if err != nil {
		return nil, err
	}
	if def.Name == "" {
		def.Name = def.ID
	}

	def.Body, err = parseBody(v)
	if err != nil {
		return nil, err
	}
	return def, nil
}

// parseBody reads initial and states from a process or composite value.
func parseBody(v cue.Value) (Body, error) {
	var body Body

	initial, err := optString(v, "initial")
	if err != nil {
		return body, err
	}
	body.Initial = initial

	statesVal := v.LookupPath(cue.ParsePath("states"))
	if !statesVal.Exists() {
		return body, &CompileError{
			Field:   "states",
			Message: "states is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := statesVal.Fields()
	if err != nil {
		return body, formatCUEError(err)
	}
	for iter.Next() {
		st, err := parseState(iter.Label(), iter.Value())
		if err != nil {
			return body, err
		}
		body.States = append(body.States, st)
	}
	return body, nil
}

func parseState(name string, v cue.Value) (StateDef, error) {
	st := StateDef{Name: name, Terminate: true, Pos: v.Pos()}

	var err error
	if st.Action, err = optString(v, "action"); err != nil {
		return st, err
	}

	if ev := v.LookupPath(cue.ParsePath("event")); ev.Exists() {
		spec, err := parseEventSpec(ev)
		if err != nil {
			return st, err
		}
		st.Event = &spec
	}

	if cb := v.LookupPath(cue.ParsePath("callback")); cb.Exists() {
		def := &CallbackDef{}
		if def.Action, err = optString(cb, "action"); err != nil {
			return st, err
		}
		ev := cb.LookupPath(cue.ParsePath("event"))
		if !ev.Exists() {
			return st, &CompileError{
				Field:   "callback.event",
				Message: "callback event is required",
				Pos:     cb.Pos(),
			}
		}
		if def.Event, err = parseEventSpec(ev); err != nil {
			return st, err
		}
		st.Callback = def
	}

	if comp := v.LookupPath(cue.ParsePath("composite")); comp.Exists() {
		body, err := parseBody(comp)
		if err != nil {
			return st, err
		}
		st.Composite = &body
	}

	if st.End, err = optBool(v, "end", false); err != nil {
		return st, err
	}
	if st.Terminate, err = optBool(v, "terminate", true); err != nil {
		return st, err
	}

	if st.Next, err = parseNext(v); err != nil {
		return st, err
	}
	return st, nil
}

// parseEventSpec accepts either a bare event reference or
// {ref, correlate, output}.
func parseEventSpec(v cue.Value) (graph.EventSpec, error) {
	var spec graph.EventSpec
	if v.Kind() == cue.StringKind {
		ref, err := v.String()
		if err != nil {
			return spec, formatCUEError(err)
		}
		spec.Ref = ref
		return spec, nil
	}

	var err error
	if spec.Ref, err = optString(v, "ref"); err != nil {
		return spec, err
	}
	if spec.CorrelationVar, err = optString(v, "correlate"); err != nil {
		return spec, err
	}
	if spec.OutputVar, err = optString(v, "output"); err != nil {
		return spec, err
	}
	return spec, nil
}

// parseNext accepts a state name, or a list whose items are state names
// or {to, when} structs.
func parseNext(v cue.Value) ([]Transition, error) {
	nv := v.LookupPath(cue.ParsePath("next"))
	if !nv.Exists() {
		return nil, nil
	}

	switch nv.Kind() {
	case cue.StringKind:
		to, err := nv.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return []Transition{{To: to}}, nil

	case cue.ListKind:
		iter, err := nv.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		var out []Transition
		for iter.Next() {
			item := iter.Value()
			if item.Kind() == cue.StringKind {
				to, err := item.String()
				if err != nil {
					return nil, formatCUEError(err)
				}
				out = append(out, Transition{To: to})
				continue
			}
			var t Transition
			if t.To, err = optString(item, "to"); err != nil {
				return nil, err
			}
			if t.When, err = optString(item, "when"); err != nil {
				return nil, err
			}
			out = append(out, t)
		}
		return out, nil
	}

	return nil, &CompileError{
		Field:   "next",
		Message: "must be a state name or a list of transitions",
		Pos:     nv.Pos(),
	}
}

func optString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", &CompileError{
			Field:   field,
			Message: "must be a string",
			Pos:     fv.Pos(),
		}
	}
	return s, nil
}

func optBool(v cue.Value, field string, def bool) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return def, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return def, &CompileError{
			Field:   field,
			Message: "must be a bool",
			Pos:     fv.Pos(),
		}
	}
	return b, nil
}

func unquoteLabel(s string) string {
	if strings.HasPrefix(s, `"`) {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
	}
	return s
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// First error with a position wins.
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
