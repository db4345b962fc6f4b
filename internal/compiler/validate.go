package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue/parser"
)

// Validation error codes (E120-E139)
const (
	// Process errors (E120-E129)
	ErrProcessIDEmpty = "E120" // process id is required
	ErrMissingInitial = "E121" // body has no initial state
	ErrNoEndState     = "E122" // body has no end state
	ErrReservedName   = "E123" // state name collides with a generated node

	// State errors (E130-E139)
	ErrStateKind        = "E130" // state must declare exactly one kind
	ErrUnknownState     = "E131" // initial or next refers to an undeclared state
	ErrMissingNext      = "E132" // non-end state has no transition
	ErrEndHasNext       = "E133" // end state declares transitions
	ErrEmptyRef         = "E134" // empty event reference
	ErrAmbiguousNext    = "E135" // more than one unconditioned transition
	ErrInvalidCondition = "E136" // when is not a valid expression
)

// StartNodeName is the name of the Start node generated for every body.
const StartNodeName = "Start"

// ValidationError represents a definition validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors is every problem found in one definition.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks a parsed definition. Returns all errors found (does not
// fail-fast).
func Validate(def *ProcessDef) []ValidationError {
	var errs []ValidationError

	// E120
	if strings.TrimSpace(def.ID) == "" {
		errs = append(errs, ValidationError{
			Field:   "id",
			Message: "process id is required",
			Code:    ErrProcessIDEmpty,
			Line:    def.Pos.Line(),
		})
	}

	return append(errs, validateBody(def.Body, "", def.Pos.Line())...)
}

// validateBody checks one container. prefix is the field path of the
// owning value ("" for the process itself).
func validateBody(body Body, prefix string, line int) []ValidationError {
	var errs []ValidationError

	// E121
	if body.Initial == "" {
		errs = append(errs, ValidationError{
			Field:   prefix + "initial",
			Message: "initial state is required",
			Code:    ErrMissingInitial,
			Line:    line,
		})
	} else if _, ok := body.State(body.Initial); !ok {
		errs = append(errs, ValidationError{
			Field:   prefix + "initial",
			Message: fmt.Sprintf("unknown state %q", body.Initial),
			Code:    ErrUnknownState,
			Line:    line,
		})
	}

	hasEnd := false
	for _, st := range body.States {
		path := prefix + "states." + st.Name
		stLine := st.Pos.Line()

		if st.Name == StartNodeName {
			errs = append(errs, ValidationError{
				Field:   path,
				Message: fmt.Sprintf("state name %q is reserved", StartNodeName),
				Code:    ErrReservedName,
				Line:    stLine,
			})
		}

		kinds := st.Kinds()
		switch {
		case len(kinds) == 0:
			errs = append(errs, ValidationError{
				Field:   path,
				Message: "state must declare one of action, event, callback, composite or end",
				Code:    ErrStateKind,
				Line:    stLine,
			})
		case len(kinds) > 1:
			errs = append(errs, ValidationError{
				Field:   path,
				Message: fmt.Sprintf("state declares several kinds: %v", kinds),
				Code:    ErrStateKind,
				Line:    stLine,
			})
		}

		errs = append(errs, validateRefs(st, path, stLine)...)

		if st.End {
			hasEnd = true
			if len(st.Next) > 0 {
				errs = append(errs, ValidationError{
					Field:   path + ".next",
					Message: "end state cannot have transitions",
					Code:    ErrEndHasNext,
					Line:    stLine,
				})
			}
		} else if len(st.Next) == 0 {
			errs = append(errs, ValidationError{
				Field:   path + ".next",
				Message: "state needs at least one transition",
				Code:    ErrMissingNext,
				Line:    stLine,
			})
		}

		errs = append(errs, validateNext(body, st, path, stLine)...)

		if st.Composite != nil {
			errs = append(errs, validateBody(*st.Composite, path+".composite.", stLine)...)
		}
	}

	// E122
	if !hasEnd && len(body.States) > 0 {
		errs = append(errs, ValidationError{
			Field:   prefix + "states",
			Message: "at least one end state is required",
			Code:    ErrNoEndState,
			Line:    line,
		})
	}

	return errs
}

// validateRefs checks event references (E134).
func validateRefs(st StateDef, path string, line int) []ValidationError {
	var errs []ValidationError
	empty := func(field string) {
		errs = append(errs, ValidationError{
			Field:   path + "." + field,
			Message: "event reference must be non-empty",
			Code:    ErrEmptyRef,
			Line:    line,
		})
	}

	if st.Event != nil && strings.TrimSpace(st.Event.Ref) == "" {
		empty("event.ref")
	}
	if st.Callback != nil && strings.TrimSpace(st.Callback.Event.Ref) == "" {
		empty("callback.event.ref")
	}
	return errs
}

// validateNext checks transition targets, branching and conditions.
func validateNext(body Body, st StateDef, path string, line int) []ValidationError {
	var errs []ValidationError
	unconditioned := 0

	for i, t := range st.Next {
		field := fmt.Sprintf("%s.next[%d]", path, i)

		// E131
		if _, ok := body.State(t.To); !ok {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("unknown state %q", t.To),
				Code:    ErrUnknownState,
				Line:    line,
			})
		}

		if t.When == "" {
			unconditioned++
			continue
		}

		// E136
		if _, err := parser.ParseExpr("when", t.When); err != nil {
			errs = append(errs, ValidationError{
				Field:   field + ".when",
				Message: fmt.Sprintf("invalid condition %q: %v", t.When, err),
				Code:    ErrInvalidCondition,
				Line:    line,
			})
		}
	}

	// E135
	if unconditioned > 1 {
		errs = append(errs, ValidationError{
			Field:   path + ".next",
			Message: fmt.Sprintf("%d unconditioned transitions, at most one allowed", unconditioned),
			Code:    ErrAmbiguousNext,
			Line:    line,
		})
	}
	return errs
}
