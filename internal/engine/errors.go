package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/procflow/internal/graph"
)

var (
	// ErrInstanceNotFound is returned when no process instance has the id.
	ErrInstanceNotFound = errors.New("process instance not found")

	// ErrUnknownProcess is returned when no graph is registered for a
	// process id.
	ErrUnknownProcess = errors.New("unknown process")

	// ErrInstanceNotActive is returned by Advance on a completed or
	// aborted instance.
	ErrInstanceNotActive = errors.New("process instance is not active")

	// ErrUnknownNode is returned when a node id is not part of the
	// instance's graph.
	ErrUnknownNode = errors.New("unknown node")

	// ErrUnknownAction is returned by the action handler when no action is
	// registered under the node's action name.
	ErrUnknownAction = errors.New("unknown action")
)

// RuntimeErrorCode categorizes handler failures.
type RuntimeErrorCode string

const (
	// ErrCodeHandlerFailed: a node handler or action returned an error.
	ErrCodeHandlerFailed RuntimeErrorCode = "HANDLER_FAILED"

	// ErrCodeMissingAction: an Action node names an unregistered action.
	ErrCodeMissingAction RuntimeErrorCode = "MISSING_ACTION"

	// ErrCodeNoTransition: no outgoing connection of a node could be taken.
	ErrCodeNoTransition RuntimeErrorCode = "NO_TRANSITION"

	// ErrCodeQuotaExceeded: one traversal visited more nodes than allowed.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"
)

// HandlerError reports a failure while handling a node. The instance it
// names has been aborted.
type HandlerError struct {
	Code       RuntimeErrorCode
	ProcessID  string
	InstanceID int64
	NodeID     int64
	NodeName   string
	Err        error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: node %q (%d) of instance %d (process=%s): %v",
		e.Code, e.NodeName, e.NodeID, e.InstanceID, e.ProcessID, e.Err)
}

// Unwrap returns the handler's error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// newHandlerError wraps err for node n of x, deriving the code from err.
func newHandlerError(x *Execution, n graph.Node, err error) *HandlerError {
	code := ErrCodeHandlerFailed
	var steps *StepsExceededError
	switch {
	case errors.As(err, &steps):
		code = ErrCodeQuotaExceeded
	case errors.Is(err, ErrUnknownAction):
		code = ErrCodeMissingAction
	case graph.GraphErrorCodeOf(err) == graph.ErrCodeNoTransition:
		code = ErrCodeNoTransition
	}
	return &HandlerError{
		Code:       code,
		ProcessID:  x.ProcessID(),
		InstanceID: x.InstanceID(),
		NodeID:     n.ID,
		NodeName:   n.Name,
		Err:        err,
	}
}

// IsHandlerError reports whether err wraps a HandlerError.
// Uses errors.As to handle wrapped errors.
func IsHandlerError(err error) bool {
	var he *HandlerError
	return errors.As(err, &he)
}

// HandlerErrorCode returns the code of a wrapped HandlerError, or "".
func HandlerErrorCode(err error) RuntimeErrorCode {
	var he *HandlerError
	if errors.As(err, &he) {
		return he.Code
	}
	return ""
}

// IsQuotaError reports whether err is a quota exceeded failure.
func IsQuotaError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
