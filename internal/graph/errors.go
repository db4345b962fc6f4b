package graph

import (
	"errors"
	"fmt"
)

// GraphErrorCode categorizes structural errors.
type GraphErrorCode string

const (
	// ErrCodeDanglingConnection: a connection endpoint does not exist or
	// lives in a different container.
	ErrCodeDanglingConnection GraphErrorCode = "DANGLING_CONNECTION"

	// ErrCodeDuplicateNode: two nodes share an id.
	ErrCodeDuplicateNode GraphErrorCode = "DUPLICATE_NODE"

	// ErrCodeMissingStart: a container has no Start node.
	ErrCodeMissingStart GraphErrorCode = "MISSING_START"

	// ErrCodeMissingEnd: a container has no End node.
	ErrCodeMissingEnd GraphErrorCode = "MISSING_END"

	// ErrCodeEndUnreachable: no End node is reachable from the Start node.
	ErrCodeEndUnreachable GraphErrorCode = "END_UNREACHABLE"

	// ErrCodeNoIncoming: a non-Start node has no incoming connection.
	ErrCodeNoIncoming GraphErrorCode = "NO_INCOMING"

	// ErrCodeNoOutgoing: a non-End node has no outgoing connection.
	ErrCodeNoOutgoing GraphErrorCode = "NO_OUTGOING"

	// ErrCodeAmbiguousBranch: a node has more than one unconditioned
	// outgoing connection.
	ErrCodeAmbiguousBranch GraphErrorCode = "AMBIGUOUS_BRANCH"

	// ErrCodeInvalidNode: a node is missing type-specific metadata.
	ErrCodeInvalidNode GraphErrorCode = "INVALID_NODE"

	// ErrCodeNoTransition: at run time no outgoing connection of a node
	// matched. Reported by the engine, not by Build.
	ErrCodeNoTransition GraphErrorCode = "NO_TRANSITION"
)

// GraphError reports a malformed node graph.
type GraphError struct {
	Code      GraphErrorCode
	Message   string
	ProcessID string
	NodeID    int64
}

// Error implements the error interface.
func (e *GraphError) Error() string {
	if e.NodeID != 0 {
		return fmt.Sprintf("%s: %s (process=%s, node=%d)", e.Code, e.Message, e.ProcessID, e.NodeID)
	}
	return fmt.Sprintf("%s: %s (process=%s)", e.Code, e.Message, e.ProcessID)
}

// NewGraphError creates a GraphError.
func NewGraphError(code GraphErrorCode, processID string, nodeID int64, format string, args ...any) *GraphError {
	return &GraphError{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		ProcessID: processID,
		NodeID:    nodeID,
	}
}

// IsGraphError reports whether err wraps a GraphError.
func IsGraphError(err error) bool {
	var ge *GraphError
	return errors.As(err, &ge)
}

// GraphErrorCodeOf returns the code of a wrapped GraphError, or "".
func GraphErrorCodeOf(err error) GraphErrorCode {
	var ge *GraphError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}
