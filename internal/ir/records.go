package ir

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle status of a process instance.
type Status int

const (
	// StatusActive: the instance is running or suspended at an event node.
	StatusActive Status = iota + 1
	// StatusCompleted: the instance reached its End node.
	StatusCompleted
	// StatusAborted: the instance was aborted or a node handler failed.
	StatusAborted
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusAborted:
		return "aborted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// LogType distinguishes node entry from node exit.
type LogType int

const (
	// LogEnter is written when the engine enters a node.
	LogEnter LogType = iota
	// LogExit is written when the engine leaves a node.
	LogExit
)

// String returns "enter" or "exit".
func (t LogType) String() string {
	if t == LogExit {
		return "exit"
	}
	return "enter"
}

// ProcessInstanceLog is the audit record for one process instance.
// EndDate is nil while the instance is active.
type ProcessInstanceLog struct {
	ProcessInstanceID       int64      `json:"process_instance_id"`
	ProcessID               string     `json:"process_id"`
	ParentProcessInstanceID *int64     `json:"parent_process_instance_id,omitempty"`
	StartDate               time.Time  `json:"start_date"`
	EndDate                 *time.Time `json:"end_date,omitempty"`
	Status                  Status     `json:"status"`
}

// Active reports whether the instance has not ended.
func (p ProcessInstanceLog) Active() bool {
	return p.EndDate == nil
}

// NodeInstanceLog records the engine entering or leaving a node.
type NodeInstanceLog struct {
	ID                int64     `json:"id"`
	ProcessInstanceID int64     `json:"process_instance_id"`
	NodeID            string    `json:"node_id"`
	NodeName          string    `json:"node_name"`
	NodeType          string    `json:"node_type"`
	Type              LogType   `json:"type"`
	Date              time.Time `json:"date"`
}

// VariableInstanceLog records one observed variable mutation.
// Value holds the canonical JSON serialization of the new value.
type VariableInstanceLog struct {
	ID                int64     `json:"id"`
	ProcessInstanceID int64     `json:"process_instance_id"`
	VariableID        string    `json:"variable_id"`
	Value             string    `json:"value"`
	Date              time.Time `json:"date"`
}

// PendingCallback marks an instance suspended at an event node.
type PendingCallback struct {
	ID         int64     `json:"id"`
	InstanceID int64     `json:"instance_id"`
	NodeID     int64     `json:"node_id"`
	EventRef   string    `json:"event_ref"`
	Scope      string    `json:"scope,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Key returns the correlation key the callback waits for.
func (p PendingCallback) Key() EventKey {
	return EventKey{Ref: p.EventRef, Scope: p.Scope}
}

// EventKey is a correlation key: an event reference, optionally narrowed
// to one instance-scoped value.
type EventKey struct {
	Ref   string
	Scope string
}

// eventKeySeparator separates the event reference from its scope.
const eventKeySeparator = "#"

// ParseEventKey splits "ref" or "ref#scope" into an EventKey.
func ParseEventKey(s string) (EventKey, error) {
	ref, scope, _ := strings.Cut(s, eventKeySeparator)
	if ref == "" {
		return EventKey{}, fmt.Errorf("event key %q: empty event reference", s)
	}
	return EventKey{Ref: ref, Scope: scope}, nil
}

// String renders the key in "ref" or "ref#scope" form.
func (k EventKey) String() string {
	if k.Scope == "" {
		return k.Ref
	}
	return k.Ref + eventKeySeparator + k.Scope
}

// Scoped reports whether the key is narrowed to a scope value.
func (k EventKey) Scoped() bool {
	return k.Scope != ""
}
