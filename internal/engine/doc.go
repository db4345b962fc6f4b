// Package engine runs process instances over a graph.Graph.
//
// The engine keeps no live per-instance state. Every operation loads the
// instance from the audit log store, advances it, and writes what happened
// back as process, node and variable log entries. Variables are rebuilt
// from the latest VariableInstanceLog of each variable, so an engine can be
// restarted (or run in several processes) at any point.
//
// TRAVERSAL:
//
// Each node visit is one step and each step is one unit of work: the Enter
// entry, the handler's effects, the Exit entry and the transition decision
// commit together. A handler error rolls back only the current step; the
// instance is then marked Aborted in a fresh unit of work and a
// *HandlerError is returned. Steps committed earlier stay in the log.
//
// SUSPENSION:
//
// An Event node registers a pending callback in the same unit of work that
// suspends the instance, so a delivery either sees the callback or happens
// before the instance waits. DeliverEvent claims callbacks with an atomic
// delete; only one delivery resumes a given wait.
//
// Operations on one instance are serialized by a lock.Guard keyed by the
// instance id. The lock is always taken before a unit of work begins.
package engine
