// Package graph defines the immutable node graph of a process definition.
//
// A Graph is an arena: every node of the definition, including the nodes
// inside composite bodies, lives in one flat table keyed by a globally
// unique int64 id. Composite bodies are containers inside the same arena,
// so a node id alone locates the node, its container, and the composite
// that owns the container. Traversal is read-only and safe for concurrent
// use once Build has returned.
//
// Graphs are produced by Builder, which validates the structure at build
// time:
//   - every non-Start node has at least one incoming connection
//   - every non-End node has at least one outgoing connection
//   - connections never cross container boundaries
//   - each container has exactly one Start and an End reachable from it
//   - a node has at most one unconditioned outgoing connection
//
// Violations are reported as *GraphError and are never retried.
package graph
