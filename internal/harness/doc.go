// Package harness runs process scenarios against the engine.
//
// A scenario loads process definitions, drives instances through steps
// with scripted host actions, and asserts on the audit trail the engine
// wrote.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: order_paid
//	description: "A paid order is shipped"
//	definitions:
//	  - ../../testdata/processes/order.cue
//	correlation_mode: broadcast
//	actions:
//	  reserve:
//	    set: { reserved: true }
//	  refund:
//	    fail: "provider unavailable"
//	steps:
//	  - start: order
//	    as: o1
//	    vars: { orderId: A-1 }
//	    expect: { status: active }
//	  - signal: paid#A-1
//	    payload: { ok: true }
//	    expect: { resumed: 1 }
//	  - abort: o1
//	  - advance: o1
//	    node: payment
//	assertions:
//	  - type: status
//	    instance: o1
//	    status: completed
//	  - type: trail_order
//	    instance: o1
//	    nodes: [reserve, payment, ship, done]
//
// # Assertion Types
//
//   - status: the instance ended in (or is still in) a status
//   - trail_contains: a node was entered, or exited with log: exit
//   - trail_order: nodes were entered in order, gaps allowed
//   - visit_count: a node was entered exactly count times
//   - variable: the latest value of a variable, compared in canonical JSON
//   - waiting: the instance waits for an event key
//   - subprocess_count: the number of sub-processes the instance started
//
// # Deterministic Testing
//
// Each scenario runs in a fresh in-memory SQLite database with a
// testutil.DeterministicClock, so instance ids, node ids and the order of
// log records are identical across runs. Render produces a date-free
// snapshot for golden file comparison.
package harness
