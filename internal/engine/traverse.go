package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/procflow/internal/graph"
	"github.com/roach88/procflow/internal/ir"
	"github.com/roach88/procflow/internal/store"
)

// errNotClaimed ends a resume whose callback another delivery took first.
var errNotClaimed = errors.New("pending callback already claimed")

// step is one node visit.
type step struct {
	node graph.Node

	// resume wakes the node with payload instead of entering it.
	resume  bool
	payload ir.Value

	// claim is the pending callback consumed by the step, or 0.
	claim int64

	// release drops the instance's pending callbacks before the visit.
	release bool
}

// traverse runs steps from s until the instance suspends or ends. Every
// step commits in its own unit of work on base.
func (e *Engine) traverse(ctx context.Context, base *store.Store, x *Execution, s step) error {
	quota := NewQuotaEnforcer(e.maxSteps)
	for {
		if err := quota.Check(x.InstanceID()); err != nil {
			return e.fail(ctx, base, x, newHandlerError(x, s.node, err))
		}

		var next *step
		err := e.unit(ctx, base, func(view *store.Store) error {
			x.store = view
			var err error
			next, err = e.step(ctx, x, s)
			return err
		})
		var he *HandlerError
		if errors.As(err, &he) {
			return e.fail(ctx, base, x, he)
		}
		if err != nil {
			return err
		}
		if s.claim != 0 {
			x.claimed = true
		}

		if next == nil {
			if x.log.Status == ir.StatusCompleted {
				e.metrics.completed(x.ProcessID())
				e.logger.Info("instance completed",
					"process_id", x.ProcessID(),
					"process_instance_id", x.InstanceID(),
					"steps", quota.Current(),
				)
			}
			return nil
		}
		s = *next
	}
}

// step visits one node inside the current unit of work and returns the
// next visit, or nil when the instance suspended or ended.
func (e *Engine) step(ctx context.Context, x *Execution, s step) (*step, error) {
	n := s.node
	if s.claim != 0 {
		ok, err := e.correlator.Claim(ctx, x.store, s.claim)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errNotClaimed
		}
	}
	if s.release {
		if _, err := x.store.DeletePendingCallbacks(ctx, x.InstanceID()); err != nil {
			return nil, err
		}
	}

	h, ok := e.handlers[n.Type]
	if !ok {
		return nil, newHandlerError(x, n, fmt.Errorf("no handler for node type %s", n.Type))
	}

	var next Next
	var err error
	if s.resume {
		e.logger.Debug("resuming node",
			"process_instance_id", x.InstanceID(),
			"node_id", n.ID,
		)
		if r, ok := h.(Resumer); ok {
			next, err = r.Resume(ctx, x, n, s.payload)
		} else {
			next, err = x.Follow(ctx, n)
		}
	} else {
		if err := x.logNode(ctx, n, ir.LogEnter); err != nil {
			return nil, err
		}
		e.metrics.visited(n.Type)
		e.logger.Debug("entering node",
			"process_instance_id", x.InstanceID(),
			"node_id", n.ID,
			"node_type", n.Type.String(),
		)
		next, err = h.Enter(ctx, x, n)
	}
	if err != nil {
		return nil, newHandlerError(x, n, err)
	}
	return e.apply(ctx, x, n, next)
}

// apply carries out a handler's decision for n.
func (e *Engine) apply(ctx context.Context, x *Execution, n graph.Node, next Next) (*step, error) {
	switch next.Kind {
	case KindContinue:
		// Descending into a composite body keeps the composite entered.
		if next.Target.Container == n.Container {
			if err := x.logNode(ctx, n, ir.LogExit); err != nil {
				return nil, err
			}
		}
		return &step{node: next.Target}, nil

	case KindSuspend:
		_, err := e.correlator.Register(ctx, x.store, ir.PendingCallback{
			InstanceID: x.InstanceID(),
			NodeID:     n.ID,
			EventRef:   next.Key.Ref,
			Scope:      next.Key.Scope,
			CreatedAt:  e.now(),
		})
		if err != nil {
			return nil, err
		}
		e.logger.Debug("instance suspended",
			"process_instance_id", x.InstanceID(),
			"node_id", n.ID,
			"event_key", next.Key.String(),
		)
		return nil, nil

	case KindTerminate:
		if err := x.logNode(ctx, n, ir.LogExit); err != nil {
			return nil, err
		}
		owner, ok := x.graph.Owner(n)
		if !ok {
			return nil, e.finish(ctx, x)
		}
		// The body finished: the composite completes on its own.
		if err := x.logNode(ctx, owner, ir.LogExit); err != nil {
			return nil, err
		}
		after, err := x.Follow(ctx, owner)
		if err != nil {
			return nil, newHandlerError(x, owner, err)
		}
		return &step{node: after.Target}, nil

	default:
		return nil, newHandlerError(x, n, fmt.Errorf("invalid next kind %d", next.Kind))
	}
}

// finish completes the instance.
func (e *Engine) finish(ctx context.Context, x *Execution) error {
	end := e.now()
	log := x.log
	log.EndDate = &end
	log.Status = ir.StatusCompleted
	if _, err := x.store.WriteProcessInstance(ctx, log); err != nil {
		return err
	}
	x.log = log
	return nil
}

// fail aborts the instance of a failed step and its active sub-process
// instances in a fresh unit of work and returns he.
func (e *Engine) fail(ctx context.Context, base *store.Store, x *Execution, he *HandlerError) error {
	e.logger.Error("node handler failed",
		"process_id", he.ProcessID,
		"process_instance_id", he.InstanceID,
		"node_id", he.NodeID,
		"code", string(he.Code),
		"error", he.Err,
	)

	var aborted []ir.ProcessInstanceLog
	err := e.unit(ctx, base, func(view *store.Store) error {
		var err error
		aborted, err = e.abortTree(ctx, view, x.InstanceID())
		return err
	})
	if err != nil {
		return errors.Join(he, fmt.Errorf("abort instance %d: %w", he.InstanceID, err))
	}
	e.recordAborted(aborted)
	return he
}
