package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/procflow/internal/graph"
	"github.com/roach88/procflow/internal/ir"
	"github.com/roach88/procflow/internal/lock"
	"github.com/roach88/procflow/internal/logging"
	"github.com/roach88/procflow/internal/rules"
	"github.com/roach88/procflow/internal/store"
)

// DefaultMaxSteps is the default maximum number of node visits in one
// traversal. Reaching it aborts the instance.
const DefaultMaxSteps = 1000

// Engine advances process instances and records their history.
//
// Thread-safety model:
//   - all exported methods are safe from any goroutine
//   - operations on one instance are serialized by the instance lock
//   - operations on different instances run concurrently, their units of
//     work serialized by the store
type Engine struct {
	store      *store.Store
	ids        *Clock
	correlator *Correlator
	evaluator  rules.Evaluator
	guard      *lock.Guard
	locker     lock.Locker
	lockTTL    time.Duration
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
	maxSteps   int

	actions  map[string]ActionFunc
	handlers map[graph.NodeType]Handler
	initial  []*graph.Graph

	mu     sync.RWMutex
	graphs map[string]*graph.Graph
}

// Option configures an Engine.
type Option func(*Engine)

// WithGraphs registers process graphs at construction.
func WithGraphs(gs ...*graph.Graph) Option {
	return func(e *Engine) {
		e.initial = append(e.initial, gs...)
	}
}

// WithAction registers the function run by Action nodes naming action.
func WithAction(action string, fn ActionFunc) Option {
	return func(e *Engine) {
		e.actions[action] = fn
	}
}

// WithHandler replaces the handler of a node type.
func WithHandler(t graph.NodeType, h Handler) Option {
	return func(e *Engine) {
		e.handlers[t] = h
	}
}

// WithEvaluator sets the condition evaluator. Default: rules.CUEEvaluator.
func WithEvaluator(ev rules.Evaluator) Option {
	return func(e *Engine) {
		e.evaluator = ev
	}
}

// WithGuard sets the instance lock guard.
func WithGuard(g *lock.Guard) Option {
	return func(e *Engine) {
		e.guard = g
	}
}

// WithLocker adds a distributed locker to the default guard. Ignored when
// WithGuard is used.
func WithLocker(l lock.Locker, ttl time.Duration) Option {
	return func(e *Engine) {
		e.locker = l
		e.lockTTL = ttl
	}
}

// WithCorrelationMode sets how many waiters one delivery resumes.
// Default: Broadcast.
func WithCorrelationMode(m CorrelationMode) Option {
	return func(e *Engine) {
		e.correlator = NewCorrelator(m)
	}
}

// WithMetrics records engine activity in m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the logger. Default: discard.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithNow sets the time source for log dates. Used by tests.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithMaxSteps sets the maximum node visits of one traversal.
func WithMaxSteps(maxSteps int) Option {
	return func(e *Engine) {
		if maxSteps > 0 {
			e.maxSteps = maxSteps
		}
	}
}

// New creates an Engine over s. The instance id clock is seeded from the
// highest id already in the store.
func New(ctx context.Context, s *store.Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:      s,
		correlator: NewCorrelator(Broadcast),
		logger:     logging.NewNop(),
		now:        func() time.Time { return time.Now().UTC() },
		maxSteps:   DefaultMaxSteps,
		actions:    make(map[string]ActionFunc),
		handlers:   defaultHandlers(),
		graphs:     make(map[string]*graph.Graph),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.evaluator == nil {
		e.evaluator = rules.NewCUEEvaluator()
	}
	if e.guard == nil {
		guardOpts := []lock.GuardOption{lock.WithLogger(e.logger)}
		if e.locker != nil {
			guardOpts = append(guardOpts, lock.WithDistributed(e.locker), lock.WithTTL(e.lockTTL))
		}
		e.guard = lock.NewGuard(guardOpts...)
	}

	for _, g := range e.initial {
		if err := e.RegisterGraph(g); err != nil {
			return nil, err
		}
	}
	e.initial = nil

	var maxID int64
	err := e.unit(ctx, s, func(view *store.Store) error {
		var err error
		maxID, err = view.MaxProcessInstanceID(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("seed instance ids: %w", err)
	}
	e.ids = NewClockAt(maxID)
	return e, nil
}

// RegisterGraph makes a process startable. A process id can be registered
// once.
func (e *Engine) RegisterGraph(g *graph.Graph) error {
	if g == nil {
		return errors.New("register graph: nil graph")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.graphs[g.ProcessID()]; dup {
		return fmt.Errorf("register graph: process %q already registered", g.ProcessID())
	}
	e.graphs[g.ProcessID()] = g
	return nil
}

// Graph returns the registered graph of a process.
func (e *Engine) Graph(processID string) (*graph.Graph, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	g, ok := e.graphs[processID]
	return g, ok
}

// Processes returns the registered process ids, sorted.
func (e *Engine) Processes() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.graphs))
	for id := range e.graphs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Instance is the engine's view of a process instance.
type Instance struct {
	ir.ProcessInstanceLog

	// Variables holds the latest value of every variable.
	Variables ir.Object

	// Waiting lists the callbacks the instance is suspended on.
	Waiting []ir.PendingCallback
}

// WaitingAt returns the Event node the instance is suspended at.
func (i *Instance) WaitingAt() (int64, bool) {
	if len(i.Waiting) == 0 {
		return 0, false
	}
	return i.Waiting[0].NodeID, true
}

// StartOption configures StartProcess.
type StartOption func(*startConfig)

type startConfig struct {
	parent *int64
}

// WithParent records id as the parent of the new instance.
func WithParent(id int64) StartOption {
	return func(c *startConfig) {
		c.parent = &id
	}
}

// StartProcess creates an instance of processID with the initial
// variables and runs it until it suspends or ends.
func (e *Engine) StartProcess(ctx context.Context, processID string, vars ir.Object, opts ...StartOption) (*Instance, error) {
	var cfg startConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return e.startProcess(ctx, e.store, processID, vars, cfg)
}

func (e *Engine) startProcess(ctx context.Context, base *store.Store, processID string, vars ir.Object, cfg startConfig) (*Instance, error) {
	g, ok := e.Graph(processID)
	if !ok {
		return nil, fmt.Errorf("start %q: %w", processID, ErrUnknownProcess)
	}
	var maxID int64
	err := e.unit(ctx, base, func(view *store.Store) error {
		if cfg.parent != nil {
			_, found, err := view.FindProcessInstance(ctx, *cfg.parent)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("parent %d: %w", *cfg.parent, ErrInstanceNotFound)
			}
		}
		var err error
		maxID, err = view.MaxProcessInstanceID(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("start %q: %w", processID, err)
	}
	// Skip ids written by other engines sharing the database.
	e.ids.Observe(maxID)
	id := e.ids.Next()

	err = e.guard.WithLock(ctx, lockKey(id), func(ctx context.Context) error {
		x := &Execution{
			engine: e,
			graph:  g,
			vars:   make(ir.Object, len(vars)),
			log: ir.ProcessInstanceLog{
				ProcessInstanceID:       id,
				ProcessID:               processID,
				ParentProcessInstanceID: cfg.parent,
				StartDate:               e.now(),
				Status:                  ir.StatusActive,
			},
		}
		err := e.unit(ctx, base, func(view *store.Store) error {
			x.store = view
			if err := view.CreateProcessInstance(ctx, x.log); err != nil {
				return err
			}
			for _, name := range vars.SortedKeys() {
				if err := x.Set(ctx, name, vars[name]); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		e.metrics.started(processID)
		e.logger.Info("instance started",
			"process_id", processID,
			"process_instance_id", id,
		)
		return e.traverse(ctx, base, x, step{node: g.Start()})
	})
	if err != nil {
		return nil, fmt.Errorf("start %q: %w", processID, err)
	}
	return e.instance(ctx, base, id)
}

// Advance resumes an active instance by entering fromNodeID. Pending
// callbacks of the instance are dropped first.
func (e *Engine) Advance(ctx context.Context, instanceID, fromNodeID int64) (*Instance, error) {
	err := e.guard.WithLock(ctx, lockKey(instanceID), func(ctx context.Context) error {
		x, err := e.execution(ctx, e.store, instanceID)
		if err != nil {
			return err
		}
		if !x.log.Active() {
			return fmt.Errorf("instance %d is %s: %w", instanceID, x.log.Status, ErrInstanceNotActive)
		}
		n, ok := x.graph.Node(fromNodeID)
		if !ok {
			return fmt.Errorf("node %d: %w", fromNodeID, ErrUnknownNode)
		}
		return e.traverse(ctx, e.store, x, step{node: n, release: true})
	})
	if err != nil {
		return nil, fmt.Errorf("advance instance %d: %w", instanceID, err)
	}
	return e.Instance(ctx, instanceID)
}

// DeliverEvent resumes the instances waiting for eventKey ("ref" or
// "ref#scope") and returns the ones it resumed, in the order they waited.
// No waiter is not an error. Failures of single instances are joined into
// the error and do not stop the other deliveries; the returned slice then
// holds the successful ones.
func (e *Engine) DeliverEvent(ctx context.Context, eventKey string, payload ir.Value) ([]*Instance, error) {
	key, err := ir.ParseEventKey(eventKey)
	if err != nil {
		return nil, fmt.Errorf("deliver: %w", err)
	}
	var candidates []ir.PendingCallback
	err = e.unit(ctx, e.store, func(view *store.Store) error {
		var err error
		candidates, err = e.correlator.Match(ctx, view, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("deliver %s: %w", key, err)
	}

	resumed := []*Instance{}
	claimed, err := e.correlator.Dispatch(ctx, candidates, func(ctx context.Context, p ir.PendingCallback) (bool, error) {
		inst, ok, err := e.resume(ctx, p, payload)
		if inst != nil {
			resumed = append(resumed, inst)
		}
		return ok, err
	})
	e.metrics.delivered(key.Ref, claimed > 0)
	e.logger.Debug("event delivered",
		"event_key", key.String(),
		"candidates", len(candidates),
		"claimed", claimed,
		"mode", e.correlator.Mode().String(),
	)
	if err != nil {
		return resumed, fmt.Errorf("deliver %s: %w", key, err)
	}
	return resumed, nil
}

// resume wakes one waiter. claimed is true when this call consumed the
// callback, even if the instance then failed.
func (e *Engine) resume(ctx context.Context, p ir.PendingCallback, payload ir.Value) (inst *Instance, claimed bool, err error) {
	var x *Execution
	err = e.guard.WithLock(ctx, lockKey(p.InstanceID), func(ctx context.Context) error {
		var err error
		x, err = e.execution(ctx, e.store, p.InstanceID)
		if err != nil {
			return err
		}
		n, ok := x.graph.Node(p.NodeID)
		if !ok {
			return fmt.Errorf("node %d: %w", p.NodeID, ErrUnknownNode)
		}
		return e.traverse(ctx, e.store, x, step{node: n, resume: true, payload: payload, claim: p.ID})
	})
	if errors.Is(err, errNotClaimed) {
		return nil, false, nil
	}
	if err != nil {
		claimed = IsHandlerError(err) || (x != nil && x.claimed)
		return nil, claimed, fmt.Errorf("resume instance %d: %w", p.InstanceID, err)
	}
	inst, err = e.Instance(ctx, p.InstanceID)
	return inst, true, err
}

// Abort ends an instance with status Aborted and drops its pending
// callbacks. Active sub-process instances are aborted too, in the same
// unit of work. Aborting a finished instance changes nothing.
func (e *Engine) Abort(ctx context.Context, instanceID int64) (*Instance, error) {
	var aborted []ir.ProcessInstanceLog
	err := e.guard.WithLock(ctx, lockKey(instanceID), func(ctx context.Context) error {
		return e.unit(ctx, e.store, func(view *store.Store) error {
			var err error
			aborted, err = e.abortTree(ctx, view, instanceID)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("abort instance %d: %w", instanceID, err)
	}
	e.recordAborted(aborted)
	return e.Instance(ctx, instanceID)
}

// Instance loads the current view of an instance from the store.
func (e *Engine) Instance(ctx context.Context, id int64) (*Instance, error) {
	return e.instance(ctx, e.store, id)
}

func (e *Engine) instance(ctx context.Context, base *store.Store, id int64) (*Instance, error) {
	var inst *Instance
	err := e.unit(ctx, base, func(view *store.Store) error {
		log, found, err := view.FindProcessInstance(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("instance %d: %w", id, ErrInstanceNotFound)
		}
		vars, err := loadVariables(ctx, view, id)
		if err != nil {
			return err
		}
		waiting, err := view.FindPendingCallbacksByInstance(ctx, id)
		if err != nil {
			return err
		}
		inst = &Instance{ProcessInstanceLog: log, Variables: vars, Waiting: waiting}
		return nil
	})
	return inst, err
}

// execution loads an instance for advancing.
func (e *Engine) execution(ctx context.Context, base *store.Store, id int64) (*Execution, error) {
	var x *Execution
	err := e.unit(ctx, base, func(view *store.Store) error {
		log, found, err := view.FindProcessInstance(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("instance %d: %w", id, ErrInstanceNotFound)
		}
		g, ok := e.Graph(log.ProcessID)
		if !ok {
			return fmt.Errorf("instance %d: process %q: %w", id, log.ProcessID, ErrUnknownProcess)
		}
		vars, err := loadVariables(ctx, view, id)
		if err != nil {
			return err
		}
		x = &Execution{engine: e, store: base, graph: g, log: log, vars: vars}
		return nil
	})
	return x, err
}

// loadVariables rebuilds variables from the log. Entries come oldest
// first, so the last one of each variable wins.
func loadVariables(ctx context.Context, s *store.Store, id int64) (ir.Object, error) {
	logs, err := s.FindVariableInstances(ctx, id)
	if err != nil {
		return nil, err
	}
	vars := make(ir.Object)
	for _, l := range logs {
		v, err := ir.ParseValue([]byte(l.Value))
		if err != nil {
			return nil, fmt.Errorf("instance %d: variable %q: %w", id, l.VariableID, err)
		}
		vars[l.VariableID] = v
	}
	return vars, nil
}

// markAborted ends an active instance inside view. aborted is false when
// the instance had already ended.
func (e *Engine) markAborted(ctx context.Context, view *store.Store, id int64) (log ir.ProcessInstanceLog, aborted bool, err error) {
	log, found, err := view.FindProcessInstance(ctx, id)
	if err != nil {
		return log, false, err
	}
	if !found {
		return log, false, fmt.Errorf("instance %d: %w", id, ErrInstanceNotFound)
	}
	if !log.Active() {
		return log, false, nil
	}

	end := e.now()
	log.EndDate = &end
	log.Status = ir.StatusAborted
	aborted, err = view.WriteProcessInstance(ctx, log)
	if err != nil {
		return log, false, err
	}
	if _, err := view.DeletePendingCallbacks(ctx, id); err != nil {
		return log, false, err
	}
	return log, aborted, nil
}

// abortTree ends id and its active sub-process instances, depth first,
// inside view. It returns the instances it ended, id first.
func (e *Engine) abortTree(ctx context.Context, view *store.Store, id int64) ([]ir.ProcessInstanceLog, error) {
	var ended []ir.ProcessInstanceLog
	log, aborted, err := e.markAborted(ctx, view, id)
	if err != nil {
		return nil, err
	}
	if aborted {
		ended = append(ended, log)
	}

	children, err := view.FindSubProcessInstances(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if !child.Active() {
			continue
		}
		sub, err := e.abortTree(ctx, view, child.ProcessInstanceID)
		if err != nil {
			return nil, fmt.Errorf("sub-process instance %d: %w", child.ProcessInstanceID, err)
		}
		ended = append(ended, sub...)
	}
	return ended, nil
}

func (e *Engine) recordAborted(logs []ir.ProcessInstanceLog) {
	for _, l := range logs {
		e.metrics.aborted(l.ProcessID)
		e.logger.Info("instance aborted",
			"process_id", l.ProcessID,
			"process_instance_id", l.ProcessInstanceID,
		)
	}
}

// unit runs fn inside one unit of work on base. On a joined base the unit
// joins the caller's transaction.
func (e *Engine) unit(ctx context.Context, base *store.Store, fn func(view *store.Store) error) error {
	tx, err := base.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(base.Join(tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			e.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	return tx.Commit(ctx)
}

func lockKey(instanceID int64) string {
	return strconv.FormatInt(instanceID, 10)
}
