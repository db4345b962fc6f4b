package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/procflow/internal/compiler"
	"github.com/roach88/procflow/internal/engine"
	"github.com/roach88/procflow/internal/graph"
	"github.com/roach88/procflow/internal/ir"
	"github.com/roach88/procflow/internal/logging"
	"github.com/roach88/procflow/internal/store"
	"github.com/roach88/procflow/internal/testutil"
)

// errorCodeGeneric is reported for step errors that are not handler
// failures.
const errorCodeGeneric = "ERROR"

// Harness is the test execution engine.
// It runs one scenario against a real engine with scripted actions and a
// deterministic clock.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	metrics *prometheus.Registry
	clock   *testutil.DeterministicClock
	logger  *slog.Logger
	scripts map[string]ActionScript
	aliases map[string]int64
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
// 1. Load and compile the process definitions
// 2. Create the engine with one scripted action per action name
// 3. Execute steps, checking expect clauses
// 4. Read back the audit trail of every instance
// 5. Evaluate assertions
//
// An error is returned when the scenario cannot be executed at all;
// failed expectations and assertions are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	graphs, err := loadDefinitions(scenario.Definitions)
	if err != nil {
		return nil, err
	}

	mode, err := engine.ParseCorrelationMode(scenario.CorrelationMode)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:   st,
		clock:   testutil.NewDeterministicClock(),
		logger:  logging.NewNop(),
		metrics: prometheus.NewRegistry(),
		scripts: scenario.Actions,
		aliases: make(map[string]int64),
	}

	opts := []engine.Option{
		engine.WithGraphs(graphs...),
		engine.WithNow(h.clock.Now),
		engine.WithCorrelationMode(mode),
		engine.WithLogger(h.logger),
		engine.WithMetrics(engine.NewMetrics(h.metrics)),
	}
	for _, name := range actionNames(graphs, scenario.Actions) {
		opts = append(opts, engine.WithAction(name, h.action(name)))
	}
	h.engine, err = engine.New(ctx, st, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to read audit trail: %w", err)
	}
	if result.Counters, err = counters(h.metrics); err != nil {
		return nil, fmt.Errorf("failed to gather engine metrics: %w", err)
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, h.aliases) {
		result.AddError(msg)
	}
	return result, nil
}

// loadDefinitions compiles every definition path in order.
func loadDefinitions(paths []string) ([]*graph.Graph, error) {
	var graphs []*graph.Graph
	for _, p := range paths {
		res, errs := compiler.Load(p, compiler.LoadModeFailFast)
		if len(errs) > 0 {
			return nil, fmt.Errorf("load %s: %w", p, errors.Join(errs...))
		}
		graphs = append(graphs, res.Graphs...)
	}
	return graphs, nil
}

// actionNames returns the action names used by graphs plus the scripted
// ones, sorted and without duplicates.
func actionNames(graphs []*graph.Graph, scripts map[string]ActionScript) []string {
	var names []string
	for _, g := range graphs {
		for _, n := range g.Nodes() {
			if n.Type == graph.NodeAction {
				names = append(names, n.Action)
			}
		}
	}
	for name := range scripts {
		names = append(names, name)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// action returns the mock implementation of the named action.
func (h *Harness) action(name string) engine.ActionFunc {
	script, scripted := h.scripts[name]
	return func(ctx context.Context, ac *engine.ActionContext) error {
		h.logger.Debug("action fired",
			"action", name,
			"process_instance_id", ac.InstanceID(),
		)
		if !scripted {
			return nil
		}

		vars, err := ir.ObjectFromGo(script.Set)
		if err != nil {
			return err
		}
		for _, k := range vars.SortedKeys() {
			if err := ac.Set(ctx, k, vars[k]); err != nil {
				return err
			}
		}

		if sp := script.Start; sp != nil {
			childVars, err := ir.ObjectFromGo(sp.Vars)
			if err != nil {
				return err
			}
			for _, k := range sp.Copy {
				if v, ok := ac.Get(k); ok {
					childVars[k] = v
				}
			}
			if _, err := ac.StartSubProcess(ctx, sp.Process, childVars); err != nil {
				return err
			}
		}

		if script.Fail != "" {
			return errors.New(script.Fail)
		}
		return nil
	}
}

// outcome is what a step did.
type outcome struct {
	desc     string
	instance int64
	resumed  []int64
	err      error
}

// executeStep runs one step and checks its expect clause. It returns an
// error only when the step cannot be executed, e.g. it names an unknown
// alias.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	var o outcome
	switch step.Kind() {
	case StepStart:
		o.desc = "start " + step.Start
		if step.As != "" {
			o.desc += " as " + step.As
		}
		vars, err := ir.ObjectFromGo(step.Vars)
		if err != nil {
			return fmt.Errorf("vars: %w", err)
		}
		inst, err := h.engine.StartProcess(ctx, step.Start, vars)
		o.err = err
		var he *engine.HandlerError
		switch {
		case inst != nil:
			o.instance = inst.ProcessInstanceID
		case errors.As(err, &he):
			o.instance = he.InstanceID
		}
		if o.instance != 0 && step.As != "" {
			h.aliases[step.As] = o.instance
		}

	case StepSignal:
		o.desc = "signal " + step.Signal
		payload, err := ir.FromGo(step.Payload)
		if err != nil {
			return fmt.Errorf("payload: %w", err)
		}
		insts, err := h.engine.DeliverEvent(ctx, step.Signal, payload)
		o.err = err
		o.resumed = []int64{}
		for _, inst := range insts {
			o.resumed = append(o.resumed, inst.ProcessInstanceID)
		}

	case StepAbort:
		o.desc = "abort " + step.Abort
		id, err := resolveInstance(h.aliases, step.Abort)
		if err != nil {
			return err
		}
		o.instance = id
		_, o.err = h.engine.Abort(ctx, id)

	case StepAdvance:
		o.desc = "advance " + step.Advance + " from " + step.Node
		id, err := resolveInstance(h.aliases, step.Advance)
		if err != nil {
			return err
		}
		nodeID, err := h.nodeID(ctx, id, step.Node)
		if err != nil {
			return err
		}
		o.instance = id
		_, o.err = h.engine.Advance(ctx, id, nodeID)

	default:
		return fmt.Errorf("exactly one of start, signal, abort or advance is required")
	}

	status, err := h.status(ctx, o.instance)
	if err != nil {
		return err
	}
	result.Steps = append(result.Steps, StepResult{Summary: o.summary(status)})
	h.checkExpect(i, step.Expect, o, status, result)
	return nil
}

// summary renders the outcome without dates.
func (o outcome) summary(status string) string {
	var b strings.Builder
	b.WriteString(o.desc)
	b.WriteString(" ->")
	if o.resumed != nil {
		ids := make([]string, len(o.resumed))
		for i, id := range o.resumed {
			ids[i] = strconv.FormatInt(id, 10)
		}
		fmt.Fprintf(&b, " resumed [%s]", strings.Join(ids, " "))
	}
	if o.instance != 0 {
		fmt.Fprintf(&b, " instance %d %s", o.instance, status)
	}
	if o.err != nil {
		fmt.Fprintf(&b, " error %s", errorCode(o.err))
	}
	return b.String()
}

func (h *Harness) checkExpect(i int, e *Expect, o outcome, status string, result *Result) {
	n := i + 1
	if e != nil && e.Error != "" {
		switch {
		case o.err == nil:
			result.AddError(fmt.Sprintf("step %d: expected error %s, got none", n, e.Error))
		case errorCode(o.err) != e.Error:
			result.AddError(fmt.Sprintf("step %d: expected error %s, got %s: %v", n, e.Error, errorCode(o.err), o.err))
		}
	} else if o.err != nil {
		result.AddError(fmt.Sprintf("step %d: unexpected error: %v", n, o.err))
	}
	if e == nil {
		return
	}

	if e.Status != "" {
		switch {
		case o.instance == 0:
			result.AddError(fmt.Sprintf("step %d: expected status %s, but no instance was created", n, e.Status))
		case status != e.Status:
			result.AddError(fmt.Sprintf("step %d: expected status %s, got %s", n, e.Status, status))
		}
	}
	if e.Resumed != nil && len(o.resumed) != *e.Resumed {
		result.AddError(fmt.Sprintf("step %d: expected %d resumed instances, got %d", n, *e.Resumed, len(o.resumed)))
	}
}

// errorCode returns the handler error code of err, or ERROR.
func errorCode(err error) string {
	if engine.IsHandlerError(err) {
		return string(engine.HandlerErrorCode(err))
	}
	return errorCodeGeneric
}

// status returns the status name of instance id, or "" for id 0.
func (h *Harness) status(ctx context.Context, id int64) (string, error) {
	if id == 0 {
		return "", nil
	}
	log, found, err := h.store.FindProcessInstance(ctx, id)
	if err != nil {
		return "", err
	}
	if !found {
		return "", nil
	}
	return log.Status.String(), nil
}

// nodeID finds the node called name in the graph of instance id.
func (h *Harness) nodeID(ctx context.Context, id int64, name string) (int64, error) {
	log, found, err := h.store.FindProcessInstance(ctx, id)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("instance %d not found", id)
	}
	g, ok := h.engine.Graph(log.ProcessID)
	if !ok {
		return 0, fmt.Errorf("process %q not loaded", log.ProcessID)
	}
	for _, n := range g.Nodes() {
		if n.Name == name {
			return n.ID, nil
		}
	}
	return 0, fmt.Errorf("process %q has no node %q", log.ProcessID, name)
}

// collect reads the audit trail of every instance into result.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	logs, err := h.store.FindProcessInstances(ctx)
	if err != nil {
		return err
	}

	names := make(map[int64]string, len(h.aliases))
	for alias, id := range h.aliases {
		names[id] = alias
	}

	for _, log := range logs {
		id := log.ProcessInstanceID
		nodes, err := h.store.FindNodeInstances(ctx, id)
		if err != nil {
			return err
		}
		vars, err := h.store.FindVariableInstances(ctx, id)
		if err != nil {
			return err
		}
		waiting, err := h.store.FindPendingCallbacksByInstance(ctx, id)
		if err != nil {
			return err
		}
		result.Instances = append(result.Instances, InstanceTrail{
			ID:        id,
			Alias:     names[id],
			ProcessID: log.ProcessID,
			Parent:    log.ParentProcessInstanceID,
			Status:    log.Status,
			Nodes:     nodes,
			Variables: vars,
			Waiting:   waiting,
		})
	}
	return nil
}

// counters flattens the engine's counters into name{label="value"} keys.
func counters(g prometheus.Gatherer) (map[string]float64, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, f := range families {
		for _, m := range f.GetMetric() {
			key := f.GetName()
			if labels := m.GetLabel(); len(labels) > 0 {
				pairs := make([]string, len(labels))
				for i, l := range labels {
					pairs[i] = l.GetName() + "=" + strconv.Quote(l.GetValue())
				}
				key += "{" + strings.Join(pairs, ",") + "}"
			}
			out[key] = m.GetCounter().GetValue()
		}
	}
	return out, nil
}

// resolveInstance maps an alias or a numeric id to an instance id.
func resolveInstance(aliases map[string]int64, ref string) (int64, error) {
	if id, ok := aliases[ref]; ok {
		return id, nil
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("unknown instance %q", ref)
	}
	return id, nil
}
