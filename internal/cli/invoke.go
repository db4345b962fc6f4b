package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/procflow/internal/engine"
	"github.com/roach88/procflow/internal/ir"
)

// StartOptions holds flags for the start command.
type StartOptions struct {
	*RootOptions
	Vars   string // JSON object of initial variables
	Parent int64
}

// NewStartCommand creates the start command.
func NewStartCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StartOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "start <process-id>",
		Short: "Start a process instance",
		Long: `Start an instance of a process and run it until it waits for an
event or ends.

Actions named by the definitions only log when they fire.

Examples:
  procflow start order --defs ./processes --vars '{"orderId":"A-1"}'
  procflow start order --defs ./processes --db ./audit.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Vars, "vars", "{}", "initial variables as a JSON object")
	cmd.Flags().Int64Var(&opts.Parent, "parent", 0, "parent process instance id")

	return cmd
}

func runStart(opts *StartOptions, processID string, cmd *cobra.Command) (err error) {
	var vars ir.Object
	if err := json.Unmarshal([]byte(opts.Vars), &vars); err != nil {
		return WrapExitError(ExitCommandError, "invalid --vars JSON", err)
	}

	ctx := cmd.Context()
	rt, err := openEngine(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { err = rt.close(ctx, err) }()

	var startOpts []engine.StartOption
	if opts.Parent != 0 {
		startOpts = append(startOpts, engine.WithParent(opts.Parent))
	}
	inst, err := rt.engine.StartProcess(ctx, processID, vars, startOpts...)
	if err != nil {
		return reportEngineError(newFormatter(opts.RootOptions, cmd), err)
	}
	return printInstance(opts.RootOptions, cmd, inst)
}

// SignalOptions holds flags for the signal command.
type SignalOptions struct {
	*RootOptions
	Payload string // JSON value
}

// SignalResult lists the instances an event resumed.
type SignalResult struct {
	EventKey string         `json:"event_key"`
	Resumed  []InstanceView `json:"resumed"`
}

func (r SignalResult) renderText(w io.Writer) {
	fmt.Fprintf(w, "%s resumed %d instance(s)\n", r.EventKey, len(r.Resumed))
	for _, v := range r.Resumed {
		fmt.Fprintf(w, "  %s\n", v.summary())
	}
}

// NewSignalCommand creates the signal command.
func NewSignalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SignalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "signal <event-key>",
		Short: "Deliver an event to waiting instances",
		Long: `Deliver an event to the instances waiting for it.

The key is an event reference, optionally scoped to one correlation
value: "paid" reaches every waiter of paid, "paid#A-1" only those whose
correlation variable is "A-1". Which waiters are resumed depends on
engine.correlation_mode.

Examples:
  procflow signal 'paid#A-1' --defs ./processes --payload '{"ok":true}'
  procflow signal approved --defs ./processes`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSignal(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Payload, "payload", "null", "event payload as JSON")

	return cmd
}

func runSignal(opts *SignalOptions, key string, cmd *cobra.Command) (err error) {
	payload, err := ir.ParseValue([]byte(opts.Payload))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --payload JSON", err)
	}

	ctx := cmd.Context()
	rt, err := openEngine(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { err = rt.close(ctx, err) }()

	resumed, err := rt.engine.DeliverEvent(ctx, key, payload)
	if err != nil {
		return reportEngineError(newFormatter(opts.RootOptions, cmd), err)
	}
	views, err := instanceViews(resumed)
	if err != nil {
		return err
	}
	return newFormatter(opts.RootOptions, cmd).Success(SignalResult{EventKey: key, Resumed: views})
}

// NewAbortCommand creates the abort command.
func NewAbortCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "abort <instance-id>",
		Short: "Abort a process instance",
		Long: `Abort an active process instance and its active sub-process
instances. Aborting an instance that already ended changes nothing.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			id, err := parseInstanceID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := openEngine(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { err = rt.close(ctx, err) }()

			inst, err := rt.engine.Abort(ctx, id)
			if err != nil {
				return reportEngineError(newFormatter(rootOpts, cmd), err)
			}
			return printInstance(rootOpts, cmd, inst)
		},
	}
}

// NewAdvanceCommand creates the advance command.
func NewAdvanceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "advance <instance-id> <node>",
		Short: "Resume an instance from a node",
		Long: `Resume an active instance by entering the given node, by name or
numeric id. The events the instance was waiting for are dropped.

Examples:
  procflow advance 3 cancel --defs ./processes`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			id, err := parseInstanceID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := openEngine(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { err = rt.close(ctx, err) }()

			f := newFormatter(rootOpts, cmd)
			current, err := rt.engine.Instance(ctx, id)
			if err != nil {
				return reportEngineError(f, err)
			}
			nodeID, err := resolveNode(rt.engine, current.ProcessID, args[1])
			if err != nil {
				return reportEngineError(f, err)
			}
			inst, err := rt.engine.Advance(ctx, id, nodeID)
			if err != nil {
				return reportEngineError(f, err)
			}
			return printInstance(rootOpts, cmd, inst)
		},
	}
}

// resolveNode finds a node of processID by name, falling back to a
// numeric id.
func resolveNode(eng *engine.Engine, processID, ref string) (int64, error) {
	g, ok := eng.Graph(processID)
	if !ok {
		return 0, fmt.Errorf("process %q: %w", processID, engine.ErrUnknownProcess)
	}
	for _, n := range g.Nodes() {
		if n.Name == ref {
			return n.ID, nil
		}
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if _, ok := g.Node(id); ok {
			return id, nil
		}
	}
	return 0, fmt.Errorf("process %q has no node %q: %w", processID, ref, engine.ErrUnknownNode)
}

func parseInstanceID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid instance id %q", s))
	}
	return id, nil
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func printInstance(opts *RootOptions, cmd *cobra.Command, inst *engine.Instance) error {
	v, err := instanceView(inst)
	if err != nil {
		return err
	}
	return newFormatter(opts, cmd).Success(v)
}

// Engine error codes for errors that are not handler failures.
const (
	ErrCodeNotFound  = "E_NOT_FOUND"
	ErrCodeNotActive = "E_NOT_ACTIVE"
	ErrCodeEngine    = "E_ENGINE"
)

// reportEngineError prints err and maps it to an exit code. Handler
// failures and inactive instances are failures; lookups of things that do
// not exist are command errors.
func reportEngineError(f *OutputFormatter, err error) error {
	code, exit := ErrCodeEngine, ExitCommandError
	switch {
	case engine.IsHandlerError(err):
		code, exit = string(engine.HandlerErrorCode(err)), ExitFailure
	case errors.Is(err, engine.ErrInstanceNotActive):
		code, exit = ErrCodeNotActive, ExitFailure
	case errors.Is(err, engine.ErrInstanceNotFound),
		errors.Is(err, engine.ErrUnknownProcess),
		errors.Is(err, engine.ErrUnknownNode):
		code = ErrCodeNotFound
	}
	_ = f.Error(code, err.Error(), nil)
	return WrapExitError(exit, code, err)
}
