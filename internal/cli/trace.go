package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/procflow/internal/ir"
	"github.com/roach88/procflow/internal/store"
)

// NodeView is one node log entry.
type NodeView struct {
	ID         int64     `json:"id"`
	InstanceID int64     `json:"process_instance_id"`
	NodeID     string    `json:"node_id"`
	NodeName   string    `json:"node_name"`
	NodeType   string    `json:"node_type"`
	Type       string    `json:"type"` // "enter" or "exit"
	Date       time.Time `json:"date"`
}

// VariableView is one variable log entry. Value is canonical JSON.
type VariableView struct {
	ID         int64     `json:"id"`
	InstanceID int64     `json:"process_instance_id"`
	VariableID string    `json:"variable_id"`
	Value      string    `json:"value"`
	Date       time.Time `json:"date"`
}

func nodeViews(logs []ir.NodeInstanceLog) []NodeView {
	views := make([]NodeView, 0, len(logs))
	for _, n := range logs {
		views = append(views, NodeView{
			ID:         n.ID,
			InstanceID: n.ProcessInstanceID,
			NodeID:     n.NodeID,
			NodeName:   n.NodeName,
			NodeType:   n.NodeType,
			Type:       n.Type.String(),
			Date:       n.Date,
		})
	}
	return views
}

func variableViews(logs []ir.VariableInstanceLog) []VariableView {
	views := make([]VariableView, 0, len(logs))
	for _, v := range logs {
		views = append(views, VariableView{
			ID:         v.ID,
			InstanceID: v.ProcessInstanceID,
			VariableID: v.VariableID,
			Value:      v.Value,
			Date:       v.Date,
		})
	}
	return views
}

// ShowResult is an instance with its latest variables, pending callbacks
// and sub-process instances, read from the audit log.
type ShowResult struct {
	InstanceView
	SubProcesses []InstanceView `json:"sub_processes,omitempty"`
	NodeEntries  int            `json:"node_entries"`
}

func (r ShowResult) renderText(w io.Writer) {
	r.InstanceView.renderText(w)
	fmt.Fprintf(w, "  %d node log entries\n", r.NodeEntries)
	for _, c := range r.SubProcesses {
		fmt.Fprintf(w, "  sub-process %s\n", c.summary())
	}
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <instance-id>",
		Short: "Show a process instance from the audit log",
		Long: `Show a process instance: its status and dates, the latest value of
each variable, the events it waits for and its sub-process instances.

Examples:
  procflow show 3 --db ./audit.db
  procflow show 3 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInstanceID(args[0])
			if err != nil {
				return err
			}
			return withStore(rootOpts, cmd, func(ctx context.Context, st *store.Store) (any, error) {
				return showInstance(ctx, st, id)
			})
		},
	}
}

func showInstance(ctx context.Context, st *store.Store, id int64) (ShowResult, error) {
	log, found, err := st.FindProcessInstance(ctx, id)
	if err != nil {
		return ShowResult{}, err
	}
	if !found {
		return ShowResult{}, NewExitError(ExitCommandError, fmt.Sprintf("instance %d not found", id))
	}

	result := ShowResult{InstanceView: logView(log)}

	vars, err := st.FindVariableInstances(ctx, id)
	if err != nil {
		return ShowResult{}, err
	}
	if len(vars) > 0 {
		result.Variables = make(map[string]string)
		for _, v := range vars {
			result.Variables[v.VariableID] = v.Value
		}
	}

	pending, err := st.FindPendingCallbacksByInstance(ctx, id)
	if err != nil {
		return ShowResult{}, err
	}
	for _, p := range pending {
		result.Waiting = append(result.Waiting, p.Key().String())
	}

	children, err := st.FindSubProcessInstances(ctx, id)
	if err != nil {
		return ShowResult{}, err
	}
	for _, c := range children {
		result.SubProcesses = append(result.SubProcesses, logView(c))
	}

	nodes, err := st.FindNodeInstances(ctx, id)
	if err != nil {
		return ShowResult{}, err
	}
	result.NodeEntries = len(nodes)
	return result, nil
}

// InstancesOptions holds flags for the instances command.
type InstancesOptions struct {
	*RootOptions
	Process string
	Active  bool
	Parent  int64
}

// InstanceList is the result of the instances command.
type InstanceList struct {
	Instances []InstanceView `json:"instances"`
}

func (l InstanceList) renderText(w io.Writer) {
	if len(l.Instances) == 0 {
		fmt.Fprintln(w, "No instances.")
		return
	}
	for _, v := range l.Instances {
		fmt.Fprintln(w, v.summary())
	}
}

// NewInstancesCommand creates the instances command.
func NewInstancesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InstancesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "instances",
		Short: "List process instances",
		Long: `List process instances from the audit log, ordered by id.

Examples:
  procflow instances --db ./audit.db
  procflow instances --process order --active
  procflow instances --parent 3`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, cmd, func(ctx context.Context, st *store.Store) (any, error) {
				return listInstances(ctx, st, opts)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Process, "process", "", "only instances of this process")
	cmd.Flags().BoolVar(&opts.Active, "active", false, "only instances that have not ended")
	cmd.Flags().Int64Var(&opts.Parent, "parent", 0, "only sub-process instances of this instance")

	return cmd
}

func listInstances(ctx context.Context, st *store.Store, opts *InstancesOptions) (InstanceList, error) {
	var (
		logs []ir.ProcessInstanceLog
		err  error
	)
	switch {
	case opts.Parent != 0:
		logs, err = st.FindSubProcessInstances(ctx, opts.Parent)
	case opts.Process != "" && opts.Active:
		logs, err = st.FindActiveProcessInstances(ctx, opts.Process)
	case opts.Process != "":
		logs, err = st.FindProcessInstancesByProcessID(ctx, opts.Process)
	default:
		logs, err = st.FindProcessInstances(ctx)
	}
	if err != nil {
		return InstanceList{}, err
	}

	list := InstanceList{Instances: []InstanceView{}}
	for _, p := range logs {
		if opts.Process != "" && p.ProcessID != opts.Process {
			continue
		}
		if opts.Active && !p.Active() {
			continue
		}
		list.Instances = append(list.Instances, logView(p))
	}
	return list, nil
}

// NodeList is the result of the nodes command.
type NodeList struct {
	Nodes []NodeView `json:"nodes"`
}

func (l NodeList) renderText(w io.Writer) {
	for _, n := range l.Nodes {
		fmt.Fprintf(w, "%s  %-5s %s %s (%s)\n",
			n.Date.Format(time.RFC3339Nano), n.Type, n.NodeID, n.NodeName, n.NodeType)
	}
}

// NewNodesCommand creates the nodes command.
func NewNodesCommand(rootOpts *RootOptions) *cobra.Command {
	var nodeID string

	cmd := &cobra.Command{
		Use:   "nodes <instance-id>",
		Short: "List the node log of an instance",
		Long: `List the node entries and exits of an instance, oldest first.

Examples:
  procflow nodes 3
  procflow nodes 3 --node 4`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInstanceID(args[0])
			if err != nil {
				return err
			}
			return withStore(rootOpts, cmd, func(ctx context.Context, st *store.Store) (any, error) {
				var logs []ir.NodeInstanceLog
				if nodeID != "" {
					logs, err = st.FindNodeInstancesByNode(ctx, id, nodeID)
				} else {
					logs, err = st.FindNodeInstances(ctx, id)
				}
				if err != nil {
					return nil, err
				}
				return NodeList{Nodes: nodeViews(logs)}, nil
			})
		},
	}

	cmd.Flags().StringVar(&nodeID, "node", "", "only entries of this node id")

	return cmd
}

// VarsOptions holds flags for the vars command.
type VarsOptions struct {
	*RootOptions
	Name   string
	Value  string // JSON, compared in canonical form
	Active bool
}

// VariableList is the result of the vars command.
type VariableList struct {
	Variables []VariableView `json:"variables"`
}

func (l VariableList) renderText(w io.Writer) {
	for _, v := range l.Variables {
		fmt.Fprintf(w, "%s  instance %d  %s = %s\n",
			v.Date.Format(time.RFC3339Nano), v.InstanceID, v.VariableID, v.Value)
	}
}

// NewVarsCommand creates the vars command.
func NewVarsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VarsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "vars [instance-id]",
		Short: "List variable updates",
		Long: `List variable updates, oldest first.

With an instance id, lists the updates of that instance, optionally of
one variable. Without one, --name is required and the updates of that
variable across all instances are listed, optionally only those equal
to --value or belonging to active instances.

Examples:
  procflow vars 3
  procflow vars 3 --name payment
  procflow vars --name orderId --value '"A-1"' --active`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if len(args) == 1 {
				var err error
				if id, err = parseInstanceID(args[0]); err != nil {
					return err
				}
			}
			return runVars(opts, id, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "variable name")
	cmd.Flags().StringVar(&opts.Value, "value", "", "only updates to this JSON value")
	cmd.Flags().BoolVar(&opts.Active, "active", false, "only updates of active instances")

	return cmd
}

func runVars(opts *VarsOptions, id int64, cmd *cobra.Command) error {
	if id == 0 && opts.Name == "" {
		return NewExitError(ExitCommandError, "either an instance id or --name is required")
	}
	var canonical string
	if opts.Value != "" {
		v, err := ir.ParseValue([]byte(opts.Value))
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --value JSON", err)
		}
		if canonical, err = ir.CanonicalString(v); err != nil {
			return WrapExitError(ExitCommandError, "invalid --value JSON", err)
		}
	}

	return withStore(opts.RootOptions, cmd, func(ctx context.Context, st *store.Store) (any, error) {
		var (
			logs []ir.VariableInstanceLog
			err  error
		)
		switch {
		case id != 0 && opts.Name != "":
			logs, err = st.FindVariableInstancesByVariable(ctx, id, opts.Name)
		case id != 0:
			logs, err = st.FindVariableInstances(ctx, id)
		case opts.Value != "":
			logs, err = st.FindVariableInstancesByNameAndValue(ctx, opts.Name, canonical, opts.Active)
		default:
			logs, err = st.FindVariableInstancesByName(ctx, opts.Name, opts.Active)
		}
		if err != nil {
			return nil, err
		}
		if id != 0 && opts.Value != "" {
			logs = filterValue(logs, canonical)
		}
		return VariableList{Variables: variableViews(logs)}, nil
	})
}

func filterValue(logs []ir.VariableInstanceLog, value string) []ir.VariableInstanceLog {
	var out []ir.VariableInstanceLog
	for _, v := range logs {
		if v.Value == value {
			out = append(out, v)
		}
	}
	return out
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every audit record",
		Long: `Delete every process, node and variable log entry and every
pending callback. Requires --yes.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return NewExitError(ExitCommandError, "refusing to clear the audit log without --yes")
			}
			return withStore(rootOpts, cmd, func(ctx context.Context, st *store.Store) (any, error) {
				if err := st.Clear(ctx); err != nil {
					return nil, err
				}
				return "Audit log cleared.", nil
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deleting all records")

	return cmd
}

// withStore opens the audit store, runs fn and prints its result.
func withStore(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, st *store.Store) (any, error)) (err error) {
	ctx := cmd.Context()
	rt, err := openStore(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { err = rt.close(ctx, err) }()

	result, err := fn(ctx, rt.store)
	if err != nil {
		if GetExitCode(err) == ExitCommandError {
			return err
		}
		return WrapExitError(ExitCommandError, "audit query failed", err)
	}
	return newFormatter(opts, cmd).Success(result)
}
