package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/procflow/internal/compiler"
	"github.com/roach88/procflow/internal/graph"
)

// Compile error codes in addition to the compiler's load codes.
const (
	ErrCodeWriteFailed = "E010"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// NodeDef is the printed form of a graph node.
type NodeDef struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Container int    `json:"container"`
	Action    string `json:"action,omitempty"`
	Event     string `json:"event,omitempty"`
	Correlate string `json:"correlate,omitempty"`
	Output    string `json:"output,omitempty"`
	Terminate bool   `json:"terminate,omitempty"`
	Body      *int   `json:"body,omitempty"`
}

// ConnectionDef is the printed form of a graph connection.
type ConnectionDef struct {
	From      int64  `json:"from"`
	To        int64  `json:"to"`
	Condition string `json:"condition,omitempty"`
}

// GraphDef is the printed form of a compiled process.
type GraphDef struct {
	ProcessID   string          `json:"process_id"`
	Name        string          `json:"name,omitempty"`
	Containers  int             `json:"containers"`
	Nodes       []NodeDef       `json:"nodes"`
	Connections []ConnectionDef `json:"connections"`
}

// CompilationResult holds the compiled processes.
type CompilationResult struct {
	Processes []GraphDef              `json:"processes"`
	Warnings  []compiler.CycleWarning `json:"warnings,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <defs>",
		Short: "Compile process definitions to graphs",
		Long: `Compile CUE process definitions and print the resulting graphs:
every node with its globally unique id and container, and every
connection with its condition.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the graphs as JSON to this file")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	loadResult, loadErrors := compiler.Load(path, compiler.LoadModeCollectAll)
	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, path)

	result := &CompilationResult{Warnings: loadResult.Warnings}
	for _, g := range loadResult.Graphs {
		formatter.VerboseLog("Compiled process: %s", g.ProcessID())
		result.Processes = append(result.Processes, graphDef(g))
	}

	if opts.Output != "" {
		if err := writeGraphsToFile(result, opts.Output); err != nil {
			_ = formatter.Error(ErrCodeWriteFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, ErrCodeWriteFailed, err)
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	result.renderText(formatter.Writer)
	if opts.Output != "" {
		fmt.Fprintf(formatter.Writer, "Wrote graphs to %s\n", opts.Output)
	}
	return nil
}

func graphDef(g *graph.Graph) GraphDef {
	def := GraphDef{
		ProcessID:   g.ProcessID(),
		Name:        g.Name(),
		Containers:  g.ContainerCount(),
		Nodes:       []NodeDef{},
		Connections: []ConnectionDef{},
	}
	for _, n := range g.Nodes() {
		nd := NodeDef{
			ID:        n.ID,
			Name:      n.Name,
			Type:      n.Type.String(),
			Container: n.Container,
			Action:    n.Action,
			Event:     n.Event.Ref,
			Correlate: n.Event.CorrelationVar,
			Output:    n.Event.OutputVar,
			Terminate: n.Terminate,
		}
		if n.Type == graph.NodeComposite {
			body := n.Body
			nd.Body = &body
		}
		def.Nodes = append(def.Nodes, nd)

		for _, c := range g.Outgoing(n.ID) {
			def.Connections = append(def.Connections, ConnectionDef{From: c.From, To: c.To, Condition: c.Condition})
		}
	}
	return def
}

func (r *CompilationResult) renderText(w io.Writer) {
	fmt.Fprintf(w, "✓ Compiled %d process(es)\n", len(r.Processes))
	for _, p := range r.Processes {
		fmt.Fprintf(w, "\n%s: %d node(s), %d container(s)\n", p.ProcessID, len(p.Nodes), p.Containers)
		for _, n := range p.Nodes {
			fmt.Fprintf(w, "  %d %s (%s)", n.ID, n.Name, n.Type)
			if n.Container != 0 {
				fmt.Fprintf(w, " in body %d", n.Container)
			}
			switch {
			case n.Action != "":
				fmt.Fprintf(w, " action %s", n.Action)
			case n.Event != "":
				fmt.Fprintf(w, " event %s", n.Event)
			}
			fmt.Fprintln(w)
		}
		for _, c := range p.Connections {
			if c.Condition != "" {
				fmt.Fprintf(w, "  %d -> %d when %s\n", c.From, c.To, c.Condition)
			} else {
				fmt.Fprintf(w, "  %d -> %d\n", c.From, c.To)
			}
		}
	}
	for _, cw := range r.Warnings {
		fmt.Fprintf(w, "%s: %s\n", cw.Level, cw.Message)
	}
}

// outputCompileErrors outputs every load or compile error.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	failure := NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))

	issues := make([]ValidationIssue, len(errs))
	for i, err := range errs {
		issues[i] = toIssue(err)
	}

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: issues[0].Code, Message: issues[0].Message},
			Data:   issues, // Include all errors in data
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)
	for _, issue := range issues {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", issue.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}

	// Compilation errors are command-level errors (exit code 2)
	return failure
}

// writeGraphsToFile writes the compilation result as indented JSON.
func writeGraphsToFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling graphs: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}
