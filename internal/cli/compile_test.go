package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const brokenDefinition = `package flows

process: broken: {
	initial: "a"
	states: a: {action: "x", next: "missing"}
}
`

func TestCompileValidDefinitions(t *testing.T) {
	out := mustExecute(t, "compile", processesDir(t))

	assert.Contains(t, out, "✓ Compiled 2 process(es)")
	assert.Contains(t, out, "order: ")
	assert.Contains(t, out, "  3 payment (event) event paid")
	assert.Contains(t, out, "  3 -> 4 when payment.ok")
	assert.Contains(t, out, "in body 1")
}

func TestCompileValidDefinitionsJSON(t *testing.T) {
	out := mustExecute(t, "compile", processesDir(t), "--format", "json")

	var result CompilationResult
	decodeData(t, out, &result)
	require.Len(t, result.Processes, 2)

	var order *GraphDef
	for i := range result.Processes {
		if result.Processes[i].ProcessID == "order" {
			order = &result.Processes[i]
		}
	}
	require.NotNil(t, order)
	assert.Equal(t, "Order fulfilment", order.Name)
	assert.Equal(t, 2, order.Containers, "root and the shipment callback body")
	require.Len(t, order.Nodes, 10)

	nodes := make(map[int64]NodeDef)
	for _, n := range order.Nodes {
		nodes[n.ID] = n
	}
	assert.Equal(t, NodeDef{ID: 1, Name: "Start", Type: "start"}, nodes[1])
	assert.Equal(t, "paid", nodes[3].Event)
	assert.Equal(t, "orderId", nodes[3].Correlate)
	assert.Equal(t, "payment", nodes[3].Output)
	require.NotNil(t, nodes[4].Body)
	assert.Equal(t, 1, *nodes[4].Body)
	assert.Equal(t, 1, nodes[6].Container)
}

func TestCompileOutputToFile(t *testing.T) {
	outputFile := filepath.Join(t.TempDir(), "graphs.json")

	out := mustExecute(t, "compile", processesDir(t), "-o", outputFile)
	assert.Contains(t, out, "Wrote graphs to "+outputFile)

	data, err := os.ReadFile(outputFile)
	require.NoError(t, err)

	var result CompilationResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Len(t, result.Processes, 2)
}

func TestCompileOutputUnwritable(t *testing.T) {
	outputFile := filepath.Join(t.TempDir(), "missing", "dir", "graphs.json")

	out, _, err := execute(t, "compile", processesDir(t), "-o", outputFile)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeWriteFailed)
}

func TestCompileInvalidDefinition(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.cue", brokenDefinition)

	out, _, err := execute(t, "compile", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "✗ Compilation failed")
	assert.Contains(t, out, "process.broken")
}

func TestCompileInvalidDefinitionJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.cue", brokenDefinition)

	out, _, err := execute(t, "compile", dir, "--format", "json")
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
}

func TestCompileMissingPath(t *testing.T) {
	out, _, err := execute(t, "compile", "/nonexistent/defs")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "definitions not found")
}
