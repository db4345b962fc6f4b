package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func projectRoot(t *testing.T) string {
	t.Helper()
	root, err := filepath.Abs(filepath.Join("..", ".."))
	require.NoError(t, err)
	return root
}

// copyScenario copies one of the shared scenarios into a fresh directory
// so golden files can be written next to it.
func copyScenario(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(projectRoot(t), "testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	dir := t.TempDir()
	writeFile(t, dir, name+".yaml", string(data))
	return dir
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, _, err := execute(t, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, _, err := execute(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandNonExistentBase(t *testing.T) {
	_, _, err := execute(t, "test", t.TempDir(), "--base", "/nonexistent/base")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base directory not found")
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	out := mustExecute(t, "test", t.TempDir())
	assert.Contains(t, out, "No scenarios found")

	out = mustExecute(t, "test", t.TempDir(), "--format", "json")
	var result TestResult
	decodeData(t, out, &result)
	assert.Zero(t, result.Total)
}

func TestTestCommandSharedScenarios(t *testing.T) {
	root := projectRoot(t)
	out := mustExecute(t, "test", filepath.Join(root, "testdata", "scenarios"), "--base", root)

	assert.Contains(t, out, "✓ order_paid")
	assert.Contains(t, out, "✓ approval_rework")
	assert.Contains(t, out, "0 failed")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommandFilterJSON(t *testing.T) {
	root := projectRoot(t)
	out := mustExecute(t, "test", filepath.Join(root, "testdata", "scenarios"),
		"--base", root, "--filter", "order_*", "--format", "json")

	var result TestResult
	decodeData(t, out, &result)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Passed)
	for _, s := range result.Scenarios {
		assert.True(t, strings.HasPrefix(s.Name, "order_"), s.Name)
	}
}

func TestTestCommandGoldenFiles(t *testing.T) {
	root := projectRoot(t)
	dir := copyScenario(t, "order_paid")
	golden := filepath.Join(dir, "golden", "order_paid.golden")

	out := mustExecute(t, "test", dir, "--base", root, "--update")
	assert.Contains(t, out, "✓ order_paid (golden updated)")

	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "scenario: order_paid\n"))

	mustExecute(t, "test", dir, "--base", root)

	require.NoError(t, os.WriteFile(golden, []byte("scenario: order_paid\nstep 1: tampered\n"), 0o644))
	out, _, err = execute(t, "test", dir, "--base", root)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Golden file mismatch")
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "name: [unterminated\n")

	out, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "1 failed")
}

func TestFindScenarioFiles(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test1.yaml"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test2.yml"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "ignore.txt"), []byte(""), 0o644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFindScenarioFilesWithFilter(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "order-paid.yaml"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "order-refund.yaml"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "approval-rework.yaml"), []byte(""), 0o644))

	files, err := findScenarioFiles(tmpDir, "order-*")
	require.NoError(t, err)
	assert.Len(t, files, 2)
	for _, f := range files {
		assert.True(t, strings.HasPrefix(filepath.Base(f), "order-"), f)
	}

	_, err = findScenarioFiles(tmpDir, "[")
	assert.Error(t, err)
}

func TestFindScenarioFilesSubdirectories(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "subdir")
	require.NoError(t, os.MkdirAll(subDir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "root.yaml"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "sub.yaml"), []byte(""), 0o644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestGoldenFilePath(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"/path/to/scenario.yaml", "/path/to/golden/scenario.golden"},
		{"/path/to/scenario.yml", "/path/to/golden/scenario.golden"},
		{"scenarios/test.yaml", "scenarios/golden/test.golden"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, goldenFilePath(tc.input))
	}
}
