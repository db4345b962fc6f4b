package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// projectRoot returns the project root directory.
// Scenario definition paths are relative to it.
func projectRoot() string {
	// From internal/harness/, go up two levels to project root
	root, _ := filepath.Abs("../..")
	return root
}

// TestDemoScenarios runs the scenarios under testdata/scenarios and compares
// their trails with testdata/golden.
func TestDemoScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join(projectRoot(), "testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths, "no demo scenarios found")

	for _, path := range paths {
		scenario, err := LoadScenarioWithBasePath(path, projectRoot())
		require.NoError(t, err, "failed to load scenario from %s", path)

		t.Run(scenario.Name, func(t *testing.T) {
			assert.NotEmpty(t, scenario.Description, "scenario should have description")

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario failed: %v", result.Errors)
		})
	}
}
