package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioFiles(t *testing.T) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	return files
}

func TestScenarios(t *testing.T) {
	for _, path := range scenarioFiles(t) {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, name, scenario.Name, "scenario name must match file name")

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestScenarios_Deterministic(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "duplicate_vehicle_request.yaml"))
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := Snapshot(scenario.Name, first)
	require.NoError(t, err)
	b, err := Snapshot(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	affected := 2
	scenario := &Scenario{
		Name:        "expect_mismatch",
		Description: "An expect clause that does not hold fails the run",
		Sessions:    []string{"valet-x"},
		Flow: []FlowStep{
			{
				As:     "valet-x",
				Do:     "accept_entry",
				Args:   map[string]any{"stay_id": "stay-101"},
				Expect: &ExpectClause{State: "ROLLED_BACK", Affected: &affected},
			},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Action: "accept_entry", Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], `expected state "ROLLED_BACK", got "COMMITTED"`)
	assert.Contains(t, result.Errors[1], "expected affected 2, got 1")
}

func TestRun_AssertionFailureFails(t *testing.T) {
	scenario := &Scenario{
		Name:        "assertion_failure",
		Description: "A failing final_state assertion fails the run",
		Sessions:    []string{"valet-x"},
		Flow: []FlowStep{
			{As: "valet-x", Do: "accept_entry", Args: map[string]any{"stay_id": "stay-101"}},
		},
		Assertions: []Assertion{
			{
				Type:   AssertFinalState,
				Table:  "room_stays",
				Where:  map[string]any{"id": "stay-101"},
				Expect: map[string]any{"entry_valet_id": "valet-y"},
			},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "entry_valet_id")
}

func TestRun_UnknownEmployee(t *testing.T) {
	scenario := &Scenario{
		Name:        "unknown_employee",
		Description: "Signing in a missing employee aborts the run",
		Sessions:    []string{"nobody"},
		Flow:        []FlowStep{{Do: StepAdvance, Args: map[string]any{"by": "1s"}}},
		Assertions:  []Assertion{{Type: AssertTraceCount, Action: StepAdvance, Count: 1}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nobody")
}

func TestRun_BadDuration(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad_duration",
		Description: "An unparseable advance aborts the run",
		Sessions:    []string{"valet-x"},
		Flow:        []FlowStep{{Do: StepAdvance, Args: map[string]any{"by": "soon"}}},
		Assertions:  []Assertion{{Type: AssertTraceCount, Action: StepAdvance, Count: 1}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flow[0] advance")
}

func TestRun_ForegroundToastCount(t *testing.T) {
	scenario := &Scenario{
		Name:        "toast_visible",
		Description: "A fresh notification stays on screen until it times out",
		Sessions:    []string{"valet-y"},
		Flow: []FlowStep{
			{Do: StepNotify, Args: map[string]any{"user": "valet-y", "type": "NEW_ENTRY", "stay_id": "stay-101"}},
		},
		Assertions: []Assertion{
			{Type: AssertToastCount, User: "valet-y", Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, "TOAST", result.Trace[0].Decision)
	assert.Equal(t, 1, result.Trace[0].Toasts)
}

func TestGoldenFilesHaveScenarios(t *testing.T) {
	golden, err := filepath.Glob(filepath.Join("testdata", "golden", "*.golden"))
	require.NoError(t, err)

	for _, path := range golden {
		name := strings.TrimSuffix(filepath.Base(path), ".golden")
		_, err := os.Stat(filepath.Join("testdata", "scenarios", name+".yaml"))
		assert.NoError(t, err, "golden file %s has no scenario", name)
	}
}
