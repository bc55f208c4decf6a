package harness

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarioFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o755))

	files, err := ScenarioFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yml"), filepath.Join(dir, "b.yaml")}, files)

	single, err := ScenarioFiles(filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
	assert.Len(t, single, 1)

	_, err = ScenarioFiles(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestRunSuite_Repository(t *testing.T) {
	res, err := RunSuite(scenarioDir, nil)
	require.NoError(t, err)

	assert.Positive(t, res.Total)
	assert.Equal(t, res.Total, res.Passed, "failures: %+v", res.Failures)
	assert.Zero(t, res.Failed)
}

func TestRunSuite_CollectsFailures(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_good.yaml"), []byte(minimalScenario), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_broken.yaml"), []byte("name: [\n"), 0o644))

	calls := 0
	res, err := RunSuite(dir, func(s *Scenario) (*Result, error) {
		calls++
		return nil, errors.New("boom")
	})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 0, res.Passed)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, "minimal", res.Failures[0].Scenario)
	assert.Contains(t, res.Failures[0].Error, "boom")
	assert.Empty(t, res.Failures[1].Scenario)
	assert.Contains(t, res.Failures[1].Error, "failed to load scenario")
}

func TestRunSuite_FailedResult(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "s.yaml"), []byte(minimalScenario), 0o644))

	res, err := RunSuite(dir, func(*Scenario) (*Result, error) {
		r := NewResult()
		r.AddError("first")
		r.AddError("second")
		return r, nil
	})
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "first; second", res.Failures[0].Error)
}
