package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scenarioDir = filepath.Join("..", "..", "testdata", "scenarios")

func loadRepoScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join(scenarioDir, name+".yaml"))
	require.NoError(t, err)
	return s
}

func requirePass(t *testing.T, r *Result) {
	t.Helper()
	require.True(t, r.Pass, "scenario failed:\n%s", strings.Join(r.Errors, "\n"))
}

func TestRun_RepositoryScenarios(t *testing.T) {
	files, err := ScenarioFiles(scenarioDir)
	require.NoError(t, err)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			s, err := LoadScenario(f)
			require.NoError(t, err)

			r, err := Run(s)
			require.NoError(t, err)
			requirePass(t, r)
		})
	}
}

func TestRun_TransferConfirmed(t *testing.T) {
	r, err := Run(loadRepoScenario(t, "transfer_confirmed"))
	require.NoError(t, err)
	requirePass(t, r)

	require.Len(t, r.Steps, 2)
	assert.Equal(t, OutcomeOK, r.Steps[0].Outcome)
	assert.Equal(t, OutcomeValidation, r.Steps[1].Outcome)
	assert.Contains(t, r.Steps[1].Error, "exceeds available")

	require.Len(t, r.Events, 1)
	assert.Equal(t, EventTrace{Event: "stock:transferred", ID: "evt-1", Warehouse: 1, Outcome: "echo"}, r.Events[0])
	assert.Len(t, r.Records, 2)
}

func TestRun_ChannelDropRecoversMissedEvents(t *testing.T) {
	r, err := Run(loadRepoScenario(t, "channel_drop"))
	require.NoError(t, err)
	requirePass(t, r)

	assert.Equal(t, 0, r.Ledger)
	for _, e := range r.Events {
		assert.NotEqual(t, "echo", e.Outcome, "no echo was delivered during the outage")
	}
}

func TestRun_StepExpectationMismatch(t *testing.T) {
	s := loadRepoScenario(t, "transfer_confirmed")
	s.Steps = s.Steps[:1]
	s.Steps[0].Expect = OutcomeServerRejected
	s.Assertions = []Assertion{{Type: AssertLedger}}

	r, err := Run(s)
	require.NoError(t, err)
	assert.False(t, r.Pass)
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0], "steps[0] transfer: expected server_rejected, got ok")
}

func TestRun_AssertionFailureReported(t *testing.T) {
	s := loadRepoScenario(t, "transfer_confirmed")
	s.Assertions = []Assertion{
		{Type: AssertRecord, Item: 7, Warehouse: 1, Expect: map[string]any{"qty": 20}},
		{Type: AssertCalls, Op: "transfer", Count: 1},
	}

	r, err := Run(s)
	require.NoError(t, err)
	assert.False(t, r.Pass)
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0], "assertions[0]")
	assert.Contains(t, r.Errors[0], "qty = 12")
}

func TestRun_SwitchWarehouse(t *testing.T) {
	s := loadRepoScenario(t, "other_warehouse")
	s.Steps = []Step{{Action: ActionSwitch, Warehouse: 2}}
	s.Assertions = []Assertion{
		{Type: AssertRecord, Item: 7, Warehouse: 2, Expect: map[string]any{"qty": 30}},
		{Type: AssertAbsent, Item: 7, Warehouse: 1},
		{Type: AssertAlert, Item: 7, Status: "ok"},
	}

	r, err := Run(s)
	require.NoError(t, err)
	requirePass(t, r)
}

func TestRun_SeedRejectsBadUnitCost(t *testing.T) {
	s := loadRepoScenario(t, "transfer_confirmed")
	s.Seed.Items[0].UnitCost = "cheap"

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed item 7")
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, OutcomeOK, outcomeOf(nil))
	assert.Equal(t, OutcomeError, outcomeOf(assert.AnError))
}
