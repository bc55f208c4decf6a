package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/stockline/internal/canonical"
	"github.com/roach88/stockline/internal/inventory"
)

// GoldenSnapshot is the deterministic part of a run, serialized as
// canonical JSON for golden comparison.
//
// CRITICAL: nothing time- or id-dependent belongs here. Request ids are
// UUIDv7 and event ids come from the fake server's counter, so only the
// latter are included; wall-clock fields are never captured.
type GoldenSnapshot struct {
	Scenario string             `json:"scenario"`
	Steps    []StepResult       `json:"steps"`   // action and outcome class, error text excluded
	Events   []EventTrace       `json:"events"`  // in reconciliation order
	Records  []inventory.Record `json:"records"` // final store, sorted by key
	Ledger   int                `json:"ledger"`  // live echo expectations at the end
}

// Golden returns the canonical golden snapshot of a run.
func (r *Result) Golden(scenarioName string) ([]byte, error) {
	return canonical.Marshal(GoldenSnapshot{
		Scenario: scenarioName,
		Steps:    r.Steps,
		Events:   r.Events,
		Records:  r.Records,
		Ledger:   r.Ledger,
	})
}

// RunWithGolden executes a scenario, fails if it did not pass, and
// compares its golden snapshot with testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	if !result.Pass {
		return fmt.Errorf("scenario %s failed:\n%s", scenario.Name, strings.Join(result.Errors, "\n"))
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	body, err := result.Golden(scenarioName)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, body)
	return nil
}
