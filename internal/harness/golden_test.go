package harness

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Regenerate with: go test ./internal/harness -run TestRunWithGolden -update
func TestRunWithGolden_TransferConfirmed(t *testing.T) {
	require.NoError(t, RunWithGolden(t, loadRepoScenario(t, "transfer_confirmed")))
}

func TestRunWithGolden_LostResponse(t *testing.T) {
	require.NoError(t, RunWithGolden(t, loadRepoScenario(t, "lost_response")))
}

func TestGolden_Deterministic(t *testing.T) {
	s := loadRepoScenario(t, "transfer_confirmed")

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := first.Golden(s.Name)
	require.NoError(t, err)
	b, err := second.Golden(s.Name)
	require.NoError(t, err)
	require.Equal(t, string(a), string(b))
}

func TestRunWithGolden_FailingScenario(t *testing.T) {
	s := loadRepoScenario(t, "transfer_confirmed")
	s.Assertions = []Assertion{{Type: AssertLedger, Count: 3}}

	err := RunWithGolden(t, s)
	require.Error(t, err)
	require.Contains(t, err.Error(), "scenario transfer_confirmed failed")
}
