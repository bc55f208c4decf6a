package harness

import "github.com/roach88/stockline/internal/inventory"

// StepResult is the outcome of one executed step.
type StepResult struct {
	Action  string `json:"action"`
	Outcome string `json:"outcome"`
	Error   string `json:"-"`
}

// EventTrace is one journaled event.
type EventTrace struct {
	Event     string `json:"event"`
	ID        string `json:"id,omitempty"`
	Warehouse int64  `json:"warehouse"`
	Outcome   string `json:"outcome"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step met its expectation and every
	// assertion held.
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`

	Steps   []StepResult       `json:"steps"`
	Events  []EventTrace       `json:"events"`
	Records []inventory.Record `json:"records"`
	Ledger  int                `json:"ledger"`

	view *inventory.Snapshot
}

// NewResult creates a passing, empty result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Errors:  []string{},
		Steps:   []StepResult{},
		Events:  []EventTrace{},
		Records: []inventory.Record{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
