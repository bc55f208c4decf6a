package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/stockline/internal/alert"
	"github.com/roach88/stockline/internal/testutil"
)

// AssertionContext provides what assertions query besides the result.
type AssertionContext struct {
	Server *testutil.FakeServer
	Ctx    context.Context
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Steps    []StepResult
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Steps) > 0 {
		fmt.Fprintf(&buf, "\nSteps:\n")
		for i, st := range e.Steps {
			fmt.Fprintf(&buf, "  [%d] %s -> %s\n", i+1, st.Action, st.Outcome)
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertRecord:
		return assertRecord(result, a)
	case AssertAbsent:
		return assertAbsent(result, a)
	case AssertAlert:
		return assertAlert(result, a)
	case AssertCalls:
		return assertCalls(result, a, actx)
	case AssertLedger:
		return assertLedger(result, a)
	case AssertEvents:
		return assertEvents(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertRecord compares the expected fields of a record (subset match).
func assertRecord(result *Result, a Assertion) error {
	r, ok := result.view.Get(a.Item, a.Warehouse)
	if !ok {
		return &AssertionError{
			Type:     AssertRecord,
			Expected: fmt.Sprintf("record for item %d in warehouse %d", a.Item, a.Warehouse),
			Actual:   "no record",
			Steps:    result.Steps,
		}
	}

	fields, err := toFields(r)
	if err != nil {
		return err
	}

	for _, key := range sortedKeys(a.Expect) {
		want := a.Expect[key]
		got, exists := fields[key]
		if !exists && isZero(want) {
			continue
		}
		if !valuesEqual(want, got) {
			return &AssertionError{
				Type:     AssertRecord,
				Expected: fmt.Sprintf("%s = %v for item %d in warehouse %d", key, want, a.Item, a.Warehouse),
				Actual:   fmt.Sprintf("%s = %v", key, got),
				Steps:    result.Steps,
			}
		}
	}
	return nil
}

func assertAbsent(result *Result, a Assertion) error {
	if r, ok := result.view.Get(a.Item, a.Warehouse); ok {
		return &AssertionError{
			Type:     AssertAbsent,
			Expected: fmt.Sprintf("no record for item %d in warehouse %d", a.Item, a.Warehouse),
			Actual:   fmt.Sprintf("qty=%d min_qty=%d", r.Quantity, r.MinQuantity),
			Steps:    result.Steps,
		}
	}
	return nil
}

// assertAlert checks the derived status. Warehouse defaults to the one in
// view.
func assertAlert(result *Result, a Assertion) error {
	want, err := alert.ParseStatus(a.Status)
	if err != nil {
		return err
	}

	wh := a.Warehouse
	if wh == 0 {
		wh = result.view.ActiveWarehouse
	}
	r, ok := result.view.Get(a.Item, wh)
	if !ok {
		return &AssertionError{
			Type:     AssertAlert,
			Expected: fmt.Sprintf("%s alert for item %d in warehouse %d", want, a.Item, wh),
			Actual:   "no record",
			Steps:    result.Steps,
		}
	}
	if got := alert.Classify(r.Quantity, r.MinQuantity); got != want {
		return &AssertionError{
			Type:     AssertAlert,
			Expected: fmt.Sprintf("%s alert for item %d in warehouse %d", want, a.Item, wh),
			Actual:   fmt.Sprintf("%s (qty=%d min_qty=%d)", got, r.Quantity, r.MinQuantity),
			Steps:    result.Steps,
		}
	}
	return nil
}

func assertCalls(result *Result, a Assertion, actx *AssertionContext) error {
	got := actx.Server.Calls(a.Op)
	if got != a.Count {
		return &AssertionError{
			Type:     AssertCalls,
			Expected: fmt.Sprintf("%d calls of %q", a.Count, a.Op),
			Actual:   fmt.Sprintf("%d calls", got),
			Steps:    result.Steps,
		}
	}
	return nil
}

func assertLedger(result *Result, a Assertion) error {
	if result.Ledger != a.Count {
		return &AssertionError{
			Type:     AssertLedger,
			Expected: fmt.Sprintf("%d pending echo expectations", a.Count),
			Actual:   fmt.Sprintf("%d pending", result.Ledger),
			Steps:    result.Steps,
		}
	}
	return nil
}

func assertEvents(result *Result, a Assertion) error {
	got := 0
	for _, e := range result.Events {
		if e.Event == a.Event && e.Outcome == a.Outcome {
			got++
		}
	}
	if got != a.Count {
		return &AssertionError{
			Type:     AssertEvents,
			Expected: fmt.Sprintf("%d %s events with outcome %s", a.Count, a.Event, a.Outcome),
			Actual:   fmt.Sprintf("%d", got),
			Steps:    result.Steps,
		}
	}
	return nil
}

// toFields flattens v to its JSON object fields.
func toFields(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// valuesEqual compares a YAML-decoded expectation with a JSON-decoded
// value. Numbers compare by value whatever their Go type.
func valuesEqual(want, got any) bool {
	wf, wok := toFloat(want)
	gf, gok := toFloat(got)
	if wok && gok {
		return wf == gf
	}
	return reflect.DeepEqual(want, got)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func isZero(v any) bool {
	if f, ok := toFloat(v); ok {
		return f == 0
	}
	return v == nil || v == ""
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
