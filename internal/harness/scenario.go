package harness

import (
	"bytes"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Scenario is one executable consistency scenario.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Warehouse is the warehouse the session opens on.
	Warehouse int64 `yaml:"warehouse"`

	Seed       Seed        `yaml:"seed"`
	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Seed is the server of record's initial state.
type Seed struct {
	Warehouses []SeedWarehouse `yaml:"warehouses"`
	Items      []SeedItem      `yaml:"items"`
	Stock      []SeedStock     `yaml:"stock,omitempty"`
}

type SeedWarehouse struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
}

type SeedItem struct {
	ID       int64  `yaml:"id"`
	Name     string `yaml:"name"`
	UnitCost string `yaml:"unit_cost,omitempty"`
}

type SeedStock struct {
	Item      int64 `yaml:"item"`
	Warehouse int64 `yaml:"warehouse"`
	Qty       int   `yaml:"qty"`
	Min       int   `yaml:"min"`
}

// Step is one action. Which fields apply depends on Action.
type Step struct {
	Action string `yaml:"action"`

	Item      int64  `yaml:"item,omitempty"`
	Warehouse int64  `yaml:"warehouse,omitempty"`
	From      int64  `yaml:"from,omitempty"`
	To        int64  `yaml:"to,omitempty"`
	Qty       int    `yaml:"qty,omitempty"`
	Min       int    `yaml:"min,omitempty"`
	Position  string `yaml:"position,omitempty"`

	// fail_next only.
	Op         string `yaml:"op,omitempty"`
	Error      string `yaml:"error,omitempty"`
	AfterApply bool   `yaml:"after_apply,omitempty"`

	// advance only, e.g. "45s".
	Duration string `yaml:"duration,omitempty"`

	// Expect is the expected outcome: ok (default), validation, network,
	// server_rejected or not_found.
	Expect string `yaml:"expect,omitempty"`
}

// Step actions.
const (
	ActionTransfer         = "transfer"
	ActionAdd              = "add"
	ActionUpdate           = "update"
	ActionRemove           = "remove"
	ActionSwitch           = "switch"
	ActionResync           = "resync"
	ActionRefreshAlerts    = "refresh_alerts"
	ActionExternalUpdate   = "external_update"
	ActionExternalTransfer = "external_transfer"
	ActionDisconnect       = "disconnect"
	ActionReconnect        = "reconnect"
	ActionFailNext         = "fail_next"
	ActionAdvance          = "advance"
)

// Step outcomes.
const (
	OutcomeOK             = "ok"
	OutcomeValidation     = "validation"
	OutcomeNetwork        = "network"
	OutcomeServerRejected = "server_rejected"
	OutcomeNotFound       = "not_found"
	OutcomeChannel        = "channel"
	OutcomeError          = "error"
)

// Assertion checks the state after the last step.
type Assertion struct {
	Type string `yaml:"type"`

	Item      int64 `yaml:"item,omitempty"`
	Warehouse int64 `yaml:"warehouse,omitempty"`

	// record: subset of the record's JSON fields (qty, min_qty, position,
	// inventory_id).
	Expect map[string]any `yaml:"expect,omitempty"`

	// alert: critical, warning or ok.
	Status string `yaml:"status,omitempty"`

	// calls: server op name. events: event type and outcome.
	Op      string `yaml:"op,omitempty"`
	Event   string `yaml:"event,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`

	Count int `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertRecord = "record"
	AssertAbsent = "absent"
	AssertAlert  = "alert"
	AssertCalls  = "calls"
	AssertLedger = "ledger"
	AssertEvents = "events"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Warehouse <= 0 {
		return fmt.Errorf("warehouse is required")
	}
	if len(s.Seed.Warehouses) == 0 {
		return fmt.Errorf("seed.warehouses must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, it := range s.Seed.Items {
		if it.UnitCost == "" {
			continue
		}
		if _, err := decimal.NewFromString(it.UnitCost); err != nil {
			return fmt.Errorf("seed.items[%d]: unit_cost %q: %w", i, it.UnitCost, err)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, st Step) error {
	switch st.Action {
	case ActionTransfer, ActionExternalTransfer:
		if st.Item == 0 || st.From == 0 || st.To == 0 {
			return fmt.Errorf("steps[%d]: %s requires item, from and to", i, st.Action)
		}
	case ActionAdd, ActionUpdate, ActionRemove, ActionExternalUpdate:
		if st.Item == 0 || st.Warehouse == 0 {
			return fmt.Errorf("steps[%d]: %s requires item and warehouse", i, st.Action)
		}
	case ActionSwitch:
		if st.Warehouse == 0 {
			return fmt.Errorf("steps[%d]: switch requires warehouse", i)
		}
	case ActionFailNext:
		if st.Op == "" {
			return fmt.Errorf("steps[%d]: fail_next requires op", i)
		}
		if st.Error != OutcomeNetwork && st.Error != OutcomeServerRejected {
			return fmt.Errorf("steps[%d]: fail_next error must be network or server_rejected, got %q", i, st.Error)
		}
	case ActionAdvance:
		if st.Duration == "" {
			return fmt.Errorf("steps[%d]: advance requires duration", i)
		}
	case ActionResync, ActionRefreshAlerts, ActionDisconnect, ActionReconnect:
	case "":
		return fmt.Errorf("steps[%d]: action is required", i)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", i, st.Action)
	}

	switch st.Expect {
	case "", OutcomeOK, OutcomeValidation, OutcomeNetwork, OutcomeServerRejected, OutcomeNotFound:
	default:
		return fmt.Errorf("steps[%d]: unknown expect %q", i, st.Expect)
	}
	return nil
}

func validateAssertion(i int, a Assertion) error {
	switch a.Type {
	case AssertRecord:
		if a.Item == 0 || a.Warehouse == 0 {
			return fmt.Errorf("assertions[%d]: record requires item and warehouse", i)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for record", i)
		}
	case AssertAbsent:
		if a.Item == 0 || a.Warehouse == 0 {
			return fmt.Errorf("assertions[%d]: absent requires item and warehouse", i)
		}
	case AssertAlert:
		if a.Item == 0 || a.Status == "" {
			return fmt.Errorf("assertions[%d]: alert requires item and status", i)
		}
	case AssertCalls:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for calls", i)
		}
	case AssertEvents:
		if a.Event == "" || a.Outcome == "" {
			return fmt.Errorf("assertions[%d]: events requires event and outcome", i)
		}
	case AssertLedger:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", i)
	}
	return nil
}
