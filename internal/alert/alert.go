// Package alert derives low-stock status from inventory records.
//
// Evaluation is a pure projection: no state, deterministic output order.
// The cross-warehouse summary is never recomputed locally; the server's
// precomputed list is held verbatim by Summary.
package alert

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/roach88/stockline/internal/inventory"
)

// WarningMargin bounds the warning band: quantities strictly below
// minimum+WarningMargin warn.
const WarningMargin = 5

// Status is the derived alert classification of a record.
type Status int

const (
	// Ok means quantity >= minimum + WarningMargin.
	Ok Status = iota
	// Warning means minimum < quantity < minimum + WarningMargin.
	Warning
	// Critical means quantity <= minimum.
	Critical
)

func (s Status) String() string {
	switch s {
	case Critical:
		return "critical"
	case Warning:
		return "warning"
	case Ok:
		return "ok"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStatus parses "critical", "warning" or "ok".
func ParseStatus(v string) (Status, error) {
	switch v {
	case "critical":
		return Critical, nil
	case "warning":
		return Warning, nil
	case "ok":
		return Ok, nil
	default:
		return Ok, fmt.Errorf("unknown alert status %q", v)
	}
}

// Classify returns the status for a quantity against its minimum.
// Critical is checked first so it wins whenever both thresholds hold.
func Classify(quantity, minimum int) Status {
	switch {
	case quantity <= minimum:
		return Critical
	case quantity < minimum+WarningMargin:
		return Warning
	default:
		return Ok
	}
}

// Alert is the status of one (item, warehouse) record.
type Alert struct {
	ItemID      int64  `json:"item_id"`
	WarehouseID int64  `json:"warehouse_id"`
	Status      Status `json:"status"`
}

// Evaluate projects records to alerts ordered by item then warehouse.
func Evaluate(records []inventory.Record) []Alert {
	out := make([]Alert, 0, len(records))
	for _, r := range records {
		out = append(out, Alert{
			ItemID:      r.ItemID,
			WarehouseID: r.WarehouseID,
			Status:      Classify(r.Quantity, r.MinQuantity),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].WarehouseID < out[j].WarehouseID
	})
	return out
}

// ForWarehouse evaluates the records of the snapshot's active warehouse.
func ForWarehouse(snap *inventory.Snapshot) []Alert {
	return Evaluate(snap.Records(snap.ActiveWarehouse))
}

// Counts tallies alerts per status.
type Counts struct {
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	Ok       int `json:"ok"`
}

// Count tallies a list of alerts.
func Count(alerts []Alert) Counts {
	var c Counts
	for _, a := range alerts {
		switch a.Status {
		case Critical:
			c.Critical++
		case Warning:
			c.Warning++
		default:
			c.Ok++
		}
	}
	return c
}

// ServerAlert is one entry of the server's precomputed alert list.
type ServerAlert struct {
	Item          string `json:"item"`
	WarehouseName string `json:"warehouse_name"`
	Quantity      int    `json:"qty"`
	MinQuantity   int    `json:"min_qty"`
	Status        Status `json:"status"`
}

// Summary holds the latest server-provided cross-warehouse alert list.
// Safe for concurrent use.
type Summary struct {
	current atomic.Pointer[[]ServerAlert]
}

// Set replaces the stored list. The slice is copied.
func (s *Summary) Set(alerts []ServerAlert) {
	cp := make([]ServerAlert, len(alerts))
	copy(cp, alerts)
	s.current.Store(&cp)
}

// Get returns the stored list, nil if none was ever set.
func (s *Summary) Get() []ServerAlert {
	p := s.current.Load()
	if p == nil {
		return nil
	}
	return *p
}
