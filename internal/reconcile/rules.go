package reconcile

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/stockline/internal/inventory"
)

// Outcome reports what a rule did with an event.
type Outcome string

const (
	// Applied: the store changed or was confirmed.
	Applied Outcome = "applied"
	// Ignored: the event concerns a warehouse outside the view.
	Ignored Outcome = "ignored"
	// Echo: the event describes an own transfer already reflected.
	Echo Outcome = "echo"
	// Duplicate: the event id was already applied.
	Duplicate Outcome = "duplicate"
	// Unknown: no rule exists for the event type.
	Unknown Outcome = "unknown"
)

// State is what a rule may read and mutate.
type State struct {
	Store  *inventory.Store
	Ledger *Ledger
}

// Rule merges one event's data into the store.
// Rules run on the mutation loop, are independent of each other, and are
// safe to apply to a replayed event.
type Rule func(st State, data json.RawMessage) (Outcome, error)

// Rules is the dispatch table keyed by event type.
var Rules = map[EventType]Rule{
	ItemCreated:      applyItem,
	ItemUpdated:      applyItem,
	ItemDeleted:      deleteItem,
	CategoryCreated:  putCategory,
	CategoryUpdated:  putCategory,
	CategoryDeleted:  deleteCategory,
	SupplierCreated:  putSupplier,
	SupplierUpdated:  putSupplier,
	SupplierDeleted:  deleteSupplier,
	InventoryUpdated: updateInventory,
	InventoryDeleted: deleteInventory,
	StockTransferred: applyTransfer,
}

func decode(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// applyItem replaces the item's non-warehouse fields. When the event
// carries a breakdown, the viewed warehouse's record is replaced by its
// row, or removed if the row is absent.
func applyItem(st State, data json.RawMessage) (Outcome, error) {
	var p ItemPayload
	if err := decode(data, &p); err != nil {
		return "", err
	}
	if p.ID <= 0 {
		return "", fmt.Errorf("item event without id")
	}

	var err error
	st.Store.Batch(func() {
		st.Store.PutItem(p.StockItem())
		if p.Warehouses == nil {
			return
		}

		active := st.Store.ActiveWarehouse()
		if active == 0 {
			return
		}
		for _, w := range *p.Warehouses {
			if w.WarehouseID == active {
				err = st.Store.Upsert(w.Record(p.ID))
				return
			}
		}
		st.Store.Remove(p.ID, active)
	})
	if err != nil {
		return "", err
	}
	return Applied, nil
}

func deleteItem(st State, data json.RawMessage) (Outcome, error) {
	var p IDPayload
	if err := decode(data, &p); err != nil {
		return "", err
	}
	st.Store.RemoveItem(p.ID)
	return Applied, nil
}

func putCategory(st State, data json.RawMessage) (Outcome, error) {
	var p NamedPayload
	if err := decode(data, &p); err != nil {
		return "", err
	}
	st.Store.PutCategory(inventory.Category{ID: p.ID, Name: p.Name})
	return Applied, nil
}

func deleteCategory(st State, data json.RawMessage) (Outcome, error) {
	var p IDPayload
	if err := decode(data, &p); err != nil {
		return "", err
	}
	st.Store.RemoveCategory(p.ID)
	return Applied, nil
}

func putSupplier(st State, data json.RawMessage) (Outcome, error) {
	var p NamedPayload
	if err := decode(data, &p); err != nil {
		return "", err
	}
	st.Store.PutSupplier(inventory.Supplier{ID: p.ID, Name: p.Name})
	return Applied, nil
}

func deleteSupplier(st State, data json.RawMessage) (Outcome, error) {
	var p IDPayload
	if err := decode(data, &p); err != nil {
		return "", err
	}
	st.Store.RemoveSupplier(p.ID)
	return Applied, nil
}

// updateInventory replaces the record, for the viewed warehouse only.
// Other warehouses reach the view through item events.
func updateInventory(st State, data json.RawMessage) (Outcome, error) {
	var p InventoryPayload
	if err := decode(data, &p); err != nil {
		return "", err
	}
	if p.WarehouseID != st.Store.ActiveWarehouse() {
		return Ignored, nil
	}

	rec := p.Record()
	if rec.InventoryID == 0 {
		if prev, ok := st.Store.Get(rec.ItemID, rec.WarehouseID); ok {
			rec.InventoryID = prev.InventoryID
		}
	}
	if err := st.Store.Upsert(rec); err != nil {
		return "", err
	}
	return Applied, nil
}

func deleteInventory(st State, data json.RawMessage) (Outcome, error) {
	var p InventoryPayload
	if err := decode(data, &p); err != nil {
		return "", err
	}
	if p.WarehouseID != st.Store.ActiveWarehouse() {
		return Ignored, nil
	}
	st.Store.Remove(p.StockItemID, p.WarehouseID)
	return Applied, nil
}

// applyTransfer subtracts from the viewed source or adds to the viewed
// destination. An own transfer's echo is consumed from the ledger and
// skipped.
func applyTransfer(st State, data json.RawMessage) (Outcome, error) {
	var p TransferPayload
	if err := decode(data, &p); err != nil {
		return "", err
	}
	if p.Quantity <= 0 {
		return "", fmt.Errorf("transfer event with non-positive qty %d", p.Quantity)
	}

	if st.Ledger != nil && st.Ledger.ConsumeRequest(p.Intent(), p.RequestID) {
		return Echo, nil
	}

	switch st.Store.ActiveWarehouse() {
	case p.FromWarehouseID:
		st.Store.ApplyDelta(p.StockItemID, p.FromWarehouseID, -p.Quantity)
	case p.ToWarehouseID:
		st.Store.ApplyDelta(p.StockItemID, p.ToWarehouseID, p.Quantity)
	default:
		return Ignored, nil
	}
	return Applied, nil
}
