package inventory

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Key identifies one record: an item stocked in one warehouse.
type Key struct {
	ItemID      int64
	WarehouseID int64
}

func (k Key) String() string {
	return fmt.Sprintf("item=%d/warehouse=%d", k.ItemID, k.WarehouseID)
}

// StockItem is the server-owned catalog entry for a stockable item.
type StockItem struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	CategoryID *int64          `json:"category_id,omitempty"`
	SupplierID *int64          `json:"supplier_id,omitempty"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	ImageURL   *string         `json:"image_url,omitempty"`
}

// Category groups stock items.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Supplier is the vendor a stock item is bought from.
type Supplier struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Warehouse is a physical storage location.
type Warehouse struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Active  bool   `json:"active"`
}

// Record is the quantity, threshold and position of one item in one warehouse.
type Record struct {
	ItemID      int64 `json:"item_id"`
	WarehouseID int64 `json:"warehouse_id"`
	Quantity    int   `json:"qty"`
	MinQuantity int   `json:"min_qty"`
	// Position is free text ("shelf B3"); empty when unset.
	Position string `json:"position,omitempty"`
	// InventoryID is the server row id, 0 when the record was created locally.
	InventoryID int64 `json:"inventory_id,omitempty"`
}

// Key returns the record's composite key.
func (r Record) Key() Key {
	return Key{ItemID: r.ItemID, WarehouseID: r.WarehouseID}
}

// Validate checks the non-negativity invariants.
func (r Record) Validate() error {
	if r.ItemID <= 0 || r.WarehouseID <= 0 {
		return NewValidationError("record", "item and warehouse ids are required", r.ItemID, r.WarehouseID)
	}
	if r.Quantity < 0 {
		return NewValidationError("record", fmt.Sprintf("quantity %d is negative", r.Quantity), r.ItemID, r.WarehouseID)
	}
	if r.MinQuantity < 0 {
		return NewValidationError("record", fmt.Sprintf("minimum quantity %d is negative", r.MinQuantity), r.ItemID, r.WarehouseID)
	}
	return nil
}

// Intent describes one stock movement between two warehouses.
// It only exists for the duration of a single transfer.
type Intent struct {
	ItemID   int64 `json:"item_id"`
	From     int64 `json:"from"`
	To       int64 `json:"to"`
	Quantity int   `json:"qty"`
}

func (i Intent) String() string {
	return fmt.Sprintf("item=%d %d->%d qty=%d", i.ItemID, i.From, i.To, i.Quantity)
}
