package api

import (
	"github.com/shopspring/decimal"

	"github.com/roach88/stockline/internal/inventory"
)

// WarehouseStock is one row of an item's per-warehouse breakdown.
type WarehouseStock struct {
	WarehouseID int64   `json:"warehouse_id"`
	Quantity    int     `json:"qty"`
	MinQuantity int     `json:"min_qty"`
	Position    *string `json:"position"`
	InventoryID int64   `json:"inventory_id"`
}

// Record converts the row to an inventory record of itemID.
func (w WarehouseStock) Record(itemID int64) inventory.Record {
	r := inventory.Record{
		ItemID:      itemID,
		WarehouseID: w.WarehouseID,
		Quantity:    w.Quantity,
		MinQuantity: w.MinQuantity,
		InventoryID: w.InventoryID,
	}
	if w.Position != nil {
		r.Position = *w.Position
	}
	return r
}

// Item is a stock item as served by the items endpoints. Warehouses is the
// full breakdown on the detail endpoint and the requested warehouse's row
// (if stocked) on the list endpoint.
type Item struct {
	ID         int64            `json:"id"`
	Name       string           `json:"name"`
	CategoryID *int64           `json:"category_id"`
	SupplierID *int64           `json:"supplier_id"`
	UnitCost   decimal.Decimal  `json:"unit_cost"`
	ImageURL   *string          `json:"image_url"`
	Warehouses []WarehouseStock `json:"warehouses,omitempty"`
}

// StockItem converts the non-warehouse fields.
func (it Item) StockItem() inventory.StockItem {
	return inventory.StockItem{
		ID:         it.ID,
		Name:       it.Name,
		CategoryID: it.CategoryID,
		SupplierID: it.SupplierID,
		UnitCost:   it.UnitCost,
		ImageURL:   it.ImageURL,
	}
}

// Stock returns the breakdown row for warehouseID.
func (it Item) Stock(warehouseID int64) (WarehouseStock, bool) {
	for _, w := range it.Warehouses {
		if w.WarehouseID == warehouseID {
			return w, true
		}
	}
	return WarehouseStock{}, false
}

// Warehouse is a storage location.
type Warehouse struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	IsActive bool   `json:"is_active"`
}

// Warehouse converts to the domain type.
func (w Warehouse) Warehouse() inventory.Warehouse {
	return inventory.Warehouse{ID: w.ID, Name: w.Name, Address: w.Address, Active: w.IsActive}
}

// WarehouseInput is the body of warehouse create/update.
type WarehouseInput struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	IsActive bool   `json:"is_active"`
}

// InventoryRow is a single (item, warehouse) inventory record.
type InventoryRow struct {
	ID          int64   `json:"id"`
	StockItemID int64   `json:"stock_item_id"`
	WarehouseID int64   `json:"warehouse_id"`
	Quantity    int     `json:"qty"`
	MinQuantity int     `json:"min_qty"`
	Position    *string `json:"position"`
}

// Record converts the row to the domain type.
func (r InventoryRow) Record() inventory.Record {
	rec := inventory.Record{
		ItemID:      r.StockItemID,
		WarehouseID: r.WarehouseID,
		Quantity:    r.Quantity,
		MinQuantity: r.MinQuantity,
		InventoryID: r.ID,
	}
	if r.Position != nil {
		rec.Position = *r.Position
	}
	return rec
}

// InventoryInput is the body of inventory create/update.
type InventoryInput struct {
	StockItemID int64   `json:"stock_item_id,omitempty"`
	WarehouseID int64   `json:"warehouse_id,omitempty"`
	Quantity    int     `json:"qty"`
	MinQuantity int     `json:"min_qty"`
	Position    *string `json:"position"`
}

// TransferRequest describes one atomic server-side stock movement.
type TransferRequest struct {
	ItemID          int64 `json:"item_id"`
	FromWarehouseID int64 `json:"from_warehouse_id"`
	ToWarehouseID   int64 `json:"to_warehouse_id"`
	Quantity        int   `json:"qty"`

	// RequestID is sent as X-Request-ID, not in the body. The server
	// echoes it in the resulting stock:transferred event.
	RequestID string `json:"-"`
}

// NewTransferRequest builds the request for an intent.
func NewTransferRequest(in inventory.Intent) TransferRequest {
	return TransferRequest{
		ItemID:          in.ItemID,
		FromWarehouseID: in.From,
		ToWarehouseID:   in.To,
		Quantity:        in.Quantity,
	}
}

// Category is a catalog category.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Supplier is a catalog supplier.
type Supplier struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// errorBody is the server's failure payload.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StringPtr returns a pointer to v, nil for the empty string.
func StringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
