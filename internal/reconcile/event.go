package reconcile

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/stockline/internal/api"
	"github.com/roach88/stockline/internal/inventory"
)

// EventType names an authoritative event pushed by the server.
type EventType string

const (
	ItemCreated      EventType = "item:created"
	ItemUpdated      EventType = "item:updated"
	ItemDeleted      EventType = "item:deleted"
	CategoryCreated  EventType = "category:created"
	CategoryUpdated  EventType = "category:updated"
	CategoryDeleted  EventType = "category:deleted"
	SupplierCreated  EventType = "supplier:created"
	SupplierUpdated  EventType = "supplier:updated"
	SupplierDeleted  EventType = "supplier:deleted"
	InventoryUpdated EventType = "inventory:updated"
	InventoryDeleted EventType = "inventory:deleted"
	StockTransferred EventType = "stock:transferred"
)

// Envelope is one push-channel frame.
// ID is optional; when present the event is applied at most once.
type Envelope struct {
	Event EventType       `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a raw frame.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing event type")
	}
	return env, nil
}

// NewEnvelope builds an envelope around a payload.
func NewEnvelope(event EventType, id string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Envelope{Event: event, ID: id, Data: data}, nil
}

// ItemPayload is the data of item:created and item:updated.
// Warehouses is nil when the event carries no breakdown, which is
// different from an empty breakdown.
type ItemPayload struct {
	api.Item
	Warehouses *[]api.WarehouseStock `json:"warehouses"`
}

// IDPayload is the data of every *:deleted catalog event.
type IDPayload struct {
	ID int64 `json:"id"`
}

// NamedPayload is the data of category and supplier create/update events.
type NamedPayload struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// InventoryPayload is the data of inventory:updated and inventory:deleted.
type InventoryPayload struct {
	WarehouseID int64   `json:"warehouse_id"`
	StockItemID int64   `json:"stock_item_id"`
	Quantity    int     `json:"qty"`
	Position    *string `json:"position"`
	MinQuantity int     `json:"min_qty"`
	InventoryID int64   `json:"id,omitempty"`
}

// Record converts the payload to a store record.
func (p InventoryPayload) Record() inventory.Record {
	r := inventory.Record{
		ItemID:      p.StockItemID,
		WarehouseID: p.WarehouseID,
		Quantity:    p.Quantity,
		MinQuantity: p.MinQuantity,
		InventoryID: p.InventoryID,
	}
	if p.Position != nil {
		r.Position = *p.Position
	}
	return r
}

// TransferPayload is the data of stock:transferred. RequestID is the
// X-Request-ID of the originating request, empty when the server does not
// echo it.
type TransferPayload struct {
	FromWarehouseID int64  `json:"from_warehouse_id"`
	ToWarehouseID   int64  `json:"to_warehouse_id"`
	StockItemID     int64  `json:"stock_item_id"`
	Quantity        int    `json:"qty"`
	RequestID       string `json:"request_id,omitempty"`
}

// Intent returns the movement the event describes.
func (p TransferPayload) Intent() inventory.Intent {
	return inventory.Intent{
		ItemID:   p.StockItemID,
		From:     p.FromWarehouseID,
		To:       p.ToWarehouseID,
		Quantity: p.Quantity,
	}
}
