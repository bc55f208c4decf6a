package testutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/roach88/stockline/internal/alert"
	"github.com/roach88/stockline/internal/api"
	"github.com/roach88/stockline/internal/inventory"
	"github.com/roach88/stockline/internal/reconcile"
)

// Operation names, matching the op of errors returned by api.Client.
const (
	OpListItems       = "list items"
	OpGetItem         = "get item"
	OpListWarehouses  = "list warehouses"
	OpGetInventory    = "get inventory"
	OpCreateInventory = "create inventory"
	OpUpdateInventory = "update inventory"
	OpDeleteInventory = "delete inventory"
	OpTransfer        = "transfer"
	OpListAlerts      = "list alerts"
)

// ErrConnectionReset is the cause of injected network failures.
var ErrConnectionReset = errors.New("connection reset by peer")

// FakeServer is an in-memory server of record.
//
// It implements the backend interfaces of the transfer and session
// packages, broadcasts authoritative events to a sink the way the real
// server pushes them over the channel, and supports failure injection.
//
// Thread-safety: safe for concurrent use. The sink and hooks are called
// without the internal lock held.
type FakeServer struct {
	mu         sync.Mutex
	items      map[int64]api.Item
	warehouses map[int64]api.Warehouse
	rows       map[inventory.Key]api.InventoryRow
	nextRowID  int64
	eventSeq   int

	sink       func(reconcile.Envelope)
	requestIDs *SequenceGenerator
	calls      map[string]int
	failures   map[string][]failure
	hooks      map[string][]func()
}

type failure struct {
	err        error
	afterApply bool
}

// NewFakeServer creates an empty server.
func NewFakeServer() *FakeServer {
	return &FakeServer{
		items:      make(map[int64]api.Item),
		warehouses: make(map[int64]api.Warehouse),
		rows:       make(map[inventory.Key]api.InventoryRow),
		nextRowID:  1,
		requestIDs: NewSequenceGenerator("fake-transfer"),
		calls:      make(map[string]int),
		failures:   make(map[string][]failure),
		hooks:      make(map[string][]func()),
	}
}

// SetSink installs the event broadcast target. nil disables broadcasting.
func (f *FakeServer) SetSink(sink func(reconcile.Envelope)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sink = sink
}

// AddWarehouse seeds a warehouse.
func (f *FakeServer) AddWarehouse(id int64, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warehouses[id] = api.Warehouse{ID: id, Name: name, IsActive: true}
}

// AddItem seeds an item. Its Warehouses field is ignored.
func (f *FakeServer) AddItem(it api.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it.Warehouses = nil
	f.items[it.ID] = it
}

// SetStock seeds or overwrites a stock row without broadcasting.
func (f *FakeServer) SetStock(itemID, warehouseID int64, qty, minQty int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putRow(itemID, warehouseID, qty, minQty, nil)
}

// Stock returns the server's row for (itemID, warehouseID).
func (f *FakeServer) Stock(itemID, warehouseID int64) (inventory.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[inventory.Key{ItemID: itemID, WarehouseID: warehouseID}]
	return row.Record(), ok
}

// FailNext makes the next call of op fail with err before any effect.
func (f *FakeServer) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], failure{err: err})
}

// FailNextAfterApply makes the next call of op take effect, broadcast, and
// then report err, like a response lost on the way back.
func (f *FakeServer) FailNextAfterApply(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], failure{err: err, afterApply: true})
}

// Before runs fn once, before the next call of op takes effect.
func (f *FakeServer) Before(op string, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[op] = append(f.hooks[op], fn)
}

// Calls returns how many times op was invoked.
func (f *FakeServer) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// ListItems returns every item with the warehouse's row when stocked.
func (f *FakeServer) ListItems(_ context.Context, warehouseID int64) ([]api.Item, error) {
	if err := f.begin(OpListItems); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]api.Item, 0, len(f.items))
	for _, id := range sortedIDs(f.items) {
		it := f.items[id]
		if row, ok := f.rows[inventory.Key{ItemID: id, WarehouseID: warehouseID}]; ok {
			it.Warehouses = []api.WarehouseStock{stockOf(row)}
		}
		out = append(out, it)
	}
	return out, nil
}

// GetItem returns the item with its full breakdown.
func (f *FakeServer) GetItem(_ context.Context, itemID int64) (api.Item, error) {
	if err := f.begin(OpGetItem); err != nil {
		return api.Item{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.detail(itemID)
	if !ok {
		return api.Item{}, inventory.NewServerError(OpGetItem, http.StatusNotFound, "item not found")
	}
	return it, nil
}

// ListWarehouses returns every warehouse ordered by id.
func (f *FakeServer) ListWarehouses(_ context.Context) ([]api.Warehouse, error) {
	if err := f.begin(OpListWarehouses); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]api.Warehouse, 0, len(f.warehouses))
	for _, id := range sortedIDs(f.warehouses) {
		out = append(out, f.warehouses[id])
	}
	return out, nil
}

// GetInventory returns one row.
func (f *FakeServer) GetInventory(_ context.Context, itemID, warehouseID int64) (api.InventoryRow, error) {
	if err := f.begin(OpGetInventory); err != nil {
		return api.InventoryRow{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[inventory.Key{ItemID: itemID, WarehouseID: warehouseID}]
	if !ok {
		return api.InventoryRow{}, inventory.NewServerError(OpGetInventory, http.StatusNotFound, "inventory not found")
	}
	return row, nil
}

// CreateInventory stocks an item in a warehouse and broadcasts inventory:updated.
func (f *FakeServer) CreateInventory(_ context.Context, in api.InventoryInput) (api.InventoryRow, error) {
	return mutate(f, OpCreateInventory, func() (api.InventoryRow, []reconcile.Envelope, error) {
		if _, ok := f.items[in.StockItemID]; !ok {
			return api.InventoryRow{}, nil, inventory.NewServerError(OpCreateInventory, http.StatusNotFound, "item not found")
		}
		if _, ok := f.warehouses[in.WarehouseID]; !ok {
			return api.InventoryRow{}, nil, inventory.NewServerError(OpCreateInventory, http.StatusNotFound, "warehouse not found")
		}
		if _, ok := f.rows[inventory.Key{ItemID: in.StockItemID, WarehouseID: in.WarehouseID}]; ok {
			return api.InventoryRow{}, nil, inventory.NewServerError(OpCreateInventory, http.StatusConflict, "already stocked")
		}
		if err := checkInput(OpCreateInventory, in); err != nil {
			return api.InventoryRow{}, nil, err
		}
		row := f.putRow(in.StockItemID, in.WarehouseID, in.Quantity, in.MinQuantity, in.Position)
		return row, []reconcile.Envelope{f.inventoryEvent(reconcile.InventoryUpdated, row)}, nil
	})
}

// UpdateInventory replaces a row's quantity, minimum and position and
// broadcasts inventory:updated.
func (f *FakeServer) UpdateInventory(_ context.Context, itemID, warehouseID int64, in api.InventoryInput) (api.InventoryRow, error) {
	return mutate(f, OpUpdateInventory, func() (api.InventoryRow, []reconcile.Envelope, error) {
		if _, ok := f.rows[inventory.Key{ItemID: itemID, WarehouseID: warehouseID}]; !ok {
			return api.InventoryRow{}, nil, inventory.NewServerError(OpUpdateInventory, http.StatusNotFound, "inventory not found")
		}
		if err := checkInput(OpUpdateInventory, in); err != nil {
			return api.InventoryRow{}, nil, err
		}
		row := f.putRow(itemID, warehouseID, in.Quantity, in.MinQuantity, in.Position)
		return row, []reconcile.Envelope{f.inventoryEvent(reconcile.InventoryUpdated, row)}, nil
	})
}

// DeleteInventory removes a row and broadcasts inventory:deleted.
func (f *FakeServer) DeleteInventory(_ context.Context, itemID, warehouseID int64) error {
	_, err := mutate(f, OpDeleteInventory, func() (struct{}, []reconcile.Envelope, error) {
		k := inventory.Key{ItemID: itemID, WarehouseID: warehouseID}
		row, ok := f.rows[k]
		if !ok {
			return struct{}{}, nil, inventory.NewServerError(OpDeleteInventory, http.StatusNotFound, "inventory not found")
		}
		delete(f.rows, k)
		return struct{}{}, []reconcile.Envelope{f.inventoryEvent(reconcile.InventoryDeleted, row)}, nil
	})
	return err
}

// Transfer moves stock atomically and broadcasts stock:transferred with
// the request id echoed. The destination row is created when absent.
// Returns req.RequestID, or a numbered id when the request carries none.
func (f *FakeServer) Transfer(_ context.Context, req api.TransferRequest) (string, error) {
	_, err := mutate(f, OpTransfer, func() (struct{}, []reconcile.Envelope, error) {
		env, err := f.transfer(req)
		if err != nil {
			return struct{}{}, nil, err
		}
		return struct{}{}, []reconcile.Envelope{env}, nil
	})
	if err != nil {
		return "", err
	}
	if req.RequestID != "" {
		return req.RequestID, nil
	}
	return f.requestIDs.Generate(), nil
}

// ExternalTransfer performs a transfer on behalf of another client:
// it takes effect and broadcasts without counting as a call.
func (f *FakeServer) ExternalTransfer(req api.TransferRequest) error {
	f.mu.Lock()
	env, err := f.transfer(req)
	sink := f.sink
	f.mu.Unlock()

	if err == nil && sink != nil {
		sink(env)
	}
	return err
}

// ExternalUpdate overwrites a row on behalf of another client and
// broadcasts inventory:updated.
func (f *FakeServer) ExternalUpdate(itemID, warehouseID int64, qty, minQty int) {
	f.mu.Lock()
	row := f.putRow(itemID, warehouseID, qty, minQty, nil)
	env := f.inventoryEvent(reconcile.InventoryUpdated, row)
	sink := f.sink
	f.mu.Unlock()

	if sink != nil {
		sink(env)
	}
}

// Emit broadcasts an arbitrary envelope.
func (f *FakeServer) Emit(env reconcile.Envelope) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()

	if sink != nil {
		sink(env)
	}
}

// ListAlerts returns every non-Ok row, ordered by item then warehouse.
func (f *FakeServer) ListAlerts(_ context.Context) ([]alert.ServerAlert, error) {
	if err := f.begin(OpListAlerts); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	records := make([]inventory.Record, 0, len(f.rows))
	for _, row := range f.rows {
		records = append(records, row.Record())
	}

	var out []alert.ServerAlert
	for _, a := range alert.Evaluate(records) {
		if a.Status == alert.Ok {
			continue
		}
		row := f.rows[inventory.Key{ItemID: a.ItemID, WarehouseID: a.WarehouseID}]
		out = append(out, alert.ServerAlert{
			Item:          f.items[a.ItemID].Name,
			WarehouseName: f.warehouses[a.WarehouseID].Name,
			Quantity:      row.Quantity,
			MinQuantity:   row.MinQuantity,
			Status:        a.Status,
		})
	}
	return out, nil
}

// begin counts the call, runs hooks, and pops a pre-effect failure.
func (f *FakeServer) begin(op string) error {
	f.mu.Lock()
	f.calls[op]++
	hooks := f.hooks[op]
	delete(f.hooks, op)
	f.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if q := f.failures[op]; len(q) > 0 && !q[0].afterApply {
		f.failures[op] = q[1:]
		return q[0].err
	}
	return nil
}

// mutate runs a state change under the lock, broadcasts its events and
// applies any after-apply failure.
func mutate[T any](f *FakeServer, op string, fn func() (T, []reconcile.Envelope, error)) (T, error) {
	var zero T
	if err := f.begin(op); err != nil {
		return zero, err
	}

	f.mu.Lock()
	out, events, err := fn()
	sink := f.sink
	var lost error
	if err == nil {
		if q := f.failures[op]; len(q) > 0 && q[0].afterApply {
			f.failures[op] = q[1:]
			lost = q[0].err
		}
	}
	f.mu.Unlock()

	if err != nil {
		return zero, err
	}
	if sink != nil {
		for _, env := range events {
			sink(env)
		}
	}
	if lost != nil {
		return zero, lost
	}
	return out, nil
}

// transfer applies a movement. Caller holds f.mu.
func (f *FakeServer) transfer(req api.TransferRequest) (reconcile.Envelope, error) {
	if req.Quantity <= 0 || req.FromWarehouseID == req.ToWarehouseID {
		return reconcile.Envelope{}, inventory.NewServerError(OpTransfer, http.StatusUnprocessableEntity, "invalid transfer")
	}
	src, ok := f.rows[inventory.Key{ItemID: req.ItemID, WarehouseID: req.FromWarehouseID}]
	if !ok || src.Quantity < req.Quantity {
		return reconcile.Envelope{}, inventory.NewServerError(OpTransfer, http.StatusConflict, "insufficient stock")
	}
	if _, ok := f.warehouses[req.ToWarehouseID]; !ok {
		return reconcile.Envelope{}, inventory.NewServerError(OpTransfer, http.StatusNotFound, "warehouse not found")
	}

	f.putRow(req.ItemID, req.FromWarehouseID, src.Quantity-req.Quantity, src.MinQuantity, src.Position)
	dst, ok := f.rows[inventory.Key{ItemID: req.ItemID, WarehouseID: req.ToWarehouseID}]
	if ok {
		f.putRow(req.ItemID, req.ToWarehouseID, dst.Quantity+req.Quantity, dst.MinQuantity, dst.Position)
	} else {
		f.putRow(req.ItemID, req.ToWarehouseID, req.Quantity, 0, nil)
	}

	return f.envelope(reconcile.StockTransferred, reconcile.TransferPayload{
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		StockItemID:     req.ItemID,
		Quantity:        req.Quantity,
		RequestID:       req.RequestID,
	}), nil
}

// putRow writes a row, keeping its id. Caller holds f.mu.
func (f *FakeServer) putRow(itemID, warehouseID int64, qty, minQty int, position *string) api.InventoryRow {
	k := inventory.Key{ItemID: itemID, WarehouseID: warehouseID}
	row, ok := f.rows[k]
	if !ok {
		row = api.InventoryRow{ID: f.nextRowID, StockItemID: itemID, WarehouseID: warehouseID}
		f.nextRowID++
	}
	row.Quantity = qty
	row.MinQuantity = minQty
	row.Position = position
	f.rows[k] = row
	return row
}

// detail builds an item with its breakdown. Caller holds f.mu.
func (f *FakeServer) detail(itemID int64) (api.Item, bool) {
	it, ok := f.items[itemID]
	if !ok {
		return api.Item{}, false
	}
	it.Warehouses = []api.WarehouseStock{}
	for _, wh := range sortedIDs(f.warehouses) {
		if row, ok := f.rows[inventory.Key{ItemID: itemID, WarehouseID: wh}]; ok {
			it.Warehouses = append(it.Warehouses, stockOf(row))
		}
	}
	return it, true
}

func (f *FakeServer) inventoryEvent(t reconcile.EventType, row api.InventoryRow) reconcile.Envelope {
	return f.envelope(t, reconcile.InventoryPayload{
		WarehouseID: row.WarehouseID,
		StockItemID: row.StockItemID,
		Quantity:    row.Quantity,
		Position:    row.Position,
		MinQuantity: row.MinQuantity,
		InventoryID: row.ID,
	})
}

// envelope numbers events "evt-1", "evt-2", ... Caller holds f.mu.
func (f *FakeServer) envelope(t reconcile.EventType, payload any) reconcile.Envelope {
	f.eventSeq++
	env, err := reconcile.NewEnvelope(t, fmt.Sprintf("evt-%d", f.eventSeq), payload)
	if err != nil {
		panic(fmt.Sprintf("fake server: %v", err))
	}
	return env
}

func checkInput(op string, in api.InventoryInput) error {
	if in.Quantity < 0 || in.MinQuantity < 0 {
		return inventory.NewServerError(op, http.StatusUnprocessableEntity, "negative quantity")
	}
	return nil
}

func stockOf(row api.InventoryRow) api.WarehouseStock {
	return api.WarehouseStock{
		WarehouseID: row.WarehouseID,
		Quantity:    row.Quantity,
		MinQuantity: row.MinQuantity,
		Position:    row.Position,
		InventoryID: row.ID,
	}
}

func sortedIDs[V any](m map[int64]V) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
