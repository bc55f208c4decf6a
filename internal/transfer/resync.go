package transfer

import (
	"context"
	"fmt"

	"github.com/roach88/stockline/internal/api"
	"github.com/roach88/stockline/internal/engine"
	"github.com/roach88/stockline/internal/inventory"
)

// Resyncer discards speculative local state for a warehouse and installs
// the server's authoritative view.
type Resyncer struct {
	loop    *engine.Engine
	store   *inventory.Store
	backend Backend
}

// NewResyncer creates a Resyncer.
func NewResyncer(loop *engine.Engine, store *inventory.Store, backend Backend) *Resyncer {
	return &Resyncer{loop: loop, store: store, backend: backend}
}

// Warehouse refetches the item list for warehouseID and replaces both the
// item catalog and every record held for that warehouse.
func (r *Resyncer) Warehouse(ctx context.Context, warehouseID int64) error {
	items, err := r.backend.ListItems(ctx, warehouseID)
	if err != nil {
		return fmt.Errorf("resync warehouse %d: %w", warehouseID, err)
	}

	stock := make([]inventory.StockItem, 0, len(items))
	records := make([]inventory.Record, 0, len(items))
	for _, it := range items {
		stock = append(stock, it.StockItem())
		if ws, ok := it.Stock(warehouseID); ok {
			records = append(records, ws.Record(it.ID))
		}
	}

	return r.loop.Do(ctx, "resync warehouse", func(context.Context, int64) error {
		var err error
		r.store.Batch(func() {
			r.store.ReplaceItems(stock)
			err = r.store.ReplaceWarehouse(warehouseID, records)
		})
		return err
	})
}

// Active resyncs the warehouse currently in view. A store with no active
// warehouse is left alone.
func (r *Resyncer) Active(ctx context.Context) error {
	wh := r.store.Snapshot().ActiveWarehouse
	if wh == 0 {
		return nil
	}
	return r.Warehouse(ctx, wh)
}

// Item overwrites the records of the given warehouses with the item's
// server-confirmed breakdown. A warehouse absent from the breakdown loses
// its record.
func (r *Resyncer) Item(ctx context.Context, itemID int64, warehouseIDs ...int64) error {
	it, err := r.backend.GetItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("resync item %d: %w", itemID, err)
	}
	return r.loop.Do(ctx, "resync item", func(context.Context, int64) error {
		return installItem(r.store, it, warehouseIDs)
	})
}

// installItem also serves warehouses outside the view. Their records are
// confirmation snapshots, only refreshed by the next transfer touching
// them.
func installItem(store *inventory.Store, it api.Item, warehouseIDs []int64) error {
	var err error
	store.Batch(func() {
		store.PutItem(it.StockItem())
		for _, wh := range warehouseIDs {
			ws, ok := it.Stock(wh)
			if !ok {
				store.Remove(it.ID, wh)
				continue
			}
			if err = store.Upsert(ws.Record(it.ID)); err != nil {
				return
			}
		}
	})
	return err
}
