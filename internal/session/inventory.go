package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/stockline/internal/api"
	"github.com/roach88/stockline/internal/inventory"
)

// AddToWarehouse stocks an item in a warehouse. The record's Quantity,
// MinQuantity and Position are sent; the server's row is installed on
// success.
func (s *Session) AddToWarehouse(ctx context.Context, r inventory.Record) (inventory.Record, error) {
	const op = "add to warehouse"
	if err := s.check(ctx, op, r, false); err != nil {
		return inventory.Record{}, err
	}

	row, err := s.backend.CreateInventory(ctx, api.InventoryInput{
		StockItemID: r.ItemID,
		WarehouseID: r.WarehouseID,
		Quantity:    r.Quantity,
		MinQuantity: r.MinQuantity,
		Position:    api.StringPtr(r.Position),
	})
	if err != nil {
		return inventory.Record{}, s.failed(ctx, op, err)
	}
	return s.install(ctx, op, row.Record())
}

// UpdateInventory replaces the quantity, minimum and position of a held
// record.
func (s *Session) UpdateInventory(ctx context.Context, r inventory.Record) (inventory.Record, error) {
	const op = "update inventory"
	if err := s.check(ctx, op, r, true); err != nil {
		return inventory.Record{}, err
	}

	row, err := s.backend.UpdateInventory(ctx, r.ItemID, r.WarehouseID, api.InventoryInput{
		Quantity:    r.Quantity,
		MinQuantity: r.MinQuantity,
		Position:    api.StringPtr(r.Position),
	})
	if err != nil {
		return inventory.Record{}, s.failed(ctx, op, err)
	}
	return s.install(ctx, op, row.Record())
}

// RemoveFromWarehouse deletes a held record on the server and locally.
func (s *Session) RemoveFromWarehouse(ctx context.Context, itemID, warehouseID int64) error {
	const op = "remove from warehouse"
	if err := s.check(ctx, op, inventory.Record{ItemID: itemID, WarehouseID: warehouseID}, true); err != nil {
		return err
	}

	if err := s.backend.DeleteInventory(ctx, itemID, warehouseID); err != nil {
		return s.failed(ctx, op, err)
	}
	return s.loop.Do(ctx, op, func(context.Context, int64) error {
		s.store.Remove(itemID, warehouseID)
		return nil
	})
}

// check validates r and whether it must (held) or must not already be in
// the store. Runs on the loop so it sees every earlier mutation.
func (s *Session) check(ctx context.Context, op string, r inventory.Record, held bool) error {
	if err := r.Validate(); err != nil {
		var ie *inventory.Error
		if errors.As(err, &ie) {
			ie.Op = op
		}
		return err
	}
	return s.loop.Do(ctx, "check "+op, func(context.Context, int64) error {
		_, ok := s.store.Get(r.ItemID, r.WarehouseID)
		switch {
		case held && !ok:
			return inventory.NewValidationError(op, "item is not stocked in this warehouse", r.ItemID, r.WarehouseID)
		case !held && ok:
			return inventory.NewValidationError(op, "item is already stocked in this warehouse", r.ItemID, r.WarehouseID)
		}
		return nil
	})
}

// install stores the server-confirmed record.
func (s *Session) install(ctx context.Context, op string, r inventory.Record) (inventory.Record, error) {
	err := s.loop.Do(ctx, op, func(context.Context, int64) error {
		return s.store.Upsert(r)
	})
	return r, err
}

// failed resyncs the view after a rejected or unanswered request and
// returns the request's error.
func (s *Session) failed(ctx context.Context, op string, reqErr error) error {
	slog.Warn(op+" failed, resyncing", "code", inventory.CodeOf(reqErr), "error", reqErr)
	if err := s.Resync(context.WithoutCancel(ctx)); err != nil {
		slog.Error("resync after failure failed", "op", op, "error", err)
	}
	return reqErr
}
