// Package transfer moves stock between warehouses with an optimistic local
// update followed by an authoritative resync.
//
// A transfer is validated against the locally known source quantity on the
// mutation loop, applied optimistically, sent as one request, and then
// confirmed from the server's item detail. A failed request is followed by
// a full resync of the warehouse in view. Nothing is retried.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/stockline/internal/api"
	"github.com/roach88/stockline/internal/engine"
	"github.com/roach88/stockline/internal/inventory"
	"github.com/roach88/stockline/internal/reconcile"
)

// Backend is the subset of the server of record a transfer needs.
// Implemented by api.Client and testutil.FakeServer.
type Backend interface {
	ListItems(ctx context.Context, warehouseID int64) ([]api.Item, error)
	GetItem(ctx context.Context, itemID int64) (api.Item, error)
	Transfer(ctx context.Context, req api.TransferRequest) (string, error)
}

// Result describes a completed transfer.
type Result struct {
	Intent    inventory.Intent
	RequestID string

	// Source and Destination are the records after confirmation, nil when
	// the warehouse holds no record for the item.
	Source      *inventory.Record
	Destination *inventory.Record

	// Resynced is true when the item detail could not be fetched and the
	// warehouse in view was resynced instead.
	Resynced bool
}

// Engine executes transfers.
// Thread-safety: Transfer may be called from any goroutine.
type Engine struct {
	loop   *engine.Engine
	store  *inventory.Store
	ledger *reconcile.Ledger
	api    Backend
	resync *Resyncer
	ids    api.RequestIDGenerator // X-Request-ID, also keys the echo
}

// Option configures an Engine.
type Option func(*Engine)

// WithRequestIDs replaces the UUIDv7 request id generator.
func WithRequestIDs(g api.RequestIDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// New creates a transfer engine. ledger may be nil when no push channel
// feeds the store.
func New(loop *engine.Engine, store *inventory.Store, ledger *reconcile.Ledger, backend Backend, opts ...Option) *Engine {
	e := &Engine{
		loop:   loop,
		store:  store,
		ledger: ledger,
		api:    backend,
		resync: NewResyncer(loop, store, backend),
		ids:    api.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transfer moves intent.Quantity units of intent.ItemID from intent.From
// to intent.To.
//
// Validation failures return a VALIDATION error with no request sent and
// the store untouched. ctx only governs validation: once the request is
// issued the transfer runs to completion, including its resync.
//
// On request failure the returned error is the request's NETWORK or
// SERVER_REJECTED error, joined with the resync error if that failed too.
func (e *Engine) Transfer(ctx context.Context, intent inventory.Intent) (Result, error) {
	var token reconcile.Token
	req := api.NewTransferRequest(intent)
	req.RequestID = e.ids.Generate()

	err := e.loop.Do(ctx, "transfer "+intent.String(), func(context.Context, int64) error {
		if err := e.validate(intent); err != nil {
			return err
		}
		e.applyOptimistic(intent)
		if e.ledger != nil {
			token = e.ledger.ExpectRequest(intent, req.RequestID)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	// Not cancellable from here on.
	rctx := context.WithoutCancel(ctx)

	requestID, err := e.api.Transfer(rctx, req)
	if e.ledger != nil {
		// Until now a reconnect resync had to keep the expectation.
		e.ledger.Settle(intent, token)
	}
	if err != nil {
		return Result{Intent: intent}, e.fail(rctx, intent, token, err)
	}

	slog.Info("transfer accepted", "intent", intent.String(), "request_id", requestID)

	res := Result{Intent: intent, RequestID: requestID}
	if derr := e.resync.Item(rctx, intent.ItemID, intent.From, intent.To); derr != nil {
		slog.Warn("transfer confirmation failed, resyncing warehouse",
			"intent", intent.String(),
			"error", derr,
		)
		if rerr := e.resync.Active(rctx); rerr != nil {
			return res, fmt.Errorf("transfer succeeded but resync failed: %w", errors.Join(derr, rerr))
		}
		res.Resynced = true
	}

	snap := e.store.Snapshot()
	if r, ok := snap.Get(intent.ItemID, intent.From); ok {
		res.Source = &r
	}
	if r, ok := snap.Get(intent.ItemID, intent.To); ok {
		res.Destination = &r
	}
	return res, nil
}

// validate checks intent against the store without changing anything.
// Must run on the mutation loop.
func (e *Engine) validate(intent inventory.Intent) error {
	const op = "transfer"

	if intent.ItemID <= 0 || intent.From <= 0 || intent.To <= 0 {
		return inventory.NewValidationError(op, "item and warehouses are required", intent.ItemID, intent.From)
	}
	if intent.Quantity <= 0 {
		return inventory.NewValidationError(op, fmt.Sprintf("quantity must be positive, got %d", intent.Quantity), intent.ItemID, intent.From)
	}
	if intent.From == intent.To {
		return inventory.NewValidationError(op, "source and destination are the same warehouse", intent.ItemID, intent.From)
	}

	src, ok := e.store.Get(intent.ItemID, intent.From)
	if !ok {
		return inventory.NewValidationError(op, "item is not stocked in the source warehouse", intent.ItemID, intent.From)
	}
	if intent.Quantity > src.Quantity {
		return inventory.NewValidationError(op,
			fmt.Sprintf("quantity %d exceeds available %d", intent.Quantity, src.Quantity),
			intent.ItemID, intent.From)
	}
	return nil
}

// applyOptimistic debits the source and credits the destination when it is
// in view or already held. Must run on the mutation loop.
//
// A record held outside the view is the snapshot of the last transfer
// confirmation that touched it: inventory events for that warehouse are
// ignored, so it may be stale here. The confirmation or failure resync
// below overwrites it before Transfer returns.
func (e *Engine) applyOptimistic(intent inventory.Intent) {
	e.store.Batch(func() {
		e.store.ApplyDelta(intent.ItemID, intent.From, -intent.Quantity)

		_, held := e.store.Get(intent.ItemID, intent.To)
		if held || e.store.ActiveWarehouse() == intent.To {
			e.store.ApplyDelta(intent.ItemID, intent.To, intent.Quantity)
		}
	})
}

// fail handles a failed request: the optimistic update is discarded by a
// full resync of the warehouse in view, plus an item resync for a side
// outside the view.
//
// A server rejection means the transfer never happened, so its echo
// expectation is cancelled. A network failure is ambiguous; the
// expectation is left to expire in case the server did apply it.
func (e *Engine) fail(ctx context.Context, intent inventory.Intent, token reconcile.Token, reqErr error) error {
	slog.Warn("transfer failed, resyncing",
		"intent", intent.String(),
		"code", inventory.CodeOf(reqErr),
		"error", reqErr,
	)

	if e.ledger != nil && inventory.IsServerRejection(reqErr) {
		e.ledger.Cancel(intent, token)
	}

	errs := []error{reqErr}
	if err := e.resync.Active(ctx); err != nil {
		errs = append(errs, err)
	}

	// Records held for a side outside the view are not covered above.
	var others []int64
	active := e.store.Snapshot().ActiveWarehouse
	for _, wh := range []int64{intent.From, intent.To} {
		if wh != active {
			others = append(others, wh)
		}
	}
	if len(others) > 0 {
		if err := e.resync.Item(ctx, intent.ItemID, others...); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 1 {
		return reqErr
	}
	return errors.Join(errs...)
}

// Resyncer returns the engine's resyncer.
func (e *Engine) Resyncer() *Resyncer {
	return e.resync
}
