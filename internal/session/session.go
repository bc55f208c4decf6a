// Package session is the active view: it owns the mutation loop, the
// inventory store and every collaborator that reads or writes it, and
// exposes the accessors and operations a presentation layer calls.
//
// A Session is bound to one warehouse at a time. Its view is kept
// consistent with the server of record by optimistic transfers, the push
// channel's authoritative events, and full resyncs after failures and
// reconnects.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/stockline/internal/alert"
	"github.com/roach88/stockline/internal/api"
	"github.com/roach88/stockline/internal/channel"
	"github.com/roach88/stockline/internal/engine"
	"github.com/roach88/stockline/internal/inventory"
	"github.com/roach88/stockline/internal/journal"
	"github.com/roach88/stockline/internal/reconcile"
	"github.com/roach88/stockline/internal/transfer"
)

// Backend is the server of record as seen by a session.
// Implemented by api.Client and testutil.FakeServer.
type Backend interface {
	transfer.Backend
	ListWarehouses(ctx context.Context) ([]api.Warehouse, error)
	CreateInventory(ctx context.Context, in api.InventoryInput) (api.InventoryRow, error)
	UpdateInventory(ctx context.Context, itemID, warehouseID int64, in api.InventoryInput) (api.InventoryRow, error)
	DeleteInventory(ctx context.Context, itemID, warehouseID int64) error
	ListAlerts(ctx context.Context) ([]alert.ServerAlert, error)
}

// Feed is the push channel subset a session consumes.
// Implemented by *channel.Channel.
type Feed interface {
	SubscribeAll(fn channel.Handler) (cancel func())
	OnState(fn func(channel.StateChange))
}

// Options configures Open. The zero value is a session without journal
// or push channel.
type Options struct {
	// Journal records reconciled events and resync snapshots, and
	// provides the warm start. Not closed by the session.
	Journal *journal.Journal

	// Feed delivers authoritative events. It is subscribed by Open and is
	// expected to be connected by the caller afterwards.
	Feed Feed

	EchoWindow time.Duration
	DedupSize  int
	Now        func() time.Time

	// OnResync is called after every resync the session starts on its
	// own, after a reconnect. err is nil on success.
	OnResync func(err error)
}

// ItemView is one line of the active warehouse's item list.
type ItemView struct {
	Item inventory.StockItem `json:"item"`
	// Record and Status are nil when the item is not stocked in the
	// active warehouse.
	Record *inventory.Record `json:"record,omitempty"`
	Status *alert.Status     `json:"status,omitempty"`
}

// Session is the client's view of one warehouse.
// Thread-safety: every method is safe for concurrent use.
type Session struct {
	backend   Backend
	journal   *journal.Journal
	loop      *engine.Engine
	store     *inventory.Store
	ledger    *reconcile.Ledger
	rec       *reconcile.Reconciler
	transfers *transfer.Engine
	resync    *transfer.Resyncer
	summary   alert.Summary
	onResync  func(error)

	ctx     context.Context
	cancel  context.CancelFunc
	runDone chan struct{}
	bg      sync.WaitGroup
	unsub   func()

	mu        sync.Mutex
	lost      bool // the feed dropped since the last resync
	stale     bool // serving a warm start the server could not confirm
	closed    bool
	closeOnce sync.Once
}

// Open builds a session viewing warehouseID.
//
// With a journal, the view is first restored from the warehouse's latest
// snapshot and later events; the loop's clock resumes after the
// journal's last sequence number. The view is then resynced from the
// server. If that resync fails after a warm start, the session is
// returned in a stale state instead of failing.
func Open(ctx context.Context, backend Backend, warehouseID int64, opts Options) (*Session, error) {
	if warehouseID <= 0 {
		return nil, inventory.NewValidationError("open", "a warehouse is required", 0, warehouseID)
	}

	var startSeq int64
	if opts.Journal != nil {
		seq, err := opts.Journal.LastSeq(ctx)
		if err != nil {
			return nil, fmt.Errorf("open session: %w", err)
		}
		startSeq = seq
	}

	var ledgerOpts []reconcile.LedgerOption
	if opts.Now != nil {
		ledgerOpts = append(ledgerOpts, reconcile.WithNow(opts.Now))
	}
	recOpts := []reconcile.Option{}
	if opts.DedupSize > 0 {
		recOpts = append(recOpts, reconcile.WithDedupSize(opts.DedupSize))
	}
	if opts.Journal != nil {
		recOpts = append(recOpts, reconcile.WithRecorder(opts.Journal.Recorder()))
	}

	loop := engine.NewWithClock(engine.NewClockAt(startSeq))
	store := inventory.NewStore()
	ledger := reconcile.NewLedger(opts.EchoWindow, ledgerOpts...)
	xfer := transfer.New(loop, store, ledger, backend)

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		backend:   backend,
		journal:   opts.Journal,
		loop:      loop,
		store:     store,
		ledger:    ledger,
		rec:       reconcile.New(store, ledger, recOpts...),
		transfers: xfer,
		resync:    xfer.Resyncer(),
		onResync:  opts.OnResync,
		ctx:       runCtx,
		cancel:    cancel,
		runDone:   make(chan struct{}),
	}
	go func() {
		defer close(s.runDone)
		_ = loop.Run(runCtx)
	}()

	warm, err := s.warmStart(ctx, warehouseID)
	if err != nil {
		s.Close()
		return nil, err
	}

	if opts.Feed != nil {
		s.unsub = opts.Feed.SubscribeAll(s.deliver)
		opts.Feed.OnState(s.onState)
	}

	if err := s.Resync(ctx); err != nil {
		if !warm {
			s.Close()
			return nil, fmt.Errorf("open session: %w", err)
		}
		slog.Warn("serving journaled view, resync failed", "warehouse", warehouseID, "error", err)
		s.mu.Lock()
		s.stale = true
		s.mu.Unlock()
	}

	slog.Info("session open", "warehouse", warehouseID, "warm", warm, "seq", loop.Clock().Current())
	return s, nil
}

// warmStart installs the journaled view of warehouseID, or just makes it
// active when there is none. Reports whether a journaled view was found.
func (s *Session) warmStart(ctx context.Context, warehouseID int64) (bool, error) {
	var snap *journal.Snapshot
	if s.journal != nil {
		res, err := journal.Replay(ctx, s.journal, warehouseID)
		if err != nil {
			return false, fmt.Errorf("open session: %w", err)
		}
		if res.Snapshot || res.Applied > 0 {
			captured := journal.Capture(res.Store.Snapshot(), warehouseID, res.LastSeq)
			snap = &captured
		}
	}

	err := s.loop.Do(ctx, "warm start", func(context.Context, int64) error {
		if snap == nil {
			s.store.SetActiveWarehouse(warehouseID)
			return nil
		}
		return snap.Restore(s.store)
	})
	if err != nil {
		return false, fmt.Errorf("open session: %w", err)
	}
	return snap != nil, nil
}

// Close stops the loop and releases the feed subscription. The journal
// and the feed's connection are left to the caller.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if s.unsub != nil {
			s.unsub()
		}
		s.cancel()
		s.bg.Wait()
		<-s.runDone
	})
}

// Snapshot returns the current store snapshot.
func (s *Session) Snapshot() *inventory.Snapshot {
	return s.store.Snapshot()
}

// Store returns the underlying store for read access and subscriptions.
func (s *Session) Store() *inventory.Store {
	return s.store
}

// WarehouseID returns the warehouse in view.
func (s *Session) WarehouseID() int64 {
	return s.store.Snapshot().ActiveWarehouse
}

// Stale reports whether the view comes from the journal and has not been
// confirmed by the server yet.
func (s *Session) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

// Ledger returns the echo ledger.
func (s *Session) Ledger() *reconcile.Ledger {
	return s.ledger
}

// Items lists every catalog item with its record and status in the
// active warehouse, ordered by item id.
func (s *Session) Items() []ItemView {
	snap := s.store.Snapshot()
	items := snap.Items()
	out := make([]ItemView, 0, len(items))
	for _, it := range items {
		v := ItemView{Item: it}
		if r, ok := snap.Get(it.ID, snap.ActiveWarehouse); ok {
			st := alert.Classify(r.Quantity, r.MinQuantity)
			v.Record = &r
			v.Status = &st
		}
		out = append(out, v)
	}
	return out
}

// Alerts evaluates the active warehouse's records.
func (s *Session) Alerts() []alert.Alert {
	return alert.ForWarehouse(s.store.Snapshot())
}

// AlertSummary returns the server's cross-warehouse alert list as last
// fetched by RefreshAlerts.
func (s *Session) AlertSummary() []alert.ServerAlert {
	return s.summary.Get()
}

// Sync waits until every event delivered so far has been reconciled.
func (s *Session) Sync(ctx context.Context) error {
	return s.loop.Sync(ctx)
}

// Transfer moves stock between warehouses. See transfer.Engine.
func (s *Session) Transfer(ctx context.Context, intent inventory.Intent) (transfer.Result, error) {
	return s.transfers.Transfer(ctx, intent)
}

// Resync replaces the active warehouse's view with the server's and
// checkpoints it to the journal.
func (s *Session) Resync(ctx context.Context) error {
	if err := s.resync.Active(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.stale = false
	s.mu.Unlock()

	s.checkpoint(ctx)
	return nil
}

// SwitchWarehouse moves the view to warehouseID. The previous
// warehouse's records are dropped and the new one is resynced.
func (s *Session) SwitchWarehouse(ctx context.Context, warehouseID int64) error {
	if warehouseID <= 0 {
		return inventory.NewValidationError("switch warehouse", "a warehouse is required", 0, warehouseID)
	}
	err := s.loop.Do(ctx, "switch warehouse", func(context.Context, int64) error {
		prev := s.store.ActiveWarehouse()
		if prev == warehouseID {
			return nil
		}
		var err error
		s.store.Batch(func() {
			err = s.store.ReplaceWarehouse(prev, nil)
			s.store.SetActiveWarehouse(warehouseID)
		})
		return err
	})
	if err != nil {
		return err
	}
	return s.Resync(ctx)
}

// Warehouses lists every warehouse known to the server.
func (s *Session) Warehouses(ctx context.Context) ([]inventory.Warehouse, error) {
	whs, err := s.backend.ListWarehouses(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]inventory.Warehouse, 0, len(whs))
	for _, w := range whs {
		out = append(out, w.Warehouse())
	}
	return out, nil
}

// RefreshAlerts fetches the server's cross-warehouse alert list.
func (s *Session) RefreshAlerts(ctx context.Context) error {
	alerts, err := s.backend.ListAlerts(ctx)
	if err != nil {
		return err
	}
	s.summary.Set(alerts)
	return nil
}

// checkpoint journals the current view. Failures are logged only.
func (s *Session) checkpoint(ctx context.Context) {
	if s.journal == nil {
		return
	}

	var snap journal.Snapshot
	err := s.loop.Do(ctx, "checkpoint", func(_ context.Context, seq int64) error {
		st := s.store.Snapshot()
		snap = journal.Capture(st, st.ActiveWarehouse, seq)
		return nil
	})
	if err == nil {
		err = s.journal.SaveSnapshot(ctx, snap)
	}
	if err != nil {
		slog.Error("journal checkpoint failed", "warehouse", snap.WarehouseID, "error", err)
	}
}

// deliver hands an event to the loop. Runs on the feed's goroutine.
func (s *Session) deliver(env reconcile.Envelope) {
	ok := s.loop.Enqueue("reconcile "+string(env.Event), func(ctx context.Context, seq int64) error {
		_, err := s.rec.Apply(ctx, seq, env)
		return err
	})
	if !ok {
		slog.Debug("event dropped, session closed", "event", env.Event, "id", env.ID)
	}
}

// onState reacts to feed transitions. A connection re-established after
// a loss drops settled echo expectations and resyncs: events broadcast
// while disconnected were never received. Transfers still awaiting their
// response keep their expectation.
func (s *Session) onState(sc channel.StateChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	switch sc.State {
	case channel.StateDisconnected, channel.StateError:
		s.lost = true
	case channel.StateConnected:
		if !s.lost {
			return
		}
		s.lost = false
		s.bg.Add(1)
		go s.recover()
	case channel.StateExhausted:
		slog.Error("push channel exhausted, view is no longer live", "error", sc.Err)
	}
}

func (s *Session) recover() {
	defer s.bg.Done()

	err := s.loop.Do(s.ctx, "reconnect", func(context.Context, int64) error {
		s.ledger.Reset()
		return nil
	})
	if err == nil {
		err = s.Resync(s.ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, engine.ErrStopped) {
		slog.Warn("resync after reconnect failed", "error", err)
	} else if err == nil {
		slog.Info("resynced after reconnect", "warehouse", s.WarehouseID())
	}
	if s.onResync != nil {
		s.onResync(err)
	}
}
