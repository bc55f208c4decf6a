package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/stockline/internal/inventory"
)

// Entry is one reconciled authoritative event as handed to a Recorder.
type Entry struct {
	Seq         int64
	WarehouseID int64
	Envelope    Envelope
	Outcome     Outcome
}

// Recorder persists reconciled events.
//
// Seen reports whether an event id was recorded before, possibly by an
// earlier process. Record returns false when the entry already existed.
type Recorder interface {
	Seen(ctx context.Context, id string) (bool, error)
	Record(ctx context.Context, e Entry) (bool, error)
}

// Reconciler merges authoritative events into the store.
//
// CRITICAL: Apply mutates the store and must run on the mutation loop.
type Reconciler struct {
	store    *inventory.Store
	ledger   *Ledger
	rules    map[EventType]Rule
	seen     *dedup
	recorder Recorder
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithRecorder journals every event after it is merged.
func WithRecorder(rec Recorder) Option {
	return func(r *Reconciler) {
		r.recorder = rec
	}
}

// WithDedupSize bounds the in-memory id window.
func WithDedupSize(n int) Option {
	return func(r *Reconciler) {
		r.seen = newDedup(n)
	}
}

// WithRule overrides or adds the rule for one event type.
func WithRule(t EventType, rule Rule) Option {
	return func(r *Reconciler) {
		r.rules[t] = rule
	}
}

// New creates a reconciler over store. ledger may be nil, in which case
// every stock:transferred event is applied.
func New(store *inventory.Store, ledger *Ledger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:  store,
		ledger: ledger,
		rules:  make(map[EventType]Rule, len(Rules)),
		seen:   newDedup(DefaultDedupSize),
	}
	for t, rule := range Rules {
		r.rules[t] = rule
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ledger returns the echo ledger, nil if none.
func (r *Reconciler) Ledger() *Ledger {
	return r.ledger
}

// Apply merges one event. seq is the mutation loop's sequence number.
//
// An event id applied before, in memory or in the journal, is skipped. An
// id is only remembered once its rule succeeded, so a corrected
// redelivery of a rejected event still applies.
// Unknown event types are logged and ignored. Journal failures are logged
// and never prevent the merge.
func (r *Reconciler) Apply(ctx context.Context, seq int64, env Envelope) (Outcome, error) {
	rule, ok := r.rules[env.Event]
	if !ok {
		slog.Warn("unknown event type", "event", env.Event, "seq", seq)
		return Unknown, nil
	}

	if env.ID != "" && r.seen.Has(env.ID) {
		slog.Debug("duplicate event", "event", env.Event, "id", env.ID, "seq", seq)
		return Duplicate, nil
	}

	if env.ID != "" && r.recorder != nil {
		seen, err := r.recorder.Seen(ctx, env.ID)
		if err != nil {
			slog.Error("journal lookup failed", "event", env.Event, "id", env.ID, "error", err)
		} else if seen {
			slog.Debug("event already journaled", "event", env.Event, "id", env.ID, "seq", seq)
			r.seen.Add(env.ID)
			return Duplicate, nil
		}
	}

	warehouseID := r.store.ActiveWarehouse()
	outcome, err := rule(State{Store: r.store, Ledger: r.ledger}, env.Data)
	if err != nil {
		return "", fmt.Errorf("apply %s (seq=%d): %w", env.Event, seq, err)
	}
	if env.ID != "" {
		r.seen.Add(env.ID)
	}

	if r.recorder != nil {
		entry := Entry{Seq: seq, WarehouseID: warehouseID, Envelope: env, Outcome: outcome}
		if _, err := r.recorder.Record(ctx, entry); err != nil {
			slog.Error("journal append failed", "event", env.Event, "seq", seq, "error", err)
		}
	}

	slog.Debug("event reconciled",
		"event", env.Event,
		"id", env.ID,
		"seq", seq,
		"outcome", outcome,
	)
	return outcome, nil
}
