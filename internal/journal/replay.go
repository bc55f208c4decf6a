package journal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/stockline/internal/inventory"
	"github.com/roach88/stockline/internal/reconcile"
)

// ReplayResult summarizes an offline rebuild.
type ReplayResult struct {
	Store    *inventory.Store
	LastSeq  int64
	Applied  int
	Skipped  int
	Snapshot bool
}

// Replay rebuilds warehouseID's view from its latest snapshot followed by
// every later event whose rule originally applied.
//
// Events that were ignored, duplicates, or own-transfer echoes at the time
// are skipped, so a replay reproduces the live store.
//
// The store is private to the replay; no mutation loop is needed.
func Replay(ctx context.Context, j *Journal, warehouseID int64) (ReplayResult, error) {
	store := inventory.NewStore()
	res := ReplayResult{Store: store}

	snap, ok, err := j.LoadSnapshot(ctx, warehouseID)
	if err != nil {
		return res, fmt.Errorf("replay: %w", err)
	}
	if ok {
		if err := snap.Restore(store); err != nil {
			return res, fmt.Errorf("replay: %w", err)
		}
		res.Snapshot = true
		res.LastSeq = snap.Seq
	} else {
		store.SetActiveWarehouse(warehouseID)
	}

	entries, err := j.ReadEvents(ctx, warehouseID, res.LastSeq)
	if err != nil {
		return res, fmt.Errorf("replay: %w", err)
	}

	st := reconcile.State{Store: store}
	for _, e := range entries {
		res.LastSeq = e.Seq
		if e.Outcome != reconcile.Applied {
			res.Skipped++
			continue
		}
		rule, ok := reconcile.Rules[e.Event]
		if !ok {
			res.Skipped++
			continue
		}
		if _, err := rule(st, e.Data); err != nil {
			return res, fmt.Errorf("replay %s (seq=%d): %w", e.Event, e.Seq, err)
		}
		res.Applied++
	}

	slog.Debug("journal replayed",
		"warehouse", warehouseID,
		"snapshot", res.Snapshot,
		"applied", res.Applied,
		"skipped", res.Skipped,
		"last_seq", res.LastSeq,
	)
	return res, nil
}
