package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/stockline/internal/canonical"
	"github.com/roach88/stockline/internal/inventory"
)

// Snapshot is the state of one warehouse's view after a resync.
type Snapshot struct {
	WarehouseID int64                 `json:"warehouse_id"`
	Seq         int64                 `json:"seq"`
	Items       []inventory.StockItem `json:"items"`
	Categories  []inventory.Category  `json:"categories"`
	Suppliers   []inventory.Supplier  `json:"suppliers"`
	Records     []inventory.Record    `json:"records"`
}

// Capture builds a snapshot of warehouseID's view from a store snapshot.
func Capture(snap *inventory.Snapshot, warehouseID, seq int64) Snapshot {
	return Snapshot{
		WarehouseID: warehouseID,
		Seq:         seq,
		Items:       snap.Items(),
		Categories:  snap.Categories(),
		Suppliers:   snap.Suppliers(),
		Records:     snap.Records(warehouseID),
	}
}

// Restore installs the snapshot into store and makes its warehouse active.
// Must run on the mutation loop.
func (s Snapshot) Restore(store *inventory.Store) error {
	var err error
	store.Batch(func() {
		store.SetActiveWarehouse(s.WarehouseID)
		store.ReplaceItems(s.Items)
		for _, c := range s.Categories {
			store.PutCategory(c)
		}
		for _, sp := range s.Suppliers {
			store.PutSupplier(sp)
		}
		err = store.ReplaceWarehouse(s.WarehouseID, s.Records)
	})
	if err != nil {
		return fmt.Errorf("restore snapshot of warehouse %d: %w", s.WarehouseID, err)
	}
	return nil
}

// Digest is the content digest of the snapshot, independent of Seq.
func (s Snapshot) Digest() (string, error) {
	body := s
	body.Seq = 0
	return canonical.Digest(canonical.DomainSnapshot, body)
}

// SaveSnapshot replaces the stored snapshot of s.WarehouseID.
func (j *Journal) SaveSnapshot(ctx context.Context, s Snapshot) error {
	body, err := canonical.Marshal(s)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	digest, err := s.Digest()
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO snapshots (warehouse_id, seq, digest, body)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(warehouse_id) DO UPDATE SET
			seq = excluded.seq,
			digest = excluded.digest,
			body = excluded.body
	`, s.WarehouseID, s.Seq, digest, string(body))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the stored snapshot of warehouseID.
// The boolean is false when none was saved.
func (j *Journal) LoadSnapshot(ctx context.Context, warehouseID int64) (Snapshot, bool, error) {
	var body string
	err := j.db.QueryRowContext(ctx,
		`SELECT body FROM snapshots WHERE warehouse_id = ?`, warehouseID,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}

	var s Snapshot
	if err := json.Unmarshal([]byte(body), &s); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, true, nil
}

// LatestSnapshot returns the snapshot with the highest seq across all
// warehouses, used to pick the view to warm start into.
func (j *Journal) LatestSnapshot(ctx context.Context) (Snapshot, bool, error) {
	var wh int64
	err := j.db.QueryRowContext(ctx,
		`SELECT warehouse_id FROM snapshots ORDER BY seq DESC, warehouse_id ASC LIMIT 1`,
	).Scan(&wh)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("latest snapshot: %w", err)
	}
	return j.LoadSnapshot(ctx, wh)
}
