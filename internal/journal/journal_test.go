package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stockline/internal/inventory"
	"github.com/roach88/stockline/internal/reconcile"
)

// createTestJournal opens a fresh journal in a temp directory.
func createTestJournal(t *testing.T) *Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func entry(t *testing.T, seq, wh int64, id string, event reconcile.EventType, payload any, outcome reconcile.Outcome) Entry {
	t.Helper()
	env, err := reconcile.NewEnvelope(event, id, payload)
	require.NoError(t, err)
	e, err := NewEntry(reconcile.Entry{Seq: seq, WarehouseID: wh, Envelope: env, Outcome: outcome})
	require.NoError(t, err)
	return e
}

func TestOpen_Pragmas(t *testing.T) {
	j := createTestJournal(t)

	assert.NoError(t, j.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, j.verifyPragma("synchronous", "1"))
	assert.NoError(t, j.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, j.verifyPragma("user_version", "1"))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j1, err := Open(path)
	require.NoError(t, err)
	ok, err := j1.AppendEvent(context.Background(), entry(t, 1, 1, "e1", reconcile.ItemDeleted, reconcile.IDPayload{ID: 3}, reconcile.Applied))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, j1.Close())

	j2, err := Open(path)
	require.NoError(t, err)
	defer j2.Close()

	seq, err := j2.LastSeq(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
}

func TestOpen_MigratesV0Events(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE events (
			event_key TEXT PRIMARY KEY,
			event_id TEXT,
			seq INTEGER NOT NULL,
			warehouse_id INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			data TEXT NOT NULL
		);
		INSERT INTO events VALUES ('id:old', 'old', 4, 1, 'item:deleted', '{"id":3}');
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	entries, err := j.ReadEvents(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, reconcile.Applied, entries[0].Outcome)
	assert.NoError(t, j.verifyPragma("user_version", "1"))
}

func TestAppendEvent_IdempotentOnID(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()
	e := entry(t, 1, 1, "evt-1", reconcile.InventoryDeleted, reconcile.InventoryPayload{WarehouseID: 1, StockItemID: 2}, reconcile.Applied)

	ok, err := j.AppendEvent(ctx, e)
	require.NoError(t, err)
	assert.True(t, ok)

	// Same id at a later seq is still the same event.
	e.Seq = 9
	ok, err = j.AppendEvent(ctx, e)
	require.NoError(t, err)
	assert.False(t, ok)

	seen, err := j.HasEventID(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = j.HasEventID(ctx, "evt-2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestAppendEvent_KeyWithoutID(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()
	payload := reconcile.TransferPayload{FromWarehouseID: 1, ToWarehouseID: 2, StockItemID: 7, Quantity: 3}

	a := entry(t, 1, 1, "", reconcile.StockTransferred, payload, reconcile.Applied)
	b := entry(t, 2, 1, "", reconcile.StockTransferred, payload, reconcile.Applied)
	assert.NotEqual(t, a.Key, b.Key, "identical movements at different seqs are distinct")
	assert.Contains(t, a.Key, "sha256:")

	for _, e := range []Entry{a, b, a} {
		_, err := j.AppendEvent(ctx, e)
		require.NoError(t, err)
	}

	entries, err := j.ReadEvents(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestNewEntry_CanonicalData(t *testing.T) {
	a, err := NewEntry(reconcile.Entry{Seq: 1, WarehouseID: 1, Envelope: reconcile.Envelope{
		Event: reconcile.InventoryUpdated,
		Data:  json.RawMessage(`{ "qty": 3, "warehouse_id": 1 }`),
	}})
	require.NoError(t, err)
	b, err := NewEntry(reconcile.Entry{Seq: 1, WarehouseID: 1, Envelope: reconcile.Envelope{
		Event: reconcile.InventoryUpdated,
		Data:  json.RawMessage(`{"warehouse_id":1,"qty":3}`),
	}})
	require.NoError(t, err)

	assert.Equal(t, `{"qty":3,"warehouse_id":1}`, string(a.Data))
	assert.Equal(t, a.Key, b.Key)
}

func TestReadEvents_FilteredAndOrdered(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	for _, e := range []Entry{
		entry(t, 5, 1, "c", reconcile.ItemDeleted, reconcile.IDPayload{ID: 5}, reconcile.Applied),
		entry(t, 2, 1, "a", reconcile.ItemDeleted, reconcile.IDPayload{ID: 2}, reconcile.Applied),
		entry(t, 3, 2, "b", reconcile.ItemDeleted, reconcile.IDPayload{ID: 3}, reconcile.Ignored),
		entry(t, 4, 1, "d", reconcile.ItemDeleted, reconcile.IDPayload{ID: 4}, reconcile.Echo),
	} {
		_, err := j.AppendEvent(ctx, e)
		require.NoError(t, err)
	}

	entries, err := j.ReadEvents(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(4), entries[0].Seq)
	assert.Equal(t, reconcile.Echo, entries[0].Outcome)
	assert.Equal(t, int64(5), entries[1].Seq)
	assert.Equal(t, reconcile.Envelope{Event: reconcile.ItemDeleted, ID: "c", Data: json.RawMessage(`{"id":5}`)}, entries[1].Envelope())

	none, err := j.ReadEvents(ctx, 9, 0)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	last, err := j.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), last)
}

func TestReadAll_AcrossWarehouses(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	for _, e := range []Entry{
		entry(t, 3, 2, "b", reconcile.ItemDeleted, reconcile.IDPayload{ID: 3}, reconcile.Ignored),
		entry(t, 1, 1, "a", reconcile.ItemDeleted, reconcile.IDPayload{ID: 1}, reconcile.Applied),
	} {
		_, err := j.AppendEvent(ctx, e)
		require.NoError(t, err)
	}

	all, err := j.ReadAll(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].WarehouseID)
	assert.Equal(t, int64(2), all[1].WarehouseID)

	later, err := j.ReadAll(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, later, 1)
}

func TestOpen_InMemory(t *testing.T) {
	j, err := Open(":memory:")
	require.NoError(t, err)
	defer j.Close()

	_, err = j.AppendEvent(context.Background(), entry(t, 1, 1, "a", reconcile.ItemDeleted, reconcile.IDPayload{ID: 1}, reconcile.Applied))
	require.NoError(t, err)
	all, err := j.ReadAll(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestLastSeq_Empty(t *testing.T) {
	j := createTestJournal(t)
	seq, err := j.LastSeq(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)
}

func seededStore(t *testing.T) *inventory.Store {
	t.Helper()
	s := inventory.NewStore()
	s.SetActiveWarehouse(1)
	s.PutItem(inventory.StockItem{ID: 7, Name: "Tomatoes"})
	s.PutItem(inventory.StockItem{ID: 8, Name: "Basil"})
	s.PutCategory(inventory.Category{ID: 1, Name: "Produce"})
	require.NoError(t, s.Upsert(inventory.Record{ItemID: 7, WarehouseID: 1, Quantity: 20, MinQuantity: 5, Position: "B2", InventoryID: 11}))
	require.NoError(t, s.Upsert(inventory.Record{ItemID: 8, WarehouseID: 1, Quantity: 2, MinQuantity: 4}))
	require.NoError(t, s.Upsert(inventory.Record{ItemID: 7, WarehouseID: 2, Quantity: 1}))
	return s
}

func TestSnapshot_SaveLoad(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	snap := Capture(seededStore(t).Snapshot(), 1, 10)
	assert.Len(t, snap.Records, 2, "only the captured warehouse")
	require.NoError(t, j.SaveSnapshot(ctx, snap))

	got, ok, err := j.LoadSnapshot(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap.Records, got.Records)
	assert.Equal(t, snap.Categories, got.Categories)
	assert.Equal(t, int64(10), got.Seq)

	_, ok, err = j.LoadSnapshot(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	// Saving again replaces.
	snap.Seq = 12
	snap.Records = snap.Records[:1]
	require.NoError(t, j.SaveSnapshot(ctx, snap))
	got, _, err = j.LoadSnapshot(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got.Records, 1)
	assert.Equal(t, int64(12), got.Seq)
}

func TestSnapshot_DigestIgnoresSeq(t *testing.T) {
	snap := Capture(seededStore(t).Snapshot(), 1, 10)
	a, err := snap.Digest()
	require.NoError(t, err)

	snap.Seq = 99
	b, err := snap.Digest()
	require.NoError(t, err)
	assert.Equal(t, a, b)

	snap.Records[0].Quantity++
	c, err := snap.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestLatestSnapshot(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	_, ok, err := j.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	store := seededStore(t)
	require.NoError(t, j.SaveSnapshot(ctx, Capture(store.Snapshot(), 1, 3)))
	require.NoError(t, j.SaveSnapshot(ctx, Capture(store.Snapshot(), 2, 8)))

	latest, ok, err := j.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), latest.WarehouseID)
}

func TestReplay_ReproducesLiveStore(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	live := seededStore(t)
	require.NoError(t, j.SaveSnapshot(ctx, Capture(live.Snapshot(), 1, 1)))

	ledger := reconcile.NewLedger(time.Minute)
	r := reconcile.New(live, ledger, reconcile.WithRecorder(j.Recorder()))
	own := inventory.Intent{ItemID: 7, From: 1, To: 2, Quantity: 4}
	ledger.Expect(own)
	live.ApplyDelta(7, 1, -4) // optimistic debit

	events := []struct {
		id      string
		event   reconcile.EventType
		payload any
	}{
		{"e1", reconcile.StockTransferred, reconcile.TransferPayload{FromWarehouseID: 1, ToWarehouseID: 2, StockItemID: 7, Quantity: 4}},
		{"e2", reconcile.InventoryUpdated, reconcile.InventoryPayload{WarehouseID: 2, StockItemID: 8, Quantity: 40}},
		{"e3", reconcile.InventoryUpdated, reconcile.InventoryPayload{WarehouseID: 1, StockItemID: 8, Quantity: 9, MinQuantity: 4}},
		{"e3", reconcile.InventoryUpdated, reconcile.InventoryPayload{WarehouseID: 1, StockItemID: 8, Quantity: 9, MinQuantity: 4}},
		{"", reconcile.StockTransferred, reconcile.TransferPayload{FromWarehouseID: 2, ToWarehouseID: 1, StockItemID: 8, Quantity: 1}},
		{"e5", reconcile.ItemUpdated, map[string]any{"id": 7, "name": "Roma tomatoes", "unit_cost": 1.25}},
	}
	for i, ev := range events {
		env, err := reconcile.NewEnvelope(ev.event, ev.id, ev.payload)
		require.NoError(t, err)
		_, err = r.Apply(ctx, int64(i+2), env)
		require.NoError(t, err)
	}

	// The optimistic debit is not in the journal; the snapshot a resync
	// would have saved carries it.
	require.NoError(t, j.SaveSnapshot(ctx, Capture(seededAfterDebit(t), 1, 1)))

	res, err := Replay(ctx, j, 1)
	require.NoError(t, err)

	assert.True(t, res.Snapshot)
	assert.Equal(t, int64(7), res.LastSeq)
	assert.Equal(t, 3, res.Applied, "e3, the id-less transfer and e5")
	assert.Equal(t, 2, res.Skipped, "the echo and the other-warehouse update")

	assert.Equal(t, live.Snapshot().Records(1), res.Store.Snapshot().Records(1))
	it, ok := res.Store.Snapshot().Item(7)
	require.True(t, ok)
	assert.Equal(t, "Roma tomatoes", it.Name)
	assert.Equal(t, "1.25", it.UnitCost.String())
}

func seededAfterDebit(t *testing.T) *inventory.Snapshot {
	t.Helper()
	s := seededStore(t)
	s.ApplyDelta(7, 1, -4)
	return s.Snapshot()
}

func TestReplay_WithoutSnapshot(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	_, err := j.AppendEvent(ctx, entry(t, 1, 3, "x", reconcile.InventoryUpdated,
		reconcile.InventoryPayload{WarehouseID: 3, StockItemID: 1, Quantity: 6}, reconcile.Applied))
	require.NoError(t, err)

	res, err := Replay(ctx, j, 3)
	require.NoError(t, err)
	assert.False(t, res.Snapshot)
	assert.Equal(t, 1, res.Applied)

	rec, ok := res.Store.Snapshot().Get(1, 3)
	require.True(t, ok)
	assert.Equal(t, 6, rec.Quantity)
}
