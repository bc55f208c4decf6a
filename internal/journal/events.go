package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/stockline/internal/canonical"
	"github.com/roach88/stockline/internal/reconcile"
)

// Entry is one journaled event.
type Entry struct {
	Key         string
	EventID     string
	Seq         int64
	WarehouseID int64
	Event       reconcile.EventType
	Data        json.RawMessage
	Outcome     reconcile.Outcome
}

// Envelope rebuilds the event as received.
func (e Entry) Envelope() reconcile.Envelope {
	return reconcile.Envelope{Event: e.Event, ID: e.EventID, Data: e.Data}
}

// NewEntry converts a reconciler entry, canonicalizing its data and
// computing its key.
func NewEntry(re reconcile.Entry) (Entry, error) {
	data, err := canonical.Canonicalize(re.Envelope.Data)
	if err != nil {
		return Entry{}, fmt.Errorf("journal entry %s: %w", re.Envelope.Event, err)
	}

	e := Entry{
		EventID:     re.Envelope.ID,
		Seq:         re.Seq,
		WarehouseID: re.WarehouseID,
		Event:       re.Envelope.Event,
		Data:        data,
		Outcome:     re.Outcome,
	}
	e.Key, err = eventKey(e)
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

// eventKey is "id:<event id>" for events the server identified and a
// digest of (event, data, seq) otherwise.
func eventKey(e Entry) (string, error) {
	if e.EventID != "" {
		return "id:" + e.EventID, nil
	}
	digest, err := canonical.Digest(canonical.DomainEvent, map[string]any{
		"event": string(e.Event),
		"data":  e.Data,
		"seq":   e.Seq,
	})
	if err != nil {
		return "", fmt.Errorf("event key: %w", err)
	}
	return "sha256:" + digest, nil
}

// AppendEvent inserts e. Uses ON CONFLICT DO NOTHING for idempotency:
// returns false when an event with the same key or id exists.
func (j *Journal) AppendEvent(ctx context.Context, e Entry) (bool, error) {
	if e.Key == "" {
		return false, fmt.Errorf("append event: empty key")
	}

	var eventID any
	if e.EventID != "" {
		eventID = e.EventID
	}

	res, err := j.db.ExecContext(ctx, `
		INSERT INTO events
		(event_key, event_id, seq, warehouse_id, event_type, data, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		e.Key,
		eventID,
		e.Seq,
		e.WarehouseID,
		string(e.Event),
		string(e.Data),
		string(e.Outcome),
	)
	if err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}
	return n == 1, nil
}

// HasEventID reports whether an event with the server id was journaled.
func (j *Journal) HasEventID(ctx context.Context, id string) (bool, error) {
	var n int
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE event_id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup event id: %w", err)
	}
	return n > 0, nil
}

// ReadEvents returns the events journaled while warehouseID was in view,
// with seq greater than afterSeq.
// Ordered by seq ASC, event_key ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if none exist.
func (j *Journal) ReadEvents(ctx context.Context, warehouseID, afterSeq int64) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT event_key, event_id, seq, warehouse_id, event_type, data, outcome
		FROM events
		WHERE warehouse_id = ? AND seq > ?
		ORDER BY seq ASC, event_key COLLATE BINARY ASC
	`, warehouseID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return scanEntries(rows)
}

// ReadAll returns every event with seq greater than afterSeq, whatever
// warehouse was in view, in the same order as ReadEvents.
func (j *Journal) ReadAll(ctx context.Context, afterSeq int64) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT event_key, event_id, seq, warehouse_id, event_type, data, outcome
		FROM events
		WHERE seq > ?
		ORDER BY seq ASC, event_key COLLATE BINARY ASC
	`, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			eventID sql.NullString
			event   string
			data    string
			outcome string
		)
		if err := rows.Scan(&e.Key, &eventID, &e.Seq, &e.WarehouseID, &event, &data, &outcome); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.EventID = eventID.String
		e.Event = reconcile.EventType(event)
		e.Data = json.RawMessage(data)
		e.Outcome = reconcile.Outcome(outcome)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return entries, nil
}

// LastSeq returns the highest seq in the journal, 0 when empty.
// Used to resume the mutation loop's clock on warm start.
func (j *Journal) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := j.db.QueryRowContext(ctx, `
		SELECT MAX(s) FROM (
			SELECT MAX(seq) AS s FROM events
			UNION ALL
			SELECT MAX(seq) AS s FROM snapshots
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// Recorder adapts the journal to reconcile.Recorder.
func (j *Journal) Recorder() reconcile.Recorder {
	return recorder{j: j}
}

type recorder struct {
	j *Journal
}

func (r recorder) Seen(ctx context.Context, id string) (bool, error) {
	return r.j.HasEventID(ctx, id)
}

func (r recorder) Record(ctx context.Context, re reconcile.Entry) (bool, error) {
	e, err := NewEntry(re)
	if err != nil {
		return false, err
	}
	return r.j.AppendEvent(ctx, e)
}
