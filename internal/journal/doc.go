// Package journal provides SQLite-backed durable storage of the client's
// reconciled event stream.
//
// The journal holds:
//   - Events: every authoritative event the reconciler processed, with the
//     warehouse in view and the outcome of its rule
//   - Snapshots: the latest resync result per warehouse
//
// A store is rebuilt offline by loading a warehouse's snapshot and
// replaying the applied events recorded after it through the same rules
// the live reconciler uses.
//
// # Idempotency
//
//   - event_key is the PRIMARY KEY; appends use ON CONFLICT DO NOTHING
//   - events carrying a server id are keyed by it, so a redelivery is
//     recorded once; id-less events are keyed by a digest that includes seq
//
// # Ordering
//
//   - All reads ORDER BY seq ASC, event_key ASC COLLATE BINARY
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package journal
