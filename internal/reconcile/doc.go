// Package reconcile merges authoritative server events into the inventory
// store.
//
// Each event type maps to one Rule in a dispatch table. Rules are
// independent projections over the current store: item-level events
// replace whole records, inventory events touch only the viewed warehouse,
// and stock:transferred applies a single delta.
//
// The client's own transfers are already reflected by the time their
// stock:transferred echo arrives, either optimistically or through the
// post-transfer resync. The Ledger holds one expectation per own transfer
// so the echo is consumed instead of applied a second time.
//
// Events carrying an id are applied at most once: a bounded in-memory
// window catches redeliveries within a session and an optional Recorder
// (the journal) catches them across restarts.
package reconcile
