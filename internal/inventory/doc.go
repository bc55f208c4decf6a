// Package inventory holds the client-side replica of multi-warehouse stock.
//
// The Store maps (item, warehouse) keys to records carrying quantity,
// minimum threshold and shelf position, together with the catalog replicas
// (items, categories, suppliers) the active view needs.
//
// # Mutation Model
//
// A Store is NOT safe for concurrent mutation. Every mutating method must be
// called from the single mutation loop (see internal/engine). Reads through
// Snapshot() are safe from any goroutine: each mutation publishes a new
// immutable Snapshot and notifies subscribers synchronously on the loop.
//
// # Invariants
//
//   - Quantity and MinQuantity are never negative.
//   - At most one record exists per Key. Absence means "not stocked here";
//     a record with Quantity 0 is a valid, distinct state.
//   - Snapshot versions strictly increase.
package inventory
