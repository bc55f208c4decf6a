// Package harness runs YAML scenarios against a live session.
//
// Each scenario seeds an in-process fake server of record, opens a
// session on one warehouse over an in-process push feed and an in-memory
// journal, executes its steps, and evaluates assertions on the final
// view, the journal and the server's call counts.
//
// # Scenario Format
//
//	name: transfer_confirmed
//	description: "A transfer is applied optimistically and confirmed"
//	warehouse: 1
//	seed:
//	  warehouses:
//	    - { id: 1, name: Main kitchen }
//	    - { id: 2, name: Bar }
//	  items:
//	    - { id: 7, name: Tomatoes, unit_cost: "1.25" }
//	  stock:
//	    - { item: 7, warehouse: 1, qty: 20, min: 5 }
//	steps:
//	  - { action: transfer, item: 7, from: 1, to: 2, qty: 8 }
//	  - { action: transfer, item: 7, from: 1, to: 2, qty: 25, expect: validation }
//	assertions:
//	  - { type: record, item: 7, warehouse: 1, expect: { qty: 12 } }
//	  - { type: calls, op: transfer, count: 1 }
//
// # Step Actions
//
//   - transfer, add, update, remove: session operations
//   - switch, resync, refresh_alerts: view operations
//   - external_update, external_transfer: another client's changes
//   - disconnect, reconnect: push feed outages
//   - fail_next: inject a network or rejection failure for one server op
//   - advance: move the echo ledger's clock forward
//
// # Assertion Types
//
//   - record: the record at (item, warehouse) has the expected fields
//   - absent: no record at (item, warehouse)
//   - alert: the alert status of (item, warehouse) in view
//   - calls: the server op was called exactly count times
//   - ledger: count echo expectations are pending
//   - events: count journaled events of a type had the given outcome
//
// Runs are deterministic: the golden snapshot of a scenario (its step
// outcomes, journaled events and final records) is stable across runs and
// compared with RunWithGolden.
package harness
