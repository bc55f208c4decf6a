// Package engine runs the one goroutine allowed to change the inventory
// view.
//
// Optimistic edits, resync results and reconciled push events all reach
// the store as tasks. The loop takes them in FIFO order and gives each a
// seq from its Clock before running it, so a task always sees the effect
// of every task queued before it and the store needs no locking of its
// own beyond publishing snapshots.
//
// Tasks never perform network I/O. A caller talks to the server on its own
// goroutine and hands the outcome to the loop with Do, which returns only
// once the task has run or was abandoned before starting.
//
// Seqs, not wall time, order everything the journal records.
package engine
