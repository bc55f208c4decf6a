package engine

import "sync/atomic"

// Clock hands out the sequence numbers that order mutations of the view.
//
// A seq is never wall-clock time. Journal entries and resync snapshots
// are stamped with the seq of the task that produced them, so a restart
// that resumes the clock at the journal's last seq keeps every later
// entry strictly after every earlier one.
//
// Safe for concurrent use, though in practice only the loop advances it.
type Clock struct {
	seq atomic.Int64
}

// NewClock returns a clock whose first seq is 1.
func NewClock() *Clock {
	return NewClockAt(0)
}

// NewClockAt returns a clock whose first seq is last+1.
func NewClockAt(last int64) *Clock {
	c := &Clock{}
	c.seq.Store(last)
	return c
}

// Next advances the clock and returns the new seq.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last seq handed out, 0 if none.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
