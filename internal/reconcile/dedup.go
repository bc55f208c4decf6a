package reconcile

import "sync"

// DefaultDedupSize bounds the in-memory window of applied event ids.
const DefaultDedupSize = 4096

// dedup remembers the most recent event ids, evicting the oldest first.
type dedup struct {
	mu    sync.Mutex
	size  int
	seen  map[string]struct{}
	order []string
}

func newDedup(size int) *dedup {
	if size <= 0 {
		size = DefaultDedupSize
	}
	return &dedup{size: size, seen: make(map[string]struct{}, size)}
}

// Has reports whether id is in the window.
func (d *dedup) Has(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[id]
	return ok
}

// Add records id. Returns false if it was already present.
func (d *dedup) Add(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return false
	}
	if len(d.order) >= d.size {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
	return true
}

func (d *dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}
