package inventory

import (
	"sync"
	"sync/atomic"
)

// Store is the in-memory source of truth for the client's active view.
//
// CRITICAL: mutating methods must only be called from the mutation loop.
// Snapshot() and Subscribe() are safe from any goroutine.
type Store struct {
	records    map[Key]Record
	items      map[int64]StockItem
	categories map[int64]Category
	suppliers  map[int64]Supplier
	active     int64
	version    int64

	// batch depth; publication is deferred until it returns to zero
	batching int
	dirty    bool

	current atomic.Pointer[Snapshot]

	subMu   sync.Mutex
	subs    []subscriber // registration order
	nextSub int
}

type subscriber struct {
	id int
	fn func(*Snapshot)
}

// NewStore creates an empty store with no active warehouse.
func NewStore() *Store {
	s := &Store{
		records:    make(map[Key]Record),
		items:      make(map[int64]StockItem),
		categories: make(map[int64]Category),
		suppliers:  make(map[int64]Supplier),
	}
	s.current.Store(s.snapshot())
	return s
}

// Snapshot returns the most recently published snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Subscribe registers fn to be called with every new snapshot.
// fn runs on the mutation loop and must not mutate the store.
// The returned function removes the subscription.
func (s *Store) Subscribe(fn func(*Snapshot)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// Get returns the record for (itemID, warehouseID).
func (s *Store) Get(itemID, warehouseID int64) (Record, bool) {
	r, ok := s.records[Key{ItemID: itemID, WarehouseID: warehouseID}]
	return r, ok
}

// Upsert inserts or replaces the record with the same key.
// Records violating the non-negativity invariants are rejected.
func (s *Store) Upsert(r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.records[r.Key()] = r
	s.publish()
	return nil
}

// Remove deletes the record for (itemID, warehouseID).
// Returns false if no such record existed.
func (s *Store) Remove(itemID, warehouseID int64) bool {
	k := Key{ItemID: itemID, WarehouseID: warehouseID}
	if _, ok := s.records[k]; !ok {
		return false
	}
	delete(s.records, k)
	s.publish()
	return true
}

// ApplyDelta adjusts a record's quantity by a signed delta, clamping at zero.
// It never fails: an over-draw leaves the quantity at 0.
//
// On an absent key a positive delta creates a record with MinQuantity 0 and
// a non-positive delta is a no-op. The resulting record is returned; the
// boolean is false when nothing was stored.
func (s *Store) ApplyDelta(itemID, warehouseID int64, delta int) (Record, bool) {
	k := Key{ItemID: itemID, WarehouseID: warehouseID}
	r, ok := s.records[k]
	if !ok {
		if delta <= 0 {
			return Record{}, false
		}
		r = Record{ItemID: itemID, WarehouseID: warehouseID}
	}

	r.Quantity += delta
	if r.Quantity < 0 {
		r.Quantity = 0
	}
	s.records[k] = r
	s.publish()
	return r, true
}

// ReplaceWarehouse discards every record held for warehouseID and installs
// the given records. Records for other warehouses are ignored.
func (s *Store) ReplaceWarehouse(warehouseID int64, records []Record) error {
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	for k := range s.records {
		if k.WarehouseID == warehouseID {
			delete(s.records, k)
		}
	}
	for _, r := range records {
		if r.WarehouseID == warehouseID {
			s.records[r.Key()] = r
		}
	}
	s.publish()
	return nil
}

// Records returns the records held for a warehouse, ordered by item id.
func (s *Store) Records(warehouseID int64) []Record {
	return recordsFor(s.records, warehouseID)
}

// SetActiveWarehouse changes the warehouse the view is focused on.
func (s *Store) SetActiveWarehouse(warehouseID int64) {
	if s.active == warehouseID {
		return
	}
	s.active = warehouseID
	s.publish()
}

// ActiveWarehouse returns the warehouse currently in view, 0 if none.
func (s *Store) ActiveWarehouse() int64 {
	return s.active
}

// Item returns a catalog item.
func (s *Store) Item(id int64) (StockItem, bool) {
	it, ok := s.items[id]
	return it, ok
}

// PutItem inserts or fully replaces a catalog item.
func (s *Store) PutItem(it StockItem) {
	s.items[it.ID] = it
	s.publish()
}

// RemoveItem drops a catalog item and every record of it.
func (s *Store) RemoveItem(id int64) bool {
	_, existed := s.items[id]
	for k := range s.records {
		if k.ItemID == id {
			delete(s.records, k)
			existed = true
		}
	}
	delete(s.items, id)
	if existed {
		s.publish()
	}
	return existed
}

// ReplaceItems replaces the whole flat item list.
func (s *Store) ReplaceItems(items []StockItem) {
	s.items = make(map[int64]StockItem, len(items))
	for _, it := range items {
		s.items[it.ID] = it
	}
	s.publish()
}

// PutCategory inserts or replaces a category.
func (s *Store) PutCategory(c Category) {
	s.categories[c.ID] = c
	s.publish()
}

// RemoveCategory drops a category.
func (s *Store) RemoveCategory(id int64) bool {
	if _, ok := s.categories[id]; !ok {
		return false
	}
	delete(s.categories, id)
	s.publish()
	return true
}

// PutSupplier inserts or replaces a supplier.
func (s *Store) PutSupplier(sp Supplier) {
	s.suppliers[sp.ID] = sp
	s.publish()
}

// RemoveSupplier drops a supplier.
func (s *Store) RemoveSupplier(id int64) bool {
	if _, ok := s.suppliers[id]; !ok {
		return false
	}
	delete(s.suppliers, id)
	s.publish()
	return true
}

// Batch runs fn and publishes a single snapshot for all mutations it makes.
// Batches nest; only the outermost one publishes.
func (s *Store) Batch(fn func()) {
	s.batching++
	defer func() {
		s.batching--
		if s.batching == 0 && s.dirty {
			s.dirty = false
			s.publish()
		}
	}()
	fn()
}

// publish installs a new snapshot and notifies subscribers.
func (s *Store) publish() {
	if s.batching > 0 {
		s.dirty = true
		return
	}

	s.version++
	snap := s.snapshot()
	s.current.Store(snap)

	s.subMu.Lock()
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.fn(snap)
	}
}

func (s *Store) snapshot() *Snapshot {
	return &Snapshot{
		Version:         s.version,
		ActiveWarehouse: s.active,
		records:         copyMap(s.records),
		items:           copyMap(s.items),
		categories:      copyMap(s.categories),
		suppliers:       copyMap(s.suppliers),
	}
}
