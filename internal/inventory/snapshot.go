package inventory

import "sort"

// Snapshot is an immutable copy of the store taken after a mutation.
// Safe to share between goroutines.
type Snapshot struct {
	Version         int64
	ActiveWarehouse int64

	records    map[Key]Record
	items      map[int64]StockItem
	categories map[int64]Category
	suppliers  map[int64]Supplier
}

// Get returns the record for (itemID, warehouseID).
func (s *Snapshot) Get(itemID, warehouseID int64) (Record, bool) {
	r, ok := s.records[Key{ItemID: itemID, WarehouseID: warehouseID}]
	return r, ok
}

// Records returns every record held for a warehouse, ordered by item id.
func (s *Snapshot) Records(warehouseID int64) []Record {
	return recordsFor(s.records, warehouseID)
}

// AllRecords returns every record ordered by (item, warehouse).
func (s *Snapshot) AllRecords() []Record {
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sortRecords(out)
	return out
}

// Item returns a catalog item.
func (s *Snapshot) Item(id int64) (StockItem, bool) {
	it, ok := s.items[id]
	return it, ok
}

// Items returns the flat item list ordered by id.
func (s *Snapshot) Items() []StockItem {
	out := make([]StockItem, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Category returns a catalog category.
func (s *Snapshot) Category(id int64) (Category, bool) {
	c, ok := s.categories[id]
	return c, ok
}

// Supplier returns a catalog supplier.
func (s *Snapshot) Supplier(id int64) (Supplier, bool) {
	sp, ok := s.suppliers[id]
	return sp, ok
}

// Categories returns every category ordered by id.
func (s *Snapshot) Categories() []Category {
	out := make([]Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Suppliers returns every supplier ordered by id.
func (s *Snapshot) Suppliers() []Supplier {
	out := make([]Supplier, 0, len(s.suppliers))
	for _, sp := range s.suppliers {
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	return len(s.records)
}

func recordsFor(records map[Key]Record, warehouseID int64) []Record {
	out := make([]Record, 0)
	for k, r := range records {
		if k.WarehouseID == warehouseID {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out
}

func sortRecords(rs []Record) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].ItemID != rs[j].ItemID {
			return rs[i].ItemID < rs[j].ItemID
		}
		return rs[i].WarehouseID < rs[j].WarehouseID
	})
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
