package cache

import "time"

// StoreRO is read-only Store.
// It should have only read methods of the Store.
type StoreRO struct {
	store *Store
}

// Get is a simple wrapper of the Get method of the Store.
func (r *StoreRO) Get(key string) (Entry, bool) {
	return r.store.Get(key)
}

// Len is a simple wrapper of the Len method of the Store.
func (r *StoreRO) Len() int {
	return r.store.Len()
}

// UpdatedAt is a simple wrapper of the UpdatedAt method of the Store.
func (r *StoreRO) UpdatedAt() time.Time {
	return r.store.UpdatedAt()
}
