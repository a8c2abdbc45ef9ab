package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/yuxki/dytrust/pkg/date"
	"github.com/yuxki/dytrust/pkg/revocation"
)

// Store keeps revocation tokens in a built-in map in Go. It implements
// revocation.Repository for processes that do not need a persistent cache.
// Writes to one key are serialized by the store lock.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	now       date.Now
	updatedAt time.Time
}

// StoreOption is an implementation of the functional options pattern.
type StoreOption = func(*Store)

// NewStore creates and returns new instance of Store.
func NewStore(options ...StoreOption) *Store {
	s := &Store{
		entries: make(map[string]Entry),
		now:     date.NowGMT,
	}

	for _, opt := range options {
		opt(s)
	}

	s.updatedAt = s.now()

	return s
}

func WithNow(now date.Now) func(*Store) {
	return func(s *Store) {
		s.now = now
	}
}

// Find returns a copy of the token stored under key.
func (s *Store) Find(_ context.Context, key string) (*revocation.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, revocation.ErrNotFound
	}
	return entry.Token(), nil
}

// Insert stores tok under a new key.
func (s *Store) Insert(_ context.Context, key string, tok *revocation.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; ok {
		return revocation.ErrKeyExists
	}
	return s.put(key, tok)
}

// Update replaces the token stored under a known key.
func (s *Store) Update(_ context.Context, key string, tok *revocation.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return revocation.ErrNotFound
	}
	return s.put(key, tok)
}

func (s *Store) put(key string, tok *revocation.Token) error {
	now := s.now()
	entry, err := CreateEntry(key, tok, now)
	if err != nil {
		return err
	}
	s.entries[key] = entry
	s.updatedAt = now
	return nil
}

// Remove deletes the token stored under key.
func (s *Store) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return revocation.ErrNotFound
	}
	delete(s.entries, key)
	s.updatedAt = s.now()
	return nil
}

// Truncate deletes all entries.
func (s *Store) Truncate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]Entry)
	s.updatedAt = s.now()
	return nil
}

// Get returns the entry stored under key.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	return entry, ok
}

// Keys returns the stored keys in lexical order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// UpdatedAt returns the time of the last write.
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// NewReadOnlyStore creates and returns new StoreRO instance.
// StoreRO is a wrapper around the Store object, providing only read APIs.
func (s *Store) NewReadOnlyStore() *StoreRO {
	return &StoreRO{store: s}
}
