package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a key is absent or expired.
	ErrNotFound = errors.New("key not found in store")
)

// Store is a key to JSON blob store with per-entry expiry.
// Implementations must write values atomically per key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Contains(ctx context.Context, key string) (bool, error)
	Reset(ctx context.Context) error
	Close() error
}

type entry struct {
	value     []byte
	expiresAt time.Time
	storedAt  time.Time
}

// MemoryStore is a concurrency-safe in-memory implementation of Store.
type MemoryStore struct {
	mu sync.RWMutex

	data map[string]entry

	// retention configuration
	maxEntries int // max number of keys (0 = unlimited)
	lastSweep  time.Time

	now func() time.Time
}

// sweepInterval bounds how often Set scans the whole map for expired entries.
const sweepInterval = time.Minute

// NewMemoryStore creates a new MemoryStore.
// If maxEntries is <= 0, it is treated as unlimited.
func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]entry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns a copy of the stored value. Expired entries are evicted.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := s.live(key)
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores a copy of value and enforces retention.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, len(value))
	copy(buf, value)

	now := s.now()
	e := entry{value: buf, storedAt: now}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = e

	if now.Sub(s.lastSweep) >= sweepInterval {
		s.pruneExpired()
		s.lastSweep = now
	}

	// Enforce retention by count: expired entries first, then the oldest.
	if s.maxEntries > 0 && len(s.data) > s.maxEntries {
		s.pruneExpired()
		for len(s.data) > s.maxEntries {
			var oldestKey string
			var oldest time.Time
			for k, v := range s.data {
				if k == key {
					continue
				}
				if oldestKey == "" || v.storedAt.Before(oldest) {
					oldestKey, oldest = k, v.storedAt
				}
			}
			if oldestKey == "" {
				break
			}
			delete(s.data, oldestKey)
		}
	}
	return nil
}

// Delete removes a key; deleting a missing key is not an error.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Contains reports whether a live entry exists for key.
func (s *MemoryStore) Contains(_ context.Context, key string) (bool, error) {
	_, ok := s.live(key)
	return ok, nil
}

// Reset drops every entry.
func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]entry)
	return nil
}

// Len returns the number of entries, including expired ones not yet evicted.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *MemoryStore) Close() error { return nil }

// live returns the entry for key, deleting it if it has expired.
func (s *MemoryStore) live(key string) (entry, bool) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return entry{}, false
	}
	if !s.expired(e) {
		return e, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check: a concurrent Set may have replaced the entry.
	if cur, ok := s.data[key]; ok && s.expired(cur) {
		delete(s.data, key)
	}
	return entry{}, false
}

// pruneExpired drops every expired entry. Callers hold the write lock.
func (s *MemoryStore) pruneExpired() {
	for k, v := range s.data {
		if s.expired(v) {
			delete(s.data, k)
		}
	}
}

func (s *MemoryStore) expired(e entry) bool {
	return !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt)
}

var _ Store = (*MemoryStore)(nil)
