package cache

import (
	"sort"
	"sync"
)

// MemoryStore implements Store in process memory. It is used when no cache
// directory is available and in tests. A positive quota bounds the total
// bytes held; writes beyond it fail with ErrQuotaExceeded.
type MemoryStore struct {
	quota int64 // Maximum size in bytes, 0 for unbounded
	size  int64 // Current size in bytes
	seq   uint64

	items map[string]*memoryStoreEntry

	// Synchronization
	mu sync.RWMutex
}

// memoryStoreEntry represents a value held by the memory store
type memoryStoreEntry struct {
	value []byte
	seq   uint64 // write order
}

// NewMemoryStore creates a memory store with the given quota in bytes.
func NewMemoryStore(quota int64) *MemoryStore {
	return &MemoryStore{
		quota: quota,
		items: make(map[string]*memoryStoreEntry),
	}
}

// Get retrieves a value from the store.
func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.items[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return entry.value, nil
}

// Put stores a value, replacing any previous value for key.
func (s *MemoryStore) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	valueSize := int64(len(value))

	var existingSize int64
	if existing, ok := s.items[key]; ok {
		existingSize = int64(len(existing.value))
	}

	if s.quota > 0 && s.size-existingSize+valueSize > s.quota {
		return ErrQuotaExceeded
	}

	s.seq++
	s.items[key] = &memoryStoreEntry{
		value: value,
		seq:   s.seq,
	}
	s.size += valueSize - existingSize

	return nil
}

// Delete removes an entry from the store.
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.items[key]
	if !ok {
		return nil
	}

	delete(s.items, key)
	s.size -= int64(len(entry.value))
	return nil
}

// Clear removes all entries from the store.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*memoryStoreEntry)
	s.size = 0
	return nil
}

// Keys returns all keys, most recently written first.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.items))
	for key := range s.items {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return s.items[keys[i]].seq > s.items[keys[j]].seq
	})
	return keys
}

// Size returns the bytes currently held.
func (s *MemoryStore) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.size
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
