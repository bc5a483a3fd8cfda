package cache

import (
	"errors"
	"time"

	"github.com/porua/porua/internal/stream"
)

// Common errors for cache operations
var (
	// ErrItemTooLarge is returned when an entry exceeds the whole cache budget
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrCacheMiss is returned by a Store when a key is not present
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheCorrupted is returned when persisted data cannot be decoded
	ErrCacheCorrupted = errors.New("cache data corrupted")

	// ErrQuotaExceeded is returned by a Store that has run out of room
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrInvalidBudget is returned for a negative byte budget
	ErrInvalidBudget = errors.New("cache budget must be positive")
)

// DefaultMaxSizeBytes is the budget used when none is configured (100MB).
const DefaultMaxSizeBytes = 100 * 1024 * 1024

// Entry is one cached assembled unit.
type Entry struct {
	Fingerprint string
	Audio       *stream.AssembledAudio
	SizeBytes   int64
	LastAccess  time.Time
}

// Stats holds cache usage and performance counters
type Stats struct {
	TotalSizeBytes int64   `json:"total_size_bytes" yaml:"total_size_bytes"`
	MaxSizeBytes   int64   `json:"max_size_bytes" yaml:"max_size_bytes"`
	UsagePercent   float64 `json:"usage_percent" yaml:"usage_percent"`
	EntryCount     int     `json:"entry_count" yaml:"entry_count"`

	Hits      int64   `json:"hits" yaml:"hits"`
	Misses    int64   `json:"misses" yaml:"misses"`
	HitRate   float64 `json:"hit_rate" yaml:"hit_rate"` // hits / (hits + misses), 0 before any lookup
	Evictions int64   `json:"evictions" yaml:"evictions"`
}

// Options adjusts a running cache. Zero fields are left unchanged.
type Options struct {
	MaxSizeBytes int64 `json:"max_size_bytes"`
}

// Store is a persistent key/value byte store backing an AudioCache.
type Store interface {
	// Get returns the value for key, or ErrCacheMiss.
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Clear() error

	// Keys lists stored keys, most recently written first.
	Keys() []string

	Close() error
}
