package cache

import (
	"bytes"
	"container/list"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/porua/porua/internal/stream"
	"github.com/porua/porua/internal/tts"
)

// AudioCache is a byte-bounded LRU cache of assembled audio. Entries live
// in memory and are written through to an optional Store, from which the
// cache is rebuilt on construction.
type AudioCache struct {
	maxSize int64 // Maximum size in bytes
	size    int64 // Current size in bytes

	// LRU implementation
	items    map[string]*list.Element
	eviction *list.List

	// mu guards the index and counters. persistMu serializes writers so the
	// store sees mutations in the same order as the index.
	mu        sync.Mutex
	persistMu sync.Mutex

	store  Store
	logger *log.Logger

	// Metrics
	hits      int64
	misses    int64
	evictions int64
}

// record is the persisted form of an entry.
type record struct {
	Fingerprint string
	Audio       stream.AssembledAudio
	StoredAt    time.Time
}

// NewAudioCache creates a cache holding at most maxSize bytes. When store is
// non-nil, entries already in it are loaded most recent first until the
// budget is full; the rest are removed from the store.
func NewAudioCache(maxSize int64, store Store, logger *log.Logger) (*AudioCache, error) {
	if maxSize <= 0 {
		return nil, ErrInvalidBudget
	}
	if logger == nil {
		logger = log.Default()
	}

	c := &AudioCache{
		maxSize:  maxSize,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
		store:    store,
		logger:   logger,
	}

	if store != nil {
		c.warm()
	}

	return c, nil
}

// EntrySize returns the bytes an assembled unit is charged against the
// budget: its audio plus the JSON encoding of its metadata and timeline.
func EntrySize(audio *stream.AssembledAudio) (int64, error) {
	meta, err := json.Marshal(audio.Metadata)
	if err != nil {
		return 0, fmt.Errorf("marshal metadata: %w", err)
	}
	timeline, err := json.Marshal(audio.Timeline)
	if err != nil {
		return 0, fmt.Errorf("marshal timeline: %w", err)
	}
	return int64(len(audio.Bytes) + len(meta) + len(timeline)), nil
}

// Lookup returns the entry for fingerprint. A hit marks it most recently used.
func (c *AudioCache) Lookup(fingerprint string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[fingerprint]
	if !ok {
		c.misses++
		c.logger.Debug("Cache miss", "key", fingerprint)
		return nil, false
	}

	c.eviction.MoveToFront(elem)
	entry := elem.Value.(*Entry)
	entry.LastAccess = time.Now()
	c.hits++

	c.logger.Debug("Cache hit", "key", fingerprint, "size", entry.SizeBytes)

	found := *entry
	return &found, true
}

// Contains reports whether fingerprint is cached without touching recency
// or counters.
func (c *AudioCache) Contains(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.items[fingerprint]
	return ok
}

// Store inserts audio under fingerprint, evicting least recently used
// entries until it fits. Errors carry tts.KindStorage; an entry larger than
// the whole budget fails with ErrItemTooLarge and leaves the cache as it was.
// When persisting fails the entry stays cached in memory.
func (c *AudioCache) Store(fingerprint string, audio *stream.AssembledAudio) error {
	if audio == nil {
		return tts.NewError(tts.KindStorage, "nothing to store", nil)
	}

	size, err := EntrySize(audio)
	if err != nil {
		return tts.NewError(tts.KindStorage, "size entry", err)
	}

	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	evicted, err := c.insert(fingerprint, audio, size)
	if err != nil {
		return tts.NewError(tts.KindStorage, fmt.Sprintf("store %s", fingerprint), err)
	}

	if c.store == nil {
		return nil
	}

	var errs []error
	for _, key := range evicted {
		if err := c.store.Delete(key); err != nil {
			errs = append(errs, fmt.Errorf("delete evicted %s: %w", key, err))
		}
	}

	data, err := encodeRecord(record{Fingerprint: fingerprint, Audio: *audio, StoredAt: time.Now()})
	if err == nil {
		err = c.store.Put(fingerprint, data)
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("persist %s: %w", fingerprint, err))
	}

	if len(errs) > 0 {
		return tts.NewError(tts.KindStorage, "persist cache entry", errors.Join(errs...))
	}
	return nil
}

// insert adds the entry to the index and returns the keys it evicted.
func (c *AudioCache) insert(fingerprint string, audio *stream.AssembledAudio, size int64) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds budget of %d", ErrItemTooLarge, size, c.maxSize)
	}

	// Replacing an entry is not an eviction
	if elem, ok := c.items[fingerprint]; ok {
		c.removeElement(elem)
	}

	var evicted []string
	for c.size+size > c.maxSize && c.eviction.Len() > 0 {
		evicted = append(evicted, c.evictOldest())
	}

	entry := &Entry{
		Fingerprint: fingerprint,
		Audio:       audio,
		SizeBytes:   size,
		LastAccess:  time.Now(),
	}
	c.items[fingerprint] = c.eviction.PushFront(entry)
	c.size += size

	c.logger.Debug("Cache store", "key", fingerprint, "size", size, "evicted", len(evicted))
	return evicted, nil
}

// Clear removes every entry. Counters are kept.
func (c *AudioCache) Clear() error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	c.items = make(map[string]*list.Element)
	c.eviction.Init()
	c.size = 0
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	if err := c.store.Clear(); err != nil {
		return tts.NewError(tts.KindStorage, "clear store", err)
	}
	return nil
}

// Configure applies opts. Lowering the budget below current usage evicts
// least recently used entries until the cache fits.
func (c *AudioCache) Configure(opts Options) error {
	if opts.MaxSizeBytes < 0 {
		return tts.NewError(tts.KindValidation, "configure cache", ErrInvalidBudget)
	}
	if opts.MaxSizeBytes == 0 {
		return nil
	}

	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	c.maxSize = opts.MaxSizeBytes
	var evicted []string
	for c.size > c.maxSize && c.eviction.Len() > 0 {
		evicted = append(evicted, c.evictOldest())
	}
	c.mu.Unlock()

	c.logger.Debug("Cache configured", "max_size", opts.MaxSizeBytes, "evicted", len(evicted))

	if c.store == nil {
		return nil
	}

	var errs []error
	for _, key := range evicted {
		if err := c.store.Delete(key); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return tts.NewError(tts.KindStorage, "delete evicted entries", errors.Join(errs...))
	}
	return nil
}

// Stats returns a snapshot of usage and counters.
func (c *AudioCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		TotalSizeBytes: c.size,
		MaxSizeBytes:   c.maxSize,
		EntryCount:     len(c.items),
		Hits:           c.hits,
		Misses:         c.misses,
		Evictions:      c.evictions,
	}

	if c.maxSize > 0 {
		stats.UsagePercent = float64(c.size) / float64(c.maxSize) * 100
	}
	if stats.Hits+stats.Misses > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Hits+stats.Misses)
	}

	return stats
}

// Close releases the backing store.
func (c *AudioCache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

// warm loads persisted entries, most recent first, until the budget is full.
func (c *AudioCache) warm() {
	loaded := 0
	var drop []string

	for _, key := range c.store.Keys() {
		data, err := c.store.Get(key)
		if err != nil {
			if !errors.Is(err, ErrCacheMiss) {
				c.logger.Warn("Dropping unreadable cache entry", "key", key, "err", err)
				drop = append(drop, key)
			}
			continue
		}

		rec, err := decodeRecord(data)
		if err != nil || rec.Fingerprint != key {
			c.logger.Warn("Dropping corrupted cache entry", "key", key, "err", err)
			drop = append(drop, key)
			continue
		}

		audio := rec.Audio
		size, err := EntrySize(&audio)
		if err != nil || c.size+size > c.maxSize {
			drop = append(drop, key)
			continue
		}

		entry := &Entry{
			Fingerprint: key,
			Audio:       &audio,
			SizeBytes:   size,
			LastAccess:  rec.StoredAt,
		}
		// Keys arrive newest first, so older entries go behind them
		c.items[key] = c.eviction.PushBack(entry)
		c.size += size
		loaded++
	}

	for _, key := range drop {
		if err := c.store.Delete(key); err != nil {
			c.logger.Warn("Failed to delete cache entry", "key", key, "err", err)
		}
	}

	if loaded > 0 || len(drop) > 0 {
		c.logger.Debug("Cache warmed", "entries", loaded, "size", c.size, "dropped", len(drop))
	}
}

// evictOldest removes the least recently used entry and returns its key
// (must be called with lock held).
func (c *AudioCache) evictOldest() string {
	elem := c.eviction.Back()
	entry := elem.Value.(*Entry)
	c.removeElement(elem)
	c.evictions++
	c.logger.Debug("Cache evict", "key", entry.Fingerprint, "size", entry.SizeBytes)
	return entry.Fingerprint
}

// removeElement removes an element from the index (must be called with lock held).
func (c *AudioCache) removeElement(elem *list.Element) {
	c.eviction.Remove(elem)
	entry := elem.Value.(*Entry)
	delete(c.items, entry.Fingerprint)
	c.size -= entry.SizeBytes
}

func encodeRecord(rec record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (record, error) {
	var rec record
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return record{}, fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
	}
	// gob does not distinguish empty slices from nil
	if rec.Audio.Metadata.Phrases == nil {
		rec.Audio.Metadata.Phrases = []stream.Phrase{}
	}
	if rec.Audio.Timeline == nil {
		rec.Audio.Timeline = []stream.TimelineEntry{}
	}
	return rec, nil
}
