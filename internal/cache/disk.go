package cache

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	indexFileName = "cache.index"
	entryFileExt  = ".cache"

	// minCompressSize is the smallest value worth compressing.
	minCompressSize = 1024
)

// DiskStore implements Store as one file per entry plus a gob index.
// Values are zstd compressed when that makes them smaller.
type DiskStore struct {
	basePath string

	// Compression
	compressionLevel int
	encoder          *zstd.Encoder
	decoder          *zstd.Decoder

	// Index for fast lookups
	index map[string]*diskEntry
	seq   uint64

	// Synchronization
	mu sync.RWMutex
}

// diskEntry represents an entry in the disk store index
type diskEntry struct {
	Key          string
	FileName     string
	Size         int64 // Size on disk (compressed)
	OriginalSize int64 // Original size (uncompressed)
	Timestamp    time.Time
	Seq          uint64 // write order
	Compressed   bool
}

// NewDiskStore opens or creates a disk store at basePath. A compression
// level of 0 disables compression; otherwise it is a zstd level (1-22).
func NewDiskStore(basePath string, compressionLevel int) (*DiskStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	ds := &DiskStore{
		basePath:         basePath,
		compressionLevel: compressionLevel,
		index:            make(map[string]*diskEntry),
	}

	if compressionLevel > 0 {
		var err error
		ds.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}

	// Always able to read entries written with compression on.
	var err error
	ds.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	if err := ds.loadIndex(); err != nil {
		// Non-fatal: start over with an empty index
		ds.index = make(map[string]*diskEntry)
	}
	for _, entry := range ds.index {
		ds.seq = max(ds.seq, entry.Seq)
	}

	return ds, nil
}

// Get reads and decompresses the value stored under key.
func (ds *DiskStore) Get(key string) ([]byte, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	entry, ok := ds.index[key]
	if !ok {
		return nil, ErrCacheMiss
	}

	data, err := os.ReadFile(ds.filePath(entry))
	if err != nil {
		// File missing or unreadable, forget it
		delete(ds.index, key)
		_ = ds.saveIndex()
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	if entry.Compressed {
		decompressed, err := ds.decoder.DecodeAll(data, nil)
		if err != nil {
			ds.removeEntry(entry)
			_ = ds.saveIndex()
			return nil, fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
		}
		data = decompressed
	}

	return data, nil
}

// Put writes value under key, replacing any previous value.
func (ds *DiskStore) Put(key string, value []byte) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	dataToWrite := value
	compressed := false
	if ds.encoder != nil && len(value) > minCompressSize {
		compressedData := ds.encoder.EncodeAll(value, nil)
		// Only use compression if it actually reduces size
		if len(compressedData) < len(value) {
			dataToWrite = compressedData
			compressed = true
		}
	}

	entry := &diskEntry{
		Key:          key,
		FileName:     fileNameFor(key),
		Size:         int64(len(dataToWrite)),
		OriginalSize: int64(len(value)),
		Timestamp:    time.Now(),
		Compressed:   compressed,
	}

	if err := writeFileAtomic(ds.filePath(entry), dataToWrite); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	ds.seq++
	entry.Seq = ds.seq
	ds.index[key] = entry

	return ds.saveIndex()
}

// Delete removes an entry.
func (ds *DiskStore) Delete(key string) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	entry, ok := ds.index[key]
	if !ok {
		return nil
	}

	ds.removeEntry(entry)
	return ds.saveIndex()
}

// Clear removes all entries and their files.
func (ds *DiskStore) Clear() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	for _, entry := range ds.index {
		os.Remove(ds.filePath(entry))
	}
	ds.index = make(map[string]*diskEntry)

	return ds.saveIndex()
}

// Keys returns every stored key, most recently written first.
func (ds *DiskStore) Keys() []string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	entries := make([]*diskEntry, 0, len(ds.index))
	for _, entry := range ds.index {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Seq > entries[j].Seq
	})

	keys := make([]string, len(entries))
	for i, entry := range entries {
		keys[i] = entry.Key
	}
	return keys
}

// Size returns the bytes used on disk by entry files.
func (ds *DiskStore) Size() int64 {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	var size int64
	for _, entry := range ds.index {
		size += entry.Size
	}
	return size
}

// Path returns the directory backing the store.
func (ds *DiskStore) Path() string {
	return ds.basePath
}

// Close saves the index and releases the codec resources.
func (ds *DiskStore) Close() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	err := ds.saveIndex()
	if ds.encoder != nil {
		_ = ds.encoder.Close()
	}
	ds.decoder.Close()
	return err
}

// Private helper methods

func fileNameFor(key string) string {
	// Keys contain separators; use a digest for the file name
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:16]) + entryFileExt
}

func (ds *DiskStore) filePath(entry *diskEntry) string {
	return filepath.Join(ds.basePath, entry.FileName)
}

// removeEntry deletes an entry's file and index record (must be called with lock held).
func (ds *DiskStore) removeEntry(entry *diskEntry) {
	os.Remove(ds.filePath(entry))
	delete(ds.index, entry.Key)
}

func writeFileAtomic(path string, data []byte) error {
	// Write to temp file first, then rename (atomic on most systems)
	tempPath := path + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, path)
}

func (ds *DiskStore) loadIndex() error {
	file, err := os.Open(filepath.Join(ds.basePath, indexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No index file yet
		}
		return err
	}
	defer file.Close()

	return gob.NewDecoder(file).Decode(&ds.index)
}

func (ds *DiskStore) saveIndex() error {
	indexPath := filepath.Join(ds.basePath, indexFileName)
	tempPath := indexPath + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	err = gob.NewEncoder(file).Encode(ds.index)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, indexPath)
}
