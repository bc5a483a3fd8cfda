// Package cache memoizes assembled synthesis results under a fingerprint of
// (text, voice, speed). AudioCache keeps a byte-bounded LRU index in memory
// and writes entries through to a Store: DiskStore persists them as zstd
// compressed files across restarts, MemoryStore keeps them for the life of
// the process.
package cache
