package cache

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Entry wraps a cached value. An entry is valid iff now-Timestamp < MaxAge.
type Entry[T any] struct {
	Value       T
	Timestamp   time.Time
	Hash        string // content hash of Value, for debugging only
	AccessCount int
	LastAccess  time.Time

	seq   uint64 // access order, breaks LastAccess ties
	feeds []string
}

// TableStats is a point-in-time view of one table.
type TableStats struct {
	Name      string `json:"name"`
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Expired   uint64 `json:"expired"`
}

// Table is a TTL + LRU-by-last-access store for one kind of value. It keeps
// a reverse index from feed id to keys so a single feed can be invalidated
// exactly. All methods are safe for concurrent use.
type Table[T any] struct {
	name       string
	maxAge     time.Duration
	maxEntries int
	clock      Clock

	mu        sync.Mutex
	entries   map[string]*Entry[T]
	byFeed    map[string]map[string]struct{}
	seq       uint64
	hits      uint64
	misses    uint64
	evictions uint64
	expired   uint64
}

// NewTable creates a Table using opts (defaults applied).
func NewTable[T any](name string, opts Options) *Table[T] {
	opts = opts.withDefaults()
	return &Table[T]{
		name:       name,
		maxAge:     opts.MaxAge,
		maxEntries: opts.MaxEntries,
		clock:      opts.Clock,
		entries:    make(map[string]*Entry[T]),
		byFeed:     make(map[string]map[string]struct{}),
	}
}

// Get returns the value for key if present and still valid. Stale entries
// are dropped and reported as a miss.
func (t *Table[T]) Get(key string) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	e, ok := t.entries[key]
	if !ok {
		t.misses++
		return zero, false
	}
	now := t.clock.Now()
	if now.Sub(e.Timestamp) >= t.maxAge {
		t.remove(key)
		t.expired++
		t.misses++
		return zero, false
	}

	t.seq++
	e.seq = t.seq
	e.AccessCount++
	e.LastAccess = now
	t.hits++
	return e.Value, true
}

// Set stores value under key and records which feeds it depends on. When the
// table grows past its limit the least recently accessed entries are evicted.
func (t *Table[T]) Set(key string, value T, feedIDs ...string) {
	hash := contentHash(value)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[key]; ok {
		t.remove(key)
	}

	now := t.clock.Now()
	t.seq++
	e := &Entry[T]{
		Value:      value,
		Timestamp:  now,
		Hash:       hash,
		LastAccess: now,
		seq:        t.seq,
		feeds:      append([]string(nil), feedIDs...),
	}
	t.entries[key] = e
	for _, id := range e.feeds {
		keys, ok := t.byFeed[id]
		if !ok {
			keys = make(map[string]struct{})
			t.byFeed[id] = keys
		}
		keys[key] = struct{}{}
	}

	t.evictLRU()
}

// Entry returns a copy of the entry metadata for key without touching its
// access statistics.
func (t *Table[T]) Entry(key string) (Entry[T], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return Entry[T]{}, false
	}
	return *e, true
}

// Invalidate removes key. Returns whether it was present.
func (t *Table[T]) Invalidate(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[key]; !ok {
		return false
	}
	t.remove(key)
	return true
}

// InvalidateAll empties the table and returns how many entries were dropped.
func (t *Table[T]) InvalidateAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.entries)
	t.entries = make(map[string]*Entry[T])
	t.byFeed = make(map[string]map[string]struct{})
	return n
}

// InvalidateFeed removes every entry that was stored with feedID.
func (t *Table[T]) InvalidateFeed(feedID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := t.byFeed[feedID]
	victims := make([]string, 0, len(keys))
	for k := range keys {
		victims = append(victims, k)
	}
	for _, k := range victims {
		t.remove(k)
	}
	return len(victims)
}

// Sweep removes all expired entries and returns how many were dropped.
func (t *Table[T]) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	var stale []string
	for k, e := range t.entries {
		if now.Sub(e.Timestamp) >= t.maxAge {
			stale = append(stale, k)
		}
	}
	for _, k := range stale {
		t.remove(k)
	}
	t.expired += uint64(len(stale))
	return len(stale)
}

// Len returns the number of stored entries, valid or not.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Keys returns the stored keys in sorted order.
func (t *Table[T]) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Stats returns the table counters.
func (t *Table[T]) Stats() TableStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TableStats{
		Name:      t.name,
		Entries:   len(t.entries),
		Hits:      t.hits,
		Misses:    t.misses,
		Evictions: t.evictions,
		Expired:   t.expired,
	}
}

// evictLRU drops the least recently accessed entries beyond maxEntries.
// Caller must hold t.mu.
func (t *Table[T]) evictLRU() {
	excess := len(t.entries) - t.maxEntries
	if excess <= 0 {
		return
	}

	type candidate struct {
		key  string
		last time.Time
		seq  uint64
	}
	cands := make([]candidate, 0, len(t.entries))
	for k, e := range t.entries {
		cands = append(cands, candidate{key: k, last: e.LastAccess, seq: e.seq})
	}
	sort.Slice(cands, func(i, j int) bool {
		if !cands[i].last.Equal(cands[j].last) {
			return cands[i].last.Before(cands[j].last)
		}
		return cands[i].seq < cands[j].seq
	})
	for _, c := range cands[:excess] {
		t.remove(c.key)
		t.evictions++
	}
}

// remove deletes key and its reverse-index references. Caller must hold t.mu.
func (t *Table[T]) remove(key string) {
	e, ok := t.entries[key]
	if !ok {
		return
	}
	delete(t.entries, key)
	for _, id := range e.feeds {
		keys := t.byFeed[id]
		delete(keys, key)
		if len(keys) == 0 {
			delete(t.byFeed, id)
		}
	}
}

// contentHash fingerprints a value for Entry.Hash. Values that cannot be
// encoded get an empty hash.
func contentHash(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	h := fnv.New64a()
	h.Write(data)
	return fmt.Sprintf("%016x", h.Sum64())
}
