package cache

import (
	"bytes"
	"container/list"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/conductor/internal/observability"
)

// Config holds in-memory pool settings
type Config struct {
	MaxSizeBytes              int64
	CompressionEnabled        bool
	CompressionThresholdBytes int64
	CompressionLevel          int
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() Config {
	return Config{
		MaxSizeBytes:              100 * 1024 * 1024,
		CompressionEnabled:        true,
		CompressionThresholdBytes: 1024,
		CompressionLevel:          6,
	}
}

// Stats is a point-in-time view of the cache counters
type Stats struct {
	Hits              int64   `json:"hits"`
	Misses            int64   `json:"misses"`
	Evictions         int64   `json:"evictions"`
	TotalSizeBytes    int64   `json:"total_size_bytes"`
	MaxSizeBytes      int64   `json:"max_size_bytes"`
	Entries           int     `json:"entries"`
	CompressedEntries int     `json:"compressed_entries"`
	CompressionRatio  float64 `json:"compression_ratio"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is a size-bounded LRU pool. All counters and the recency list are
// guarded by a single mutex.
type Cache struct {
	cfg        Config
	ll         *list.List
	items      map[string]*list.Element
	compressor *compressor
	logger     zerolog.Logger

	mu         sync.Mutex
	totalSize  int64
	hits       int64
	misses     int64
	evictions  int64
	ratio      float64
	ratioCount int64
}

// New creates a cache and starts its compressor when compression is enabled.
// Close stops the compressor.
func New(cfg Config, logger zerolog.Logger) *Cache {
	defaults := DefaultConfig()
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = defaults.MaxSizeBytes
	}
	if cfg.CompressionLevel == 0 {
		cfg.CompressionLevel = defaults.CompressionLevel
	}

	c := &Cache{
		cfg:    cfg,
		ll:     list.New(),
		items:  make(map[string]*list.Element),
		logger: logger.With().Str("component", "cache").Logger(),
	}
	if cfg.CompressionEnabled {
		c.compressor = newCompressor(c, cfg.CompressionLevel, c.logger)
		c.compressor.start()
	}
	return c
}

// Config returns the cache configuration
func (c *Cache) Config() Config {
	return c.cfg
}

// Get returns a copy of the entry with its payload decompressed and moves it
// to the most recently used position.
func (c *Cache) Get(key string) (*Entry, bool) {
	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.misses++
		c.mu.Unlock()
		observability.RecordCacheLookup(false)
		return nil, false
	}
	c.hits++
	c.ll.MoveToFront(el)
	stored := el.Value.(*Entry)
	stored.AccessCount++
	stored.LastAccessed = time.Now()
	snapshot := stored.clone()
	c.mu.Unlock()

	observability.RecordCacheLookup(true)

	out, err := snapshot.inflated()
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to decompress entry")
		return snapshot, true
	}
	return out, true
}

// Contains reports whether key is resident without touching recency or counters.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Put stores entry under key, replacing any previous value, and returns the
// entries evicted to make room. An entry larger than the pool itself is
// rejected and returned as evicted.
func (c *Cache) Put(key string, entry *Entry) []*Entry {
	stored := entry.clone()
	stored.ID = key
	if stored.SizeBytes <= 0 {
		stored.SizeBytes = int64(len(stored.Payload))
	}
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.LastAccessed.IsZero() {
		stored.LastAccessed = now
	}

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
	if stored.SizeBytes > c.cfg.MaxSizeBytes {
		size, count := c.totalSize, c.ll.Len()
		c.mu.Unlock()
		c.logger.Warn().Str("key", key).Int64("size", stored.SizeBytes).Msg("Entry exceeds cache size, rejected")
		observability.SetCacheSize(size, count)
		return []*Entry{stored}
	}

	var evicted []*Entry
	for c.totalSize+stored.SizeBytes > c.cfg.MaxSizeBytes {
		back := c.ll.Back()
		if back == nil {
			break
		}
		evicted = append(evicted, c.removeElement(back))
		c.evictions++
	}
	c.items[key] = c.ll.PushFront(stored)
	c.totalSize += stored.SizeBytes
	size, count := c.totalSize, c.ll.Len()
	queue := c.compressor != nil && !stored.Compressed && stored.SizeBytes > c.cfg.CompressionThresholdBytes
	c.mu.Unlock()

	if queue {
		c.compressor.enqueue(key)
	}
	observability.RecordCacheEvictions(len(evicted))
	observability.SetCacheSize(size, count)
	return evicted
}

// Delete removes key and reports whether it was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	el, ok := c.items[key]
	if ok {
		c.removeElement(el)
	}
	size, count := c.totalSize, c.ll.Len()
	c.mu.Unlock()
	if ok {
		observability.SetCacheSize(size, count)
	}
	return ok
}

// Clear drops every entry. Counters are kept.
func (c *Cache) Clear() int {
	c.mu.Lock()
	n := c.ll.Len()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
	c.totalSize = 0
	c.mu.Unlock()
	observability.SetCacheSize(0, 0)
	return n
}

// Keys returns resident keys from most to least recently used.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*Entry).ID)
	}
	return keys
}

// Len returns the number of resident entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Snapshot returns copies of all resident entries in recency order, payloads
// left as stored.
func (c *Cache) Snapshot() []*Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Entry, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*Entry).clone())
	}
	return out
}

// Stats returns the current counters
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	compressed := 0
	for el := c.ll.Front(); el != nil; el = el.Next() {
		if el.Value.(*Entry).Compressed {
			compressed++
		}
	}
	return Stats{
		Hits:              c.hits,
		Misses:            c.misses,
		Evictions:         c.evictions,
		TotalSizeBytes:    c.totalSize,
		MaxSizeBytes:      c.cfg.MaxSizeBytes,
		Entries:           c.ll.Len(),
		CompressedEntries: compressed,
		CompressionRatio:  c.ratio,
	}
}

// Close drains the compressor. The cache stays usable without compression.
func (c *Cache) Close() {
	if c.compressor != nil {
		c.compressor.shutdown()
	}
}

func (c *Cache) removeElement(el *list.Element) *Entry {
	e := c.ll.Remove(el).(*Entry)
	delete(c.items, e.ID)
	c.totalSize -= e.SizeBytes
	return e
}

func (c *Cache) setScore(key string, score float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*Entry).RelevanceScore = score
	}
}

// pendingPayload returns a copy of the payload for key if it still awaits compression.
func (c *Cache) pendingPayload(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*Entry)
	if e.Compressed {
		return nil, false
	}
	return append([]byte(nil), e.Payload...), true
}

// applyCompressed swaps in the compressed payload unless the entry changed
// meanwhile or compression did not shrink it.
func (c *Cache) applyCompressed(key string, raw, packed []byte) {
	if len(raw) == 0 {
		return
	}
	ratio := float64(len(packed)) / float64(len(raw))

	c.mu.Lock()
	if c.ratioCount == 0 {
		c.ratio = ratio
	} else {
		c.ratio = 0.9*c.ratio + 0.1*ratio
	}
	c.ratioCount++
	current := c.ratio

	el, ok := c.items[key]
	if ok {
		e := el.Value.(*Entry)
		if !e.Compressed && bytes.Equal(e.Payload, raw) && len(packed) < len(raw) {
			newSize := int64(len(packed))
			c.totalSize += newSize - e.SizeBytes
			e.Payload = packed
			e.SizeBytes = newSize
			e.Compressed = true
		}
	}
	size, count := c.totalSize, c.ll.Len()
	c.mu.Unlock()

	observability.SetCompressionRatio(current)
	observability.SetCacheSize(size, count)
}
