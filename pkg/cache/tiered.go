package cache

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Tiered pairs the in-memory pool with an optional durable store. Evicted
// entries are written to the durable tier and promoted back on a miss.
type Tiered struct {
	mem     *Cache
	durable DurableStore
	logger  zerolog.Logger
}

// NewTiered wraps mem with durable. durable may be nil.
func NewTiered(mem *Cache, durable DurableStore, logger zerolog.Logger) *Tiered {
	return &Tiered{
		mem:     mem,
		durable: durable,
		logger:  logger.With().Str("component", "cache").Logger(),
	}
}

// Memory returns the in-memory pool
func (t *Tiered) Memory() *Cache {
	return t.mem
}

// Durable returns the durable store, or nil
func (t *Tiered) Durable() DurableStore {
	return t.durable
}

// Get looks in memory first, then the durable tier. A durable hit is
// promoted into memory.
func (t *Tiered) Get(ctx context.Context, key string) (*Entry, bool, error) {
	if e, ok := t.mem.Get(key); ok {
		return e, true, nil
	}
	if t.durable == nil {
		return nil, false, nil
	}

	stored, err := t.durable.Load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	stored.AccessCount++
	if err := t.spill(ctx, t.mem.Put(key, stored)); err != nil {
		return nil, false, err
	}
	if t.mem.Contains(key) {
		if err := t.durable.Delete(ctx, key); err != nil {
			t.logger.Warn().Err(err).Str("key", key).Msg("Failed to drop promoted entry from durable tier")
		}
	}
	out, err := stored.inflated()
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// Put stores entry in memory and spills whatever was evicted.
func (t *Tiered) Put(ctx context.Context, key string, entry *Entry) ([]*Entry, error) {
	evicted := t.mem.Put(key, entry)
	if err := t.spill(ctx, evicted); err != nil {
		return evicted, err
	}
	return evicted, nil
}

// Delete removes key from both tiers
func (t *Tiered) Delete(ctx context.Context, key string) error {
	t.mem.Delete(key)
	if t.durable == nil {
		return nil
	}
	return t.durable.Delete(ctx, key)
}

// Stats returns the in-memory counters
func (t *Tiered) Stats() Stats {
	return t.mem.Stats()
}

// Recall ranks in-memory entries by relevance to query
func (t *Tiered) Recall(query string, limit int) []Scored {
	return t.mem.Recall(query, limit)
}

// Close stops the compressor and closes the durable store
func (t *Tiered) Close() error {
	t.mem.Close()
	if t.durable == nil {
		return nil
	}
	return t.durable.Close()
}

func (t *Tiered) spill(ctx context.Context, evicted []*Entry) error {
	if t.durable == nil {
		return nil
	}
	var firstErr error
	for _, e := range evicted {
		if err := t.durable.Save(ctx, e); err != nil {
			t.logger.Error().Err(err).Str("key", e.ID).Msg("Failed to spill evicted entry")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
