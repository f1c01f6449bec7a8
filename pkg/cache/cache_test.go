package cache

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(maxSize int64) *Cache {
	return New(Config{MaxSizeBytes: maxSize}, zerolog.Nop())
}

func sized(n int) *Entry {
	return &Entry{Payload: bytes.Repeat([]byte("x"), n)}
}

func TestPutEvictsLeastRecentlyUsed(t *testing.T) {
	c := newTestCache(1000)
	defer c.Close()

	assert.Empty(t, c.Put("k1", sized(400)))
	assert.Empty(t, c.Put("k2", sized(400)))

	evicted := c.Put("k3", sized(400))
	require.Len(t, evicted, 1)
	assert.Equal(t, "k1", evicted[0].ID)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, int64(800), stats.TotalSizeBytes)
	assert.Equal(t, 2, stats.Entries)
	assert.False(t, c.Contains("k1"))
}

func TestGetRefreshesRecency(t *testing.T) {
	c := newTestCache(1000)
	defer c.Close()

	c.Put("a", sized(400))
	c.Put("b", sized(400))

	_, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, c.Keys())

	evicted := c.Put("c", sized(400))
	require.Len(t, evicted, 1)
	assert.Equal(t, "b", evicted[0].ID)
	assert.Equal(t, []string{"c", "a"}, c.Keys())
}

func TestPutEvictsUntilFits(t *testing.T) {
	c := newTestCache(1000)
	defer c.Close()

	for _, k := range []string{"a", "b", "c", "d"} {
		c.Put(k, sized(250))
	}
	evicted := c.Put("big", sized(700))
	require.Len(t, evicted, 3)
	assert.Equal(t, "a", evicted[0].ID)
	assert.Equal(t, "b", evicted[1].ID)
	assert.Equal(t, "c", evicted[2].ID)
	assert.Equal(t, int64(950), c.Stats().TotalSizeBytes)
}

func TestPutRejectsOversizedEntry(t *testing.T) {
	c := newTestCache(1000)
	defer c.Close()

	c.Put("small", sized(100))
	evicted := c.Put("huge", sized(1500))
	require.Len(t, evicted, 1)
	assert.Equal(t, "huge", evicted[0].ID)

	assert.False(t, c.Contains("huge"))
	assert.True(t, c.Contains("small"))
	assert.Equal(t, int64(100), c.Stats().TotalSizeBytes)
}

func TestPutReplacesExistingKey(t *testing.T) {
	c := newTestCache(1000)
	defer c.Close()

	c.Put("k", sized(300))
	c.Put("k", sized(500))

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(500), stats.TotalSizeBytes)
	assert.Zero(t, stats.Evictions)
}

func TestGetCounters(t *testing.T) {
	c := newTestCache(1000)
	defer c.Close()

	c.Put("k", sized(10))
	_, ok := c.Get("k")
	assert.True(t, ok)
	_, ok = c.Get("k")
	assert.True(t, ok)
	_, ok = c.Get("missing")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate(), 1e-9)

	e, _ := c.Get("k")
	assert.Equal(t, int64(3), e.AccessCount)
}

func TestSizeBoundHolds(t *testing.T) {
	c := newTestCache(2048)
	defer c.Close()

	for i := 0; i < 200; i++ {
		c.Put(strings.Repeat("k", i%17+1), sized(i*13%600+1))
		assert.LessOrEqual(t, c.Stats().TotalSizeBytes, int64(2048))
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	c := New(Config{
		MaxSizeBytes:              1 << 20,
		CompressionEnabled:        true,
		CompressionThresholdBytes: 64,
		CompressionLevel:          6,
	}, zerolog.Nop())

	value := map[string]interface{}{"text": strings.Repeat("conductor ", 300)}
	e, err := NewEntry("doc", value)
	require.NoError(t, err)
	original := append([]byte(nil), e.Payload...)

	c.Put("doc", e)
	c.Put("tiny", sized(10))
	c.Close()

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	for _, s := range snap {
		switch s.ID {
		case "doc":
			assert.True(t, s.Compressed)
			assert.Less(t, s.SizeBytes, int64(len(original)))
		case "tiny":
			assert.False(t, s.Compressed)
		}
	}

	stats := c.Stats()
	assert.Equal(t, 1, stats.CompressedEntries)
	assert.Greater(t, stats.CompressionRatio, 0.0)
	assert.Less(t, stats.CompressionRatio, 1.0)

	got, ok := c.Get("doc")
	require.True(t, ok)
	assert.False(t, got.Compressed)
	assert.Equal(t, original, got.Payload)

	var decoded map[string]interface{}
	require.NoError(t, got.Decode(&decoded))
	assert.Equal(t, value["text"], decoded["text"])
}

func TestCompressDecompress(t *testing.T) {
	data := []byte(strings.Repeat("abc123", 100))
	packed, err := Compress(data, 9)
	require.NoError(t, err)
	assert.Less(t, len(packed), len(data))

	out, err := Decompress(packed)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	_, err = Decompress([]byte("not gzip"))
	assert.ErrorIs(t, err, ErrCacheIO)
}

func TestNewEntryRejectsUnencodable(t *testing.T) {
	_, err := NewEntry("bad", make(chan int))
	assert.ErrorIs(t, err, ErrCacheIO)
}

func TestClear(t *testing.T) {
	c := newTestCache(1000)
	defer c.Close()

	c.Put("a", sized(10))
	c.Put("b", sized(10))
	assert.Equal(t, 2, c.Clear())
	assert.Zero(t, c.Len())
	assert.Zero(t, c.Stats().TotalSizeBytes)
}
