package cache

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

const compressorQueueSize = 256

// Compress gzips data at the given level.
func Compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheIO, err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("%w: compress: %v", ErrCacheIO, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: compress: %v", ErrCacheIO, err)
	}
	return buf.Bytes(), nil
}

// Decompress is the inverse of Compress.
func Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrCacheIO, err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrCacheIO, err)
	}
	return out, nil
}

// compressor drains queued keys in a single background goroutine and swaps
// the compressed form into the cache.
type compressor struct {
	cache  *Cache
	level  int
	queue  chan string
	stop   chan struct{}
	done   chan struct{}
	logger zerolog.Logger

	once sync.Once
}

func newCompressor(c *Cache, level int, logger zerolog.Logger) *compressor {
	return &compressor{
		cache:  c,
		level:  level,
		queue:  make(chan string, compressorQueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (p *compressor) start() {
	go p.loop()
}

// enqueue never blocks the caller. A full queue leaves the entry uncompressed.
func (p *compressor) enqueue(key string) {
	select {
	case <-p.stop:
		return
	default:
	}
	select {
	case p.queue <- key:
	default:
		p.logger.Debug().Str("key", key).Msg("Compression queue full, skipping")
	}
}

// shutdown stops accepting work, drains the queue and waits for the loop.
func (p *compressor) shutdown() {
	p.once.Do(func() { close(p.stop) })
	<-p.done
}

func (p *compressor) loop() {
	defer close(p.done)
	for {
		select {
		case key := <-p.queue:
			p.process(key)
		case <-p.stop:
			for {
				select {
				case key := <-p.queue:
					p.process(key)
				default:
					return
				}
			}
		}
	}
}

func (p *compressor) process(key string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Str("key", key).Msg("Compressor panic")
		}
	}()

	raw, ok := p.cache.pendingPayload(key)
	if !ok {
		return
	}
	packed, err := Compress(raw, p.level)
	if err != nil {
		p.logger.Warn().Err(err).Str("key", key).Msg("Compression failed")
		return
	}
	p.cache.applyCompressed(key, raw, packed)
}
