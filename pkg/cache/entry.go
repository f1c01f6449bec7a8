package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCacheIO wraps serialization, compression and durable store failures.
	ErrCacheIO = errors.New("cache io error")

	// ErrNotFound is returned by durable stores for unknown ids.
	ErrNotFound = errors.New("cache entry not found")
)

// Entry is a single cached item. Payload holds the serialized value, gzip
// compressed when Compressed is set.
type Entry struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	Payload        []byte    `json:"payload"`
	SizeBytes      int64     `json:"size_bytes"`
	Compressed     bool      `json:"compressed"`
	RelevanceScore float64   `json:"relevance_score"`
	AccessCount    int64     `json:"access_count"`
	LastAccessed   time.Time `json:"last_accessed"`
}

// NewEntry serializes value as JSON into a fresh entry.
func NewEntry(id string, value interface{}) (*Entry, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %v", ErrCacheIO, id, err)
	}
	now := time.Now()
	return &Entry{
		ID:           id,
		CreatedAt:    now,
		Payload:      payload,
		SizeBytes:    int64(len(payload)),
		LastAccessed: now,
	}, nil
}

// Decode unmarshals the entry payload into v. Compressed payloads are
// inflated first.
func (e *Entry) Decode(v interface{}) error {
	raw, err := e.Bytes()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrCacheIO, e.ID, err)
	}
	return nil
}

// Value decodes the payload into a generic value.
func (e *Entry) Value() (interface{}, error) {
	var v interface{}
	if err := e.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Bytes returns the uncompressed payload.
func (e *Entry) Bytes() ([]byte, error) {
	if !e.Compressed {
		return e.Payload, nil
	}
	return Decompress(e.Payload)
}

func (e *Entry) clone() *Entry {
	out := *e
	out.Payload = append([]byte(nil), e.Payload...)
	return &out
}

// inflated returns a copy carrying the uncompressed payload.
func (e *Entry) inflated() (*Entry, error) {
	out := e.clone()
	if !e.Compressed {
		return out, nil
	}
	raw, err := Decompress(e.Payload)
	if err != nil {
		return nil, err
	}
	out.Payload = raw
	out.Compressed = false
	return out, nil
}
