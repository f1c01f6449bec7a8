package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

const badgerKeyPrefix = "cache/"

// BadgerConfig configures the Badger durable tier
type BadgerConfig struct {
	// Path is required unless InMemory is set.
	Path     string
	InMemory bool

	// GCRatio is the discard ratio passed to RunValueLogGC.
	GCRatio float64
	Logger  zerolog.Logger
}

// BadgerStore is the alternative durable tier backed by badger/v4
type BadgerStore struct {
	db      *badger.DB
	gcRatio float64
}

// badgerLogger routes badger's internal logging to zerolog
type badgerLogger struct {
	logger zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Msgf(format, args...)
}

// NewBadgerStore opens a Badger database
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}
	if cfg.GCRatio <= 0 || cfg.GCRatio >= 1 {
		cfg.GCRatio = 0.5
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("%w: create database directory %s: %v", ErrCacheIO, cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.With().Str("component", "badger").Logger()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger database: %v", ErrCacheIO, err)
	}
	return &BadgerStore{db: db, gcRatio: cfg.GCRatio}, nil
}

func badgerKey(id string) []byte {
	return []byte(badgerKeyPrefix + id)
}

func (s *BadgerStore) Save(ctx context.Context, e *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrCacheIO, e.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(e.ID), data)
	})
	if err != nil {
		return fmt.Errorf("%w: save %s: %v", ErrCacheIO, e.ID, err)
	}
	return nil
}

func (s *BadgerStore) Load(ctx context.Context, id string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var e Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", ErrCacheIO, id, err)
	}
	return &e, nil
}

func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(id))
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrCacheIO, id, err)
	}
	return nil
}

func (s *BadgerStore) IDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			ids = append(ids, string(it.Item().Key()[len(badgerKeyPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list ids: %v", ErrCacheIO, err)
	}
	return ids, nil
}

// FreeRatio estimates the share of on-disk bytes not held by live keys
func (s *BadgerStore) FreeRatio(ctx context.Context) (float64, error) {
	lsm, vlog := s.db.Size()
	total := lsm + vlog
	if total <= 0 {
		return 0, nil
	}

	var live int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			live += it.Item().EstimatedSize()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: estimate size: %v", ErrCacheIO, err)
	}

	ratio := 1 - float64(live)/float64(total)
	if ratio < 0 {
		ratio = 0
	}
	return ratio, nil
}

// Compact runs value log GC until nothing is left to rewrite
func (s *BadgerStore) Compact(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.RunValueLogGC(s.gcRatio)
		if err == nil {
			continue
		}
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return nil
		}
		return fmt.Errorf("%w: value log gc: %v", ErrCacheIO, err)
	}
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
