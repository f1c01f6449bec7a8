package strategy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads strategy documents into an engine when the directory changes
type Watcher struct {
	watcher  *fsnotify.Watcher
	engine   *Engine
	dir      string
	logger   zerolog.Logger
	debounce time.Duration
	pending  map[string]fsnotify.Op
	timer    *time.Timer
	mu       sync.Mutex
	stopCh   chan struct{}
	done     chan struct{}
	onReload func(loaded, removed []string)
}

// NewWatcher creates a watcher for dir. Start begins watching.
func NewWatcher(engine *Engine, dir string, logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher:  fw,
		engine:   engine,
		dir:      dir,
		logger:   logger.With().Str("component", "strategy-watcher").Logger(),
		debounce: 300 * time.Millisecond,
		pending:  make(map[string]fsnotify.Op),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// OnReload registers a callback invoked after each debounced reload
func (w *Watcher) OnReload(fn func(loaded, removed []string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = fn
}

// Start begins watching the directory
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.dir); err != nil {
		w.watcher.Close()
		close(w.done)
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	go w.run()
	w.logger.Info().Str("dir", w.dir).Msg("Watching strategy directory")
	return nil
}

// Stop stops the watcher and waits for its loop to exit
func (w *Watcher) Stop() error {
	close(w.stopCh)
	err := w.watcher.Close()
	<-w.done

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) run() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isDocument(event.Name) || strings.HasSuffix(event.Name, ".tmp") {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Strategy file change detected")
				w.schedule(event.Name, event.Op)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Strategy watcher error")

		case <-w.stopCh:
			return
		}
	}
}

// schedule debounces reloads
func (w *Watcher) schedule(path string, op fsnotify.Op) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] |= op
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]fsnotify.Op)
	callback := w.onReload
	w.mu.Unlock()

	select {
	case <-w.stopCh:
		return
	default:
	}

	var loaded, removed []string
	for path := range pending {
		id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

		if _, err := os.Stat(path); os.IsNotExist(err) {
			if w.engine.Remove(id) {
				removed = append(removed, id)
			}
			continue
		}

		st, err := LoadFile(path)
		if err != nil {
			w.logger.Warn().Err(err).Str("file", path).Msg("Failed to reload strategy")
			continue
		}
		if err := w.engine.Register(st); err != nil {
			w.logger.Warn().Err(err).Str("strategy", st.ID).Msg("Rejected reloaded strategy")
			continue
		}
		loaded = append(loaded, st.ID)
	}

	if callback != nil && (len(loaded) > 0 || len(removed) > 0) {
		callback(loaded, removed)
	}
}
