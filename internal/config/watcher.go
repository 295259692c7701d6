package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 1500 * time.Millisecond

// Watcher reloads a config file when its content changes and hands the
// decoded value to every registered handler. The containing directory is
// watched so atomic saves (write a sibling, rename it over) are seen without
// re-arming. Saves that leave the bytes unchanged are not reloaded.
type Watcher[T any] struct {
	path     string
	name     string
	debounce time.Duration
	loader   func(path string) (T, error)
	onError  func(error)
	logger   *slog.Logger

	mu       sync.Mutex
	handlers []reloadHandler[T]
	nextID   int
	digest   [sha256.Size]byte

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

type reloadHandler[T any] struct {
	id int
	fn func(T)
}

// WatcherOption configures a Watcher.
type WatcherOption[T any] func(*Watcher[T])

// WithDebounce sets how long the file must be quiet before it is reloaded.
func WithDebounce[T any](d time.Duration) WatcherOption[T] {
	return func(w *Watcher[T]) {
		w.debounce = d
	}
}

// WithErrorHandler sets a callback for load failures. Failures are always
// logged.
func WithErrorHandler[T any](handler func(error)) WatcherOption[T] {
	return func(w *Watcher[T]) {
		w.onError = handler
	}
}

// NewWatcher returns a watcher for path that decodes it with loader.
func NewWatcher[T any](path string, loader func(path string) (T, error), logger *slog.Logger, opts ...WatcherOption[T]) *Watcher[T] {
	w := &Watcher[T]{
		path:     filepath.Clean(path),
		name:     filepath.Base(path),
		debounce: defaultDebounce,
		loader:   loader,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnReload registers handler and returns a function that removes it.
func (w *Watcher[T]) OnReload(handler func(T)) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.handlers = append(w.handlers, reloadHandler[T]{id: id, fn: handler})
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		for i, h := range w.handlers {
			if h.id == id {
				w.handlers = append(w.handlers[:i], w.handlers[i+1:]...)
				return
			}
		}
	}
}

// Start records the current content and begins watching. The watcher stops
// when ctx is cancelled or Stop is called.
func (w *Watcher[T]) Start(ctx context.Context) error {
	if w.fsw != nil {
		return errors.New("config watcher already started")
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}

	w.mu.Lock()
	w.digest = sha256.Sum256(data)
	w.mu.Unlock()

	ctx, w.cancel = context.WithCancel(ctx)
	w.fsw = fsw
	w.done = make(chan struct{})
	w.logger.Info("Config watcher started", "path", w.path, "debounce", w.debounce)
	go w.run(ctx)
	return nil
}

// Stop ends the watch loop and waits for it to exit.
func (w *Watcher[T]) Stop() error {
	if w.fsw == nil {
		return nil
	}
	w.cancel()
	<-w.done
	return w.fsw.Close()
}

func (w *Watcher[T]) run(ctx context.Context) {
	defer close(w.done)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Config watcher stopped")
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != w.name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("Config file change detected", "op", ev.Op.String())
			timer.Reset(w.debounce)

		case <-timer.C:
			w.reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", "error", err)
		}
	}
}

func (w *Watcher[T]) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		// renamed away and not yet replaced
		w.logger.Debug("Config file unreadable, waiting for next change", "error", err)
		return
	}
	sum := sha256.Sum256(data)
	w.mu.Lock()
	same := bytes.Equal(sum[:], w.digest[:])
	w.mu.Unlock()
	if same {
		w.logger.Debug("Config content unchanged")
		return
	}

	cfg, err := w.loader(w.path)
	if err != nil {
		w.logger.Warn("Failed to load config", "path", w.path, "error", err)
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	w.mu.Lock()
	w.digest = sum
	fns := make([]func(T), len(w.handlers))
	for i, h := range w.handlers {
		fns[i] = h.fn
	}
	w.mu.Unlock()

	w.logger.Info("Config reloaded", "path", w.path, "handlers", len(fns))
	for _, fn := range fns {
		fn(cfg)
	}
}
