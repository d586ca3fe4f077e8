package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/rendis/mcp-secrets/internal/logging"
	"github.com/rendis/mcp-secrets/internal/rules"
)

// Registry holds the current manifest and allows atomic replacement.
type Registry struct {
	mu       sync.RWMutex
	manifest *Manifest
}

// NewRegistry returns a Registry serving m (Empty when nil).
func NewRegistry(m *Manifest) *Registry {
	if m == nil {
		m = Empty()
	}
	return &Registry{manifest: m}
}

// Get returns the current manifest. Callers must not mutate it.
func (r *Registry) Get() *Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.manifest
}

// Swap replaces the manifest atomically.
func (r *Registry) Swap(m *Manifest) {
	r.mu.Lock()
	r.manifest = m
	r.mu.Unlock()
}

// Watcher reloads a manifest file into a Registry when it changes.
type Watcher struct {
	path     string
	registry *Registry
	checker  *rules.Checker
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	onReload func(error)
	done     chan struct{}
}

// WatchOptions configures Registry.Watch.
type WatchOptions struct {
	Checker *rules.Checker
	Logger  *slog.Logger
	// OnReload, if set, runs after every reload attempt.
	OnReload func(err error)
}

// Watch starts reloading path into r. A file that fails to parse is logged
// and the previous manifest stays in place.
func (r *Registry) Watch(path string, opts WatchOptions) (*Watcher, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are seen.
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	w := &Watcher{
		path:     abs,
		registry: r,
		checker:  opts.Checker,
		watcher:  fw,
		logger:   logger.With("component", "manifest", "path", abs),
		onReload: opts.OnReload,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Close stops watching and waits for the loop to exit.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("manifest watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	// Truncate-then-write saves show up as an empty file first.
	if info, err := os.Stat(w.path); err != nil || info.Size() == 0 {
		return
	}
	m, err := Load(w.path, w.checker)
	if err != nil {
		w.logger.Warn("manifest reload failed, keeping previous", "error", err)
	} else {
		w.registry.Swap(m)
		m.Warnings.LogWarnings(context.Background(), w.logger, w.path)
		w.logger.Info("manifest reloaded", "secrets", len(m.Secrets))
	}
	if w.onReload != nil {
		w.onReload(err)
	}
}
