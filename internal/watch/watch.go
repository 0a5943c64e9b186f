// Package watch debounces filesystem notifications for the pieces of the
// orchestrator that react to edits: the watch command reruns the cycle
// when the prompt file changes, and the web server pushes report updates
// to subscribers.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Callback receives the batch of paths that changed since the last flush.
type Callback func(paths []string)

// Watcher batches fsnotify events behind a debounce window so a flurry of
// editor writes triggers a single callback.
type Watcher struct {
	watcher  *fsnotify.Watcher
	callback Callback
	debounce time.Duration

	// Watched targets: exact files, and directory roots matched by prefix
	files map[string]struct{}
	dirs  map[string]struct{}

	// Debounce state
	pending map[string]struct{}
	timer   *time.Timer
	mu      sync.Mutex

	cancel context.CancelFunc
}

// New creates a watcher that reports changes to callback.
func New(callback Callback) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher:  fsw,
		callback: callback,
		debounce: 2 * time.Second,
		files:    make(map[string]struct{}),
		dirs:     make(map[string]struct{}),
		pending:  make(map[string]struct{}),
	}, nil
}

// AddFile watches a single file. The parent directory carries the actual
// watch so editors that replace the file on save keep triggering events.
func (w *Watcher) AddFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.files[abs]; exists {
		return nil // Already watching
	}
	if err := w.watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	w.files[abs] = struct{}{}
	return nil
}

// AddDir watches a directory and its current subdirectories. Directories
// created later under the root are picked up as their create events
// arrive.
func (w *Watcher) AddDir(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.dirs[abs]; exists {
		return nil // Already watching
	}

	err = filepath.Walk(abs, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if info.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.dirs[abs] = struct{}{}
	return nil
}

// Start begins watching for file changes
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case _, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				// Keep watching; a transient error drops one event at most
			}
		}
	}()
}

// Stop stops watching for file changes
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.watcher.Close()
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	// Extend the watch into directories created under a watched root, such
	// as a fresh run's report directory.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.mu.Lock()
			under := w.underDirLocked(event.Name)
			w.mu.Unlock()
			if under {
				w.watcher.Add(event.Name)
			}
			return
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.matchesLocked(event.Name) {
		return
	}
	w.pending[event.Name] = struct{}{}

	// Reset or start debounce timer
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) matchesLocked(name string) bool {
	if _, ok := w.files[name]; ok {
		return true
	}
	return w.underDirLocked(name)
}

func (w *Watcher) underDirLocked(name string) bool {
	for dir := range w.dirs {
		if strings.HasPrefix(name, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	if w.callback == nil || len(pending) == 0 {
		return
	}

	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	w.callback(paths)
}

// SetDebounce sets the debounce duration for batching file changes
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}
