package project

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

type watcher struct {
	fsw *fsnotify.Watcher

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// Watch reloads the registry when its file changes on disk, so edits made
// outside the API are picked up without a restart. The watcher stops when ctx
// is cancelled or Close is called.
func (r *Registry) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	// Watch the directory: atomic renames replace the file inode, and a
	// watch on the old inode would go stale after the first save.
	if err := fsw.Add(filepath.Dir(r.path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(r.path), err)
	}

	w := &watcher{fsw: fsw}
	r.watcher = w
	go w.loop(ctx, r)
	return nil
}

func (w *watcher) loop(ctx context.Context, r *Registry) {
	target := filepath.Base(r.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.debounceReload(r)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[project] watch error: %v", err)
		}
	}
}

func (w *watcher) debounceReload(r *Registry) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(reloadDebounce, func() {
		if err := r.reload(); err != nil {
			log.Printf("[project] reload after file change: %v", err)
			return
		}
		log.Printf("[project] registry reloaded from %s", r.path)
	})
}

func (w *watcher) close() error {
	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceMu.Unlock()
	return w.fsw.Close()
}
