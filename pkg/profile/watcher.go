package profile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openfroyo/conform/pkg/telemetry"
)

// DefaultDebounce is how long the watcher waits for a burst of file events
// to settle before reloading.
const DefaultDebounce = 500 * time.Millisecond

// ReloadFunc is run after watched files change.
type ReloadFunc func(ctx context.Context) error

// Watcher reruns reload functions when files below its directories are
// created, written, renamed or removed.
type Watcher struct {
	dirs     []string
	reloads  []ReloadFunc
	debounce time.Duration
	match    func(name string) bool
}

// NewWatcher creates a watcher over dirs. match selects the files whose
// changes trigger a reload; nil matches every file.
func NewWatcher(match func(name string) bool, dirs ...string) *Watcher {
	return &Watcher{
		dirs:     append([]string(nil), dirs...),
		debounce: DefaultDebounce,
		match:    match,
	}
}

// OnChange adds a reload function. Functions run in registration order.
func (w *Watcher) OnChange(fn ReloadFunc) *Watcher {
	w.reloads = append(w.reloads, fn)
	return w
}

// SetDebounce overrides DefaultDebounce.
func (w *Watcher) SetDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Run watches until ctx is done. Missing directories are skipped.
func (w *Watcher) Run(ctx context.Context) error {
	logger := telemetry.FromContext(ctx).NewComponentLogger("watcher")

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	for _, dir := range w.dirs {
		if err := addTree(fw, dir); err != nil {
			logger.WithError(err).Warnf("not watching %s", dir)
		}
	}

	var (
		mu    sync.Mutex
		runMu sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		runMu.Lock()
		defer runMu.Unlock()
		for _, fn := range w.reloads {
			if err := fn(ctx); err != nil {
				logger.WithError(err).Warn("reload reported errors")
			}
		}
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addTree(fw, event.Name); err != nil {
						logger.WithError(err).Warnf("not watching %s", event.Name)
					}
					continue
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if w.match != nil && !w.match(event.Name) {
				continue
			}
			logger.WithField("op", event.Op.String()).Debugf("%s changed", event.Name)

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, reload)
			mu.Unlock()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Error("watcher error")
		}
	}
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(p)
		}
		return nil
	})
}
