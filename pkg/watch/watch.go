package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"

	"github.com/core-tools/hsu-unitwatch/pkg/errors"
	"github.com/core-tools/hsu-unitwatch/pkg/logging"
	"github.com/core-tools/hsu-unitwatch/pkg/unit"
)

const (
	DefaultDebounce = 250 * time.Millisecond

	wantsSuffix   = ".wants"
	stopGrace     = 100 * time.Millisecond
	systemUnitDir = "/etc/systemd/system"
)

type Options struct {
	Unit unit.Name
	// Dirs are the unit directories to watch; their existing *.wants
	// subdirectories are watched as well
	Dirs     []string
	Debounce time.Duration
}

// DefaultUnitDirs returns where enable/disable and unit edits land
func DefaultUnitDirs(userScope bool) []string {
	if !userScope {
		return []string{systemUnitDir}
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return []string{filepath.Join(configHome, "systemd", "user")}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".config", "systemd", "user")}
}

// Watcher calls onChange, debounced, when the unit's file or one of its
// enablement symlinks changes
type Watcher struct {
	options  Options
	onChange func()
	logger   logging.Logger

	mutex     sync.Mutex
	debouncer *time.Timer
	sctx      *stopper.Context
}

func New(options Options, onChange func(), logger logging.Logger) *Watcher {
	if options.Debounce <= 0 {
		options.Debounce = DefaultDebounce
	}
	return &Watcher{
		options:  options,
		onChange: onChange,
		logger:   logger,
	}
}

func (w *Watcher) Start(ctx context.Context) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.sctx != nil {
		return errors.NewInternalError("watcher already started", nil)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.NewIOError("failed to create file watcher", err)
	}

	watched := 0
	for _, dir := range w.options.Dirs {
		for _, path := range watchPaths(dir) {
			if err := watcher.Add(path); err != nil {
				w.logger.Debugf("Skipping unit directory, path: %s, error: %v", path, err)
				continue
			}
			w.logger.Debugf("Watching unit directory, path: %s", path)
			watched++
		}
	}

	if watched == 0 {
		_ = watcher.Close()
		return errors.NewIOError("no unit directory could be watched", nil).
			WithContext("dirs", strings.Join(w.options.Dirs, ", "))
	}

	w.logger.Infof("Starting unit file watcher, unit: %s, directories: %d", w.options.Unit, watched)

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() {
		_ = watcher.Close()
	})
	w.sctx = sctx

	sctx.Go(func(sctx *stopper.Context) error {
		sctx.Defer(func() {
			w.mutex.Lock()
			if w.debouncer != nil {
				w.debouncer.Stop()
			}
			w.mutex.Unlock()
		})

		for !sctx.IsStopping() {
			select {
			case <-sctx.Stopping():
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if w.isWantsDir(event) {
					if err := watcher.Add(event.Name); err != nil {
						w.logger.Warnf("Failed to watch new wants directory, path: %s, error: %v", event.Name, err)
					}
					continue
				}
				if w.isRelevant(event) {
					w.logger.Debugf("Unit file changed, path: %s, op: %s", event.Name, event.Op)
					w.schedule(sctx)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				w.logger.Warnf("File watcher error, unit: %s, error: %v", w.options.Unit, err)
			}
		}
		return nil
	})

	return nil
}

func (w *Watcher) schedule(sctx *stopper.Context) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.debouncer != nil {
		w.debouncer.Stop()
	}
	w.debouncer = time.AfterFunc(w.options.Debounce, func() {
		if sctx.IsStopping() {
			return
		}
		w.onChange()
	})
}

func (w *Watcher) isWantsDir(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) || !strings.HasSuffix(event.Name, wantsSuffix) {
		return false
	}
	info, err := os.Stat(event.Name)
	return err == nil && info.IsDir()
}

func (w *Watcher) isRelevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	return filepath.Base(event.Name) == string(w.options.Unit)
}

func (w *Watcher) Stop() error {
	w.mutex.Lock()
	sctx := w.sctx
	w.mutex.Unlock()

	if sctx == nil {
		return nil
	}

	w.logger.Infof("Stopping unit file watcher, unit: %s", w.options.Unit)
	sctx.Stop(stopGrace)
	return sctx.Wait()
}

// watchPaths is dir followed by its existing *.wants subdirectories
func watchPaths(dir string) []string {
	paths := []string{dir}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return paths
	}
	for _, entry := range entries {
		if entry.IsDir() && strings.HasSuffix(entry.Name(), wantsSuffix) {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	return paths
}
