package rules

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/teranos/brandguard/errors"
	"go.uber.org/zap"
)

// Watcher reloads a rules file into an Active set whenever it changes.
// A file that fails to parse leaves the previous set in force.
type Watcher struct {
	path           string
	active         *Active
	watcher        *fsnotify.Watcher
	logger         *zap.SugaredLogger
	mu             sync.Mutex
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
	onReload       func(*Set)
	done           chan struct{}
	stopOnce       sync.Once
}

// NewWatcher watches path's directory; editors often replace files by
// rename, which drops a watch placed on the file itself.
func NewWatcher(path string, active *Active, logger *zap.SugaredLogger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "resolve rules path %s", path)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "failed to watch rules directory for %s", abs)
	}

	return &Watcher{
		path:           abs,
		active:         active,
		watcher:        fw,
		logger:         logger,
		debouncePeriod: 250 * time.Millisecond,
		done:           make(chan struct{}),
	}, nil
}

// OnReload registers a callback invoked after each successful reload
func (w *Watcher) OnReload(fn func(*Set)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = fn
}

// Start begins watching for changes
func (w *Watcher) Start() {
	go w.watchLoop()
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.logger.Debugw("Rules file changed", "file", event.Name, "op", event.Op.String())
				w.scheduleReload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("Rules watcher error", "error", err)
		}
	}
}

// scheduleReload debounces rapid successive writes into one reload
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debouncePeriod, func() {
		if err := w.Reload(); err != nil {
			w.logger.Errorw("Rules reload failed, keeping previous rules", "file", w.path, "error", err)
		}
	})
}

// Reload parses the file now and swaps it in on success
func (w *Watcher) Reload() error {
	set, err := LoadFile(w.path)
	if err != nil {
		return err
	}
	w.active.Store(set)
	w.logger.Infow("Rules reloaded", "file", w.path, "rules", set.Len())

	w.mu.Lock()
	cb := w.onReload
	w.mu.Unlock()
	if cb != nil {
		cb(set)
	}
	return nil
}

// Stop ends the watch
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.debounceTimer != nil {
			w.debounceTimer.Stop()
		}
		w.mu.Unlock()
		err = w.watcher.Close()
	})
	return err
}
