package watcher

import (
	"errors"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ExtensionWatcher tracks installed extension directories. The first change
// under a directory marks it dirty and calls the dirty callback; further
// changes are ignored until Resume. While suspended nothing is marked.
type ExtensionWatcher struct {
	w       Watcher
	onDirty func(dir string)
	logger  *slog.Logger

	mu        sync.Mutex
	dirs      []string
	dirty     map[string]bool
	suspended bool

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// ExtensionOption configures an ExtensionWatcher.
type ExtensionOption func(*ExtensionWatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ExtensionOption {
	return func(e *ExtensionWatcher) {
		e.logger = logger
	}
}

// NewExtensionWatcher starts consuming w's events. It takes ownership of w
// and closes it on Close.
func NewExtensionWatcher(w Watcher, onDirty func(dir string), opts ...ExtensionOption) *ExtensionWatcher {
	e := &ExtensionWatcher{
		w:       w,
		onDirty: onDirty,
		logger:  slog.New(slog.DiscardHandler),
		dirty:   make(map[string]bool),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.wg.Add(1)
	go e.loop()
	return e
}

// SetDirectories replaces the watched extension directories and clears the
// dirty set. Directories that no longer exist are skipped.
func (e *ExtensionWatcher) SetDirectories(dirs []string) error {
	cleaned := make([]string, 0, len(dirs))
	for _, d := range dirs {
		cleaned = append(cleaned, filepath.Clean(d))
	}
	sort.Strings(cleaned)

	for _, p := range e.w.WatchedPaths() {
		if err := e.w.Unwatch(p); err != nil && !errors.Is(err, ErrNotWatching) {
			return err
		}
	}

	var errs []error
	for _, d := range cleaned {
		err := e.w.WatchRecursive(d)
		if errors.Is(err, ErrPathNotExist) {
			e.logger.Warn("extension directory missing", "dir", d)
			continue
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	e.mu.Lock()
	e.dirs = cleaned
	e.dirty = make(map[string]bool)
	e.mu.Unlock()

	return errors.Join(errs...)
}

// Directories returns the tracked extension directories.
func (e *ExtensionWatcher) Directories() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.dirs...)
}

// Suspend stops marking directories dirty until Resume.
func (e *ExtensionWatcher) Suspend() {
	e.mu.Lock()
	e.suspended = true
	e.mu.Unlock()
}

// Resume re-enables dirty marking and clears the dirty set.
func (e *ExtensionWatcher) Resume() {
	e.mu.Lock()
	e.suspended = false
	e.dirty = make(map[string]bool)
	e.mu.Unlock()
}

// IsSuspended reports whether the watcher is suspended.
func (e *ExtensionWatcher) IsSuspended() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.suspended
}

// IsDirty reports whether dir has been marked dirty.
func (e *ExtensionWatcher) IsDirty(dir string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirty[filepath.Clean(dir)]
}

// Close stops the event loop and closes the underlying watcher.
func (e *ExtensionWatcher) Close() error {
	e.closeOnce.Do(func() {
		close(e.done)
		e.closeErr = e.w.Close()
		e.wg.Wait()
	})
	return e.closeErr
}

func (e *ExtensionWatcher) loop() {
	defer e.wg.Done()

	events := e.w.Events()
	errs := e.w.Errors()
	for {
		select {
		case <-e.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.handle(ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			e.logger.Warn("extension watcher error", "error", err)
		}
	}
}

func (e *ExtensionWatcher) handle(ev Event) {
	e.mu.Lock()
	if e.suspended {
		e.mu.Unlock()
		return
	}
	dir := owningDir(e.dirs, filepath.Clean(ev.Path))
	if dir == "" || e.dirty[dir] {
		e.mu.Unlock()
		return
	}
	e.dirty[dir] = true
	e.mu.Unlock()

	e.logger.Info("extension directory changed", "dir", dir, "path", ev.Path, "op", ev.Op.String())
	if e.onDirty != nil {
		e.onDirty(dir)
	}
}

// owningDir returns the longest directory in dirs containing p.
func owningDir(dirs []string, p string) string {
	best := ""
	for _, d := range dirs {
		if p == d || strings.HasPrefix(p, d+string(filepath.Separator)) {
			if len(d) > len(best) {
				best = d
			}
		}
	}
	return best
}
