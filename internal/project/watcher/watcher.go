// Package watcher provides file system watching for installed extension
// directories.
//
// FSNotifyWatcher turns fsnotify events into Events filtered by gitignore
// style patterns. ExtensionWatcher sits on top of a Watcher and marks an
// extension directory dirty the first time anything under it changes.
package watcher

import "errors"

// Common errors returned by watcher operations.
var (
	ErrWatcherClosed   = errors.New("watcher is closed")
	ErrAlreadyWatching = errors.New("path is already being watched")
	ErrNotWatching     = errors.New("path is not being watched")
	ErrPathNotExist    = errors.New("path does not exist")
	ErrMaxWatches      = errors.New("maximum watch limit reached")
)

// Op is a set of content-changing file operations. Permission changes are
// not reported; they never alter what an extension loads.
type Op uint32

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
)

// String lists the operations in the set, joined by "|".
func (op Op) String() string {
	names := ""
	for _, n := range []struct {
		op   Op
		name string
	}{{OpCreate, "create"}, {OpWrite, "write"}, {OpRemove, "remove"}, {OpRename, "rename"}} {
		if op&n.op != 0 {
			if names != "" {
				names += "|"
			}
			names += n.name
		}
	}
	if names == "" {
		return "none"
	}
	return names
}

// Event is one change under a watched directory.
type Event struct {
	// Path is the absolute path of the affected file or directory.
	Path string
	Op   Op
}

// Watcher monitors file system changes.
type Watcher interface {
	// Watch starts watching a single path.
	Watch(path string) error

	// WatchRecursive watches a directory and all subdirectories.
	WatchRecursive(path string) error

	// Unwatch stops watching a path.
	Unwatch(path string) error

	// Events returns the channel of change events. It is closed by Close.
	Events() <-chan Event

	// Errors returns the channel of watcher errors. It is closed by Close.
	Errors() <-chan error

	// WatchedPaths returns all paths being watched.
	WatchedPaths() []string

	// Close stops the watcher and releases resources.
	Close() error
}

// Config holds watcher settings.
type Config struct {
	// BufferSize is the size of the event and error channels. Events that
	// do not fit are dropped; a dirty directory needs only one.
	BufferSize int

	// IgnorePatterns are gitignore-style patterns for paths to ignore.
	IgnorePatterns []string

	// MaxWatches caps the number of watched paths. 0 means unlimited.
	MaxWatches int
}

// DefaultIgnorePatterns skip version control and dependency folders that
// extensions commonly carry.
var DefaultIgnorePatterns = []string{".git/", "node_modules/", "*.swp", "*~"}

// DefaultConfig returns the settings used by NewFSNotifyWatcher.
func DefaultConfig() Config {
	return Config{
		BufferSize:     100,
		IgnorePatterns: DefaultIgnorePatterns,
	}
}

// WatcherOption configures a watcher.
type WatcherOption func(*Config)

// WithIgnorePatterns replaces the ignore patterns.
func WithIgnorePatterns(patterns []string) WatcherOption {
	return func(c *Config) {
		c.IgnorePatterns = patterns
	}
}

// WithMaxWatches sets the maximum number of watches.
func WithMaxWatches(max int) WatcherOption {
	return func(c *Config) {
		c.MaxWatches = max
	}
}
