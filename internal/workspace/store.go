// Package workspace keeps the compiled project in step with the editor.
//
// A Store owns the open document overlay, the current project context and
// the background coordinator. Editor events mutate the context incrementally
// and schedule a rebuild; configuration and extension changes replace the
// context wholesale. Readers load the context through an atomic pointer and
// never block on background work.
package workspace

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/autostep/autostep-lsp/internal/background"
	"github.com/autostep/autostep-lsp/internal/engine"
	"github.com/autostep/autostep-lsp/internal/extension"
	"github.com/autostep/autostep-lsp/internal/project/filestore"
	"github.com/autostep/autostep-lsp/internal/project/vfs"
	"github.com/autostep/autostep-lsp/internal/project/watcher"
)

// Store is the workspace state store. It is safe for concurrent use.
type Store struct {
	vfs      vfs.VFS
	logger   *slog.Logger
	notifier Notifier
	newModel func() engine.Model
	composer *extension.Composer
	lookup   func(string) (string, bool)

	newWatcher func() (watcher.Watcher, error)
	extWatcher *watcher.ExtensionWatcher

	coord *background.Coordinator
	docs  *filestore.FileStore

	mu   sync.Mutex
	root string

	current atomic.Pointer[projectContext]

	// reloadMu serialises project loads; buildMu serialises compile and
	// link. pendingBuilds counts scheduled builds that have not yet reached
	// their coalescing check.
	reloadMu      sync.Mutex
	buildMu       sync.Mutex
	pendingBuilds atomic.Int64

	closed atomic.Bool
}

// Option configures a Store.
type Option func(*Store)

// WithVFS sets the file system. The default is the OS file system.
func WithVFS(v vfs.VFS) Option {
	return func(s *Store) {
		s.vfs = v
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithNotifier sets the receiver of diagnostics, errors and build events.
func WithNotifier(n Notifier) Option {
	return func(s *Store) {
		s.notifier = n
	}
}

// WithModelFactory sets the constructor for fresh project models.
func WithModelFactory(fn func() engine.Model) Option {
	return func(s *Store) {
		s.newModel = fn
	}
}

// WithComposer sets the extension composer.
func WithComposer(c *extension.Composer) Option {
	return func(s *Store) {
		s.composer = c
	}
}

// WithEnv sets the environment lookup applied over the configuration file.
func WithEnv(lookup func(string) (string, bool)) Option {
	return func(s *Store) {
		s.lookup = lookup
	}
}

// WithWatcherFactory sets how the extension directory watcher is created.
// A nil factory disables extension watching.
func WithWatcherFactory(fn func() (watcher.Watcher, error)) Option {
	return func(s *Store) {
		s.newWatcher = fn
	}
}

// New creates a Store. Nothing happens until Initialize.
func New(opts ...Option) *Store {
	s := &Store{
		vfs:      vfs.NewOSFS(),
		logger:   slog.New(slog.DiscardHandler),
		notifier: nopNotifier{},
		newModel: func() engine.Model { return engine.NewProject() },
		lookup:   os.LookupEnv,
		newWatcher: func() (watcher.Watcher, error) {
			return watcher.NewFSNotifyWatcher()
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.composer == nil {
		s.composer = extension.NewComposer(extension.WithLogger(s.logger))
	}
	s.coord = background.New(
		background.WithLogger(s.logger),
		background.WithErrorHandler(s.reportTaskError),
	)
	s.docs = filestore.NewFileStore(s.vfs)
	s.docs.OnOpen(func(doc *filestore.Document) {
		s.logger.Debug("document opened", "path", doc.Path, "version", doc.GetVersion())
	})
	s.docs.OnClose(s.clearDiagnosticsIfUntracked)
	return s
}

// Initialize sets the workspace root and queues the initial project load.
func (s *Store) Initialize(ctx context.Context, root string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	abs, err := s.vfs.Abs(root)
	if err != nil {
		return &LoadError{Root: root, Err: err}
	}

	s.mu.Lock()
	if s.root != "" {
		s.mu.Unlock()
		return ErrAlreadyInitialized
	}
	s.root = abs
	s.mu.Unlock()

	s.startExtensionWatcher()
	s.logger.Info("workspace initialized", "root", abs)
	return s.scheduleReload("initialize")
}

func (s *Store) startExtensionWatcher() {
	if s.newWatcher == nil {
		return
	}
	w, err := s.newWatcher()
	if err != nil {
		s.logger.Warn("extension watcher unavailable", "error", err)
		return
	}
	ew := watcher.NewExtensionWatcher(w, func(dir string) {
		s.logger.Info("extension changed, reloading project", "dir", dir)
		if err := s.scheduleReload("extension changed"); err != nil && !errors.Is(err, background.ErrClosed) {
			s.logger.Warn("scheduling reload failed", "error", err)
		}
	}, watcher.WithLogger(s.logger))

	s.mu.Lock()
	s.extWatcher = ew
	s.mu.Unlock()
}

func (s *Store) extensionWatcher() *watcher.ExtensionWatcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extWatcher
}

// Root returns the workspace root, or ErrNotInitialized.
func (s *Store) Root() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == "" {
		return "", ErrNotInitialized
	}
	return s.root, nil
}

// CurrentModel returns the model of the current project context, or nil
// before the first successful load. It never blocks on background work.
func (s *Store) CurrentModel() engine.Model {
	if pc := s.current.Load(); pc != nil {
		return pc.model
	}
	return nil
}

// InFlight returns the number of background tasks not yet finished.
func (s *Store) InFlight() int64 {
	return s.coord.InFlight()
}

// WaitForUpToDateBuild blocks until no background work remains or ctx is
// done. Cancelling ctx does not cancel the work.
func (s *Store) WaitForUpToDateBuild(ctx context.Context) error {
	if _, err := s.Root(); err != nil {
		return err
	}
	return s.coord.WaitForIdle(ctx)
}

// Close stops accepting work, cancels running tasks and waits for them
// until ctx is done, then releases the project context and the watcher.
func (s *Store) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}

	err := s.coord.Close(ctx)

	if pc := s.current.Swap(nil); pc != nil {
		if cerr := pc.close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	if w := s.extensionWatcher(); w != nil {
		if werr := w.Close(); werr != nil {
			err = errors.Join(err, werr)
		}
	}
	return err
}
