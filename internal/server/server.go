// Package server is the language server: it decodes protocol messages from
// a Conn, drives the workspace Store and sends the store's diagnostics,
// errors and build notifications back to the client.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/autostep/autostep-lsp/internal/lsp"
	"github.com/autostep/autostep-lsp/internal/workspace"
)

// Name is reported to clients in the initialize response.
const Name = "autostep-lsp"

// ErrExitWithoutShutdown is returned by Serve when the client sent exit
// before shutdown.
var ErrExitWithoutShutdown = errors.New("exit received before shutdown")

const shutdownTimeout = 10 * time.Second

// Server handles one client connection.
type Server struct {
	conn      *lsp.Conn
	store     *workspace.Store
	logger    *slog.Logger
	version   string
	storeOpts []workspace.Option

	initialized  atomic.Bool
	shuttingDown atomic.Bool
	exited       atomic.Bool

	// async tracks requests replied from their own goroutine.
	async sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithVersion sets the version reported in the initialize response.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithStoreOptions passes options to the workspace store.
func WithStoreOptions(opts ...workspace.Option) Option {
	return func(s *Server) {
		s.storeOpts = append(s.storeOpts, opts...)
	}
}

// New creates a server on conn.
func New(conn *lsp.Conn, opts ...Option) *Server {
	s := &Server{
		conn:   conn,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}

	storeOpts := append([]workspace.Option{workspace.WithLogger(s.logger)}, s.storeOpts...)
	storeOpts = append(storeOpts, workspace.WithNotifier(s))
	s.store = workspace.New(storeOpts...)
	return s
}

// Store returns the workspace store.
func (s *Server) Store() *workspace.Store {
	return s.store
}

// Serve processes messages until the client exits or the input ends. The
// store is closed and pending replies are flushed before it returns.
func (s *Server) Serve(ctx context.Context) error {
	runErr := s.conn.Run(ctx, s.handle)

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.store.Close(closeCtx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("closing workspace failed", "error", err)
	}
	s.async.Wait()
	_ = s.conn.Close()

	if runErr != nil {
		return runErr
	}
	if s.exited.Load() && !s.shuttingDown.Load() {
		return ErrExitWithoutShutdown
	}
	return nil
}

// PublishDiagnostics sends textDocument/publishDiagnostics.
func (s *Server) PublishDiagnostics(path string, version int64, diagnostics []lsp.Diagnostic) {
	s.notify("textDocument/publishDiagnostics", lsp.PublishDiagnosticsParams{
		URI:         lsp.FilePathToURI(path),
		Version:     int(version),
		Diagnostics: diagnostics,
	})
}

// ShowError sends window/showMessage with error severity.
func (s *Server) ShowError(message string) {
	s.notify("window/showMessage", lsp.ShowMessageParams{
		Type:    lsp.MessageTypeError,
		Message: message,
	})
}

// BuildCompleted sends autostep/buildComplete.
func (s *Server) BuildCompleted() {
	s.notify(MethodBuildComplete, nil)
}

func (s *Server) notify(method string, params any) {
	if err := s.conn.Notify(method, params); err != nil && !errors.Is(err, lsp.ErrConnClosed) {
		s.logger.Warn("notification failed", "method", method, "error", err)
	}
}
