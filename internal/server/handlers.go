package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/autostep/autostep-lsp/internal/engine"
	"github.com/autostep/autostep-lsp/internal/lsp"
	"github.com/autostep/autostep-lsp/internal/workspace"
)

type notificationHandler func(ctx context.Context, req *lsp.Request) error

type requestHandler func(ctx context.Context, reply lsp.Replier, req *lsp.Request) error

func (s *Server) handle(ctx context.Context, reply lsp.Replier, req *lsp.Request) error {
	if req.IsNotification() {
		return s.handleNotification(ctx, req)
	}

	switch {
	case req.Method == "initialize":
		return s.initialize(ctx, reply, req)
	case !s.initialized.Load():
		return reply(nil, lsp.NewRPCError(lsp.CodeServerNotInitialized, "server not initialized"))
	case s.shuttingDown.Load():
		return reply(nil, lsp.NewRPCError(lsp.CodeInvalidRequest, "server is shutting down"))
	}

	h, ok := s.requestHandlers()[req.Method]
	if !ok {
		return reply(nil, lsp.NewRPCError(lsp.CodeMethodNotFound, "method not found: %s", req.Method))
	}
	return h(ctx, reply, req)
}

func (s *Server) requestHandlers() map[string]requestHandler {
	return map[string]requestHandler{
		"shutdown":                s.shutdown,
		"textDocument/completion": s.completion,
		"textDocument/hover":      s.hover,
		MethodWaitForBuild:        s.waitForBuild,
		MethodStepDefinitions:     s.stepDefinitions,
		MethodMethodDefinition:    s.methodDefinition,
	}
}

func (s *Server) handleNotification(ctx context.Context, req *lsp.Request) error {
	if req.Method == "exit" {
		s.exited.Store(true)
		return s.conn.Close()
	}
	if !s.initialized.Load() || s.shuttingDown.Load() {
		s.logger.Debug("dropping notification", "method", req.Method)
		return nil
	}

	h, ok := s.notificationHandlers()[req.Method]
	if !ok {
		if !strings.HasPrefix(req.Method, "$/") {
			s.logger.Debug("unhandled notification", "method", req.Method)
		}
		return nil
	}
	return h(ctx, req)
}

func (s *Server) notificationHandlers() map[string]notificationHandler {
	return map[string]notificationHandler{
		"initialized":                      s.noop,
		"textDocument/didOpen":             s.didOpen,
		"textDocument/didChange":           s.didChange,
		"textDocument/didClose":            s.didClose,
		"workspace/didChangeWatchedFiles":  s.didChangeWatchedFiles,
		"workspace/didChangeConfiguration": s.didChangeConfiguration,
	}
}

func decode(req *lsp.Request, v any) error {
	if len(req.Params) == 0 {
		return lsp.NewRPCError(lsp.CodeInvalidParams, "%s: missing params", req.Method)
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return lsp.NewRPCError(lsp.CodeInvalidParams, "%s: %v", req.Method, err)
	}
	return nil
}

func (s *Server) initialize(ctx context.Context, reply lsp.Replier, req *lsp.Request) error {
	if s.initialized.Load() {
		return reply(nil, lsp.NewRPCError(lsp.CodeInvalidRequest, "%v", workspace.ErrAlreadyInitialized))
	}

	var params lsp.InitializeParams
	if err := decode(req, &params); err != nil {
		return reply(nil, err)
	}
	root := lsp.URIToFilePath(params.RootURI)
	if root == "" {
		root = params.RootPath
	}
	if root == "" {
		return reply(nil, lsp.NewRPCError(lsp.CodeInvalidParams, "initialize: no workspace root"))
	}

	s.initialized.Store(true)
	err := reply(lsp.InitializeResult{
		Capabilities: lsp.ServerCapabilities{
			TextDocumentSync: lsp.TextDocumentSyncKindFull,
			CompletionProvider: &lsp.CompletionOptions{
				TriggerCharacters: []string{" "},
			},
			HoverProvider: true,
		},
		ServerInfo: &lsp.InitializeServerInfo{Name: Name, Version: s.version},
	}, nil)

	// The initial load starts after the response so that no notification
	// precedes it.
	if ierr := s.store.Initialize(context.WithoutCancel(ctx), root); ierr != nil {
		s.logger.Error("workspace initialization failed", "root", root, "error", ierr)
		s.ShowError("initialization failed: " + ierr.Error())
	}
	s.logger.Info("initialized", "root", root, "process_id", params.ProcessID)
	return err
}

func (s *Server) shutdown(ctx context.Context, reply lsp.Replier, _ *lsp.Request) error {
	s.shuttingDown.Store(true)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.store.Close(closeCtx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("closing workspace failed", "error", err)
	}
	return reply(nil, nil)
}

func (s *Server) noop(context.Context, *lsp.Request) error {
	return nil
}

func (s *Server) didOpen(_ context.Context, req *lsp.Request) error {
	var params lsp.DidOpenTextDocumentParams
	if err := decode(req, &params); err != nil {
		return err
	}
	return s.store.OpenDocument(lsp.URIToFilePath(params.TextDocument.URI), params.TextDocument.Text)
}

func (s *Server) didChange(_ context.Context, req *lsp.Request) error {
	var params lsp.DidChangeTextDocumentParams
	if err := decode(req, &params); err != nil {
		return err
	}
	if len(params.ContentChanges) == 0 {
		return nil
	}
	// Full sync: the last change holds the whole document.
	text := params.ContentChanges[len(params.ContentChanges)-1].Text
	return s.store.EditDocument(lsp.URIToFilePath(params.TextDocument.URI), text)
}

func (s *Server) didClose(_ context.Context, req *lsp.Request) error {
	var params lsp.DidCloseTextDocumentParams
	if err := decode(req, &params); err != nil {
		return err
	}
	return s.store.CloseDocument(lsp.URIToFilePath(params.TextDocument.URI))
}

func (s *Server) didChangeWatchedFiles(_ context.Context, req *lsp.Request) error {
	var params lsp.DidChangeWatchedFilesParams
	if err := decode(req, &params); err != nil {
		return err
	}

	var errs []error
	for _, change := range params.Changes {
		path := lsp.URIToFilePath(change.URI)
		var err error
		switch change.Type {
		case lsp.FileChangeTypeCreated:
			err = s.store.FileCreated(path)
		case lsp.FileChangeTypeChanged:
			err = s.store.FileChanged(path)
		case lsp.FileChangeTypeDeleted:
			err = s.store.FileDeleted(path)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) didChangeConfiguration(context.Context, *lsp.Request) error {
	return s.store.Reload()
}

func (s *Server) completion(_ context.Context, reply lsp.Replier, req *lsp.Request) error {
	var params lsp.CompletionParams
	if err := decode(req, &params); err != nil {
		return reply(nil, err)
	}

	items := s.store.Completion(lsp.URIToFilePath(params.TextDocument.URI), params.Position)
	if items == nil {
		items = []lsp.CompletionItem{}
	}
	return reply(lsp.CompletionList{Items: items}, nil)
}

func (s *Server) hover(_ context.Context, reply lsp.Replier, req *lsp.Request) error {
	var params lsp.HoverParams
	if err := decode(req, &params); err != nil {
		return reply(nil, err)
	}

	h := s.store.Hover(lsp.URIToFilePath(params.TextDocument.URI), params.Position.Line)
	if h == nil {
		return reply(nil, nil)
	}
	return reply(h, nil)
}

// waitForBuild replies once no background work remains. It runs on its own
// goroutine so the read loop keeps delivering the edits it waits on.
func (s *Server) waitForBuild(ctx context.Context, reply lsp.Replier, _ *lsp.Request) error {
	s.async.Add(1)
	go func() {
		defer s.async.Done()
		err := s.store.WaitForUpToDateBuild(ctx)
		if errors.Is(err, workspace.ErrClosed) {
			err = nil
		}
		if rerr := reply(nil, err); rerr != nil && !errors.Is(rerr, lsp.ErrConnClosed) {
			s.logger.Warn("reply failed", "method", MethodWaitForBuild, "error", rerr)
		}
	}()
	return nil
}

func (s *Server) stepDefinitions(_ context.Context, reply lsp.Replier, req *lsp.Request) error {
	var params StepDefinitionsParams
	if err := decode(req, &params); err != nil {
		return reply(nil, err)
	}
	stepType, ok := engine.ParseStepType(params.Type)
	if !ok {
		return reply(nil, lsp.NewRPCError(lsp.CodeInvalidParams, "unknown step type %q", params.Type))
	}

	matches := s.store.GetPossibleStepDefinitions(engine.StepReference{Type: stepType, Text: params.Text})
	infos := make([]StepDefinitionInfo, 0, len(matches))
	for _, m := range matches {
		infos = append(infos, stepDefinitionInfo(m))
	}
	return reply(infos, nil)
}

func (s *Server) methodDefinition(_ context.Context, reply lsp.Replier, req *lsp.Request) error {
	var params MethodDefinitionParams
	if err := decode(req, &params); err != nil {
		return reply(nil, err)
	}

	m, ok := s.store.GetMethodDefinition(params.Call, params.Scope)
	if !ok {
		return reply(nil, nil)
	}
	return reply(methodDefinitionInfo(m), nil)
}
