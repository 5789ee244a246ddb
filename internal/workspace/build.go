package workspace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/autostep/autostep-lsp/internal/engine"
	"github.com/autostep/autostep-lsp/internal/extension"
	"github.com/autostep/autostep-lsp/internal/lsp"
)

// ScheduleRebuild queues a compile and link of the current project. When
// the task runs while other tasks are still in flight and another build is
// queued behind it, it does nothing: the later build covers both. A burst
// of triggers therefore costs one build after the burst. Builds that are
// still running never suppress the last queued build.
func (s *Store) ScheduleRebuild() error {
	if _, err := s.Root(); err != nil {
		return err
	}
	return s.dispatchBuild("rebuild", func(ctx context.Context) error {
		return s.coalescedBuild(ctx)
	})
}

// scheduleReload queues a full reload followed by a build.
func (s *Store) scheduleReload(reason string) error {
	return s.dispatchBuild("reload", func(ctx context.Context) error {
		loadErr := s.reload(ctx, reason)
		// The build runs even when the load failed so that coalesced
		// builds queued behind this task still happen on the old context.
		buildErr := s.coalescedBuild(ctx)
		return errors.Join(loadErr, buildErr)
	})
}

func (s *Store) dispatchBuild(label string, work func(ctx context.Context) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.pendingBuilds.Add(1)
	if err := s.coord.Run(label, work); err != nil {
		s.pendingBuilds.Add(-1)
		return err
	}
	return nil
}

// reload replaces the project context. The extension watcher is suspended
// for the duration so the reload cannot trigger itself, and the previous
// context stays active unless the new one loads completely.
func (s *Store) reload(ctx context.Context, reason string) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	root, err := s.Root()
	if err != nil {
		return err
	}

	if w := s.extensionWatcher(); w != nil {
		w.Suspend()
		defer w.Resume()
	}

	start := time.Now()
	pc, err := s.load(ctx, root)
	if err != nil {
		return &LoadError{Root: root, Err: err}
	}
	if err := ctx.Err(); err != nil {
		_ = pc.close()
		return err
	}

	old := s.current.Swap(pc)
	// Documents opened after populate listed the overlay found no context
	// or the old one.
	for _, doc := range s.docs.OpenDocuments() {
		s.track(pc, doc.Path)
	}
	if old != nil {
		if err := old.close(); err != nil {
			s.logger.Warn("disposing previous project failed", "error", err)
		}
	}

	if w := s.extensionWatcher(); w != nil {
		if err := w.SetDirectories(pc.ext.Dirs()); err != nil {
			s.logger.Warn("watching extensions failed", "error", err)
		}
	}

	s.logger.Info("project loaded",
		"reason", reason,
		"context_id", pc.id,
		"files", pc.fileCount(),
		"extensions", len(pc.ext.Packages()),
		"duration", time.Since(start),
	)
	return nil
}

// coalescedBuild builds unless a later build is already queued and other
// work is still in flight.
func (s *Store) coalescedBuild(ctx context.Context) error {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	queued := s.pendingBuilds.Add(-1)
	if s.coord.InFlight() > 1 && queued > 0 {
		s.logger.Debug("build coalesced", "in_flight", s.coord.InFlight(), "queued", queued)
		return nil
	}

	pc := s.current.Load()
	if pc == nil {
		return nil
	}
	return s.build(ctx, pc)
}

// build compiles and links pc, then publishes diagnostics for every open
// document and signals completion. The context is checked between phases.
func (s *Store) build(ctx context.Context, pc *projectContext) error {
	start := time.Now()

	compiled, err := pc.model.Compile(ctx, s.logger)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	linked, err := pc.model.Link(ctx)
	if err != nil {
		return fmt.Errorf("link: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.current.Load() != pc {
		// A reload replaced the context mid-build; its own build reports.
		s.logger.Debug("discarding build of replaced project", "context_id", pc.id)
		return nil
	}

	result := mergeResults(compiled, linked)
	for _, doc := range s.docs.OpenDocuments() {
		diags := lsp.TranslateMessages(result.ForPath(doc.Path))
		s.notifier.PublishDiagnostics(doc.Path, doc.GetVersion(), diags)
	}

	s.logger.Info("build completed",
		"context_id", pc.id,
		"messages", len(result.Messages),
		"has_errors", result.HasErrors(),
		"duration", time.Since(start),
	)
	s.notifier.BuildCompleted()
	return nil
}

// reportTaskError surfaces background failures to the user. Each nested
// extension failure is reported on its own.
func (s *Store) reportTaskError(label string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	var loadErr *extension.ExtensionLoadError
	if errors.As(err, &loadErr) {
		for _, e := range loadErr.Errs {
			s.notifier.ShowError(e.Error())
		}
		return
	}
	s.notifier.ShowError(fmt.Sprintf("%s failed: %v", label, err))
}

// clearDiagnosticsIfUntracked removes diagnostics for a closed document
// that no file set tracks; tracked files keep reporting from disk.
func (s *Store) clearDiagnosticsIfUntracked(path string) {
	if pc := s.current.Load(); pc != nil {
		if _, ok := findRoute(s, pc, path); ok {
			return
		}
	}
	s.notifier.PublishDiagnostics(path, 0, []lsp.Diagnostic{})
}

func mergeResults(results ...*engine.Result) *engine.Result {
	merged := &engine.Result{}
	for _, r := range results {
		if r != nil {
			merged.Messages = append(merged.Messages, r.Messages...)
		}
	}
	return merged
}
