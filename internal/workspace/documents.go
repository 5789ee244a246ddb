package workspace

import (
	"github.com/autostep/autostep-lsp/internal/lsp"
	"github.com/autostep/autostep-lsp/internal/project/fileset"
	"github.com/autostep/autostep-lsp/internal/project/vfs"
)

// OpenDocument places path's editor text in the overlay and schedules a
// rebuild. A new file matching a project glob joins its file set.
func (s *Store) OpenDocument(path, content string) error {
	if _, err := s.Root(); err != nil {
		return err
	}
	doc, err := s.docs.Open(path, content)
	if err != nil {
		return err
	}
	if pc := s.current.Load(); pc != nil {
		s.track(pc, doc.Path)
	}
	return s.ScheduleRebuild()
}

// EditDocument replaces the overlay text of an open document and schedules
// a rebuild. Editing a document that is not open is logged and ignored; the
// returned error wraps filestore.ErrDocumentNotOpen.
func (s *Store) EditDocument(path, content string) error {
	if _, err := s.Root(); err != nil {
		return err
	}
	if _, err := s.docs.Edit(path, content); err != nil {
		s.logger.Warn("ignoring edit", "path", path, "error", err)
		return err
	}
	return s.ScheduleRebuild()
}

// CloseDocument drops path from the overlay. A tracked file falls back to
// its disk content, or leaves the project if it was never saved.
func (s *Store) CloseDocument(path string) error {
	if _, err := s.Root(); err != nil {
		return err
	}
	abs, err := s.vfs.Abs(path)
	if err != nil {
		return err
	}
	if err := s.docs.Close(abs); err != nil {
		s.logger.Warn("ignoring close", "path", path, "error", err)
		return err
	}

	pc := s.current.Load()
	if pc == nil {
		return nil
	}
	route, ok := findRoute(s, pc, abs)
	if !ok {
		return nil
	}
	if !vfs.Exists(s.vfs, abs) {
		route.Set.TryRemoveFile(route.Rel)
		pc.model.RemoveFile(abs)
		s.notifier.PublishDiagnostics(abs, 0, []lsp.Diagnostic{})
	}
	return s.ScheduleRebuild()
}

// track adds abs to the file set whose globs match it and merges it into
// the model. It reports whether anything changed.
func (s *Store) track(pc *projectContext, abs string) bool {
	route := fileset.Classify(s.vfs, abs, pc.sets)
	if route.Set == nil {
		return false
	}
	if !route.Set.TryAddFile(route.Rel) {
		return false
	}
	pc.model.MergeFile(route.Set.Kind(), abs, fileset.OverlaySources(s.docs, s.vfs)(abs))
	return true
}

func findRoute(s *Store, pc *projectContext, abs string) (fileset.Route, bool) {
	return fileset.Find(s.vfs, abs, pc.sets)
}
