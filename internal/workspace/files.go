package workspace

import (
	"github.com/autostep/autostep-lsp/internal/project/fileset"
)

// FileCreated handles a file appearing on disk.
func (s *Store) FileCreated(path string) error {
	return s.fileEvent("created", path, func(pc *projectContext, abs string) bool {
		return s.track(pc, abs)
	})
}

// FileChanged handles a file's disk content changing. Open documents are
// compiled from the overlay, so their disk changes are ignored.
func (s *Store) FileChanged(path string) error {
	return s.fileEvent("changed", path, func(pc *projectContext, abs string) bool {
		if _, ok := findRoute(s, pc, abs); ok {
			return !s.docs.IsOpen(abs)
		}
		return s.track(pc, abs)
	})
}

// FileDeleted handles a file disappearing from disk. An open document
// stays in the project through the overlay until it is closed.
func (s *Store) FileDeleted(path string) error {
	return s.fileEvent("deleted", path, func(pc *projectContext, abs string) bool {
		route, ok := findRoute(s, pc, abs)
		if !ok || s.docs.IsOpen(abs) {
			return false
		}
		route.Set.TryRemoveFile(route.Rel)
		return pc.model.RemoveFile(abs)
	})
}

// fileEvent routes a disk event. A configuration file anywhere in the tree
// forces a full reload; other files are applied incrementally by apply,
// which reports whether a rebuild is needed.
func (s *Store) fileEvent(op, path string, apply func(pc *projectContext, abs string) bool) error {
	if _, err := s.Root(); err != nil {
		return err
	}
	abs, err := s.vfs.Abs(path)
	if err != nil {
		return err
	}

	if fileset.IsConfigFile(abs) {
		s.logger.Info("configuration file changed, reloading project", "path", abs, "op", op)
		return s.scheduleReload("configuration " + op)
	}

	pc := s.current.Load()
	if pc == nil {
		// The pending initial load reads the disk as it finds it.
		return nil
	}
	if !apply(pc, abs) {
		return nil
	}
	s.logger.Debug("project file "+op, "path", abs)
	return s.ScheduleRebuild()
}

// Reload forces a full project reload.
func (s *Store) Reload() error {
	if _, err := s.Root(); err != nil {
		return err
	}
	return s.scheduleReload("requested")
}
