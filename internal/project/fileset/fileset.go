// Package fileset keeps the glob-defined sets of test and interaction files
// in step with the file tree and folds them into the project model.
package fileset

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/autostep/autostep-lsp/internal/engine"
	"github.com/autostep/autostep-lsp/internal/project/vfs"
)

// ErrInvalidPattern is returned for a malformed include or exclude glob.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// FileSet is an ordered collection of paths relative to Root, matched by
// include and exclude globs. A path appears at most once.
type FileSet struct {
	name    string
	kind    engine.FileKind
	root    string
	include []string
	exclude []string

	mu    sync.RWMutex
	paths []string
	index map[string]int
}

// New creates an empty set. Patterns use forward slashes and support **.
func New(name string, kind engine.FileKind, root string, include, exclude []string) (*FileSet, error) {
	for _, p := range append(append([]string(nil), include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: %q in %s files", ErrInvalidPattern, p, name)
		}
	}
	return &FileSet{
		name:    name,
		kind:    kind,
		root:    root,
		include: append([]string(nil), include...),
		exclude: append([]string(nil), exclude...),
		index:   make(map[string]int),
	}, nil
}

// Name identifies the set in logs.
func (s *FileSet) Name() string { return s.name }

// Kind is the kind of file the set holds.
func (s *FileSet) Kind() engine.FileKind { return s.kind }

// Root is the directory paths are relative to.
func (s *FileSet) Root() string { return s.root }

// Matches reports whether rel is included and not excluded.
func (s *FileSet) Matches(rel string) bool {
	included := false
	for _, p := range s.include {
		if ok, _ := doublestar.Match(p, rel); ok {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, p := range s.exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return false
		}
	}
	return true
}

// TryAddFile adds rel and reports whether the set changed.
func (s *FileSet) TryAddFile(rel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[rel]; ok {
		return false
	}
	s.index[rel] = len(s.paths)
	s.paths = append(s.paths, rel)
	return true
}

// TryRemoveFile removes rel and reports whether the set changed.
func (s *FileSet) TryRemoveFile(rel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[rel]
	if !ok {
		return false
	}
	copy(s.paths[i:], s.paths[i+1:])
	s.paths = s.paths[:len(s.paths)-1]
	delete(s.index, rel)
	for j := i; j < len(s.paths); j++ {
		s.index[s.paths[j]] = j
	}
	return true
}

// Contains reports whether rel is in the set.
func (s *FileSet) Contains(rel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[rel]
	return ok
}

// Paths returns a copy of the set in insertion order.
func (s *FileSet) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.paths...)
}

// Len returns the number of paths.
func (s *FileSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.paths)
}

// AbsPath joins rel onto the set's root.
func (s *FileSet) AbsPath(v vfs.VFS, rel string) string {
	return v.Join(s.root, rel)
}

// RelPath returns abs relative to the set's root, or false when abs lies
// outside it.
func (s *FileSet) RelPath(v vfs.VFS, abs string) (string, bool) {
	rel, err := v.Rel(s.root, abs)
	if err != nil || rel == "." {
		return "", false
	}
	return rel, true
}

// Expand walks the root and adds every matching file.
func (s *FileSet) Expand(ctx context.Context, v vfs.VFS) error {
	if !vfs.Exists(v, s.root) {
		return nil
	}
	return v.WalkFiles(s.root, func(p string, _ vfs.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rel, ok := s.RelPath(v, p); ok && s.Matches(rel) {
			s.TryAddFile(rel)
		}
		return nil
	})
}

// ExpandAll expands the sets in parallel.
func ExpandAll(ctx context.Context, v vfs.VFS, sets ...*FileSet) error {
	g, gCtx := errgroup.WithContext(ctx)
	for _, s := range sets {
		g.Go(func() error {
			if err := s.Expand(gCtx, v); err != nil {
				return fmt.Errorf("expand %s files under %s: %w", s.name, s.root, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// SourceFactory produces the content source for an absolute path.
type SourceFactory func(absPath string) engine.ContentSource

// MergeInto merges every path of the set into model. Merging a path again
// replaces the earlier entry.
func (s *FileSet) MergeInto(model engine.Model, v vfs.VFS, sources SourceFactory) {
	for _, rel := range s.Paths() {
		abs := s.AbsPath(v, rel)
		model.MergeFile(s.kind, abs, sources(abs))
	}
}
