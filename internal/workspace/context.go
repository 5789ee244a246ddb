package workspace

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/autostep/autostep-lsp/internal/config"
	"github.com/autostep/autostep-lsp/internal/engine"
	"github.com/autostep/autostep-lsp/internal/extension"
	"github.com/autostep/autostep-lsp/internal/project/fileset"
)

// projectContext is everything derived from one configuration load. It is
// published only once complete and replaced, never rebuilt in place. The
// model and file sets inside it are themselves safe for concurrent use and
// absorb incremental file changes.
type projectContext struct {
	id       string
	root     string
	cfg      *config.Config
	model    engine.Model
	sets     []*fileset.FileSet
	ext      *extension.Loaded
	loadedAt time.Time
}

// load builds a new project context from the configuration under root.
// On failure nothing it created is left open.
func (s *Store) load(ctx context.Context, root string) (*projectContext, error) {
	cfg, err := config.Load(s.vfs, root)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(s.lookup); err != nil {
		return nil, err
	}

	model := s.newModel()
	loaded, err := s.composer.Load(ctx, cfg, root, model)
	if err != nil {
		return nil, err
	}

	pc := &projectContext{
		id:       uuid.NewString(),
		root:     root,
		cfg:      cfg,
		model:    model,
		ext:      loaded,
		loadedAt: time.Now(),
	}
	if err := pc.populate(ctx, s); err != nil {
		_ = pc.close()
		return nil, err
	}
	return pc, nil
}

// populate expands the project and extension file sets and merges every
// file into the model.
func (pc *projectContext) populate(ctx context.Context, s *Store) error {
	tests, err := fileset.New("tests", engine.FileKindTest, pc.root, pc.cfg.Tests, nil)
	if err != nil {
		return fmt.Errorf("tests: %w", err)
	}
	interactions, err := fileset.New("interactions", engine.FileKindInteraction, pc.root, pc.cfg.Interactions, nil)
	if err != nil {
		return fmt.Errorf("interactions: %w", err)
	}

	sets := append([]*fileset.FileSet{tests, interactions}, pc.ext.FileSets()...)
	if err := fileset.ExpandAll(ctx, s.vfs, sets...); err != nil {
		return err
	}

	// Open documents that exist only in the editor join the sets too.
	for _, doc := range s.docs.OpenDocuments() {
		if route := fileset.Classify(s.vfs, doc.Path, sets); route.Set != nil {
			route.Set.TryAddFile(route.Rel)
		}
	}

	sources := fileset.OverlaySources(s.docs, s.vfs)
	for _, set := range sets {
		set.MergeInto(pc.model, s.vfs, sources)
	}
	pc.sets = sets
	return nil
}

// fileCount returns the number of files across every set.
func (pc *projectContext) fileCount() int {
	n := 0
	for _, set := range pc.sets {
		n += set.Len()
	}
	return n
}

func (pc *projectContext) close() error {
	return pc.ext.Close()
}
