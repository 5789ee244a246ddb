// Package extension resolves, installs and loads project extensions.
//
// An extension is a directory holding an extension.yaml manifest and a Lua
// entry point. The entry point's attach function receives a project table
// through which it contributes step definitions, components and methods.
// Extensions may also contribute test and interaction files by glob.
package extension

import (
	"context"
	"log/slog"
	"time"

	"github.com/autostep/autostep-lsp/internal/config"
	"github.com/autostep/autostep-lsp/internal/engine"
	"github.com/autostep/autostep-lsp/internal/project/fileset"
)

// Composer turns a configuration into loaded extensions.
type Composer struct {
	resolver Resolver
	logger   *slog.Logger
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ComposerOption {
	return func(c *Composer) {
		c.logger = l
	}
}

// WithResolver replaces the default directory resolver.
func WithResolver(r Resolver) ComposerOption {
	return func(c *Composer) {
		c.resolver = r
	}
}

// NewComposer creates a Composer resolving from directories on disk.
func NewComposer(opts ...ComposerOption) *Composer {
	c := &Composer{
		resolver: NewDirResolver(),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Loaded is the result of a successful Load.
type Loaded struct {
	handle   Handle
	packages []Package
	sets     []*fileset.FileSet
}

// Packages returns the loaded packages.
func (l *Loaded) Packages() []Package {
	if l == nil {
		return nil
	}
	return append([]Package(nil), l.packages...)
}

// FileSets returns the file sets contributed by extensions, rooted at each
// extension's directory and not yet expanded.
func (l *Loaded) FileSets() []*fileset.FileSet {
	if l == nil {
		return nil
	}
	return append([]*fileset.FileSet(nil), l.sets...)
}

// Dirs returns the directories whose changes make the extensions stale.
func (l *Loaded) Dirs() []string {
	if l == nil {
		return nil
	}
	dirs := make([]string, 0, len(l.packages))
	for _, p := range l.packages {
		dirs = append(dirs, p.Dir)
	}
	return dirs
}

// Close releases the entry points.
func (l *Loaded) Close() error {
	if l == nil || l.handle == nil {
		return nil
	}
	return l.handle.Close()
}

// Load resolves every extension cfg names, installs and loads them, and
// calls each attach hook with reg. On failure every partially loaded entry
// point is disposed and the error is an *ExtensionLoadError listing each
// nested failure. A config missing a package or folder key fails with
// config.ErrInvalidConfiguration before anything is resolved.
func (c *Composer) Load(ctx context.Context, cfg *config.Config, root string, reg engine.Registry) (*Loaded, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Extensions) == 0 && len(cfg.LocalExtensions) == 0 {
		return &Loaded{}, nil
	}

	start := time.Now()
	req := Request{
		Sources:         cfg.SourceDirs(root),
		Packages:        cfg.Extensions,
		Local:           cfg.LocalDirs(root),
		AllowPrerelease: cfg.AllowPrerelease(),
		DebugBuilds:     cfg.DebugExtensionBuilds,
	}

	installable, err := c.resolver.Resolve(ctx, req)
	if err != nil {
		return nil, asLoadError(err)
	}
	installed, err := installable.Install(ctx)
	if err != nil {
		return nil, asLoadError(err)
	}
	handle, err := installed.LoadEntryPoints(ctx, LoadOptions{Logger: c.logger, Debug: req.DebugBuilds})
	if err != nil {
		return nil, asLoadError(err)
	}

	var errs []error
	for _, entry := range handle.EntryPoints() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := entry.Attach(ctx, reg); err != nil {
			errs = append(errs, &Error{Extension: entry.Name(), Op: "attach", Err: err})
		}
	}

	pkgs := installed.Packages()
	var sets []*fileset.FileSet
	if len(errs) == 0 {
		sets, errs = extensionFileSets(pkgs)
	}
	if len(errs) > 0 {
		if cerr := handle.Close(); cerr != nil {
			errs = append(errs, cerr)
		}
		return nil, asLoadError(errs...)
	}

	c.logger.Info("extensions loaded",
		"count", len(pkgs),
		"duration", time.Since(start),
	)
	return &Loaded{handle: handle, packages: pkgs, sets: sets}, nil
}

func extensionFileSets(pkgs []Package) ([]*fileset.FileSet, []error) {
	var (
		sets []*fileset.FileSet
		errs []error
	)
	for _, p := range pkgs {
		for _, spec := range []struct {
			kind  engine.FileKind
			globs []string
		}{
			{engine.FileKindTest, p.Manifest.Tests},
			{engine.FileKindInteraction, p.Manifest.Interactions},
		} {
			if len(spec.globs) == 0 {
				continue
			}
			s, err := fileset.New("extension "+p.Name, spec.kind, p.Dir, spec.globs, nil)
			if err != nil {
				errs = append(errs, &Error{Extension: p.Name, Op: "manifest", Err: err})
				continue
			}
			sets = append(sets, s)
		}
	}
	return sets, errs
}
