package extension

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/autostep/autostep-lsp/internal/config"
	"github.com/autostep/autostep-lsp/internal/engine"
)

// Request lists the extensions a project asks for.
type Request struct {
	// Sources are directories laid out as <source>/<package>/<version>/.
	Sources []string

	Packages []config.PackageExtension

	// Local are absolute extension folders.
	Local []string

	AllowPrerelease bool
	DebugBuilds     bool
}

// Package is a resolved extension.
type Package struct {
	Name     string
	Version  string
	Dir      string
	Local    bool
	Manifest *Manifest
}

// Resolver finds the packages satisfying a request.
type Resolver interface {
	Resolve(ctx context.Context, req Request) (Installable, error)
}

// Installable is a resolved set of packages not yet installed.
type Installable interface {
	Packages() []Package
	Install(ctx context.Context) (Installed, error)
}

// Installed is a set of packages ready to load.
type Installed interface {
	Packages() []Package
	LoadEntryPoints(ctx context.Context, opts LoadOptions) (Handle, error)
}

// Handle owns loaded entry points. Close releases them.
type Handle interface {
	EntryPoints() []EntryPoint
	Close() error
}

// EntryPoint is one extension's loaded code.
type EntryPoint interface {
	Name() string
	Attach(ctx context.Context, reg engine.Registry) error
}

// DirResolver resolves packages from directories on disk.
type DirResolver struct{}

// NewDirResolver creates a resolver over local source directories.
func NewDirResolver() *DirResolver {
	return &DirResolver{}
}

// Resolve finds every requested package. All failures are reported
// together in an *ExtensionLoadError.
func (r *DirResolver) Resolve(ctx context.Context, req Request) (Installable, error) {
	var (
		pkgs []Package
		errs []error
	)

	for _, ext := range req.Packages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pkg, err := r.resolvePackage(req, ext)
		if err != nil {
			errs = append(errs, &Error{Extension: ext.Package, Op: "resolve", Err: err})
			continue
		}
		pkgs = append(pkgs, pkg)
	}

	for _, dir := range req.Local {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pkg, err := resolveLocal(dir)
		if err != nil {
			errs = append(errs, &Error{Extension: dir, Op: "resolve", Err: err})
			continue
		}
		pkgs = append(pkgs, pkg)
	}

	if err := asLoadError(errs...); err != nil {
		return nil, err
	}
	return &dirSet{packages: pkgs}, nil
}

func (r *DirResolver) resolvePackage(req Request, ext config.PackageExtension) (Package, error) {
	if len(req.Sources) == 0 {
		return Package{}, fmt.Errorf("%w: no extension sources configured", ErrExtensionNotFound)
	}

	allowPre := req.AllowPrerelease || ext.Prerelease
	var sawPackage bool
	for _, src := range req.Sources {
		pkgDir := filepath.Join(src, ext.Package)
		info, err := os.Stat(pkgDir)
		if err != nil || !info.IsDir() {
			continue
		}
		sawPackage = true

		// A package may be unversioned: the manifest sits directly in it.
		if _, err := os.Stat(filepath.Join(pkgDir, ManifestFile)); err == nil {
			m, err := LoadManifest(pkgDir)
			if err != nil {
				return Package{}, err
			}
			if matchesConstraint(canonicalVersion(m.Version), ext.Version, allowPre) {
				return newPackage(m, pkgDir, false), nil
			}
			continue
		}

		version, ok, err := selectVersion(pkgDir, ext.Version, allowPre)
		if err != nil {
			return Package{}, err
		}
		if !ok {
			continue
		}
		dir := filepath.Join(pkgDir, version)
		m, err := LoadManifest(dir)
		if err != nil {
			return Package{}, err
		}
		if m.Version == "" {
			m.Version = version
		}
		return newPackage(m, dir, false), nil
	}

	if !sawPackage {
		return Package{}, fmt.Errorf("%w: %s in %s", ErrExtensionNotFound, ext.Package, strings.Join(req.Sources, ", "))
	}
	want := ext.Version
	if want == "" {
		want = "any"
	}
	return Package{}, fmt.Errorf("%w: %s@%s", ErrNoMatchingVersion, ext.Package, want)
}

func resolveLocal(dir string) (Package, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return Package{}, fmt.Errorf("%w: %v", ErrExtensionNotFound, err)
	}
	if !info.IsDir() {
		return Package{}, fmt.Errorf("%w: %s is not a directory", ErrExtensionNotFound, dir)
	}
	m, err := LoadManifest(dir)
	if err != nil {
		return Package{}, err
	}
	return newPackage(m, dir, true), nil
}

func newPackage(m *Manifest, dir string, local bool) Package {
	return Package{
		Name:     m.Name,
		Version:  m.Version,
		Dir:      dir,
		Local:    local,
		Manifest: m,
	}
}

// selectVersion picks the highest version directory under pkgDir that
// satisfies constraint.
func selectVersion(pkgDir, constraint string, allowPre bool) (string, bool, error) {
	entries, err := os.ReadDir(pkgDir)
	if err != nil {
		return "", false, err
	}

	var candidates []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v := canonicalVersion(e.Name())
		if !semver.IsValid(v) {
			continue
		}
		if matchesConstraint(v, constraint, allowPre) {
			candidates = append(candidates, e.Name())
		}
	}
	if len(candidates) == 0 {
		return "", false, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return semver.Compare(canonicalVersion(candidates[i]), canonicalVersion(candidates[j])) > 0
	})
	return candidates[0], true, nil
}

// matchesConstraint reports whether v satisfies constraint. An empty
// constraint accepts anything, "v1" and "v1.2" match on major and minor,
// and a full version must match exactly.
func matchesConstraint(v, constraint string, allowPre bool) bool {
	if v == "" {
		return constraint == ""
	}
	constraint = canonicalVersion(constraint)
	if semver.Prerelease(v) != "" && !allowPre && semver.Prerelease(constraint) == "" {
		return false
	}
	if constraint == "" {
		return true
	}

	switch strings.Count(constraint, ".") {
	case 0:
		return semver.Major(v) == constraint
	case 1:
		return semver.MajorMinor(v) == constraint
	default:
		return semver.Compare(v, constraint) == 0
	}
}

// dirSet is a resolved set of on-disk packages.
type dirSet struct {
	packages []Package
}

func (s *dirSet) Packages() []Package {
	return append([]Package(nil), s.packages...)
}

// Install checks every package has its entry point. Packages on disk need
// no copying.
func (s *dirSet) Install(ctx context.Context) (Installed, error) {
	var errs []error
	for _, pkg := range s.packages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		main := filepath.Join(pkg.Dir, pkg.Manifest.Main)
		if _, err := os.Stat(main); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				err = fmt.Errorf("%w: %s", ErrNoEntryPoint, main)
			}
			errs = append(errs, &Error{Extension: pkg.Name, Op: "install", Err: err})
		}
	}
	if err := asLoadError(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *dirSet) LoadEntryPoints(ctx context.Context, opts LoadOptions) (Handle, error) {
	return loadLuaEntryPoints(ctx, s.packages, opts)
}
