package fileset

import (
	"path"
	"path/filepath"

	"github.com/autostep/autostep-lsp/internal/config"
	"github.com/autostep/autostep-lsp/internal/engine"
	"github.com/autostep/autostep-lsp/internal/project/vfs"
)

// ConfigFileName is the project configuration file. A change to a file with
// this name anywhere in the tree forces a full reload.
const ConfigFileName = config.FileName

// RouteKind says where an incoming path belongs.
type RouteKind int

const (
	RouteIgnored RouteKind = iota
	RouteTest
	RouteInteraction
	RouteConfig
)

// String returns the route name.
func (k RouteKind) String() string {
	switch k {
	case RouteTest:
		return "test"
	case RouteInteraction:
		return "interaction"
	case RouteConfig:
		return "config"
	default:
		return "ignored"
	}
}

// Route is the classification of one path.
type Route struct {
	Kind RouteKind
	Set  *FileSet
	Rel  string
}

// IsConfigFile reports whether absPath names the configuration file.
func IsConfigFile(absPath string) bool {
	return path.Base(filepath.ToSlash(absPath)) == ConfigFileName
}

// Classify routes absPath to the first set that matches it. Configuration
// files are never routed to a set.
func Classify(v vfs.VFS, absPath string, sets []*FileSet) Route {
	if IsConfigFile(absPath) {
		return Route{Kind: RouteConfig}
	}
	for _, s := range sets {
		rel, ok := s.RelPath(v, absPath)
		if !ok || !s.Matches(rel) {
			continue
		}
		return Route{Kind: routeKind(s), Set: s, Rel: rel}
	}
	return Route{Kind: RouteIgnored}
}

// Find returns the set that already holds absPath.
func Find(v vfs.VFS, absPath string, sets []*FileSet) (Route, bool) {
	for _, s := range sets {
		rel, ok := s.RelPath(v, absPath)
		if ok && s.Contains(rel) {
			return Route{Kind: routeKind(s), Set: s, Rel: rel}, true
		}
	}
	return Route{}, false
}

func routeKind(s *FileSet) RouteKind {
	if s.Kind() == engine.FileKindInteraction {
		return RouteInteraction
	}
	return RouteTest
}
