// Package config loads the project configuration file, autostep.toml.
//
// A project without the file gets the defaults: tests matched by **/*.as,
// interactions by **/*.asi, no extensions. Any change to the file triggers a
// full project reload, so Config values are immutable once loaded.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"

	"github.com/autostep/autostep-lsp/internal/project/vfs"
)

// FileName is the name of the project configuration file.
const FileName = "autostep.toml"

// Default file globs.
var (
	DefaultTests        = []string{"**/*.as"}
	DefaultInteractions = []string{"**/*.asi"}
)

// Environment variables applied on top of the file by ApplyEnv.
const (
	EnvExtensionSources     = "AUTOSTEP_EXTENSION_SOURCES"
	EnvDebugExtensionBuilds = "AUTOSTEP_DEBUG_EXTENSION_BUILDS"
)

// Config is the project configuration.
type Config struct {
	Tests                []string           `toml:"tests"`
	Interactions         []string           `toml:"interactions"`
	Extensions           []PackageExtension `toml:"extensions"`
	LocalExtensions      []LocalExtension   `toml:"localExtensions"`
	ExtensionSources     []string           `toml:"extensionSources"`
	DebugExtensionBuilds bool               `toml:"debugExtensionBuilds"`

	// Path is the file the configuration came from, empty for defaults.
	Path string `toml:"-"`
}

// PackageExtension references an extension published to a source.
type PackageExtension struct {
	Package    string `toml:"package"`
	Version    string `toml:"version"`
	Prerelease bool   `toml:"prerelease"`
}

// LocalExtension references an extension folder inside the project.
type LocalExtension struct {
	Folder string `toml:"folder"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Tests:        append([]string(nil), DefaultTests...),
		Interactions: append([]string(nil), DefaultInteractions...),
	}
}

// Load reads root/autostep.toml through v. A missing file yields Default.
func Load(v vfs.VFS, root string) (*Config, error) {
	path := v.Join(root, FileName)

	data, err := v.ReadFile(path)
	if err != nil {
		if vfs.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes configuration data and validates it. Keys the file omits
// keep their defaults.
func Parse(path string, data []byte) (*Config, error) {
	cfg := Default()
	cfg.Path = path

	dec := toml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(cfg); err != nil {
		cerr := &ConfigurationError{Path: path, Message: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			cerr.Line, cerr.Column = derr.Position()
		}
		return nil, cerr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first extension entry missing its package or folder
// key, or an empty glob.
func (c *Config) Validate() error {
	for i, ext := range c.Extensions {
		if ext.Package == "" {
			return &ConfigurationError{
				Path:    c.Path,
				Key:     fmt.Sprintf("extensions[%d].package", i),
				Message: "extension is missing its package name",
			}
		}
	}
	for i, local := range c.LocalExtensions {
		if local.Folder == "" {
			return &ConfigurationError{
				Path:    c.Path,
				Key:     fmt.Sprintf("localExtensions[%d].folder", i),
				Message: "local extension is missing its folder",
			}
		}
	}
	for _, set := range []struct {
		key   string
		globs []string
	}{{"tests", c.Tests}, {"interactions", c.Interactions}} {
		for i, g := range set.globs {
			if g == "" {
				return &ConfigurationError{
					Path:    c.Path,
					Key:     fmt.Sprintf("%s[%d]", set.key, i),
					Message: "empty glob",
				}
			}
		}
	}
	return nil
}

// AllowPrerelease reports whether any extension opts into prerelease
// versions.
func (c *Config) AllowPrerelease() bool {
	for _, ext := range c.Extensions {
		if ext.Prerelease {
			return true
		}
	}
	return false
}

// SourceDirs returns the extension sources resolved against root.
func (c *Config) SourceDirs(root string) []string {
	return resolveAll(root, c.ExtensionSources)
}

// LocalDirs returns the local extension folders resolved against root.
func (c *Config) LocalDirs(root string) []string {
	folders := make([]string, 0, len(c.LocalExtensions))
	for _, l := range c.LocalExtensions {
		folders = append(folders, l.Folder)
	}
	return resolveAll(root, folders)
}

func resolveAll(root string, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = filepath.FromSlash(p)
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		out = append(out, filepath.Clean(p))
	}
	return out
}

// ApplyEnv overrides settings from environment variables looked up through
// lookup, normally os.LookupEnv. Extension sources from the environment are
// appended to the configured ones.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvExtensionSources); ok && v != "" {
		c.ExtensionSources = append(c.ExtensionSources, filepath.SplitList(v)...)
	}
	if v, ok := lookup(EnvDebugExtensionBuilds); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &ConfigurationError{
				Path:    c.Path,
				Key:     EnvDebugExtensionBuilds,
				Message: fmt.Sprintf("not a boolean: %q", v),
				Err:     err,
			}
		}
		c.DebugExtensionBuilds = b
	}
	return nil
}
