package config

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autostep/autostep-lsp/internal/project/vfs"
)

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(vfs.NewMemFS(), "/ws")
	require.NoError(t, err)

	assert.Equal(t, DefaultTests, cfg.Tests)
	assert.Equal(t, DefaultInteractions, cfg.Interactions)
	assert.Empty(t, cfg.Extensions)
	assert.False(t, cfg.DebugExtensionBuilds)
	assert.Empty(t, cfg.Path)
}

func TestLoad_FullFile(t *testing.T) {
	m := vfs.NewMemFS()
	m.AddFile("/ws/autostep.toml", `
tests = ["specs/**/*.as"]
extensionSources = ["vendor/ext", "/opt/autostep"]
debugExtensionBuilds = true

[[extensions]]
package = "web"
version = "v1.2.0"

[[extensions]]
package = "mobile"
prerelease = true

[[localExtensions]]
folder = "tools/local-ext"
`)

	cfg, err := Load(m, "/ws")
	require.NoError(t, err)

	assert.Equal(t, "/ws/autostep.toml", cfg.Path)
	assert.Equal(t, []string{"specs/**/*.as"}, cfg.Tests)
	assert.Equal(t, DefaultInteractions, cfg.Interactions)
	assert.True(t, cfg.DebugExtensionBuilds)
	assert.True(t, cfg.AllowPrerelease())
	assert.Equal(t, []PackageExtension{
		{Package: "web", Version: "v1.2.0"},
		{Package: "mobile", Prerelease: true},
	}, cfg.Extensions)

	assert.Equal(t, []string{
		filepath.Join("/ws", "vendor", "ext"),
		filepath.FromSlash("/opt/autostep"),
	}, cfg.SourceDirs("/ws"))
	assert.Equal(t, []string{filepath.Join("/ws", "tools", "local-ext")}, cfg.LocalDirs("/ws"))
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse("autostep.toml", []byte("tests = [\n  \"a\",\n  oops\n]"))
	require.Error(t, err)

	var cerr *ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
	assert.Equal(t, 3, cerr.Line)
	assert.Positive(t, cerr.Column)
}

func TestParse_MissingRequiredKeys(t *testing.T) {
	cases := map[string]struct {
		data string
		key  string
	}{
		"package": {
			data: "[[extensions]]\nversion = \"v1.0.0\"\n",
			key:  "extensions[0].package",
		},
		"folder": {
			data: "[[localExtensions]]\nfolder = \"\"\n",
			key:  "localExtensions[0].folder",
		},
		"empty glob": {
			data: "interactions = [\"ok/*.asi\", \"\"]\n",
			key:  "interactions[1]",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse("autostep.toml", []byte(tc.data))
			require.ErrorIs(t, err, ErrInvalidConfiguration)

			var cerr *ConfigurationError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tc.key, cerr.Key)
			assert.Contains(t, err.Error(), tc.key)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvExtensionSources:     "/a" + string(filepath.ListSeparator) + "/b",
		EnvDebugExtensionBuilds: "true",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	cfg.ExtensionSources = []string{"/configured"}
	require.NoError(t, cfg.ApplyEnv(lookup))

	assert.Equal(t, []string{"/configured", "/a", "/b"}, cfg.ExtensionSources)
	assert.True(t, cfg.DebugExtensionBuilds)

	env[EnvDebugExtensionBuilds] = "maybe"
	assert.ErrorIs(t, Default().ApplyEnv(lookup), ErrInvalidConfiguration)
}
