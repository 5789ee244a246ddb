package extension

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autostep/autostep-lsp/internal/config"
	"github.com/autostep/autostep-lsp/internal/engine"
)

const webInit = `
local M = {}

function M.attach(project)
  project.component("button", "clickable")
  project.component("link", "clickable")
  project.step("given", "I have opened {url}", { description = "Opens a page" })
  project.step("when", "I click the $component$", { components = { "button" } })
  project.method("click", { "selector" }, { scope = "clickable", description = "Clicks it" })
end

return M
`

func writeExtension(t *testing.T, dir, manifest, init string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0644))
	if init != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "init.lua"), []byte(init), 0644))
	}
}

func manifestFor(name, version string) string {
	return "name: " + name + "\nversion: " + version + "\n"
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeExtension(t, dir, "name: web\nversion: 1.2.0\ntests:\n  - \"specs/*.as\"\n", "")

	m, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "web", m.Name)
	assert.Equal(t, "init.lua", m.Main)
	assert.Equal(t, []string{"specs/*.as"}, m.Tests)

	cases := map[string]string{
		"bad name":    "name: Web\n",
		"bad version": "name: web\nversion: one\n",
		"bad main":    "name: web\nmain: init.py\n",
		"escape":      "name: web\nmain: ../other.lua\n",
		"not yaml":    "name: [web\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeExtension(t, dir, data, "")
			_, err := LoadManifest(dir)
			assert.ErrorIs(t, err, ErrInvalidManifest)
		})
	}
}

func TestMatchesConstraint(t *testing.T) {
	cases := []struct {
		v, constraint string
		pre           bool
		want          bool
	}{
		{"v1.2.3", "", false, true},
		{"v1.2.3", "v1", false, true},
		{"v1.2.3", "1.2", false, true},
		{"v1.2.3", "v1.3", false, false},
		{"v1.2.3", "1.2.3", false, true},
		{"v1.2.3", "v1.2.4", false, false},
		{"v2.0.0-beta.1", "", false, false},
		{"v2.0.0-beta.1", "", true, true},
		{"v2.0.0-beta.1", "v2.0.0-beta.1", false, true},
		{"", "", false, true},
		{"", "v1", false, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, matchesConstraint(tc.v, tc.constraint, tc.pre), "%s ~ %s pre=%v", tc.v, tc.constraint, tc.pre)
	}
}

func TestDirResolver_SelectsHighestMatchingVersion(t *testing.T) {
	src := t.TempDir()
	for _, v := range []string{"v1.0.0", "v1.4.0", "v2.0.0-rc.1", "1.10.0"} {
		writeExtension(t, filepath.Join(src, "web", v), "name: web\n", webInit)
	}

	r := NewDirResolver()
	resolve := func(ext config.PackageExtension, allowPre bool) Package {
		t.Helper()
		inst, err := r.Resolve(context.Background(), Request{
			Sources:         []string{filepath.Join(src, "missing"), src},
			Packages:        []config.PackageExtension{ext},
			AllowPrerelease: allowPre,
		})
		require.NoError(t, err)
		require.Len(t, inst.Packages(), 1)
		return inst.Packages()[0]
	}

	assert.Equal(t, "1.10.0", resolve(config.PackageExtension{Package: "web"}, false).Version)
	assert.Equal(t, "v1.4.0", resolve(config.PackageExtension{Package: "web", Version: "v1.4"}, false).Version)
	assert.Equal(t, "v2.0.0-rc.1", resolve(config.PackageExtension{Package: "web"}, true).Version)
	assert.Equal(t, "v2.0.0-rc.1", resolve(config.PackageExtension{Package: "web", Prerelease: true}, false).Version)
}

func TestDirResolver_AggregatesFailures(t *testing.T) {
	src := t.TempDir()
	writeExtension(t, filepath.Join(src, "web", "v1.0.0"), "name: web\n", webInit)

	_, err := NewDirResolver().Resolve(context.Background(), Request{
		Sources: []string{src},
		Packages: []config.PackageExtension{
			{Package: "web", Version: "v3"},
			{Package: "mobile"},
		},
		Local: []string{filepath.Join(src, "nope")},
	})
	require.Error(t, err)

	var lerr *ExtensionLoadError
	require.True(t, errors.As(err, &lerr))
	assert.Len(t, lerr.Errs, 3)
	assert.ErrorIs(t, err, ErrNoMatchingVersion)
	assert.ErrorIs(t, err, ErrExtensionNotFound)
}

func TestComposer_LoadAttachesToModel(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "sources")
	writeExtension(t, filepath.Join(src, "web", "v1.0.0"), manifestFor("web", "1.0.0")+"interactions:\n  - \"*.asi\"\n", webInit)
	writeExtension(t, filepath.Join(root, "local"), manifestFor("local", "0.1.0"),
		`function attach(project) project.step("then", "it works") end`)

	cfg := config.Default()
	cfg.ExtensionSources = []string{"sources"}
	cfg.Extensions = []config.PackageExtension{{Package: "web"}}
	cfg.LocalExtensions = []config.LocalExtension{{Folder: "local"}}

	p := engine.NewProject()
	loaded, err := NewComposer().Load(context.Background(), cfg, root, p)
	require.NoError(t, err)
	defer loaded.Close()

	_, err = p.Link(context.Background())
	require.NoError(t, err)

	decls := map[string]*engine.StepDefinition{}
	for _, d := range p.StepDefinitions(0) {
		decls[d.Declaration] = d
	}
	require.Contains(t, decls, "I have opened {url}")
	assert.Equal(t, "Opens a page", decls["I have opened {url}"].Description)
	assert.Equal(t, "extension:web", decls["I have opened {url}"].Source)
	assert.Equal(t, []string{"button"}, decls["I click the $component$"].PlaceholderValues[engine.ComponentPlaceholder])
	assert.Contains(t, decls, "it works")

	method, ok := p.FindMethod("click(x)", "button")
	require.True(t, ok)
	assert.Equal(t, []string{"selector"}, method.Params)

	assert.ElementsMatch(t, []string{filepath.Join(src, "web", "v1.0.0"), filepath.Join(root, "local")}, loaded.Dirs())
	sets := loaded.FileSets()
	require.Len(t, sets, 1)
	assert.Equal(t, engine.FileKindInteraction, sets[0].Kind())
	assert.Equal(t, filepath.Join(src, "web", "v1.0.0"), sets[0].Root())
}

func TestComposer_NoExtensions(t *testing.T) {
	loaded, err := NewComposer().Load(context.Background(), config.Default(), t.TempDir(), engine.NewProject())
	require.NoError(t, err)
	assert.Empty(t, loaded.Packages())
	assert.NoError(t, loaded.Close())
}

func TestComposer_MissingKeys(t *testing.T) {
	cfg := config.Default()
	cfg.LocalExtensions = []config.LocalExtension{{}}

	_, err := NewComposer().Load(context.Background(), cfg, t.TempDir(), engine.NewProject())
	assert.ErrorIs(t, err, config.ErrInvalidConfiguration)
}

func TestComposer_FailureCarriesEveryError(t *testing.T) {
	root := t.TempDir()
	writeExtension(t, filepath.Join(root, "good"), manifestFor("good", "1.0.0"), webInit)
	writeExtension(t, filepath.Join(root, "syntax"), manifestFor("syntax", "1.0.0"), "function attach(")
	writeExtension(t, filepath.Join(root, "noattach"), manifestFor("noattach", "1.0.0"), "return {}")

	cfg := config.Default()
	cfg.LocalExtensions = []config.LocalExtension{{Folder: "good"}, {Folder: "syntax"}, {Folder: "noattach"}}

	_, err := NewComposer().Load(context.Background(), cfg, root, engine.NewProject())
	require.Error(t, err)

	var lerr *ExtensionLoadError
	require.True(t, errors.As(err, &lerr))
	assert.Len(t, lerr.Errs, 2)
	assert.ErrorIs(t, err, ErrNoAttach)
}

func TestComposer_AttachErrorDisposesHandle(t *testing.T) {
	root := t.TempDir()
	writeExtension(t, filepath.Join(root, "bad"), manifestFor("bad", "1.0.0"),
		`function attach(project) project.step("sometimes", "x") end`)
	writeExtension(t, filepath.Join(root, "missing-main"), "name: missing-main\nmain: app.lua\n", "")

	cfg := config.Default()
	cfg.LocalExtensions = []config.LocalExtension{{Folder: "bad"}}

	rec := &recordingResolver{inner: NewDirResolver()}
	_, err := NewComposer(WithResolver(rec)).Load(context.Background(), cfg, root, engine.NewProject())
	require.Error(t, err)

	var xerr *Error
	require.True(t, errors.As(err, &xerr))
	assert.Equal(t, "attach", xerr.Op)
	require.NotNil(t, rec.handle)
	for _, e := range rec.handle.EntryPoints() {
		assert.ErrorIs(t, e.Attach(context.Background(), engine.NewProject()), ErrClosed)
	}

	cfg.LocalExtensions = []config.LocalExtension{{Folder: "missing-main"}}
	_, err = NewComposer().Load(context.Background(), cfg, root, engine.NewProject())
	assert.ErrorIs(t, err, ErrNoEntryPoint)
}

func TestLuaSandbox(t *testing.T) {
	root := t.TempDir()
	writeExtension(t, filepath.Join(root, "sneaky"), manifestFor("sneaky", "1.0.0"),
		`function attach(project) os.exit(1) end`)

	cfg := config.Default()
	cfg.LocalExtensions = []config.LocalExtension{{Folder: "sneaky"}}

	_, err := NewComposer().Load(context.Background(), cfg, root, engine.NewProject())
	var xerr *Error
	require.True(t, errors.As(err, &xerr))
	assert.Equal(t, "attach", xerr.Op)
}

// recordingResolver keeps the handle the composer loaded.
type recordingResolver struct {
	inner  Resolver
	handle Handle
}

func (r *recordingResolver) Resolve(ctx context.Context, req Request) (Installable, error) {
	inst, err := r.inner.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	return &recordingInstallable{Installable: inst, r: r}, nil
}

type recordingInstallable struct {
	Installable
	r *recordingResolver
}

func (i *recordingInstallable) Install(ctx context.Context) (Installed, error) {
	inst, err := i.Installable.Install(ctx)
	if err != nil {
		return nil, err
	}
	return &recordingInstalled{Installed: inst, r: i.r}, nil
}

type recordingInstalled struct {
	Installed
	r *recordingResolver
}

func (i *recordingInstalled) LoadEntryPoints(ctx context.Context, opts LoadOptions) (Handle, error) {
	h, err := i.Installed.LoadEntryPoints(ctx, opts)
	i.r.handle = h
	return h, err
}
