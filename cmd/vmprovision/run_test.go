package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windowsadmins/vmprovision/pkg/catalog"
	"github.com/windowsadmins/vmprovision/pkg/config"
	"github.com/windowsadmins/vmprovision/pkg/engine"
	"github.com/windowsadmins/vmprovision/pkg/logging"
	"github.com/windowsadmins/vmprovision/pkg/manifest"
	"github.com/windowsadmins/vmprovision/pkg/preflight"
	"github.com/windowsadmins/vmprovision/pkg/selection"
)

type fakeOperator struct {
	confirms []bool
	secret   string
	asked    []string
	pauses   int
}

func (o *fakeOperator) Confirm(q string) bool {
	o.asked = append(o.asked, q)
	if len(o.confirms) == 0 {
		return false
	}
	a := o.confirms[0]
	o.confirms = o.confirms[1:]
	return a
}

func (o *fakeOperator) Secret(label string) (string, error) {
	o.asked = append(o.asked, label)
	return o.secret, nil
}

func (o *fakeOperator) Pause(string) { o.pauses++ }

type fakeFacts struct {
	username string
	tamper   bool
	probed   int
}

func (f *fakeFacts) PowerShellVersion(context.Context) (string, error) { return "5.1.22621.1", nil }
func (f *fakeFacts) Elevated() (bool, error)                          { return true, nil }
func (f *fakeFacts) ExecutionPolicy(context.Context) (string, error)  { return "Bypass", nil }
func (f *fakeFacts) OSVersion(context.Context) (string, string, error) {
	return "10.0", "22631", nil
}
func (f *fakeFacts) HardwareIdentifiers(context.Context) ([]string, error) {
	return []string{"QEMU", "Standard PC (Q35 + ICH9, 2009)"}, nil
}
func (f *fakeFacts) Username() (string, error)      { return f.username, nil }
func (f *fakeFacts) FreeDiskBytes() (uint64, error) { return 200 << 30, nil }
func (f *fakeFacts) ProbeEndpoint(context.Context, string) error {
	f.probed++
	return nil
}
func (f *fakeFacts) TamperProtection(context.Context) (bool, error)   { return f.tamper, nil }
func (f *fakeFacts) RealTimeProtection(context.Context) (bool, error) { return false, nil }

func (f *fakeFacts) DisablePasswordExpiry(context.Context, string) error { return nil }

type fakeEngine struct {
	installed []string
	index     map[string][]catalog.Item
	queries   int
	installs  []string
	cred      *engine.Credential
}

func (e *fakeEngine) EnsureRuntime(context.Context, string) error { return nil }
func (e *fakeEngine) ManagerVersion(context.Context) (*version.Version, error) {
	return version.NewVersion("2.3.0")
}
func (e *fakeEngine) UpgradeManager(context.Context) error                         { return nil }
func (e *fakeEngine) Configure(context.Context, engine.ManagerOptions) error        { return nil }
func (e *fakeEngine) InstallShared(_ context.Context, pkg string) error            { return nil }
func (e *fakeEngine) LogLocations() []string                                       { return nil }
func (e *fakeEngine) QueryInstalled(context.Context) ([]string, error)             { return e.installed, nil }
func (e *fakeEngine) Install(_ context.Context, pkg string, cred *engine.Credential, _ bool) error {
	e.installs = append(e.installs, pkg)
	e.cred = cred
	return nil
}
func (e *fakeEngine) QueryIndex(_ context.Context, source string) ([]catalog.Item, error) {
	e.queries++
	return e.index[source], nil
}

type fakeHost struct{ env map[string]string }

func (h *fakeHost) DisableAutoUpdates(context.Context) error { return nil }
func (h *fakeHost) DisablePowerSaving(context.Context) error { return nil }
func (h *fakeHost) SetMachineEnv(name, value string) error {
	h.env[name] = value
	return nil
}

type failingNegotiator struct{ t *testing.T }

func (n failingNegotiator) Negotiate(context.Context, []catalog.Item, []catalog.Item, map[string]string) (selection.Outcome, error) {
	n.t.Fatal("customization must not run")
	return selection.Outcome{}, nil
}

type scriptedNegotiator struct {
	add    []string
	remove []string
	cancel bool
	seen   []string
}

func (n *scriptedNegotiator) Negotiate(_ context.Context, defaults, available []catalog.Item, envs map[string]string) (selection.Outcome, error) {
	if n.cancel {
		return selection.Outcome{}, selection.ErrCancelled
	}
	s := selection.NewSession(catalog.Resolution{ToInstall: defaults, Available: available}, envs)
	n.seen = catalog.Names(s.Available())
	s.AddSelected(n.add...)
	s.RemoveSelected(n.remove...)
	return s.Result(), nil
}

const sourceDoc = `packages:
  - name: ghidra.vm
  - name: 7zip.vm
  - name: pestudio.vm
envs:
  - name: COMMON_DIR
    value: '%VMPROVISION_TEST_DIR%/_VM'
  - name: RAW_TOOLS_DIR
    value: '%SystemDrive%\Tools'
`

func newTestApp(t *testing.T, opts options) (*app, *fakeOperator, *fakeEngine, *fakeFacts) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("VMPROVISION_TEST_DIR", dir)

	src := filepath.Join(dir, "source.yaml")
	require.NoError(t, os.WriteFile(src, []byte(sourceDoc), 0644))
	if opts.configSource == "" {
		opts.configSource = src
	}

	cfg := config.GetDefaultConfig()
	cfg.WorkDir = filepath.Join(dir, "work")
	cfg.IndexCachePath = filepath.Join(cfg.WorkDir, "index.yaml")
	cfg.CachePath = filepath.Join(cfg.WorkDir, "cache")
	cfg.LogDir = filepath.Join(cfg.WorkDir, "logs")
	cfg.LayoutSourceURL = ""
	cfg.Sources = []config.PackageSource{{Name: "vm", URL: "vm-feed"}, {Name: "community", URL: "community-feed"}}

	console := logging.New(false)
	console.SetOutput(io.Discard)

	op := &fakeOperator{}
	facts := &fakeFacts{username: "analyst"}
	eng := &fakeEngine{
		installed: []string{"7zip.vm", "chocolatey"},
		index: map[string][]catalog.Item{
			"vm-feed":        {{Name: "ghidra.vm"}, {Name: "x64dbg.vm"}, {Name: "installer.vm"}, {Name: "common.vm"}},
			"community-feed": {{Name: "x64dbg.vm", Version: "old"}, {Name: "vscode"}},
		},
	}

	return &app{
		cfg:       cfg,
		opts:      opts,
		console:   console,
		operator:  op,
		facts:     facts,
		account:   facts,
		overrides: preflight.OverrideFile{Path: cfg.OverridesPath()},
		store:     manifest.NewStore(cfg.WorkConfigPath()),
		engine:    eng,
		host:      &fakeHost{env: map[string]string{}},
		out:       io.Discard,
	}, op, eng, facts
}

func TestNonInteractiveUncheckedRunKeepsLoadedPackages(t *testing.T) {
	a, op, eng, _ := newTestApp(t, options{noGUI: true, noChecks: true})
	a.negotiator = failingNegotiator{t}

	loaded, err := manifest.Parse([]byte(sourceDoc))
	require.NoError(t, err)

	require.NoError(t, a.run(context.Background()))

	persisted, err := manifest.ReadFile(a.cfg.WorkConfigPath())
	require.NoError(t, err)
	assert.Equal(t, loaded.PackageNames(), persisted.PackageNames())
	assert.Equal(t, loaded.EnvMap(), persisted.EnvMap())

	assert.Empty(t, op.asked, "no prompts expected")
	assert.Zero(t, op.pauses)
	assert.Zero(t, eng.queries)
	assert.Equal(t, []string{"installer.vm"}, eng.installs)
	assert.Nil(t, eng.cred)

	shared, err := manifest.ReadFile(filepath.Join(os.Getenv("VMPROVISION_TEST_DIR"), "_VM", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, loaded.PackageNames(), shared.PackageNames())
}

func TestMissingConfigurationDeclinedRetry(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	a, op, eng, _ := newTestApp(t, options{noGUI: true, noChecks: true, noPassword: true})
	a.opts.configSource = ""
	a.cfg.ConfigSourceURL = srv.URL + "/config.yaml"

	err := a.run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, manifest.ErrConfigUnavailable))
	assert.Len(t, op.asked, 1)
	assert.NoFileExists(t, a.cfg.WorkConfigPath())
	assert.Empty(t, eng.installs)
}

func TestInteractiveRunPersistsCustomization(t *testing.T) {
	a, op, eng, facts := newTestApp(t, options{})
	op.confirms = []bool{true} // snapshot
	op.secret = "pw"
	neg := &scriptedNegotiator{add: []string{"x64dbg.vm"}, remove: []string{"pestudio.vm"}}
	a.negotiator = neg

	require.NoError(t, a.run(context.Background()))

	assert.Equal(t, 3, facts.probed)
	assert.Equal(t, 1, op.pauses)
	assert.Equal(t, []string{"vscode", "x64dbg.vm"}, neg.seen)

	persisted, err := manifest.ReadFile(a.cfg.WorkConfigPath())
	require.NoError(t, err)
	assert.Equal(t, []string{"ghidra.vm", "x64dbg.vm"}, persisted.PackageNames())

	require.NotNil(t, eng.cred)
	assert.Equal(t, "analyst", eng.cred.Username)
	assert.Equal(t, "pw", eng.cred.Secret)
	assert.FileExists(t, a.cfg.IndexCachePath)

	// The cached index is reused on the next run.
	a.store = manifest.NewStore(a.cfg.WorkConfigPath())
	op.confirms = []bool{true}
	require.NoError(t, a.run(context.Background()))
	assert.Equal(t, 2, eng.queries)
}

func TestCancelledCustomizationPersistsNothing(t *testing.T) {
	a, op, eng, _ := newTestApp(t, options{noChecks: true, password: "pw"})
	a.negotiator = &scriptedNegotiator{cancel: true}

	err := a.run(context.Background())
	require.ErrorIs(t, err, selection.ErrCancelled)
	assert.Empty(t, op.asked)
	assert.Empty(t, eng.installs)

	data, err := os.ReadFile(a.cfg.WorkConfigPath())
	require.NoError(t, err)
	assert.Equal(t, sourceDoc, string(data))
}

func TestWhitespaceUsernameAbortsBeforeNetwork(t *testing.T) {
	a, op, eng, facts := newTestApp(t, options{})
	facts.username = "lab user"
	a.negotiator = failingNegotiator{t}

	err := a.run(context.Background())
	var abort *preflight.AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, preflight.CheckUsername, abort.Result.Name)
	assert.Zero(t, facts.probed)
	assert.Empty(t, op.asked)
	assert.NoFileExists(t, a.cfg.WorkConfigPath())
	assert.Empty(t, eng.installs)
}

func TestAcceptedTamperProtectionIsRecorded(t *testing.T) {
	a, op, _, facts := newTestApp(t, options{noGUI: true, noWait: true, password: "pw"})
	facts.tamper = true
	a.negotiator = failingNegotiator{t}

	op.confirms = []bool{true, true} // tamper protection, snapshot
	require.NoError(t, a.run(context.Background()))
	first, err := os.ReadFile(a.cfg.OverridesPath())
	require.NoError(t, err)

	op.confirms = []bool{true, true}
	require.NoError(t, a.run(context.Background()))
	second, err := os.ReadFile(a.cfg.OverridesPath())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	overrides, err := preflight.OverrideFile{Path: a.cfg.OverridesPath()}.Load()
	require.NoError(t, err)
	assert.Equal(t, []preflight.Override{{Check: preflight.CheckTamperProtection, User: "analyst"}}, overrides)
}

func TestPassingChecksRecordNoOverride(t *testing.T) {
	a, op, _, _ := newTestApp(t, options{noGUI: true, noWait: true, password: "pw"})
	a.negotiator = failingNegotiator{t}
	op.confirms = []bool{true} // snapshot

	require.NoError(t, a.run(context.Background()))
	assert.NoFileExists(t, a.cfg.OverridesPath())
}

type fakeTerminal bool

func (f fakeTerminal) Interactive() bool { return bool(f) }

func TestChooseNegotiator(t *testing.T) {
	assert.Nil(t, chooseNegotiator(true, fakeTerminal(true)))
	assert.IsType(t, selection.Defaults{}, chooseNegotiator(false, fakeTerminal(false)))
	n := chooseNegotiator(false, fakeTerminal(true))
	require.NotNil(t, n)
	assert.NotEqual(t, selection.Defaults{}, n)
}

func TestWriteSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings", "Config.yaml")
	cfg := config.GetDefaultConfig()
	cfg.MinFreeDiskGB = 80
	cfg.ExcludedPackages = append(cfg.ExcludedPackages, "flarevm.installer.vm")

	require.NoError(t, writeSettings(cfg, path))
	loaded, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 80, loaded.MinFreeDiskGB)
	assert.Contains(t, loaded.ExcludedPackages, "flarevm.installer.vm")
}

func TestParseFlags(t *testing.T) {
	o, err := parseFlags([]string{"--no-gui", "--no-checks", "--config", `C:\cfg.yaml`, "-vv", "--no-reboots"})
	require.NoError(t, err)
	assert.True(t, o.noGUI)
	assert.True(t, o.noChecks)
	assert.True(t, o.noReboots)
	assert.Equal(t, `C:\cfg.yaml`, o.configSource)
	assert.Equal(t, 2, o.verbosity)
	assert.Equal(t, config.ConfigPath, o.settings)

	o, err = parseFlags([]string{"--write-settings", "--settings", `D:\vmprovision.yaml`})
	require.NoError(t, err)
	assert.True(t, o.writeConfig)
	assert.Equal(t, `D:\vmprovision.yaml`, o.settings)

	_, err = parseFlags([]string{"--password", "x", "--no-password"})
	assert.Error(t, err)
	_, err = parseFlags([]string{"--bogus"})
	assert.Error(t, err)
}
