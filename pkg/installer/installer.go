// pkg/installer/installer.go - prepares the host and hands the install plan
// to the installation engine.
//
// Steps run in a fixed order and each is safe to repeat: a run that dies
// before the hand-off can simply be started again.

package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/windowsadmins/vmprovision/pkg/config"
	"github.com/windowsadmins/vmprovision/pkg/engine"
	"github.com/windowsadmins/vmprovision/pkg/logging"
	"github.com/windowsadmins/vmprovision/pkg/manifest"
)

// ErrInFlight means another installation is already running on this host.
var ErrInFlight = errors.New("another installation is already running")

// Engine is the installation engine as the driver uses it.
type Engine interface {
	EnsureRuntime(ctx context.Context, min string) error
	ManagerVersion(ctx context.Context) (*version.Version, error)
	UpgradeManager(ctx context.Context) error
	Configure(ctx context.Context, opts engine.ManagerOptions) error
	InstallShared(ctx context.Context, pkg string) error
	Install(ctx context.Context, pkg string, cred *engine.Credential, allowReboot bool) error
	LogLocations() []string
}

// HostConfigurationWriter is the complete set of host-wide changes a run
// makes. None of them are undone afterwards.
type HostConfigurationWriter interface {
	DisableAutoUpdates(ctx context.Context) error
	DisablePowerSaving(ctx context.Context) error
	SetMachineEnv(name, value string) error
}

// InstallPlan is built fresh for every run and never persisted.
type InstallPlan struct {
	PackageName   string
	Credential    *engine.Credential
	AllowReboot   bool
	AllowPassword bool
}

// Driver runs the installation sequence.
type Driver struct {
	Engine   Engine
	Host     HostConfigurationWriter
	Config   *config.Configuration
	Document *manifest.Document

	// InFlight lists engine processes already running; nil skips the check.
	InFlight func() []string
	// LookupEnv resolves process variables during expansion.
	LookupEnv func(string) (string, bool)
	// Out receives the completion message.
	Out io.Writer
}

// PrepareRuntime is step 1 on its own. The catalog needs the engine
// before customization, so the command runs it early; Run repeats it
// cheaply.
func (d *Driver) PrepareRuntime(ctx context.Context) error {
	if err := d.Engine.EnsureRuntime(ctx, d.Config.RuntimeMinVersion); err != nil {
		return fmt.Errorf("installation runtime unavailable: %w", err)
	}
	return nil
}

// Run executes every step and the final hand-off.
func (d *Driver) Run(ctx context.Context, plan InstallPlan) error {
	if d.InFlight != nil {
		if running := d.InFlight(); len(running) > 0 {
			return fmt.Errorf("%w: %s", ErrInFlight, strings.Join(running, ", "))
		}
	}
	if err := d.Document.Validate(); err != nil {
		return fmt.Errorf("configuration document is invalid: %w", err)
	}

	if err := d.PrepareRuntime(ctx); err != nil {
		return err
	}
	d.ensureManager(ctx)

	if err := d.Host.DisableAutoUpdates(ctx); err != nil {
		logging.Warn("Could not disable automatic updates", "error", err)
	}

	opts := engine.ManagerOptions{Sources: d.Config.Sources, CacheLocation: d.Config.CachePath}
	if err := d.Engine.Configure(ctx, opts); err != nil {
		return fmt.Errorf("configuring package manager: %w", err)
	}

	if err := d.Host.DisablePowerSaving(ctx); err != nil {
		return fmt.Errorf("disabling power saving: %w", err)
	}

	envs, err := d.exportEnvs()
	if err != nil {
		return err
	}

	if err := d.bootstrapSharedState(ctx, envs); err != nil {
		return err
	}

	cred := plan.Credential
	if !plan.AllowPassword {
		cred = nil
	}
	if err := d.Engine.Install(ctx, plan.PackageName, cred, plan.AllowReboot); err != nil {
		d.report("Installation ended with an error. Package results are in:")
		return err
	}

	d.report("Installation handed off. Package results are in:")
	return nil
}

// ensureManager upgrades the package manager when it is older than the
// configured minimum. Failures only warn.
func (d *Driver) ensureManager(ctx context.Context) {
	want, err := version.NewVersion(d.Config.ManagerMinVersion)
	if err != nil {
		logging.Warn("Invalid package manager minimum version", "value", d.Config.ManagerMinVersion, "error", err)
		return
	}
	have, err := d.Engine.ManagerVersion(ctx)
	if err == nil && !have.LessThan(want) {
		logging.Info("Package manager version OK", "version", have.String())
		return
	}
	logging.Info("Upgrading package manager", "minimum", want.String())
	if err := d.Engine.UpgradeManager(ctx); err != nil {
		logging.Warn("Package manager upgrade failed", "error", err)
	}
}

// exportEnvs expands the document's bindings and writes them, plus the
// profile marker, to the machine environment.
func (d *Driver) exportEnvs() (map[string]string, error) {
	lookup := d.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	envs, err := d.Document.ExpandEnvs(lookup)
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	names := make([]string, 0, len(envs))
	for k := range envs {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := d.Host.SetMachineEnv(name, envs[name]); err != nil {
			return nil, fmt.Errorf("exporting %s: %w", name, err)
		}
		logging.Debug("Exported environment variable", "name", name, "value", envs[name])
	}
	if d.Config.ProfileMarker != "" {
		if err := d.Host.SetMachineEnv(d.Config.ProfileMarker, d.Config.ProfileName); err != nil {
			return nil, fmt.Errorf("exporting %s: %w", d.Config.ProfileMarker, err)
		}
	}
	logging.Info("Exported environment", "variables", len(names))
	return envs, nil
}

// bootstrapSharedState installs the package that creates the shared
// directory and then places the final document there for every later
// package to read.
func (d *Driver) bootstrapSharedState(ctx context.Context, envs map[string]string) error {
	if d.Config.SharedStatePackage == "" {
		return nil
	}
	if err := d.Engine.InstallShared(ctx, d.Config.SharedStatePackage); err != nil {
		return fmt.Errorf("shared state bootstrap: %w", err)
	}
	dir := envs["COMMON_DIR"]
	if dir == "" {
		logging.Warn("COMMON_DIR is not set, shared configuration copy skipped")
		return nil
	}
	dest := filepath.Join(dir, "config.yaml")
	if err := manifest.Persist(d.Document, dest); err != nil {
		return fmt.Errorf("persisting shared configuration: %w", err)
	}
	logging.Info("Persisted shared configuration", "path", dest)
	return nil
}

func (d *Driver) report(headline string) {
	locs := d.Engine.LogLocations()
	logging.Info(headline, "logs", strings.Join(locs, ";"), "run_log", logging.GetCurrentLogDir())
	if d.Out == nil {
		return
	}
	fmt.Fprintln(d.Out, headline)
	for _, l := range locs {
		fmt.Fprintf(d.Out, "  %s\n", l)
	}
	if dir := logging.GetCurrentLogDir(); dir != "" {
		fmt.Fprintf(d.Out, "  %s\n", dir)
	}
}
