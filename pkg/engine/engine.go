// pkg/engine/engine.go - the Chocolatey package manager and the Boxstarter
// runtime that carries an install across reboots.
//
// Everything here shells out; the engine's own retry and resume logic
// stays inside Boxstarter.

package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/windowsadmins/vmprovision/pkg/catalog"
	"github.com/windowsadmins/vmprovision/pkg/config"
	"github.com/windowsadmins/vmprovision/pkg/logging"
	"github.com/windowsadmins/vmprovision/pkg/retry"
	"github.com/windowsadmins/vmprovision/pkg/scripts"
)

// Environment variables used to hand the credential to the child process
// so the secret never appears on a command line.
const (
	envUser   = "VMPROVISION_USER"
	envSecret = "VMPROVISION_SECRET"
)

const bootstrapperURL = "https://boxstarter.org/bootstrapper.ps1"

// Commander runs host commands. *scripts.Runner satisfies it.
type Commander interface {
	Run(ctx context.Context, script string) (string, error)
	Exec(ctx context.Context, name string, args ...string) (string, error)
	Stream(ctx context.Context, env map[string]string, script string, w io.Writer) error
}

// Credential is the account Boxstarter uses for auto-logon after reboots.
type Credential struct {
	Username string
	Secret   string
}

// ManagerOptions are the global package manager settings applied per run.
type ManagerOptions struct {
	Sources       []config.PackageSource
	CacheLocation string
}

// Chocolatey drives choco.exe and Boxstarter.
type Chocolatey struct {
	Cmd   Commander
	Choco string
	// Out receives the streamed output of the final install.
	Out io.Writer
}

// New returns an engine using cmd.
func New(cmd Commander, out io.Writer) *Chocolatey {
	return &Chocolatey{Cmd: cmd, Choco: "choco", Out: out}
}

func (c *Chocolatey) choco(ctx context.Context, args ...string) (string, error) {
	return c.Cmd.Exec(ctx, c.Choco, args...)
}

// RuntimeVersion returns the newest installed Boxstarter module version,
// or nil when Boxstarter is absent.
func (c *Chocolatey) RuntimeVersion(ctx context.Context) (*version.Version, error) {
	out, err := c.Cmd.Run(ctx,
		`$m = Get-Module -ListAvailable -Name Boxstarter.Chocolatey | Sort-Object Version -Descending | Select-Object -First 1; if ($m) { $m.Version.ToString() }`)
	if err != nil {
		return nil, err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}
	return version.NewVersion(lastLine(out))
}

// EnsureRuntime makes sure Boxstarter is installed at min or newer. An
// absent or stale runtime is installed, with one more attempt if the
// first does not take.
func (c *Chocolatey) EnsureRuntime(ctx context.Context, min string) error {
	want, err := version.NewVersion(min)
	if err != nil {
		return fmt.Errorf("invalid runtime minimum version %q: %w", min, err)
	}

	satisfied := func() (bool, *version.Version) {
		have, err := c.RuntimeVersion(ctx)
		if err != nil {
			logging.Debug("Boxstarter version query failed", "error", err)
			return false, nil
		}
		return have != nil && !have.LessThan(want), have
	}

	if ok, have := satisfied(); ok {
		logging.Info("Boxstarter present", "version", have.String())
		return nil
	}

	err = retry.Retry(retry.RetryConfig{MaxRetries: 2}, func() error {
		if ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		logging.Info("Installing Boxstarter", "minimum", min)
		script := fmt.Sprintf(`[Net.ServicePointManager]::SecurityProtocol = [Net.SecurityProtocolType]::Tls12; `+
			`Invoke-Expression ((New-Object System.Net.WebClient).DownloadString(%s)); Get-Boxstarter -Force`, scripts.Quote(bootstrapperURL))
		if _, err := c.Cmd.Run(ctx, script); err != nil {
			return err
		}
		if ok, have := satisfied(); !ok {
			return fmt.Errorf("boxstarter %v still below %s after install", have, want)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ensuring Boxstarter runtime: %w", err)
	}
	return nil
}

// ManagerVersion returns the choco.exe version.
func (c *Chocolatey) ManagerVersion(ctx context.Context) (*version.Version, error) {
	out, err := c.choco(ctx, "--version")
	if err != nil {
		return nil, err
	}
	return version.NewVersion(lastLine(out))
}

// UpgradeManager upgrades Chocolatey itself.
func (c *Chocolatey) UpgradeManager(ctx context.Context) error {
	_, err := c.choco(ctx, "upgrade", "chocolatey", "-y", "--no-progress")
	return err
}

// QueryInstalled lists the names of installed packages.
func (c *Chocolatey) QueryInstalled(ctx context.Context) ([]string, error) {
	out, err := c.choco(ctx, "list", "--limit-output")
	if err != nil {
		return nil, fmt.Errorf("listing installed packages: %w", err)
	}
	return catalog.Names(ParseLimitOutput(out)), nil
}

// QueryIndex lists every package offered by source.
func (c *Chocolatey) QueryIndex(ctx context.Context, source string) ([]catalog.Item, error) {
	out, err := c.choco(ctx, "search", "--source", source, "--limit-output")
	if err != nil {
		return nil, fmt.Errorf("querying package index %s: %w", source, err)
	}
	items := ParseLimitOutput(out)
	catalog.SortItems(items)
	return items, nil
}

// Configure applies the global package manager options. Sources are
// removed and re-added so reruns overwrite rather than accumulate.
func (c *Chocolatey) Configure(ctx context.Context, opts ManagerOptions) error {
	for _, feature := range []string{"allowGlobalConfirmation", "allowEmptyChecksums"} {
		if _, err := c.choco(ctx, "feature", "enable", "--name", feature); err != nil {
			return fmt.Errorf("enabling %s: %w", feature, err)
		}
	}
	for _, src := range opts.Sources {
		// Removing an unknown source is not an error for choco; any
		// failure is logged and the add decides the outcome.
		if _, err := c.choco(ctx, "source", "remove", "--name", src.Name); err != nil {
			logging.Debug("Source remove failed", "source", src.Name, "error", err)
		}
		if _, err := c.choco(ctx, "source", "add", "--name", src.Name, "--source", src.URL,
			"--priority", fmt.Sprint(src.Priority)); err != nil {
			return fmt.Errorf("adding source %s: %w", src.Name, err)
		}
	}
	if opts.CacheLocation != "" {
		if err := os.MkdirAll(opts.CacheLocation, 0755); err != nil {
			return fmt.Errorf("creating cache location: %w", err)
		}
		if _, err := c.choco(ctx, "config", "set", "--name", "cacheLocation", "--value", opts.CacheLocation); err != nil {
			return fmt.Errorf("setting cache location: %w", err)
		}
	}
	return nil
}

// InstallShared installs a package directly with choco, outside Boxstarter.
func (c *Chocolatey) InstallShared(ctx context.Context, pkg string) error {
	if _, err := c.choco(ctx, "install", pkg, "-y", "--no-progress"); err != nil {
		return fmt.Errorf("installing %s: %w", pkg, err)
	}
	return nil
}

// Install hands pkg to Boxstarter and waits for it to return. Boxstarter
// may reboot the machine and resume on its own; this call only covers the
// part that runs in this process.
func (c *Chocolatey) Install(ctx context.Context, pkg string, cred *Credential, allowReboot bool) error {
	env := map[string]string{}
	var b strings.Builder
	b.WriteString("Import-Module Boxstarter.Chocolatey; ")
	if cred != nil {
		env[envUser] = cred.Username
		env[envSecret] = cred.Secret
		fmt.Fprintf(&b, "$cred = New-Object System.Management.Automation.PSCredential($env:%s, (ConvertTo-SecureString $env:%s -AsPlainText -Force)); ", envUser, envSecret)
		fmt.Fprintf(&b, "Remove-Item Env:%s; ", envSecret)
	}
	fmt.Fprintf(&b, "Install-BoxstarterPackage -PackageName %s", scripts.Quote(pkg))
	if cred != nil {
		b.WriteString(" -Credential $cred")
	}
	if !allowReboot {
		b.WriteString(" -DisableReboots")
	}

	logging.Info("Handing off to Boxstarter", "package", pkg, "reboots", allowReboot, "credential", cred != nil)
	if err := c.Cmd.Stream(ctx, env, b.String(), c.Out); err != nil {
		return fmt.Errorf("boxstarter install of %s: %w", pkg, err)
	}
	return nil
}

// LogLocations lists where Boxstarter and Chocolatey record package level
// results.
func (c *Chocolatey) LogLocations() []string {
	local := os.Getenv("LOCALAPPDATA")
	programData := os.Getenv("ProgramData")
	if programData == "" {
		programData = `C:\ProgramData`
	}
	var locs []string
	if local != "" {
		locs = append(locs, filepath.Join(local, "Boxstarter", "boxstarter.log"))
	}
	return append(locs, filepath.Join(programData, "chocolatey", "logs", "chocolatey.log"))
}

// ParseLimitOutput reads choco's name|version lines.
func ParseLimitOutput(out string) []catalog.Item {
	var items []catalog.Item
	for _, line := range scripts.CleanLines(out) {
		name, ver, ok := strings.Cut(line, "|")
		if !ok || name == "" || strings.ContainsAny(name, " \t") {
			continue
		}
		items = append(items, catalog.Item{Name: name, Version: ver})
	}
	return items
}

func lastLine(out string) string {
	lines := scripts.CleanLines(out)
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
