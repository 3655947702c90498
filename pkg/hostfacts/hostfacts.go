// pkg/hostfacts/hostfacts.go - gathers the host facts preflight checks run on.
//
// Everything here is read-only except DisablePasswordExpiry, which is the
// single account change made once validation passes.

package hostfacts

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"

	"github.com/windowsadmins/vmprovision/pkg/download"
	"github.com/windowsadmins/vmprovision/pkg/logging"
	"github.com/windowsadmins/vmprovision/pkg/scripts"
)

// Shell runs a PowerShell command and returns its output.
type Shell interface {
	Run(ctx context.Context, script string) (string, error)
}

// Collector implements preflight.Facts for the local machine.
type Collector struct {
	Shell        Shell
	SystemDrive  string
	ProbeTimeout time.Duration
}

// New returns a Collector for the system drive.
func New(shell Shell) *Collector {
	drive := os.Getenv("SystemDrive")
	if drive == "" {
		drive = defaultSystemDrive
	}
	return &Collector{Shell: shell, SystemDrive: drive, ProbeTimeout: 10 * time.Second}
}

// PowerShellVersion reports $PSVersionTable.PSVersion of the host shell.
func (c *Collector) PowerShellVersion(ctx context.Context) (string, error) {
	out, err := c.Shell.Run(ctx, "$PSVersionTable.PSVersion.ToString()")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ExecutionPolicy reports the effective PowerShell execution policy.
func (c *Collector) ExecutionPolicy(ctx context.Context) (string, error) {
	out, err := c.Shell.Run(ctx, "Get-ExecutionPolicy")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// OSVersion reports major.minor and the build number.
func (c *Collector) OSVersion(ctx context.Context) (string, string, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return "", "", fmt.Errorf("host info: %w", err)
	}
	ver, build := ParsePlatformVersion(info.PlatformVersion)
	if build == "" {
		_, build = ParsePlatformVersion(info.KernelVersion)
	}
	if ver == "" {
		return "", "", fmt.Errorf("unrecognised platform version %q", info.PlatformVersion)
	}
	return ver, build, nil
}

// ParsePlatformVersion splits strings like "10.0.22631 Build 22631.4317"
// into "10.0" and "22631".
func ParsePlatformVersion(s string) (ver, build string) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", ""
	}
	parts := strings.Split(fields[0], ".")
	if len(parts) >= 2 {
		ver = parts[0] + "." + parts[1]
	}
	if len(parts) >= 3 {
		build = parts[2]
	}
	for i, f := range fields {
		if strings.EqualFold(f, "build") && i+1 < len(fields) && build == "" {
			build = strings.SplitN(fields[i+1], ".", 2)[0]
		}
	}
	return ver, build
}

// Username returns the logged-on account name without its domain.
func (c *Collector) Username() (string, error) {
	if name := os.Getenv("USERNAME"); name != "" {
		return name, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	name := u.Username
	if i := strings.LastIndex(name, `\`); i >= 0 {
		name = name[i+1:]
	}
	return name, nil
}

// FreeDiskBytes reports free space on the system drive.
func (c *Collector) FreeDiskBytes() (uint64, error) {
	path := c.SystemDrive
	if strings.HasSuffix(path, ":") {
		path += `\`
	}
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, fmt.Errorf("disk usage for %s: %w", path, err)
	}
	return usage.Free, nil
}

// ProbeEndpoint checks raw TCP reachability and then that an HTTPS GET
// answers 200.
func (c *Collector) ProbeEndpoint(ctx context.Context, endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid endpoint %q", endpoint)
	}
	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.ProbeTimeout)
	defer cancel()

	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(u.Hostname(), port))
	if err != nil {
		return fmt.Errorf("tcp probe: %w", err)
	}
	conn.Close()

	status, err := download.Status(ctx, endpoint)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("GET %s returned %d", endpoint, status)
	}
	logging.Debug("Endpoint reachable", "url", endpoint)
	return nil
}

// DisablePasswordExpiry marks the local account's password as never
// expiring so auto-logon survives the reboots of a long install.
func (c *Collector) DisablePasswordExpiry(ctx context.Context, username string) error {
	_, err := c.Shell.Run(ctx, "Set-LocalUser -Name "+scripts.Quote(username)+" -PasswordNeverExpires $true")
	return err
}
