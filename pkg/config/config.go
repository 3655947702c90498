// pkg/config/config.go - settings for the vmprovision tool itself.
//
// These are the environment-specific knobs (sources, thresholds, denylists)
// that would otherwise be magic constants. The provisioning document
// describing what to install lives in pkg/manifest.

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default location of the settings file.
const ConfigPath = `C:\ProgramData\VMProvision\Config.yaml`

// RegistryPath holds optional policy overrides (HKLM).
const RegistryPath = `SOFTWARE\VMProvision\Config`

// PackageSource is one package manager feed.
type PackageSource struct {
	Name     string `yaml:"Name"`
	URL      string `yaml:"URL"`
	Priority int    `yaml:"Priority"`
}

// Configuration holds the configurable options for vmprovision in YAML format
type Configuration struct {
	ConfigSourceURL string `yaml:"ConfigSourceURL"`
	LayoutSourceURL string `yaml:"LayoutSourceURL"`
	WorkDir         string `yaml:"WorkDir"`
	IndexCachePath  string `yaml:"IndexCachePath"`
	CachePath       string `yaml:"CachePath"`
	LogDir          string `yaml:"LogDir"`
	LogLevel        string `yaml:"LogLevel"`

	Sources            []PackageSource `yaml:"Sources"`
	BootstrapPackage   string          `yaml:"BootstrapPackage"`
	SharedStatePackage string          `yaml:"SharedStatePackage"`
	ExcludedPackages   []string        `yaml:"ExcludedPackages"`

	RuntimeMinVersion    string `yaml:"RuntimeMinVersion"`    // Boxstarter
	ManagerMinVersion    string `yaml:"ManagerMinVersion"`    // Chocolatey
	PowerShellMinVersion string `yaml:"PowerShellMinVersion"` // Host PowerShell

	OSMinVersion      string   `yaml:"OSMinVersion"`
	OSBuilds          []string `yaml:"OSBuilds"`
	ExecutionPolicies []string `yaml:"ExecutionPolicies"`
	VMIdentifiers     []string `yaml:"VMIdentifiers"`
	MinFreeDiskGB     int      `yaml:"MinFreeDiskGB"`
	RequiredEndpoints []string `yaml:"RequiredEndpoints"`

	ProfileMarker string `yaml:"ProfileMarker"` // environment variable name
	ProfileName   string `yaml:"ProfileName"`   // its value
}

// GetDefaultConfig provides default configuration values.
func GetDefaultConfig() *Configuration {
	programData := os.Getenv("ProgramData")
	if programData == "" {
		programData = `C:\ProgramData`
	}
	workDir := filepath.Join(programData, "VMProvision")
	return &Configuration{
		ConfigSourceURL: "https://raw.githubusercontent.com/windowsadmins/vmprovision-profiles/main/config.yaml",
		LayoutSourceURL: "https://raw.githubusercontent.com/windowsadmins/vmprovision-profiles/main/LayoutModification.xml",
		WorkDir:         workDir,
		IndexCachePath:  filepath.Join(workDir, "index.yaml"),
		CachePath:       filepath.Join(workDir, "cache"),
		LogDir:          filepath.Join(workDir, "logs"),
		LogLevel:        "INFO",
		Sources: []PackageSource{
			{Name: "vm-packages", URL: "https://www.myget.org/F/vm-packages/api/v2", Priority: 1},
			{Name: "chocolatey", URL: "https://community.chocolatey.org/api/v2/", Priority: 0},
		},
		BootstrapPackage:     "installer.vm",
		SharedStatePackage:   "common.vm",
		ExcludedPackages:     []string{"installer.vm", "common.vm", "debloat.vm"},
		RuntimeMinVersion:    "3.0.0",
		ManagerMinVersion:    "2.0.0",
		PowerShellMinVersion: "5.0",
		OSMinVersion:         "10.0",
		OSBuilds:             []string{"19045", "22631", "26100"},
		ExecutionPolicies:    []string{"Unrestricted", "Bypass", "RemoteSigned"},
		VMIdentifiers:        []string{"VMware", "VirtualBox", "Virtual Machine", "QEMU", "KVM", "Xen", "Parallels", "Hyper-V", "innotek"},
		MinFreeDiskGB:        60,
		RequiredEndpoints: []string{
			"https://github.com",
			"https://raw.githubusercontent.com",
			"https://community.chocolatey.org",
		},
		ProfileMarker: "VM_PROFILE",
		ProfileName:   "analysis-vm",
	}
}

// LoadConfig loads settings from a YAML file layered over the defaults,
// then applies any registry policy overrides. A missing file is not an
// error: defaults plus registry values are used.
func LoadConfig(path string) (*Configuration, error) {
	if path == "" {
		path = ConfigPath
	}
	cfg := GetDefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults apply
	default:
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}

	applyRegistryOverrides(cfg)

	if cfg.IndexCachePath == "" {
		cfg.IndexCachePath = filepath.Join(cfg.WorkDir, "index.yaml")
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.WorkDir, "logs")
	}
	if cfg.CachePath == "" {
		cfg.CachePath = filepath.Join(cfg.WorkDir, "cache")
	}
	return cfg, nil
}

// SaveConfig writes the configuration to path as YAML.
func SaveConfig(cfg *Configuration, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create configuration directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// WorkConfigPath is the working copy of the provisioning document.
func (c *Configuration) WorkConfigPath() string {
	return filepath.Join(c.WorkDir, "config.yaml")
}

// OverridesPath records the preflight warnings an operator accepted.
func (c *Configuration) OverridesPath() string {
	return filepath.Join(c.WorkDir, "overrides.yaml")
}

// LayoutPath is where a fetched start-menu layout is stored.
func (c *Configuration) LayoutPath() string {
	return filepath.Join(c.WorkDir, "LayoutModification.xml")
}

// EnsureDirs creates the working, cache and log directories.
func (c *Configuration) EnsureDirs() error {
	for _, dir := range []string{c.WorkDir, c.CachePath, c.LogDir, filepath.Dir(c.IndexCachePath)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	return nil
}
