// cmd/vmprovision/main.go

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/windowsadmins/vmprovision/pkg/blocking"
	"github.com/windowsadmins/vmprovision/pkg/config"
	"github.com/windowsadmins/vmprovision/pkg/engine"
	"github.com/windowsadmins/vmprovision/pkg/hostfacts"
	"github.com/windowsadmins/vmprovision/pkg/installer"
	"github.com/windowsadmins/vmprovision/pkg/logging"
	"github.com/windowsadmins/vmprovision/pkg/manifest"
	"github.com/windowsadmins/vmprovision/pkg/preflight"
	"github.com/windowsadmins/vmprovision/pkg/prompt"
	"github.com/windowsadmins/vmprovision/pkg/scripts"
	"github.com/windowsadmins/vmprovision/pkg/selection"
	"github.com/windowsadmins/vmprovision/pkg/tui"
	"github.com/windowsadmins/vmprovision/pkg/version"
)

type options struct {
	password     string
	noPassword   bool
	configSource string
	layoutSource string
	noWait       bool
	noGUI        bool
	noReboots    bool
	noChecks     bool
	settings     string
	refreshIndex bool
	verbosity    int
	showVersion  bool
	writeConfig  bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet("vmprovision", pflag.ContinueOnError)
	fs.StringVar(&o.password, "password", "", "Password of the current user, used for automatic logon across reboots.")
	fs.BoolVar(&o.noPassword, "no-password", false, "Do not use a password; reboots will stop at the logon screen.")
	fs.StringVar(&o.configSource, "config", "", "Path or URL of the configuration document.")
	fs.StringVar(&o.layoutSource, "layout", "", "Path or URL of the start menu layout.")
	fs.BoolVar(&o.noWait, "no-wait", false, "Do not pause after the preflight checks.")
	fs.BoolVar(&o.noGUI, "no-gui", false, "Install the configured packages without the customization screen.")
	fs.BoolVar(&o.noReboots, "no-reboots", false, "Prevent the installation engine from rebooting.")
	fs.BoolVar(&o.noChecks, "no-checks", false, "Skip the preflight checks (not recommended).")
	fs.StringVar(&o.settings, "settings", config.ConfigPath, "Path of the vmprovision settings file.")
	fs.BoolVar(&o.refreshIndex, "refresh-index", false, "Query the package sources again instead of using the cached index.")
	fs.CountVarP(&o.verbosity, "verbose", "v", "Increase verbosity (e.g. -v, -vv, -vvv)")
	fs.BoolVar(&o.showVersion, "version", false, "Print the version and exit.")
	fs.BoolVar(&o.writeConfig, "write-settings", false, "Write the effective settings to the --settings path and exit.")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.noPassword && o.password != "" {
		return o, fmt.Errorf("--password and --no-password are mutually exclusive")
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if opts.showVersion {
		version.PrintFull()
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(opts.settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		os.Exit(1)
	}
	if opts.writeConfig {
		if err := writeSettings(cfg, opts.settings); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Settings written to %s\n", opts.settings)
		os.Exit(0)
	}

	// The run log always records INFO; -vvv adds DEBUG.
	level := logging.ParseLevel(cfg.LogLevel)
	if level < logging.LevelInfo {
		level = logging.LevelInfo
	}
	if opts.verbosity >= 3 {
		level = logging.LevelDebug
	}
	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Init(logging.LoggerConfig{
		BaseDir:       cfg.LogDir,
		Level:         level,
		Retention:     logging.DefaultRetentionPolicy(),
		EnableJSON:    true,
		EnableConsole: opts.verbosity >= 2,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.CloseLogger()

	console := logging.New(opts.verbosity > 0)
	logging.Info("vmprovision starting", "version", version.Version().Version, "settings", opts.settings)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, opts, console)
	if err != nil {
		console.Error("%v", err)
		logging.CloseLogger()
		os.Exit(1)
	}
	if err := a.run(ctx); err != nil {
		console.Error("%v", err)
		logging.Error("Provisioning aborted", "error", err)
		logging.CloseLogger()
		os.Exit(1)
	}
	console.Success("Provisioning handed off to the installation engine")
}

// newApp wires the production collaborators.
func newApp(cfg *config.Configuration, opts options, console *logging.Console) (*app, error) {
	runner, err := scripts.NewRunner()
	if err != nil {
		return nil, err
	}
	facts := hostfacts.New(runner)
	eng := engine.New(runner, os.Stdout)

	op := prompt.New()

	return &app{
		cfg:        cfg,
		opts:       opts,
		console:    console,
		operator:   op,
		facts:      facts,
		account:    facts,
		overrides:  preflight.OverrideFile{Path: cfg.OverridesPath()},
		store:      manifest.NewStore(cfg.WorkConfigPath()),
		engine:     eng,
		host:       &installer.Host{Cmd: runner},
		negotiator: chooseNegotiator(opts.noGUI, op),
		inFlight: func() []string {
			procs, err := blocking.ListProcesses()
			if err != nil {
				logging.Warn("Could not list processes", "error", err)
				return nil
			}
			return blocking.Running(procs, int32(os.Getpid()), blocking.EngineProcesses...)
		},
		out: os.Stdout,
	}, nil
}

// writeSettings stores the effective settings, defaults and registry
// overrides included, so an operator has a complete file to edit.
func writeSettings(cfg *config.Configuration, path string) error {
	if err := config.SaveConfig(cfg, path); err != nil {
		return fmt.Errorf("failed to write settings to %s: %w", path, err)
	}
	return nil
}

type terminal interface {
	Interactive() bool
}

// chooseNegotiator picks the customization surface. --no-gui never
// resolves the catalog, so the loaded packages are installed exactly as
// written and no negotiator is needed. Without a terminal the bubbletea
// screen cannot run and the resolved defaults are accepted as they are.
func chooseNegotiator(noGUI bool, term terminal) selection.Negotiator {
	switch {
	case noGUI:
		return nil
	case term.Interactive():
		return tui.NewNegotiator()
	default:
		logging.Warn("No terminal attached, accepting the resolved package selection")
		return selection.Defaults{}
	}
}
