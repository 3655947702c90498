// cmd/vmprovision/run.go - the provisioning sequence.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/windowsadmins/vmprovision/pkg/catalog"
	"github.com/windowsadmins/vmprovision/pkg/config"
	"github.com/windowsadmins/vmprovision/pkg/engine"
	"github.com/windowsadmins/vmprovision/pkg/installer"
	"github.com/windowsadmins/vmprovision/pkg/logging"
	"github.com/windowsadmins/vmprovision/pkg/manifest"
	"github.com/windowsadmins/vmprovision/pkg/preflight"
	"github.com/windowsadmins/vmprovision/pkg/selection"
)

// operator is everything the run asks the person at the console.
type operator interface {
	Confirm(question string) bool
	Secret(label string) (string, error)
	Pause(message string)
}

// provisioningEngine adds the catalog queries to the driver's engine.
type provisioningEngine interface {
	installer.Engine
	QueryInstalled(ctx context.Context) ([]string, error)
	QueryIndex(ctx context.Context, source string) ([]catalog.Item, error)
}

type app struct {
	cfg        *config.Configuration
	opts       options
	console    *logging.Console
	operator   operator
	facts      preflight.Facts
	account    preflight.AccountSetter
	overrides  preflight.OverrideRecorder
	store      *manifest.Store
	engine     provisioningEngine
	host       installer.HostConfigurationWriter
	negotiator selection.Negotiator
	inFlight   func() []string
	out        io.Writer
}

func (a *app) run(ctx context.Context) error {
	if err := a.validate(ctx); err != nil {
		return err
	}

	cred, err := a.credential()
	if err != nil {
		return err
	}

	if err := a.cfg.EnsureDirs(); err != nil {
		return err
	}

	a.store.RetryPrompt = func(err error) bool {
		a.console.Warning("Could not load the configuration document: %v", err)
		return a.operator.Confirm("Retry loading the configuration?")
	}
	doc, err := a.store.Load(ctx, a.opts.configSource, a.cfg.ConfigSourceURL)
	if err != nil {
		return err
	}
	a.fetchLayout(ctx)

	driver := &installer.Driver{
		Engine:   a.engine,
		Host:     a.host,
		Config:   a.cfg,
		Document: doc,
		InFlight: a.inFlight,
		Out:      a.out,
	}

	if !a.opts.noGUI {
		if err := a.customize(ctx, driver, doc); err != nil {
			return err
		}
	}

	if err := manifest.Persist(doc, a.store.WorkPath); err != nil {
		return err
	}

	plan := installer.InstallPlan{
		PackageName:   a.cfg.BootstrapPackage,
		Credential:    cred,
		AllowReboot:   !a.opts.noReboots,
		AllowPassword: !a.opts.noPassword,
	}
	return driver.Run(ctx, plan)
}

// validate runs the preflight gate unless it was skipped.
func (a *app) validate(ctx context.Context) error {
	if a.opts.noChecks {
		a.console.Warning("Skipping preflight checks")
		logging.Warn("Preflight checks skipped by flag")
		return nil
	}

	policy, err := preflight.NewPolicy(a.cfg)
	if err != nil {
		return err
	}
	report := func(r preflight.CheckResult) {
		switch r.Outcome {
		case preflight.Pass:
			a.console.Success("%-20s %s", r.Name, r.Message)
		case preflight.WarnConfirm:
			a.console.Warning("%-20s %s", r.Name, r.Message)
		default:
			a.console.Error("%-20s %s", r.Name, r.Message)
		}
	}
	results := preflight.Validate(ctx, a.facts, policy, a.operator)
	accepted, err := preflight.Gate(results, a.operator, report)
	if err != nil {
		return err
	}
	if err := preflight.Finalize(ctx, a.facts, a.account, a.overrides, accepted); err != nil {
		return err
	}

	if !a.opts.noWait {
		a.operator.Pause("Checks passed. Press Enter to continue...")
	}
	return nil
}

// credential returns the auto-logon credential, asking for the secret
// only in an interactive run.
func (a *app) credential() (*engine.Credential, error) {
	if a.opts.noPassword {
		return nil, nil
	}
	user, err := a.facts.Username()
	if err != nil {
		return nil, fmt.Errorf("resolving current user: %w", err)
	}
	secret := a.opts.password
	if secret == "" {
		if a.opts.noGUI {
			logging.Warn("No password supplied; automatic logon after reboots is disabled")
			return nil, nil
		}
		secret, err = a.operator.Secret(fmt.Sprintf("Password for %s", user))
		if err != nil {
			return nil, err
		}
	}
	return &engine.Credential{Username: user, Secret: secret}, nil
}

// fetchLayout stores the start menu layout next to the document. It is
// cosmetic, so failures only warn.
func (a *app) fetchLayout(ctx context.Context) {
	src := a.opts.layoutSource
	if src == "" {
		src = a.cfg.LayoutSourceURL
	}
	if src == "" {
		return
	}
	if err := a.store.Acquire(ctx, src, a.cfg.LayoutPath()); err != nil {
		logging.Warn("Start menu layout unavailable", "source", src, "error", err)
	}
}

// customize resolves the catalog and runs the interaction surface over it.
func (a *app) customize(ctx context.Context, driver *installer.Driver, doc *manifest.Document) error {
	a.console.Printf("Preparing package catalog...")
	if err := driver.PrepareRuntime(ctx); err != nil {
		return err
	}
	installed, err := a.engine.QueryInstalled(ctx)
	if err != nil {
		return err
	}
	index, err := catalog.LoadIndex(ctx, catalog.IndexCache{Path: a.cfg.IndexCachePath}, a.opts.refreshIndex, a.queryIndex)
	if err != nil {
		return err
	}

	res := catalog.Resolve(doc, installed, index, a.cfg.ExcludedPackages)
	logging.Info("Catalog resolved", "to_install", len(res.ToInstall), "available", len(res.Available), "installed", len(installed))

	if err := selection.Customize(ctx, a.negotiator, res, doc); err != nil {
		if errors.Is(err, selection.ErrCancelled) {
			return err
		}
		return fmt.Errorf("customization: %w", err)
	}
	return nil
}

// queryIndex merges the index of every configured source. A package
// offered by several sources keeps the entry of the first.
func (a *app) queryIndex(ctx context.Context) ([]catalog.Item, error) {
	seen := map[string]bool{}
	var items []catalog.Item
	for _, src := range a.cfg.Sources {
		found, err := a.engine.QueryIndex(ctx, src.URL)
		if err != nil {
			return nil, err
		}
		for _, it := range found {
			key := strings.ToLower(it.Name)
			if seen[key] {
				continue
			}
			seen[key] = true
			items = append(items, it)
		}
	}
	catalog.SortItems(items)
	return items, nil
}
