// pkg/selection/negotiate.go - the interaction surface contract.

package selection

import (
	"context"
	"errors"
	"fmt"

	"github.com/windowsadmins/vmprovision/pkg/catalog"
	"github.com/windowsadmins/vmprovision/pkg/logging"
	"github.com/windowsadmins/vmprovision/pkg/manifest"
)

// Negotiator is any surface (terminal UI, dialog, flags) that turns the
// resolver defaults into a final selection. It returns ErrCancelled when
// the operator backs out.
type Negotiator interface {
	Negotiate(ctx context.Context, defaults, available []catalog.Item, envDefaults map[string]string) (Outcome, error)
}

// Defaults is the non-interactive surface: an immediate Accept with no edits.
type Defaults struct{}

// Negotiate accepts the defaults unchanged.
func (Defaults) Negotiate(_ context.Context, defaults, available []catalog.Item, envDefaults map[string]string) (Outcome, error) {
	return NewSession(catalog.Resolution{ToInstall: defaults, Available: available}, envDefaults).Result(), nil
}

// Customize runs n against the resolution and, on acceptance, replaces the
// document's packages and tracked env bindings with the outcome. On any
// error, cancellation included, doc is left untouched.
func Customize(ctx context.Context, n Negotiator, res catalog.Resolution, doc *manifest.Document) error {
	envDefaults := make(map[string]string, len(TrackedEnvs))
	for _, k := range TrackedEnvs {
		if v, ok := doc.Env(k); ok {
			envDefaults[k] = v
		}
	}

	outcome, err := n.Negotiate(ctx, res.ToInstall, res.Available, envDefaults)
	if errors.Is(err, ErrCancelled) {
		logging.Warn("Customization cancelled, nothing persisted")
		return err
	}
	if err != nil {
		return fmt.Errorf("customization failed: %w", err)
	}

	Accept(outcome, doc)
	return nil
}

// Accept writes an outcome into doc: the package set is replaced wholesale
// and each tracked binding present in the outcome is overwritten with the
// value as given.
func Accept(outcome Outcome, doc *manifest.Document) {
	doc.SetPackages(outcome.Selected)
	for _, k := range TrackedEnvs {
		if v, ok := outcome.Envs[k]; ok {
			doc.SetEnv(k, v)
		}
	}
	logging.Info("Customization accepted", "packages", len(doc.Packages))
}
