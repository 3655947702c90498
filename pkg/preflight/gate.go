// pkg/preflight/gate.go

package preflight

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/windowsadmins/vmprovision/pkg/logging"
)

// AbortError stops the run because of a failed or declined check.
type AbortError struct {
	Result   CheckResult
	Declined bool
}

func (e *AbortError) Error() string {
	if e.Declined {
		return fmt.Sprintf("preflight %s: %s (declined by operator)", e.Result.Name, e.Result.Message)
	}
	return fmt.Sprintf("preflight %s failed: %s", e.Result.Name, e.Result.Message)
}

// Gate consumes results in order. A Fail aborts at once; a WarnConfirm is
// put to the operator and a refusal aborts. report, if set, sees every
// result before it is acted on. The warnings the operator accepted are
// returned in order.
func Gate(results iter.Seq[CheckResult], confirm Confirmer, report func(CheckResult)) ([]CheckResult, error) {
	var accepted []CheckResult
	for r := range results {
		logging.Info("Preflight check", "check", r.Name, "outcome", r.Outcome.String(), "message", r.Message)
		if report != nil {
			report(r)
		}
		switch r.Outcome {
		case Fail:
			return nil, &AbortError{Result: r}
		case WarnConfirm:
			if confirm == nil || !confirm.Confirm(fmt.Sprintf("%s. Continue anyway?", r.Message)) {
				return nil, &AbortError{Result: r, Declined: true}
			}
			logging.Warn("Operator accepted preflight warning", "check", r.Name)
			accepted = append(accepted, r)
		}
	}
	return accepted, nil
}

// AccountSetter applies the account change that passing validation implies.
type AccountSetter interface {
	DisablePasswordExpiry(ctx context.Context, username string) error
}

// OverrideRecorder keeps a lasting record of a soft check the operator
// chose to run past.
type OverrideRecorder interface {
	RecordOverride(check, user string) error
}

// RecordedOverrides are the accepted warnings Finalize records.
var RecordedOverrides = []string{CheckTamperProtection}

// Finalize runs the side effects of a passed validation: the account's
// password is set never to expire so auto-logon keeps working across
// reboots, and an accepted tamper protection warning is recorded through
// rec. Repeating it is harmless. A nil rec records nothing.
func Finalize(ctx context.Context, facts Facts, acct AccountSetter, rec OverrideRecorder, accepted []CheckResult) error {
	name, err := facts.Username()
	if err != nil {
		return fmt.Errorf("resolving current user: %w", err)
	}
	if err := acct.DisablePasswordExpiry(ctx, name); err != nil {
		return fmt.Errorf("disabling password expiry for %s: %w", name, err)
	}
	logging.Info("Password expiry disabled", "user", name)

	if rec == nil {
		return nil
	}
	for _, r := range accepted {
		if !slices.Contains(RecordedOverrides, r.Name) {
			continue
		}
		if err := rec.RecordOverride(r.Name, name); err != nil {
			return fmt.Errorf("recording %s override: %w", r.Name, err)
		}
		logging.Info("Preflight override recorded", "check", r.Name, "user", name)
	}
	return nil
}
