// pkg/preflight/preflight.go - read-only host checks gating a provisioning run.
//
// Validate produces one CheckResult per rule, lazily and in reporting
// order. Checks never decide to abort on their own; Gate consumes the
// sequence and turns Fail into an abort and WarnConfirm into a question.

package preflight

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"unicode"

	"github.com/hashicorp/go-version"

	"github.com/windowsadmins/vmprovision/pkg/config"
)

// Outcome is the verdict of one check.
type Outcome int

const (
	Pass Outcome = iota
	WarnConfirm
	Fail
)

func (o Outcome) String() string {
	switch o {
	case Pass:
		return "PASS"
	case WarnConfirm:
		return "WARN"
	case Fail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// Check names, in reporting order.
const (
	CheckPowerShell         = "powershell-version"
	CheckElevation          = "elevation"
	CheckExecutionPolicy    = "execution-policy"
	CheckOSVersion          = "os-version"
	CheckOSBuild            = "os-build"
	CheckVirtualization     = "virtualization"
	CheckUsername           = "username"
	CheckDiskSpace          = "disk-space"
	CheckNetwork            = "network"
	CheckTamperProtection   = "tamper-protection"
	CheckRealTimeProtection = "realtime-protection"
	CheckSnapshot           = "snapshot-acknowledged"
)

// CheckResult is the verdict of a single check.
type CheckResult struct {
	Name    string
	Outcome Outcome
	Message string
}

// Facts is the read-only view of the host the checks run against.
type Facts interface {
	PowerShellVersion(ctx context.Context) (string, error)
	Elevated() (bool, error)
	ExecutionPolicy(ctx context.Context) (string, error)
	// OSVersion returns the major.minor version and the build number.
	OSVersion(ctx context.Context) (ver string, build string, err error)
	// HardwareIdentifiers returns manufacturer, model and BIOS strings.
	HardwareIdentifiers(ctx context.Context) ([]string, error)
	Username() (string, error)
	FreeDiskBytes() (uint64, error)
	ProbeEndpoint(ctx context.Context, url string) error
	TamperProtection(ctx context.Context) (bool, error)
	RealTimeProtection(ctx context.Context) (bool, error)
}

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Confirm(question string) bool
}

// Policy holds the thresholds and allow/deny lists the checks apply.
type Policy struct {
	PowerShellMin     *version.Version
	ExecutionPolicies []string
	OSMin             *version.Version
	OSBuilds          []string
	VMIdentifiers     []string
	MinFreeBytes      uint64
	Endpoints         []string
}

// NewPolicy builds a Policy from the tool settings.
func NewPolicy(cfg *config.Configuration) (Policy, error) {
	psMin, err := version.NewVersion(cfg.PowerShellMinVersion)
	if err != nil {
		return Policy{}, fmt.Errorf("invalid PowerShellMinVersion %q: %w", cfg.PowerShellMinVersion, err)
	}
	osMin, err := version.NewVersion(cfg.OSMinVersion)
	if err != nil {
		return Policy{}, fmt.Errorf("invalid OSMinVersion %q: %w", cfg.OSMinVersion, err)
	}
	return Policy{
		PowerShellMin:     psMin,
		ExecutionPolicies: cfg.ExecutionPolicies,
		OSMin:             osMin,
		OSBuilds:          cfg.OSBuilds,
		VMIdentifiers:     cfg.VMIdentifiers,
		MinFreeBytes:      uint64(cfg.MinFreeDiskGB) << 30,
		Endpoints:         cfg.RequiredEndpoints,
	}, nil
}

type check func(ctx context.Context, f Facts, p Policy) CheckResult

// Validate runs the checks in reporting order. The sequence is lazy:
// a consumer that stops early prevents the remaining probes from running.
// The snapshot acknowledgement is asked through ack as the final check.
func Validate(ctx context.Context, facts Facts, policy Policy, ack Confirmer) iter.Seq[CheckResult] {
	checks := []check{
		checkPowerShell,
		checkElevation,
		checkExecutionPolicy,
		checkOSVersion,
		checkOSBuild,
		checkVirtualization,
		checkUsername,
		checkDiskSpace,
		checkNetwork,
		checkTamperProtection,
		checkRealTimeProtection,
	}
	return func(yield func(CheckResult) bool) {
		for _, c := range checks {
			if ctx.Err() != nil {
				yield(CheckResult{Name: "cancelled", Outcome: Fail, Message: ctx.Err().Error()})
				return
			}
			if !yield(c(ctx, facts, policy)) {
				return
			}
		}
		yield(checkSnapshot(ack))
	}
}

func pass(name, format string, args ...any) CheckResult {
	return CheckResult{Name: name, Outcome: Pass, Message: fmt.Sprintf(format, args...)}
}

func warn(name, format string, args ...any) CheckResult {
	return CheckResult{Name: name, Outcome: WarnConfirm, Message: fmt.Sprintf(format, args...)}
}

func fail(name, format string, args ...any) CheckResult {
	return CheckResult{Name: name, Outcome: Fail, Message: fmt.Sprintf(format, args...)}
}

// probeError reports a fact that could not be gathered. It is always a
// confirmable warning, whatever the severity of the check.
func probeError(name string, err error) CheckResult {
	return warn(name, "unable to determine: %v", err)
}

func checkPowerShell(ctx context.Context, f Facts, p Policy) CheckResult {
	raw, err := f.PowerShellVersion(ctx)
	if err != nil {
		return probeError(CheckPowerShell, err)
	}
	v, err := version.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return probeError(CheckPowerShell, err)
	}
	if v.LessThan(p.PowerShellMin) {
		return fail(CheckPowerShell, "PowerShell %s is older than the required %s", v, p.PowerShellMin)
	}
	return pass(CheckPowerShell, "PowerShell %s", v)
}

func checkElevation(_ context.Context, f Facts, _ Policy) CheckResult {
	ok, err := f.Elevated()
	if err != nil {
		return probeError(CheckElevation, err)
	}
	if !ok {
		return fail(CheckElevation, "must be run as administrator")
	}
	return pass(CheckElevation, "running as administrator")
}

func checkExecutionPolicy(ctx context.Context, f Facts, p Policy) CheckResult {
	policy, err := f.ExecutionPolicy(ctx)
	if err != nil {
		return probeError(CheckExecutionPolicy, err)
	}
	policy = strings.TrimSpace(policy)
	for _, allowed := range p.ExecutionPolicies {
		if strings.EqualFold(policy, allowed) {
			return pass(CheckExecutionPolicy, "execution policy %s", policy)
		}
	}
	return fail(CheckExecutionPolicy, "execution policy %q must be one of %s", policy, strings.Join(p.ExecutionPolicies, ", "))
}

func checkOSVersion(ctx context.Context, f Facts, p Policy) CheckResult {
	raw, _, err := f.OSVersion(ctx)
	if err != nil {
		return probeError(CheckOSVersion, err)
	}
	v, err := version.NewVersion(raw)
	if err != nil {
		return probeError(CheckOSVersion, err)
	}
	if v.LessThan(p.OSMin) {
		return warn(CheckOSVersion, "Windows %s is older than %s and is not supported", v, p.OSMin)
	}
	return pass(CheckOSVersion, "Windows %s", v)
}

func checkOSBuild(ctx context.Context, f Facts, p Policy) CheckResult {
	_, build, err := f.OSVersion(ctx)
	if err != nil {
		return probeError(CheckOSBuild, err)
	}
	for _, b := range p.OSBuilds {
		if b == build {
			return pass(CheckOSBuild, "build %s is tested", build)
		}
	}
	return warn(CheckOSBuild, "build %s has not been tested (tested: %s)", build, strings.Join(p.OSBuilds, ", "))
}

func checkVirtualization(ctx context.Context, f Facts, p Policy) CheckResult {
	ids, err := f.HardwareIdentifiers(ctx)
	if err != nil {
		return probeError(CheckVirtualization, err)
	}
	for _, id := range ids {
		for _, marker := range p.VMIdentifiers {
			if marker != "" && strings.Contains(strings.ToLower(id), strings.ToLower(marker)) {
				return pass(CheckVirtualization, "virtual machine detected (%s)", id)
			}
		}
	}
	return warn(CheckVirtualization, "no virtual machine identifiers found; this should only be run inside a VM")
}

func checkUsername(_ context.Context, f Facts, _ Policy) CheckResult {
	name, err := f.Username()
	if err != nil {
		return probeError(CheckUsername, err)
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return fail(CheckUsername, "username %q contains whitespace; create an account without spaces", name)
	}
	return pass(CheckUsername, "username %s", name)
}

func checkDiskSpace(_ context.Context, f Facts, p Policy) CheckResult {
	free, err := f.FreeDiskBytes()
	if err != nil {
		return probeError(CheckDiskSpace, err)
	}
	gib := float64(free) / (1 << 30)
	if free < p.MinFreeBytes {
		return warn(CheckDiskSpace, "%.1f GiB free, %d GiB recommended", gib, p.MinFreeBytes>>30)
	}
	return pass(CheckDiskSpace, "%.1f GiB free", gib)
}

func checkNetwork(ctx context.Context, f Facts, p Policy) CheckResult {
	for _, ep := range p.Endpoints {
		if err := f.ProbeEndpoint(ctx, ep); err != nil {
			return fail(CheckNetwork, "%s is unreachable: %v", ep, err)
		}
	}
	return pass(CheckNetwork, "%d endpoints reachable", len(p.Endpoints))
}

func checkTamperProtection(ctx context.Context, f Facts, _ Policy) CheckResult {
	on, err := f.TamperProtection(ctx)
	if err != nil {
		return probeError(CheckTamperProtection, err)
	}
	if on {
		return warn(CheckTamperProtection, "Defender Tamper Protection is enabled and will block installs; disable it in Windows Security")
	}
	return pass(CheckTamperProtection, "Tamper Protection disabled")
}

func checkRealTimeProtection(ctx context.Context, f Facts, _ Policy) CheckResult {
	on, err := f.RealTimeProtection(ctx)
	if err != nil {
		return probeError(CheckRealTimeProtection, err)
	}
	if on {
		return warn(CheckRealTimeProtection, "Defender real-time protection is enabled and may quarantine tools")
	}
	return pass(CheckRealTimeProtection, "real-time protection disabled")
}

func checkSnapshot(ack Confirmer) CheckResult {
	if ack == nil || !ack.Confirm("Have you taken a VM snapshot to restore to if installation fails?") {
		return fail(CheckSnapshot, "take a snapshot before provisioning")
	}
	return pass(CheckSnapshot, "snapshot acknowledged")
}
