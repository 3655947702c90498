// pkg/installer/host.go - the host-wide settings a run changes.

package installer

import (
	"context"
	"fmt"
)

// Runner executes a host program.
type Runner interface {
	Exec(ctx context.Context, name string, args ...string) (string, error)
}

// powerTimeouts are the powercfg settings zeroed for both AC and DC.
var powerTimeouts = []string{"monitor-timeout", "disk-timeout", "standby-timeout", "hibernate-timeout"}

// Host applies changes to the local machine.
type Host struct {
	Cmd Runner
}

// DisablePowerSaving sets every sleep timeout to never.
func (h *Host) DisablePowerSaving(ctx context.Context) error {
	for _, setting := range powerTimeouts {
		for _, source := range []string{"ac", "dc"} {
			if _, err := h.Cmd.Exec(ctx, "powercfg", "-change", "-"+setting+"-"+source, "0"); err != nil {
				return fmt.Errorf("powercfg %s-%s: %w", setting, source, err)
			}
		}
	}
	return nil
}
