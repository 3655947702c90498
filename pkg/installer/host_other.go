//go:build !windows

package installer

import (
	"context"
	"errors"
	"os"
)

var errUnsupported = errors.New("not supported on this platform")

// DisableAutoUpdates is Windows-only.
func (h *Host) DisableAutoUpdates(context.Context) error { return errUnsupported }

// SetMachineEnv only sets the variable for this process and its children.
func (h *Host) SetMachineEnv(name, value string) error { return os.Setenv(name, value) }
