//go:build windows

package installer

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/windows/registry"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"

	"github.com/windowsadmins/vmprovision/pkg/logging"
)

const machineEnvKey = `SYSTEM\CurrentControlSet\Control\Session Manager\Environment`

var updatePolicies = []struct {
	path, name string
	value      uint32
}{
	{`SOFTWARE\Policies\Microsoft\Windows\WindowsUpdate\AU`, "NoAutoUpdate", 1},
	{`SOFTWARE\Policies\Microsoft\WindowsStore`, "AutoDownload", 2},
}

// DisableAutoUpdates disables the Windows Update service and sets the
// update and Store download policies.
func (h *Host) DisableAutoUpdates(_ context.Context) error {
	var firstErr error
	if err := disableService("wuauserv"); err != nil {
		firstErr = err
	}
	for _, p := range updatePolicies {
		k, _, err := registry.CreateKey(registry.LOCAL_MACHINE, p.path, registry.SET_VALUE)
		if err != nil {
			logging.Warn("Failed to open policy key", "key", p.path, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := k.SetDWordValue(p.name, p.value); err != nil && firstErr == nil {
			firstErr = err
		}
		k.Close()
	}
	return firstErr
}

func disableService(name string) error {
	m, err := mgr.Connect()
	if err != nil {
		return err
	}
	defer m.Disconnect()
	s, err := m.OpenService(name)
	if err != nil {
		return fmt.Errorf("could not access service %s: %v", name, err)
	}
	defer s.Close()

	cfg, err := s.Config()
	if err != nil {
		return fmt.Errorf("could not read service %s config: %v", name, err)
	}
	if cfg.StartType != mgr.StartDisabled {
		cfg.StartType = mgr.StartDisabled
		if err := s.UpdateConfig(cfg); err != nil {
			return fmt.Errorf("could not disable service %s: %v", name, err)
		}
	}
	status, err := s.Query()
	if err == nil && status.State != svc.Stopped {
		if _, err := s.Control(svc.Stop); err != nil {
			logging.Warn("Failed to stop service", "service", name, "error", err)
		}
	}
	return nil
}

// SetMachineEnv writes a machine-scope variable and mirrors it into this
// process so the engine started next inherits it.
func (h *Host) SetMachineEnv(name, value string) error {
	k, _, err := registry.CreateKey(registry.LOCAL_MACHINE, machineEnvKey, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("opening machine environment: %w", err)
	}
	defer k.Close()
	if err := k.SetStringValue(name, value); err != nil {
		return err
	}
	return os.Setenv(name, value)
}
