//go:build !windows

package hostfacts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

const defaultSystemDrive = "/"

// dmiDir exposes SMBIOS strings on Linux hosts.
var dmiDir = "/sys/class/dmi/id"

// Elevated reports whether the process runs as root.
func (c *Collector) Elevated() (bool, error) {
	return os.Geteuid() == 0, nil
}

// HardwareIdentifiers reads the DMI vendor and product strings.
func (c *Collector) HardwareIdentifiers(_ context.Context) ([]string, error) {
	var ids []string
	for _, name := range []string{"sys_vendor", "product_name", "bios_vendor", "bios_version"} {
		data, err := os.ReadFile(filepath.Join(dmiDir, name))
		if err != nil {
			continue
		}
		if s := strings.TrimSpace(string(data)); s != "" {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

// TamperProtection is a Windows Defender feature.
func (c *Collector) TamperProtection(context.Context) (bool, error) { return false, nil }

// RealTimeProtection is a Windows Defender feature.
func (c *Collector) RealTimeProtection(context.Context) (bool, error) { return false, nil }
