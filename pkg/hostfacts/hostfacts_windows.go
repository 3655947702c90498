//go:build windows

package hostfacts

import (
	"context"
	"fmt"
	"strings"

	"github.com/yusufpapurcu/wmi"
	"golang.org/x/sys/windows"

	"github.com/windowsadmins/vmprovision/pkg/logging"
)

const defaultSystemDrive = "C:"

const defenderNamespace = `root\Microsoft\Windows\Defender`

type Win32_ComputerSystem struct {
	Manufacturer string
	Model        string
}

type Win32_BIOS struct {
	Manufacturer      string
	SMBIOSBIOSVersion string
	SerialNumber      string
}

type MSFT_MpComputerStatus struct {
	IsTamperProtected         bool
	RealTimeProtectionEnabled bool
}

// Elevated reports whether the process token is a member of the builtin
// Administrators group.
func (c *Collector) Elevated() (bool, error) {
	var adminSid *windows.SID
	err := windows.AllocateAndInitializeSid(
		&windows.SECURITY_NT_AUTHORITY,
		2,
		windows.SECURITY_BUILTIN_DOMAIN_RID,
		windows.DOMAIN_ALIAS_RID_ADMINS,
		0, 0, 0, 0, 0, 0,
		&adminSid)
	if err != nil {
		return false, err
	}
	defer windows.FreeSid(adminSid)
	token := windows.Token(0)
	return token.IsMember(adminSid)
}

// HardwareIdentifiers returns the strings hypervisors stamp into SMBIOS.
func (c *Collector) HardwareIdentifiers(_ context.Context) ([]string, error) {
	var systems []Win32_ComputerSystem
	if err := wmi.Query("SELECT Manufacturer, Model FROM Win32_ComputerSystem", &systems); err != nil {
		return nil, fmt.Errorf("querying computer system: %w", err)
	}
	var ids []string
	for _, s := range systems {
		ids = append(ids, s.Manufacturer, s.Model)
	}

	var bios []Win32_BIOS
	if err := wmi.Query("SELECT Manufacturer, SMBIOSBIOSVersion, SerialNumber FROM Win32_BIOS", &bios); err != nil {
		logging.Warn("Failed to query BIOS information", "error", err)
	}
	for _, b := range bios {
		ids = append(ids, b.Manufacturer, b.SMBIOSBIOSVersion, b.SerialNumber)
	}
	return nonEmpty(ids), nil
}

func (c *Collector) defenderStatus() (MSFT_MpComputerStatus, error) {
	var status []MSFT_MpComputerStatus
	err := wmi.QueryNamespace("SELECT IsTamperProtected, RealTimeProtectionEnabled FROM MSFT_MpComputerStatus", &status, defenderNamespace)
	if err != nil {
		return MSFT_MpComputerStatus{}, fmt.Errorf("querying Defender status: %w", err)
	}
	if len(status) == 0 {
		// Defender not installed.
		return MSFT_MpComputerStatus{}, nil
	}
	return status[0], nil
}

// TamperProtection reports whether Defender Tamper Protection is on.
func (c *Collector) TamperProtection(_ context.Context) (bool, error) {
	s, err := c.defenderStatus()
	return s.IsTamperProtected, err
}

// RealTimeProtection reports whether Defender real-time scanning is on.
func (c *Collector) RealTimeProtection(_ context.Context) (bool, error) {
	s, err := c.defenderStatus()
	return s.RealTimeProtectionEnabled, err
}

func nonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
