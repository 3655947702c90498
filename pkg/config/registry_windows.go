//go:build windows

package config

import (
	"log"
	"strconv"
	"strings"

	"golang.org/x/sys/windows/registry"
)

// applyRegistryOverrides layers HKLM policy values over the settings so
// fleet tooling can pin sources and thresholds without shipping a file.
func applyRegistryOverrides(cfg *Configuration) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, RegistryPath, registry.READ)
	if err != nil {
		return
	}
	defer key.Close()

	loadStringFromRegistry(key, "ConfigSourceURL", &cfg.ConfigSourceURL)
	loadStringFromRegistry(key, "LayoutSourceURL", &cfg.LayoutSourceURL)
	loadStringFromRegistry(key, "WorkDir", &cfg.WorkDir)
	loadStringFromRegistry(key, "IndexCachePath", &cfg.IndexCachePath)
	loadStringFromRegistry(key, "CachePath", &cfg.CachePath)
	loadStringFromRegistry(key, "LogLevel", &cfg.LogLevel)
	loadStringFromRegistry(key, "BootstrapPackage", &cfg.BootstrapPackage)
	loadStringFromRegistry(key, "ProfileName", &cfg.ProfileName)

	loadIntFromRegistry(key, "MinFreeDiskGB", &cfg.MinFreeDiskGB)

	loadStringArrayFromRegistry(key, "ExcludedPackages", &cfg.ExcludedPackages)
	loadStringArrayFromRegistry(key, "OSBuilds", &cfg.OSBuilds)
	loadStringArrayFromRegistry(key, "RequiredEndpoints", &cfg.RequiredEndpoints)
}

// loadStringFromRegistry loads a string value from registry if it exists.
func loadStringFromRegistry(key registry.Key, valueName string, target *string) {
	if val, _, err := key.GetStringValue(valueName); err == nil && val != "" {
		*target = val
		log.Printf("Registry: Loaded %s = %s", valueName, val)
	}
}

// loadIntFromRegistry accepts either a numeric string or a DWORD.
func loadIntFromRegistry(key registry.Key, valueName string, target *int) {
	if val, _, err := key.GetStringValue(valueName); err == nil {
		if parsed, parseErr := strconv.Atoi(val); parseErr == nil {
			*target = parsed
			log.Printf("Registry: Loaded %s = %d", valueName, parsed)
			return
		}
	}
	if val, _, err := key.GetIntegerValue(valueName); err == nil {
		*target = int(val)
		log.Printf("Registry: Loaded %s = %d", valueName, int(val))
	}
}

// loadStringArrayFromRegistry reads REG_MULTI_SZ or a comma-separated string.
func loadStringArrayFromRegistry(key registry.Key, valueName string, target *[]string) {
	if vals, _, err := key.GetStringsValue(valueName); err == nil {
		if filtered := compact(vals); len(filtered) > 0 {
			*target = filtered
			log.Printf("Registry: Loaded %s = %v", valueName, filtered)
			return
		}
	}
	if val, _, err := key.GetStringValue(valueName); err == nil && val != "" {
		if filtered := compact(strings.Split(val, ",")); len(filtered) > 0 {
			*target = filtered
			log.Printf("Registry: Loaded %s = %v", valueName, filtered)
		}
	}
}

func compact(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
