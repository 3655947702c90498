//go:build !windows

package config

func applyRegistryOverrides(*Configuration) {}
