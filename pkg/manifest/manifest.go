// pkg/manifest/manifest.go - the provisioning document: packages to install
// and the environment bindings their setup logic relies on.

package manifest

import (
	"fmt"
	"sort"
	"strings"
)

// PackageRef names one package in the install plan.
type PackageRef struct {
	Name string `yaml:"name" xml:"name,attr"`
}

// EnvVar is one name/value binding. Values may reference other variables
// as %NAME% and are expanded before export.
type EnvVar struct {
	Name  string `yaml:"name" xml:"name,attr"`
	Value string `yaml:"value" xml:"value,attr"`
}

// Document is the provisioning plan consumed by the installation engine.
type Document struct {
	Packages []PackageRef `yaml:"packages"`
	Envs     []EnvVar     `yaml:"envs"`
}

// Validate checks the invariants required before the document is persisted:
// non-empty, unique package names and env keys. Package names compare
// case-insensitively, as the package manager does.
func (d *Document) Validate() error {
	seen := make(map[string]struct{}, len(d.Packages))
	for i, p := range d.Packages {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("package %d has an empty name", i)
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate package %q", name)
		}
		seen[key] = struct{}{}
	}

	envSeen := make(map[string]struct{}, len(d.Envs))
	for i, e := range d.Envs {
		if strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("env %d has an empty name", i)
		}
		if _, dup := envSeen[e.Name]; dup {
			return fmt.Errorf("duplicate env %q", e.Name)
		}
		envSeen[e.Name] = struct{}{}
	}
	return nil
}

// PackageNames returns the package names in document order.
func (d *Document) PackageNames() []string {
	names := make([]string, 0, len(d.Packages))
	for _, p := range d.Packages {
		names = append(names, p.Name)
	}
	return names
}

// SetPackages replaces the package set wholesale. Duplicates are dropped
// and the result is sorted so the persisted form is canonical.
func (d *Document) SetPackages(names []string) {
	seen := make(map[string]struct{}, len(names))
	refs := make([]PackageRef, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		key := strings.ToLower(n)
		if _, dup := seen[key]; dup || n == "" {
			continue
		}
		seen[key] = struct{}{}
		refs = append(refs, PackageRef{Name: n})
	}
	sort.Slice(refs, func(i, j int) bool {
		return strings.ToLower(refs[i].Name) < strings.ToLower(refs[j].Name)
	})
	d.Packages = refs
}

// Env returns the value bound to name.
func (d *Document) Env(name string) (string, bool) {
	for _, e := range d.Envs {
		if e.Name == name {
			return e.Value, true
		}
	}
	return "", false
}

// SetEnv overwrites name if present, otherwise appends it.
func (d *Document) SetEnv(name, value string) {
	for i := range d.Envs {
		if d.Envs[i].Name == name {
			d.Envs[i].Value = value
			return
		}
	}
	d.Envs = append(d.Envs, EnvVar{Name: name, Value: value})
}

// EnvMap returns the bindings as a map.
func (d *Document) EnvMap() map[string]string {
	m := make(map[string]string, len(d.Envs))
	for _, e := range d.Envs {
		m[e.Name] = e.Value
	}
	return m
}
