// pkg/catalog/catalog.go - derives the install and offer sets from the
// provisioning document, the host's installed packages and the full index.

package catalog

import (
	"sort"
	"strings"

	"github.com/windowsadmins/vmprovision/pkg/logging"
	"github.com/windowsadmins/vmprovision/pkg/manifest"
)

// Item is one installable package as reported by the package index.
type Item struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Resolution holds the two derived sets the customization step starts from.
type Resolution struct {
	// ToInstall is doc.packages minus what is already installed.
	ToInstall []Item
	// Available is index minus doc.packages, installed and excluded.
	Available []Item
}

// nameSet is a case-insensitive set of package identifiers.
type nameSet map[string]struct{}

func newNameSet(names ...[]string) nameSet {
	s := make(nameSet)
	for _, list := range names {
		for _, n := range list {
			s[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
		}
	}
	return s
}

func (s nameSet) has(name string) bool {
	_, ok := s[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Resolve computes the toInstall and available sets. Both come back sorted
// by name; versions for toInstall are taken from the index when known.
func Resolve(doc *manifest.Document, installed []string, index []Item, excluded []string) Resolution {
	installedSet := newNameSet(installed)
	planned := newNameSet(doc.PackageNames())
	denied := newNameSet(excluded)

	versions := make(map[string]string, len(index))
	for _, it := range index {
		versions[strings.ToLower(it.Name)] = it.Version
	}

	var res Resolution
	for _, name := range doc.PackageNames() {
		if installedSet.has(name) {
			logging.Debug("Package already installed, not offered", "package", name)
			continue
		}
		res.ToInstall = append(res.ToInstall, Item{Name: name, Version: versions[strings.ToLower(name)]})
	}

	seen := make(nameSet)
	for _, it := range index {
		switch {
		case it.Name == "",
			planned.has(it.Name),
			installedSet.has(it.Name),
			denied.has(it.Name),
			seen.has(it.Name):
			continue
		}
		seen[strings.ToLower(it.Name)] = struct{}{}
		res.Available = append(res.Available, it)
	}

	SortItems(res.ToInstall)
	SortItems(res.Available)
	logging.Info("Resolved catalog",
		"to_install", len(res.ToInstall),
		"available", len(res.Available),
		"installed", len(installed),
		"index", len(index))
	return res
}

// SortItems orders items by case-insensitive name.
func SortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
}

// Names extracts item names.
func Names(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}
