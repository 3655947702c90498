package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windowsadmins/vmprovision/pkg/manifest"
)

func docWith(names ...string) *manifest.Document {
	d := &manifest.Document{}
	d.SetPackages(names)
	return d
}

func items(names ...string) []Item {
	out := make([]Item, 0, len(names))
	for _, n := range names {
		out = append(out, Item{Name: n, Version: "1.0"})
	}
	return out
}

func TestResolveExcludesDenylistedBootstrap(t *testing.T) {
	res := Resolve(docWith("a"), nil, items("a", "bootstrap.meta", "b"), []string{"bootstrap.meta"})
	assert.Equal(t, []string{"a"}, Names(res.ToInstall))
	assert.Equal(t, []string{"b"}, Names(res.Available))
	assert.Equal(t, "1.0", res.ToInstall[0].Version)
}

func TestResolveDropsInstalledFromBothSets(t *testing.T) {
	res := Resolve(docWith("a", "b"), []string{"B", "c"}, items("a", "b", "c", "d"), nil)
	assert.Equal(t, []string{"a"}, Names(res.ToInstall))
	assert.Equal(t, []string{"d"}, Names(res.Available))
}

func TestResolveKeepsPlannedPackagesMissingFromIndex(t *testing.T) {
	res := Resolve(docWith("private.vm"), nil, items("x"), nil)
	require.Len(t, res.ToInstall, 1)
	assert.Equal(t, "private.vm", res.ToInstall[0].Name)
	assert.Empty(t, res.ToInstall[0].Version)
}

func TestResolveDeduplicatesIndex(t *testing.T) {
	idx := append(items("dup", "other"), Item{Name: "DUP", Version: "2.0"})
	res := Resolve(docWith(), nil, idx, nil)
	assert.Equal(t, []string{"dup", "other"}, Names(res.Available))
}

// Properties over a spread of inputs: toInstall ⊆ doc, and available is
// disjoint from doc, installed and excluded.
func TestResolveSetProperties(t *testing.T) {
	cases := []struct {
		doc, installed, index, excluded []string
	}{
		{[]string{"a", "b"}, []string{"a"}, []string{"a", "b", "c"}, []string{"c"}},
		{nil, nil, []string{"x", "y"}, nil},
		{[]string{"x"}, []string{"x", "y"}, []string{"x", "y", "z"}, []string{"z"}},
		{[]string{"Mixed.Case"}, nil, []string{"mixed.case", "other"}, []string{"OTHER"}},
	}
	for _, c := range cases {
		doc := docWith(c.doc...)
		res := Resolve(doc, c.installed, items(c.index...), c.excluded)
		planned := newNameSet(doc.PackageNames())
		inst := newNameSet(c.installed)
		denied := newNameSet(c.excluded)

		for _, it := range res.ToInstall {
			assert.True(t, planned.has(it.Name), "toInstall %s not in doc", it.Name)
			assert.False(t, inst.has(it.Name))
		}
		toInstall := newNameSet(Names(res.ToInstall))
		for _, it := range res.Available {
			assert.False(t, planned.has(it.Name), "available %s in doc", it.Name)
			assert.False(t, inst.has(it.Name), "available %s installed", it.Name)
			assert.False(t, denied.has(it.Name), "available %s excluded", it.Name)
			assert.False(t, toInstall.has(it.Name), "available %s in toInstall", it.Name)
		}
	}
}

func TestLoadIndexCachesWithoutExpiry(t *testing.T) {
	cache := IndexCache{Path: filepath.Join(t.TempDir(), "index.yaml")}
	queries := 0
	query := func(context.Context) ([]Item, error) {
		queries++
		return items("zeta", "alpha"), nil
	}

	got, err := LoadIndex(context.Background(), cache, false, query)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, Names(got))

	got, err = LoadIndex(context.Background(), cache, false, query)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, Names(got))
	assert.Equal(t, 1, queries)

	_, err = LoadIndex(context.Background(), cache, true, query)
	require.NoError(t, err)
	assert.Equal(t, 2, queries)
}

func TestLoadIndexRequeriesOnCorruptCache(t *testing.T) {
	cache := IndexCache{Path: filepath.Join(t.TempDir(), "index.yaml")}
	require.NoError(t, os.WriteFile(cache.Path, []byte("items: [broken"), 0644))

	got, err := LoadIndex(context.Background(), cache, false, func(context.Context) ([]Item, error) {
		return items("fresh"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, Names(got))

	data, err := os.ReadFile(cache.Path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "fresh"))
}

func TestLoadIndexQueryFailure(t *testing.T) {
	cache := IndexCache{Path: filepath.Join(t.TempDir(), "index.yaml")}
	_, err := LoadIndex(context.Background(), cache, false, func(context.Context) ([]Item, error) {
		return nil, errors.New("feed offline")
	})
	require.Error(t, err)
	assert.NoFileExists(t, cache.Path)
}
