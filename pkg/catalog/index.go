// pkg/catalog/index.go - local cache of the full package index.

package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/windowsadmins/vmprovision/pkg/logging"
	"gopkg.in/yaml.v3"
)

// IndexCache stores the index on disk. Entries never expire: querying the
// remote index takes minutes, so a cached copy is reused until the
// operator deletes it or asks for a refresh.
type IndexCache struct {
	Path string
}

type indexFile struct {
	Generated time.Time `yaml:"generated"`
	Items     []Item    `yaml:"items"`
}

// Load returns the cached items; ok is false when no cache exists.
func (c IndexCache) Load() (items []Item, ok bool, err error) {
	data, err := os.ReadFile(c.Path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read index cache: %w", err)
	}
	var f indexFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, false, fmt.Errorf("unable to parse index cache %s: %w", c.Path, err)
	}
	return f.Items, true, nil
}

// Save writes items to the cache.
func (c IndexCache) Save(items []Item) error {
	data, err := yaml.Marshal(indexFile{Generated: time.Now().UTC(), Items: items})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0755); err != nil {
		return fmt.Errorf("failed to create index cache directory: %w", err)
	}
	return os.WriteFile(c.Path, data, 0644)
}

// QueryFunc fetches the full index from its source.
type QueryFunc func(ctx context.Context) ([]Item, error)

// LoadIndex returns the cached index, querying and caching it when absent
// or when refresh is set. A corrupt cache is treated as absent.
func LoadIndex(ctx context.Context, cache IndexCache, refresh bool, query QueryFunc) ([]Item, error) {
	if !refresh {
		items, ok, err := cache.Load()
		if err != nil {
			logging.Warn("Ignoring unreadable index cache", "path", cache.Path, "error", err)
		} else if ok {
			logging.Info("Using cached package index", "path", cache.Path, "items", len(items))
			return items, nil
		}
	}

	logging.Info("Querying full package index, this can take several minutes")
	items, err := query(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query package index: %w", err)
	}
	SortItems(items)
	if err := cache.Save(items); err != nil {
		logging.Warn("Failed to cache package index", "path", cache.Path, "error", err)
	}
	return items, nil
}
