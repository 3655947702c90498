// pkg/manifest/store.go - loading and persisting the provisioning document.

package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/windowsadmins/vmprovision/pkg/download"
	"github.com/windowsadmins/vmprovision/pkg/logging"
	"github.com/windowsadmins/vmprovision/pkg/retry"
)

// ErrConfigUnavailable means no source resolved and no fallback copy exists.
var ErrConfigUnavailable = errors.New("configuration document unavailable")

var errNoSource = errors.New("no configuration source given")

// Store acquires the document into a working copy and persists it.
type Store struct {
	// WorkPath is the working copy. A file already present here serves as
	// the fallback when the configured source cannot be reached.
	WorkPath string

	// Fetch retrieves a remote locator into dest.
	Fetch func(ctx context.Context, url, dest string) error

	// RetryPrompt asks the operator whether to try acquiring again.
	// A nil prompt means no retry.
	RetryPrompt func(err error) bool
}

// NewStore returns a Store using HTTP retrieval.
func NewStore(workPath string) *Store {
	return &Store{
		WorkPath: workPath,
		Fetch:    download.File,
	}
}

// Load resolves override (when non-empty) or defaultSource into the working
// copy and parses it. The operator gets one chance to retry; after that a
// pre-existing working copy is used, or ErrConfigUnavailable is returned.
func (s *Store) Load(ctx context.Context, override, defaultSource string) (*Document, error) {
	locator := override
	if locator == "" {
		locator = defaultSource
	}

	cfg := retry.RetryConfig{MaxRetries: 1}
	if s.RetryPrompt != nil {
		cfg.MaxRetries = 2
		cfg.Confirm = func(_ int, err error) bool { return s.RetryPrompt(err) }
	}

	err := retry.Retry(cfg, func() error {
		err := s.Acquire(ctx, locator, s.WorkPath)
		if err != nil && fileExists(s.WorkPath) {
			logging.Warn("Configuration source unavailable, using existing copy",
				"source", locator, "path", s.WorkPath, "error", err)
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigUnavailable, err)
	}

	doc, err := ReadFile(s.WorkPath)
	if err != nil {
		return nil, err
	}
	logging.Info("Loaded configuration", "path", s.WorkPath, "packages", len(doc.Packages), "envs", len(doc.Envs))
	return doc, nil
}

// Acquire places locator at dest: remote locators are fetched, local
// paths copied. Copying a file onto itself is a no-op.
func (s *Store) Acquire(ctx context.Context, locator, dest string) error {
	if locator == "" {
		return errNoSource
	}
	if download.IsRemote(locator) {
		fetch := s.Fetch
		if fetch == nil {
			fetch = download.File
		}
		return fetch(ctx, locator, dest)
	}
	return copyFile(locator, dest)
}

// ReadFile parses the document stored at path.
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Persist validates doc and writes it to every destination in the format
// implied by each destination's extension.
func Persist(doc *Document, destinations ...string) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("refusing to persist invalid document: %w", err)
	}
	for _, dest := range destinations {
		data, err := Marshal(doc, FormatForPath(dest))
		if err != nil {
			return fmt.Errorf("failed to serialize configuration: %w", err)
		}
		if err := writeAtomic(dest, data); err != nil {
			return err
		}
		logging.Info("Persisted configuration", "path", dest, "packages", len(doc.Packages))
	}
	return nil
}

func writeAtomic(dest string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dest, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".config-*")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return nil
}

func copyFile(src, dest string) error {
	srcAbs, _ := filepath.Abs(src)
	destAbs, _ := filepath.Abs(dest)
	if srcAbs == destAbs {
		if !fileExists(src) {
			return fmt.Errorf("configuration file %s not found", src)
		}
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}
	return writeAtomic(dest, data)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
