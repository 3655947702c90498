// pkg/preflight/overrides.go - persistent record of accepted warnings.

package preflight

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Override is one accepted warning.
type Override struct {
	Check string `yaml:"check"`
	User  string `yaml:"user"`
}

type overrideDoc struct {
	Overrides []Override `yaml:"overrides"`
}

// OverrideFile stores overrides as YAML at Path. Recording the same check
// for the same user again leaves the file untouched.
type OverrideFile struct {
	Path string
}

// Load returns the recorded overrides. A missing file holds none.
func (o OverrideFile) Load() ([]Override, error) {
	data, err := os.ReadFile(o.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read overrides %s: %w", o.Path, err)
	}
	var doc overrideDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse overrides %s: %w", o.Path, err)
	}
	return doc.Overrides, nil
}

// RecordOverride adds check for user unless it is already recorded.
func (o OverrideFile) RecordOverride(check, user string) error {
	existing, err := o.Load()
	if err != nil {
		return err
	}
	for _, ov := range existing {
		if ov.Check == check && ov.User == user {
			return nil
		}
	}
	existing = append(existing, Override{Check: check, User: user})
	sort.Slice(existing, func(i, j int) bool {
		if existing[i].Check != existing[j].Check {
			return existing[i].Check < existing[j].Check
		}
		return existing[i].User < existing[j].User
	})

	data, err := yaml.Marshal(overrideDoc{Overrides: existing})
	if err != nil {
		return fmt.Errorf("failed to serialize overrides: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(o.Path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", o.Path, err)
	}
	return os.WriteFile(o.Path, data, 0644)
}
