package contract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"omniacore/internal/types"
)

// contractFile is the on-disk YAML shape: one file may declare several
// contracts keyed by kind.
type contractFile struct {
	Contracts []*SemanticContract `yaml:"contracts"`
}

// LoadFile reads and validates all contracts in a YAML file.
func LoadFile(path string) ([]*SemanticContract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cf contractFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse contract file %s: %w", path, err)
	}
	for _, c := range cf.Contracts {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return cf.Contracts, nil
}

// LoadDir loads every *.yaml contract file under dir. Later files override
// earlier ones for the same kind; files are walked in sorted order so the
// override is deterministic.
func LoadDir(dir string) (map[types.Kind]*SemanticContract, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := filepath.Ext(e.Name()); ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make(map[types.Kind]*SemanticContract)
	for _, name := range names {
		contracts, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		for _, c := range contracts {
			out[c.Kind] = c
		}
	}
	return out, nil
}
