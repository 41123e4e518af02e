// Package prefs remembers column mappings between imports, so a statement
// format only has to be mapped once.
package prefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jask/jaskledger/internal/normalize"
)

const mappingsFile = "mappings.json"

// Presets is a named set of mappings stored in one JSON file.
type Presets struct {
	dir string
}

func NewPresets(dir string) *Presets { return &Presets{dir: dir} }

// DefaultPresets lives in the user config dir.
func DefaultPresets() (*Presets, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	return NewPresets(filepath.Join(dir, "jaskledger")), nil
}

func (p *Presets) path() string { return filepath.Join(p.dir, mappingsFile) }

func (p *Presets) load() (map[string]normalize.Mapping, error) {
	data, err := os.ReadFile(p.path())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]normalize.Mapping{}, nil
		}
		return nil, err
	}
	out := map[string]normalize.Mapping{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", p.path(), err)
	}
	return out, nil
}

// Save stores m under name, replacing any earlier preset of that name.
func (p *Presets) Save(name string, m normalize.Mapping) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("preset name required")
	}
	all, err := p.load()
	if err != nil {
		return err
	}
	all[name] = m

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	tmp := p.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, p.path())
}

// Load returns the preset called name.
func (p *Presets) Load(name string) (normalize.Mapping, error) {
	all, err := p.load()
	if err != nil {
		return normalize.Mapping{}, err
	}
	m, ok := all[strings.TrimSpace(name)]
	if !ok {
		return normalize.Mapping{}, fmt.Errorf("no mapping preset %q", name)
	}
	return m, nil
}

// Names lists the stored presets in order.
func (p *Presets) Names() ([]string, error) {
	all, err := p.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(all))
	for n := range all {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}
