package tiers

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"mercator-hq/saturn/pkg/rate"
)

// file is the YAML representation of a tier table.
type file struct {
	Default string            `yaml:"default"`
	Tiers   map[string]string `yaml:"tiers"`
}

// Table is an immutable snapshot of tier limits. Every expression was
// validated at load time; lookups never fail to parse later.
type Table struct {
	defaultExpr string
	tiers       map[string]string
}

// Parse parses and validates a tier table from YAML.
//
// Format:
//
//	default: "10 per minute"
//	tiers:
//	  free: "10 per minute; 100 per hour"
//	  pro: "100 per minute; 5000 per hour"
func Parse(data []byte) (*Table, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse tier file: %w", err)
	}

	if f.Default != "" {
		if _, err := rate.Parse(f.Default); err != nil {
			return nil, fmt.Errorf("default limits: %w", err)
		}
	}
	for name, expr := range f.Tiers {
		if _, err := rate.Parse(expr); err != nil {
			return nil, fmt.Errorf("tier %q: %w", name, err)
		}
	}

	t := &Table{
		defaultExpr: f.Default,
		tiers:       make(map[string]string, len(f.Tiers)),
	}
	for name, expr := range f.Tiers {
		t.tiers[name] = expr
	}
	return t, nil
}

// Load reads and parses a tier file from disk.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tier file %q: %w", path, err)
	}
	return Parse(data)
}

// Lookup returns the limit expression for the named tier, falling back to
// the default. The second return reports whether anything applied.
func (t *Table) Lookup(name string) (string, bool) {
	if expr, ok := t.tiers[name]; ok {
		return expr, true
	}
	if t.defaultExpr != "" {
		return t.defaultExpr, true
	}
	return "", false
}

// Default returns the fallback expression, empty if none.
func (t *Table) Default() string {
	return t.defaultExpr
}

// Names returns the declared tier names, sorted.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.tiers))
	for name := range t.tiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of declared tiers.
func (t *Table) Len() int {
	return len(t.tiers)
}
