// Package catalog holds the vehicle systems database the technician drills
// through (brand -> system type -> system -> tool) and the per-device user
// settings.
package catalog

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed systems.yaml
var defaultSystems []byte

// Tool is a diagnostic function a system offers, with its per-system
// configuration values.
type Tool struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Config      map[string]any `yaml:"config" json:"config"`
}

// System is one controller on one vehicle brand.
type System struct {
	Brand string `yaml:"brand" json:"brand"`
	Type  string `yaml:"type" json:"type"` // Engine, ABS, Airbag, ...
	Name  string `yaml:"system_name" json:"systemName"`
	Tools []Tool `yaml:"tools" json:"tools"`
}

// Catalog is the loaded systems database. Lookups never fail: unknown keys
// yield empty results, matching how the selection screens treat them.
type Catalog struct {
	systems []System
}

// Load reads the systems database from path, falling back to the embedded
// default catalog when the file is missing or unreadable.
func Load(path string) (*Catalog, error) {
	data := defaultSystems
	if path != "" {
		if b, err := os.ReadFile(path); err == nil {
			data = b
			log.Printf("[catalog] loaded systems from %s", path)
		} else {
			log.Printf("[catalog] no systems file at %s, using built-in catalog", path)
		}
	}

	var doc struct {
		Systems []System `yaml:"systems"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: parse systems: %w", err)
	}
	return &Catalog{systems: doc.Systems}, nil
}

// Systems returns every system definition.
func (c *Catalog) Systems() []System {
	return append([]System(nil), c.systems...)
}

// Brands returns the sorted set of vehicle brands.
func (c *Catalog) Brands() []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range c.systems {
		if !seen[s.Brand] {
			seen[s.Brand] = true
			out = append(out, s.Brand)
		}
	}
	sort.Strings(out)
	return out
}

// SystemTypes returns the sorted system types available for a brand.
func (c *Catalog) SystemTypes(brand string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range c.systems {
		if s.Brand == brand && !seen[s.Type] {
			seen[s.Type] = true
			out = append(out, s.Type)
		}
	}
	sort.Strings(out)
	return out
}

// SystemNames returns the sorted system names for a brand and type.
func (c *Catalog) SystemNames(brand, systemType string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range c.systems {
		if s.Brand == brand && s.Type == systemType && !seen[s.Name] {
			seen[s.Name] = true
			out = append(out, s.Name)
		}
	}
	sort.Strings(out)
	return out
}

// Tools returns the tools offered by a specific system, or nil when the
// system is unknown.
func (c *Catalog) Tools(brand, systemType, systemName string) []Tool {
	for _, s := range c.systems {
		if s.Brand == brand && s.Type == systemType && s.Name == systemName {
			return append([]Tool(nil), s.Tools...)
		}
	}
	return nil
}

// ToolConfig returns the configuration for one tool of one system, or nil
// when either is unknown.
func (c *Catalog) ToolConfig(brand, systemType, systemName, toolName string) map[string]any {
	for _, tool := range c.Tools(brand, systemType, systemName) {
		if tool.Name == toolName {
			return tool.Config
		}
	}
	return nil
}
