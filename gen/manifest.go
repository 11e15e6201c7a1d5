// Package gen generates typed metamodel path helpers for entity types
// from a YAML manifest. The generated helpers give query code
// compile-checked paths instead of string literals.
package gen

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// Manifest describes the entities to generate helpers for.
type Manifest struct {
	// Package is the Go package name of the generated files. It must
	// be the package the entity types live in.
	Package string `yaml:"package"`
	// Output is the directory generated files are written to.
	Output string `yaml:"output"`
	// Entities maps entity type names to their declarations.
	Entities map[string]Entity `yaml:"entities"`
}

// Entity is one entity type declaration.
type Entity struct {
	// Table overrides the conventional table name.
	Table string `yaml:"table,omitempty"`
	// Fields are the entity's declared fields in order.
	Fields []Field `yaml:"fields"`
}

// Field is one declared field of an entity.
type Field struct {
	Name       string `yaml:"name"`
	Column     string `yaml:"column,omitempty"`
	PK         bool   `yaml:"pk,omitempty"`
	Auto       bool   `yaml:"auto,omitempty"`
	Version    bool   `yaml:"version,omitempty"`
	Nullable   bool   `yaml:"nullable,omitempty"`
	Serialized bool   `yaml:"serialized,omitempty"`
	Lazy       bool   `yaml:"lazy,omitempty"`
	// Ref names another manifest entity this field references.
	Ref string `yaml:"ref,omitempty"`
}

var identifierRe = regexp.MustCompile(`^[A-Z][A-Za-z0-9_]*$`)

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gen: reading manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("gen: parsing manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest for structural errors: missing package,
// unexported names and dangling references.
func (m *Manifest) Validate() error {
	if m.Package == "" {
		return fmt.Errorf("gen: manifest declares no package")
	}
	if len(m.Entities) == 0 {
		return fmt.Errorf("gen: manifest declares no entities")
	}
	for name, e := range m.Entities {
		if !identifierRe.MatchString(name) {
			return fmt.Errorf("gen: entity %q is not an exported Go identifier", name)
		}
		if len(e.Fields) == 0 {
			return fmt.Errorf("gen: entity %s declares no fields", name)
		}
		seen := make(map[string]bool)
		for _, f := range e.Fields {
			if !identifierRe.MatchString(f.Name) {
				return fmt.Errorf("gen: field %s.%s is not an exported Go identifier", name, f.Name)
			}
			if seen[f.Name] {
				return fmt.Errorf("gen: field %s.%s declared twice", name, f.Name)
			}
			seen[f.Name] = true
			if f.Ref != "" {
				if _, ok := m.Entities[f.Ref]; !ok {
					return fmt.Errorf("gen: field %s.%s references unknown entity %q", name, f.Name, f.Ref)
				}
			}
		}
	}
	return nil
}

// Names returns the entity names in deterministic order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Entities))
	for name := range m.Entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
