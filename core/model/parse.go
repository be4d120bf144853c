package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/artpar/modelapi/core/fields"
)

// ParseFile parses a model description from a YAML file.
func ParseFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse parses a model description from YAML bytes.
func Parse(data []byte) (*Model, error) {
	var m Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	if err := Validate(&m); err != nil {
		return nil, fmt.Errorf("validate model %q: %w", m.Table, err)
	}

	return &m, nil
}

// ParseDir parses every .yaml/.yml file below dir, in lexical order.
func ParseDir(dir string) ([]*Model, error) {
	var models []*Model

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			sub, err := ParseDir(path)
			if err != nil {
				return nil, err
			}
			models = append(models, sub...)
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		m, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}

	return models, nil
}

// Validate checks a model description and reports every problem found.
func Validate(m *Model) error {
	var errs []string

	if m.Table == "" {
		errs = append(errs, "table is required")
	} else if !isValidIdentifier(m.Table) {
		errs = append(errs, fmt.Sprintf("table %q is not a valid identifier", m.Table))
	}

	if len(m.Columns) == 0 {
		errs = append(errs, "at least one column is required")
	}

	seen := make(map[string]string)
	claim := func(name, what string) {
		if prev, ok := seen[name]; ok {
			errs = append(errs, fmt.Sprintf("%s %q clashes with %s of the same name", what, name, prev))
			return
		}
		seen[name] = what
	}

	keys := 0
	for _, c := range m.Columns {
		if !isValidIdentifier(c.Name) {
			errs = append(errs, fmt.Sprintf("column name %q is not a valid identifier", c.Name))
		}
		claim(c.Name, "column")
		if !c.Type.Valid() {
			errs = append(errs, fmt.Sprintf("column %q: unknown type %q", c.Name, c.Type))
		}
		if c.PrimaryKey {
			keys++
			if c.Nullable {
				errs = append(errs, fmt.Sprintf("column %q: primary key cannot be nullable", c.Name))
			}
			switch c.Type {
			case TypeSecret, TypeJSON, TypeFloat, TypeDecimal:
				errs = append(errs, fmt.Sprintf("column %q: %s cannot be a primary key", c.Name, c.Type))
			}
		}
		if c.MaxLength < 0 {
			errs = append(errs, fmt.Sprintf("column %q: max_length must not be negative", c.Name))
		}
	}
	switch {
	case keys == 0 && len(m.Columns) > 0:
		errs = append(errs, "exactly one primary key column is required, found none")
	case keys > 1:
		errs = append(errs, fmt.Sprintf("exactly one primary key column is required, found %d", keys))
	}

	for _, d := range m.Derived {
		if !isValidIdentifier(d.Name) {
			errs = append(errs, fmt.Sprintf("derived field name %q is not a valid identifier", d.Name))
		}
		claim(d.Name, "derived field")
		if _, err := fields.Lookup(d.Kind); err != nil {
			errs = append(errs, fmt.Sprintf("derived field %q: %v", d.Name, err))
		}
	}

	for _, n := range m.Nested {
		if !isValidIdentifier(n.Name) {
			errs = append(errs, fmt.Sprintf("nested field name %q is not a valid identifier", n.Name))
		}
		claim(n.Name, "nested field")
		if n.Resource == "" {
			errs = append(errs, fmt.Sprintf("nested field %q: resource is required", n.Name))
		}
		if n.Many {
			if n.Column != "" {
				errs = append(errs, fmt.Sprintf("nested field %q: column applies to to-one relationships only", n.Name))
			}
			continue
		}
		if n.RemoteColumn != "" {
			errs = append(errs, fmt.Sprintf("nested field %q: remote_column applies to to-many relationships only", n.Name))
		}
		fk, ok := m.Column(n.LocalColumn())
		switch {
		case !ok:
			errs = append(errs, fmt.Sprintf("nested field %q: foreign key column %q not declared", n.Name, n.LocalColumn()))
		case fk.PrimaryKey:
			errs = append(errs, fmt.Sprintf("nested field %q: foreign key column %q is the primary key", n.Name, fk.Name))
		}
	}

	if _, ok := seen["href"]; ok {
		errs = append(errs, `"href" is reserved for the instance link`)
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// isValidIdentifier accepts lower-snake identifiers and plain ASCII names.
func isValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
