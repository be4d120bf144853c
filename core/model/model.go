// Package model holds the declarative description of a persisted entity type:
// its table, columns, derived (computed) fields and relationships to other
// models. Descriptions are usually read from YAML files:
//
//	table: products
//	columns:
//	  - { name: id, type: integer, primary_key: true }
//	  - { name: name, type: string, max_length: 120 }
//	  - { name: price, type: decimal, default: "0" }
//	  - { name: category_id, type: integer, nullable: true }
//	derived_fields:
//	  - { name: label, kind: String, expr: 'upper(name)' }
//	nested_fields:
//	  - { name: category, resource: Categories, exclude: [products] }
//
// A Model is immutable once it has been handed to the resource layer.
package model

import (
	"fmt"

	"github.com/artpar/modelapi/core/convention"
)

// Model describes one persisted entity type.
type Model struct {
	// Table is the storage table name. Endpoint names derive from it.
	Table string `yaml:"table"`

	// Resource is the public resource name. Defaults to the title-cased table.
	Resource string `yaml:"resource,omitempty"`

	Columns []Column       `yaml:"columns"`
	Derived []DerivedField `yaml:"derived_fields,omitempty"`
	Nested  []NestedField  `yaml:"nested_fields,omitempty"`
}

// DerivedField is a computed, read-only output field.
type DerivedField struct {
	Name string `yaml:"name"`

	// Kind names an entry of the field catalog.
	Kind string `yaml:"kind"`

	// Expr is evaluated against the instance's column values.
	// When empty the value is read from the instance under Name.
	Expr string `yaml:"expr,omitempty"`

	// Compute replaces Expr for models declared in Go.
	Compute func(*Instance) (any, error) `yaml:"-"`
}

// NestedField embeds another resource's representation.
type NestedField struct {
	Name string `yaml:"name"`

	// Resource is the target resource name.
	Resource string `yaml:"resource"`

	// Many selects a one-to-many relationship (a sequence of objects).
	Many bool `yaml:"many,omitempty"`

	// Column is the local foreign key of a to-one relationship.
	// Defaults to "<name>_id".
	Column string `yaml:"column,omitempty"`

	// RemoteColumn is the foreign key on the target table of a to-many
	// relationship. Defaults to "<singular table>_id".
	RemoteColumn string `yaml:"remote_column,omitempty"`

	// Exclude and Only restrict the fields of the embedded representation.
	Exclude []string `yaml:"exclude,omitempty"`
	Only    []string `yaml:"only,omitempty"`
}

// ResourceName returns the public resource name.
func (m *Model) ResourceName() string {
	if m.Resource != "" {
		return m.Resource
	}
	return convention.ResourceName(m.Table)
}

// PrimaryKey returns the primary key column.
func (m *Model) PrimaryKey() *Column {
	for i := range m.Columns {
		if m.Columns[i].PrimaryKey {
			return &m.Columns[i]
		}
	}
	return nil
}

// Column returns the column with the given name.
func (m *Model) Column(name string) (*Column, bool) {
	for i := range m.Columns {
		if m.Columns[i].Name == name {
			return &m.Columns[i], true
		}
	}
	return nil, false
}

// ColumnNames returns the column names in declaration order.
func (m *Model) ColumnNames() []string {
	names := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		names[i] = c.Name
	}
	return names
}

// LocalColumn returns the foreign key column backing a to-one relationship.
func (n NestedField) LocalColumn() string {
	if n.Column != "" {
		return n.Column
	}
	return n.Name + "_id"
}

// ForeignColumn returns the target-side foreign key of a to-many relationship
// declared on model m.
func (n NestedField) ForeignColumn(m *Model) string {
	if n.RemoteColumn != "" {
		return n.RemoteColumn
	}
	return convention.ForeignKey(m.Table)
}

// String implements fmt.Stringer.
func (m *Model) String() string {
	return fmt.Sprintf("%s(%s)", m.ResourceName(), m.Table)
}
