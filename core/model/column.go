package model

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/artpar/modelapi/core/fields"
)

// ColumnType is the primitive type of a persisted column.
type ColumnType string

const (
	TypeInteger  ColumnType = "integer"
	TypeFloat    ColumnType = "float"
	TypeDecimal  ColumnType = "decimal"
	TypeString   ColumnType = "string"
	TypeText     ColumnType = "text"
	TypeBoolean  ColumnType = "boolean"
	TypeDate     ColumnType = "date"
	TypeDateTime ColumnType = "datetime"
	TypeTime     ColumnType = "time"
	TypeUUID     ColumnType = "uuid"
	TypeULID     ColumnType = "ulid"
	TypeEmail    ColumnType = "email"
	TypeURL      ColumnType = "url"
	TypeJSON     ColumnType = "json"
	TypeSecret   ColumnType = "secret"
)

// kindOf maps column types onto field catalog kinds.
var kindOf = map[ColumnType]string{
	TypeInteger:  fields.Integer,
	TypeFloat:    fields.Float,
	TypeDecimal:  fields.Decimal,
	TypeString:   fields.String,
	TypeText:     fields.String,
	TypeBoolean:  fields.Boolean,
	TypeDate:     fields.Date,
	TypeDateTime: fields.DateTime,
	TypeTime:     fields.Time,
	TypeUUID:     fields.UUID,
	TypeULID:     fields.ULID,
	TypeEmail:    fields.Email,
	TypeURL:      fields.URL,
	TypeJSON:     fields.Raw,
	TypeSecret:   fields.String,
}

// Valid reports whether t is a known column type.
func (t ColumnType) Valid() bool {
	_, ok := kindOf[t]
	return ok
}

// Kind returns the catalog kind used to load and dump values of this type.
func (t ColumnType) Kind() fields.Kind {
	name, ok := kindOf[t]
	if !ok {
		return fields.Kind{}
	}
	return fields.MustLookup(name)
}

// Column is a persisted attribute.
type Column struct {
	Name       string     `yaml:"name"`
	Type       ColumnType `yaml:"type"`
	PrimaryKey bool       `yaml:"primary_key,omitempty"`
	Nullable   bool       `yaml:"nullable,omitempty"`
	Default    any        `yaml:"default,omitempty"`
	MaxLength  int        `yaml:"max_length,omitempty"`
}

// Generated reports whether the store assigns the column's value on insert.
func (c *Column) Generated() bool {
	if !c.PrimaryKey {
		return false
	}
	switch c.Type {
	case TypeInteger, TypeUUID, TypeULID:
		return true
	}
	return false
}

// Required reports whether a create request must supply the column.
func (c *Column) Required() bool {
	return !c.Nullable && c.Default == nil && !c.Generated()
}

// ParseKey converts a URL path segment into a value of the primary key type.
func (m *Model) ParseKey(raw string) (any, error) {
	pk := m.PrimaryKey()
	if pk == nil {
		return nil, fmt.Errorf("model %s has no primary key", m.Table)
	}
	return pk.Type.ParseKey(raw)
}

// ParseKey converts raw into a key value of type t.
func (t ColumnType) ParseKey(raw string) (any, error) {
	switch t {
	case TypeInteger:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer key %q", raw)
		}
		return i, nil
	case TypeUUID:
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid uuid key %q", raw)
		}
		return id.String(), nil
	case TypeULID:
		id, err := ulid.ParseStrict(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid ulid key %q", raw)
		}
		return id.String(), nil
	case TypeDate, TypeDateTime, TypeTime:
		v, err := t.Kind().Deserialize(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s key %q", t, raw)
		}
		return v, nil
	}
	if raw == "" {
		return nil, fmt.Errorf("empty key")
	}
	return raw, nil
}

// CoerceKey converts a decoded JSON value (a scalar reference to an instance)
// into a key value of the model's primary key type.
func (m *Model) CoerceKey(v any) (any, error) {
	pk := m.PrimaryKey()
	if pk == nil {
		return nil, fmt.Errorf("model %s has no primary key", m.Table)
	}
	return pk.Type.Kind().Deserialize(v)
}
