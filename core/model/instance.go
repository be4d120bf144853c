package model

import "maps"

// Instance is one row of a model flowing between the store and the schema.
// Values holds normalized Go values keyed by column name.
type Instance struct {
	Model  *Model
	Values map[string]any
}

// NewInstance returns an empty instance of m.
func NewInstance(m *Model) *Instance {
	return &Instance{Model: m, Values: make(map[string]any, len(m.Columns))}
}

// Key returns the primary key value, or nil when not yet assigned.
func (i *Instance) Key() any {
	pk := i.Model.PrimaryKey()
	if pk == nil {
		return nil
	}
	return i.Values[pk.Name]
}

// SetKey assigns the primary key value.
func (i *Instance) SetKey(v any) {
	if pk := i.Model.PrimaryKey(); pk != nil {
		i.Values[pk.Name] = v
	}
}

// Get returns the value stored under name.
func (i *Instance) Get(name string) (any, bool) {
	v, ok := i.Values[name]
	return v, ok
}

// Set stores a value under name.
func (i *Instance) Set(name string, v any) {
	i.Values[name] = v
}

// Clone returns a shallow copy whose Values map can be modified independently.
func (i *Instance) Clone() *Instance {
	return &Instance{Model: i.Model, Values: maps.Clone(i.Values)}
}
