// Package fields is the catalog of serializable field kinds.
//
// Model authors name a kind ("Integer", "DateTime", "Email", ...) when they
// declare derived fields, and the resource schema builder maps every persisted
// column onto one of these kinds. A Kind knows how to coerce client input into
// a normalized Go value and how to render a stored value back to JSON.
package fields

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownKind is returned by Lookup for names outside the catalog.
var ErrUnknownKind = errors.New("unknown field kind")

// Kind is a handle on one catalog entry.
type Kind struct {
	name        string
	deserialize func(any) (any, error)
	serialize   func(any) (any, error)
}

// Name returns the canonical catalog name.
func (k Kind) Name() string { return k.name }

// IsZero reports whether k is the zero Kind (not obtained from the catalog).
func (k Kind) IsZero() bool { return k.name == "" }

// Deserialize coerces a decoded JSON value into the kind's normalized value.
// nil is passed through; nullability is decided by the caller.
func (k Kind) Deserialize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return k.deserialize(v)
}

// Serialize renders a normalized (or store-provided) value for JSON output.
func (k Kind) Serialize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return k.serialize(v)
}

// Names of the catalog kinds.
const (
	Boolean  = "Boolean"
	Date     = "Date"
	DateTime = "DateTime"
	Decimal  = "Decimal"
	Dict     = "Dict"
	Email    = "Email"
	Float    = "Float"
	Integer  = "Integer"
	List     = "List"
	Number   = "Number"
	Raw      = "Raw"
	String   = "String"
	Time     = "Time"
	ULID     = "ULID"
	URL      = "URL"
	UUID     = "UUID"
)

var catalog = map[string]Kind{
	Boolean:  {Boolean, loadBool, dumpBool},
	Date:     {Date, loadDate, dumpDate},
	DateTime: {DateTime, loadDateTime, dumpDateTime},
	Decimal:  {Decimal, loadDecimal, dumpDecimal},
	Dict:     {Dict, loadDict, passthrough},
	Email:    {Email, loadEmail, dumpString},
	Float:    {Float, loadFloat, dumpFloat},
	Integer:  {Integer, loadInt, dumpInt},
	List:     {List, loadList, passthrough},
	Number:   {Number, loadFloat, dumpFloat},
	Raw:      {Raw, passthrough, passthrough},
	String:   {String, loadString, dumpString},
	Time:     {Time, loadTime, dumpTime},
	ULID:     {ULID, loadULID, dumpString},
	URL:      {URL, loadURL, dumpString},
	UUID:     {UUID, loadUUID, dumpString},
}

// aliases accepted by Lookup in addition to the canonical names.
var aliases = map[string]string{
	"Bool":  Boolean,
	"Int":   Integer,
	"Str":   String,
	"Url":   URL,
	"Field": Raw,
}

// Lookup returns the kind registered under name.
func Lookup(name string) (Kind, error) {
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	k, ok := catalog[name]
	if !ok {
		return Kind{}, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	return k, nil
}

// MustLookup is like Lookup but panics on unknown names.
// Intended for package-level tables built from the constants above.
func MustLookup(name string) Kind {
	k, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return k
}

// Names returns every accepted name (canonical and alias), sorted.
func Names() []string {
	names := make([]string, 0, len(catalog)+len(aliases))
	for name := range catalog {
		names = append(names, name)
	}
	for alias := range aliases {
		names = append(names, alias)
	}
	sort.Strings(names)
	return names
}
