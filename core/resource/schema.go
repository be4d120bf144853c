// Package resource builds the serialization and validation schema of a model
// and implements its two directions: Dump renders instances as JSON-ready
// maps, Load turns client input into an instance ready to be persisted.
//
// A Schema is built once per model and is immutable afterwards; it is safe
// for concurrent use.
package resource

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/vm"
	"golang.org/x/crypto/bcrypt"

	"github.com/artpar/modelapi/core/convention"
	"github.com/artpar/modelapi/core/fields"
	"github.com/artpar/modelapi/core/model"
)

// LinkField is the name of the synthesized hyperlink field.
const LinkField = "href"

// DefaultMaxDepth bounds how many levels of related objects are embedded.
const DefaultMaxDepth = 2

// Source tags the behavior of a schema field.
type Source int

const (
	SourceColumn Source = iota
	SourceDerived
	SourceNestedOne
	SourceNestedMany
	SourceLink
)

func (s Source) String() string {
	switch s {
	case SourceColumn:
		return "column"
	case SourceDerived:
		return "derived"
	case SourceNestedOne:
		return "nested-one"
	case SourceNestedMany:
		return "nested-many"
	case SourceLink:
		return "link"
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// Resolver finds the schema of a resource by name.
type Resolver interface {
	Schema(resource string) (*Schema, error)
}

// Linker turns an endpoint name and an instance key into a URL.
type Linker interface {
	Href(endpoint string, key any) (string, error)
}

// Fetcher is the read side of the persistence engine used for nested fields.
type Fetcher interface {
	FetchByKey(ctx context.Context, m *model.Model, key any) (*model.Instance, error)
	FetchWhere(ctx context.Context, m *model.Model, column string, value any) ([]*model.Instance, error)
}

// Options carries the collaborators of a schema.
type Options struct {
	Resolver Resolver
	Linker   Linker
	Fetcher  Fetcher

	// MaxDepth limits embedding; deeper relations render as keys.
	MaxDepth int

	// SecretCost is the bcrypt cost used for secret columns.
	SecretCost int
}

// Field describes one entry of a schema.
type Field struct {
	Name   string
	Source Source
	Kind   fields.Kind

	// ReadOnly fields are dumped but ignored on input.
	ReadOnly bool
	// WriteOnly fields are loaded but never dumped.
	WriteOnly bool
	Required  bool
	Nullable  bool

	// Column is the backing column; for nested-one fields the foreign key.
	Column *model.Column
	Nested *model.NestedField

	program *vm.Program
	inputs  []string
	compute func(*model.Instance) (any, error)
}

// Schema is the derived serialization schema of one model.
type Schema struct {
	name   string
	model  *model.Model
	fields []*Field
	byName map[string]*Field
	opts   Options
}

// Build derives the schema of m. It fails when a derived field names a kind
// outside the field catalog or carries an expression that does not compile.
func Build(m *model.Model, opts Options) (*Schema, error) {
	if m.PrimaryKey() == nil {
		return nil, fmt.Errorf("build %s schema: model has no primary key", m.Table)
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.SecretCost == 0 {
		opts.SecretCost = bcrypt.DefaultCost
	}

	s := &Schema{
		name:   m.ResourceName(),
		model:  m,
		byName: make(map[string]*Field),
		opts:   opts,
	}

	hidden := make(map[string]bool)
	for _, n := range m.Nested {
		if !n.Many {
			hidden[n.LocalColumn()] = true
		}
	}

	var errs []error
	add := func(f *Field) {
		if _, dup := s.byName[f.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate field %q", f.Name))
			return
		}
		s.fields = append(s.fields, f)
		s.byName[f.Name] = f
	}

	for i := range m.Columns {
		c := &m.Columns[i]
		if hidden[c.Name] {
			continue
		}
		if !c.Type.Valid() {
			errs = append(errs, fmt.Errorf("column %q: unknown type %q", c.Name, c.Type))
			continue
		}
		add(&Field{
			Name:      c.Name,
			Source:    SourceColumn,
			Kind:      c.Type.Kind(),
			ReadOnly:  c.Generated(),
			WriteOnly: c.Type == model.TypeSecret,
			Required:  c.Required(),
			Nullable:  c.Nullable,
			Column:    c,
		})
	}

	for i := range m.Derived {
		d := &m.Derived[i]
		kind, err := fields.Lookup(d.Kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("derived field %q: %w", d.Name, err))
			continue
		}
		f := &Field{Name: d.Name, Source: SourceDerived, Kind: kind, ReadOnly: true, compute: d.Compute}
		if d.Expr != "" && d.Compute == nil {
			program, err := expr.Compile(d.Expr, expr.Env(map[string]any{}), expr.AllowUndefinedVariables())
			if err != nil {
				errs = append(errs, fmt.Errorf("derived field %q: compile %q: %w", d.Name, d.Expr, err))
				continue
			}
			f.program = program
			f.inputs = columnsOf(m, program)
		}
		add(f)
	}

	for i := range m.Nested {
		n := &m.Nested[i]
		if n.Many {
			add(&Field{Name: n.Name, Source: SourceNestedMany, Nested: n})
			continue
		}
		fk, ok := m.Column(n.LocalColumn())
		if !ok {
			errs = append(errs, fmt.Errorf("nested field %q: foreign key column %q not declared", n.Name, n.LocalColumn()))
			continue
		}
		add(&Field{
			Name:     n.Name,
			Source:   SourceNestedOne,
			Required: fk.Required(),
			Nullable: fk.Nullable,
			Column:   fk,
			Nested:   n,
		})
	}

	add(&Field{Name: LinkField, Source: SourceLink, Kind: fields.MustLookup(fields.URL), ReadOnly: true})

	if len(errs) > 0 {
		return nil, fmt.Errorf("build %s schema: %w", s.name, errors.Join(errs...))
	}
	return s, nil
}

// Name returns the resource name.
func (s *Schema) Name() string { return s.name }

// Model returns the model the schema was built from.
func (s *Schema) Model() *model.Model { return s.model }

// Fields returns the schema fields in declaration order.
func (s *Schema) Fields() []*Field {
	out := make([]*Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field returns the field with the given name.
func (s *Schema) Field(name string) (*Field, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// ShowEndpoint is the endpoint name hrefs point at.
func (s *Schema) ShowEndpoint() string {
	return convention.Endpoint(s.model.Table, convention.ActionShow)
}

// Targets returns the resource names referenced by nested fields.
func (s *Schema) Targets() []string {
	var names []string
	for _, f := range s.fields {
		if f.Nested != nil {
			names = append(names, f.Nested.Resource)
		}
	}
	return names
}

// target resolves the schema a nested field embeds.
func (s *Schema) target(f *Field) (*Schema, error) {
	if s.opts.Resolver == nil {
		return nil, fmt.Errorf("%s.%s: no resolver configured", s.name, f.Name)
	}
	t, err := s.opts.Resolver.Schema(f.Nested.Resource)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", s.name, f.Name, err)
	}
	return t, nil
}

func (s *Schema) fetcher() (Fetcher, error) {
	if s.opts.Fetcher == nil {
		return nil, fmt.Errorf("%s: no fetcher configured", s.name)
	}
	return s.opts.Fetcher, nil
}

// columnRefs collects the identifiers an expression reads.
type columnRefs []string

func (c *columnRefs) Visit(node *ast.Node) {
	if id, ok := (*node).(*ast.IdentifierNode); ok {
		*c = append(*c, id.Value)
	}
}

// columnsOf lists the columns of m referenced by program.
func columnsOf(m *model.Model, program *vm.Program) []string {
	var refs columnRefs
	node := program.Node()
	ast.Walk(&node, &refs)

	var cols []string
	for _, name := range refs {
		if _, ok := m.Column(name); ok && !slices.Contains(cols, name) {
			cols = append(cols, name)
		}
	}
	return cols
}
