package resource

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/expr-lang/expr"

	"github.com/artpar/modelapi/core/model"
)

// projection restricts which fields of an embedded object are rendered.
type projection struct {
	only    []string
	exclude []string
}

func projectionOf(n *model.NestedField) *projection {
	if len(n.Only) == 0 && len(n.Exclude) == 0 {
		return nil
	}
	return &projection{only: n.Only, exclude: n.Exclude}
}

func (p *projection) includes(name string) bool {
	if p == nil {
		return true
	}
	if len(p.only) > 0 && !slices.Contains(p.only, name) {
		return false
	}
	return !slices.Contains(p.exclude, name)
}

// Dump renders one instance.
func (s *Schema) Dump(ctx context.Context, inst *model.Instance) (map[string]any, error) {
	return s.dump(ctx, inst, 0, nil)
}

// DumpMany renders a sequence of instances. The result is never nil.
func (s *Schema) DumpMany(ctx context.Context, insts []*model.Instance) ([]map[string]any, error) {
	return s.dumpMany(ctx, insts, 0, nil)
}

func (s *Schema) dumpMany(ctx context.Context, insts []*model.Instance, depth int, p *projection) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(insts))
	for _, inst := range insts {
		obj, err := s.dump(ctx, inst, depth, p)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

func (s *Schema) dump(ctx context.Context, inst *model.Instance, depth int, p *projection) (map[string]any, error) {
	out := make(map[string]any, len(s.fields))

	for _, f := range s.fields {
		if f.WriteOnly || !p.includes(f.Name) {
			continue
		}

		var (
			v   any
			err error
		)
		switch f.Source {
		case SourceColumn:
			v, err = f.Kind.Serialize(inst.Values[f.Name])
		case SourceDerived:
			v, err = s.derive(f, inst)
		case SourceNestedOne:
			v, err = s.dumpOne(ctx, f, inst, depth)
		case SourceNestedMany:
			v, err = s.dumpRelated(ctx, f, inst, depth)
		case SourceLink:
			v, err = s.href(inst)
		}
		if err != nil {
			return nil, fmt.Errorf("dump %s.%s: %w", s.name, f.Name, err)
		}
		out[f.Name] = v
	}

	return out, nil
}

func (s *Schema) derive(f *Field, inst *model.Instance) (any, error) {
	var (
		v   any
		err error
	)
	switch {
	case f.compute != nil:
		v, err = f.compute(inst)
	case f.program != nil:
		v, err = expr.Run(f.program, maps.Clone(inst.Values))
		if err != nil && readsNull(f, inst) {
			return nil, nil
		}
	default:
		v = inst.Values[f.Name]
	}
	if err != nil {
		return nil, err
	}
	return f.Kind.Serialize(v)
}

// readsNull reports whether an expression input of f is null in inst.
// A failing expression over a null input renders as null.
func readsNull(f *Field, inst *model.Instance) bool {
	for _, name := range f.inputs {
		if inst.Values[name] == nil {
			return true
		}
	}
	return false
}

func (s *Schema) href(inst *model.Instance) (any, error) {
	key := inst.Key()
	if key == nil || s.opts.Linker == nil {
		return nil, nil
	}
	rendered, err := renderKey(s, key)
	if err != nil {
		return nil, err
	}
	return s.opts.Linker.Href(s.ShowEndpoint(), rendered)
}

// renderKey renders a related key with the target's primary key kind.
func renderKey(t *Schema, key any) (any, error) {
	return t.model.PrimaryKey().Type.Kind().Serialize(key)
}

func (s *Schema) dumpOne(ctx context.Context, f *Field, inst *model.Instance, depth int) (any, error) {
	key := inst.Values[f.Column.Name]
	if key == nil {
		return nil, nil
	}
	t, err := s.target(f)
	if err != nil {
		return nil, err
	}
	if depth+1 > s.opts.MaxDepth {
		return renderKey(t, key)
	}

	fetch, err := s.fetcher()
	if err != nil {
		return nil, err
	}
	related, err := fetch.FetchByKey(ctx, t.model, key)
	if err != nil {
		return nil, err
	}
	if related == nil {
		return nil, nil
	}
	return t.dump(ctx, related, depth+1, projectionOf(f.Nested))
}

func (s *Schema) dumpRelated(ctx context.Context, f *Field, inst *model.Instance, depth int) (any, error) {
	key := inst.Key()
	if key == nil {
		return []any{}, nil
	}
	t, err := s.target(f)
	if err != nil {
		return nil, err
	}
	fetch, err := s.fetcher()
	if err != nil {
		return nil, err
	}
	related, err := fetch.FetchWhere(ctx, t.model, f.Nested.ForeignColumn(s.model), key)
	if err != nil {
		return nil, err
	}

	if depth+1 > s.opts.MaxDepth {
		keys := make([]any, 0, len(related))
		for _, r := range related {
			k, err := renderKey(t, r.Key())
			if err != nil {
				return nil, err
			}
			keys = append(keys, k)
		}
		return keys, nil
	}
	return t.dumpMany(ctx, related, depth+1, projectionOf(f.Nested))
}
