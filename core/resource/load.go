package resource

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/artpar/modelapi/core/model"
)

// Load validates raw client input and applies it to a copy of existing, or to
// a new instance when existing is nil. With partial set, fields missing from
// raw are left untouched and required-field checks are skipped.
//
// Loading runs in two phases. Phase A expands scalar references of to-one
// relationships into the related object and rejects any to-many relationship
// in the input. Phase B rejects unknown keys and coerces every field,
// accumulating all problems into a single *ValidationError.
//
// The returned instance is not persisted.
func (s *Schema) Load(ctx context.Context, raw any, existing *model.Instance, partial bool) (*model.Instance, error) {
	data, ok := raw.(map[string]any)
	if !ok {
		verr := &ValidationError{}
		verr.add(SchemaField, ErrInvalidInput, msgInvalidInput)
		return nil, verr
	}

	verr := &ValidationError{}

	input, skip, err := s.expand(ctx, data, verr)
	if err != nil {
		return nil, err
	}

	for _, key := range slices.Sorted(maps.Keys(data)) {
		if _, ok := s.byName[key]; !ok {
			verr.add(key, ErrUnknownField, unknownFieldMessage(key))
		}
	}

	var inst *model.Instance
	if existing != nil {
		inst = existing.Clone()
	} else {
		inst = model.NewInstance(s.model)
	}
	creating := existing == nil
	checkRequired := creating && !partial

	for _, f := range s.fields {
		if skip[f.Name] {
			continue
		}
		v, present := input[f.Name]

		switch f.Source {
		case SourceColumn:
			if f.ReadOnly {
				continue
			}
			if !present {
				if checkRequired {
					s.applyDefault(f, inst, verr)
				}
				continue
			}
			val, ok := s.loadColumn(f, v, verr)
			if !ok {
				continue
			}
			if f.Column.PrimaryKey && !creating && val != existing.Key() {
				verr.add(f.Name, ErrImmutableKey, msgImmutableKey)
				continue
			}
			inst.Values[f.Name] = val

		case SourceNestedOne:
			if !present {
				if checkRequired && f.Required {
					verr.add(f.Name, ErrRequired, msgRequired)
				}
				continue
			}
			if v == nil {
				if !f.Nullable {
					verr.add(f.Name, ErrNull, msgNull)
					continue
				}
				inst.Values[f.Column.Name] = nil
				continue
			}
			key, ok, err := s.loadReference(ctx, f, v, verr)
			if err != nil {
				return nil, err
			}
			if ok {
				inst.Values[f.Column.Name] = key
			}
		}
	}

	if len(verr.Errors) > 0 {
		return nil, verr
	}
	return inst, nil
}

// expand is Phase A. It returns a copy of data where scalar to-one references
// are replaced by the related object, and the set of fields that already
// failed and must not be validated again.
func (s *Schema) expand(ctx context.Context, data map[string]any, verr *ValidationError) (map[string]any, map[string]bool, error) {
	input := maps.Clone(data)
	skip := make(map[string]bool)

	for _, f := range s.fields {
		v, present := data[f.Name]
		if !present {
			continue
		}

		switch f.Source {
		case SourceNestedMany:
			verr.add(f.Name, ErrUnsupportedRelationshipMutation, relationshipMessage(s.name, f.Nested.Resource))
			skip[f.Name] = true

		case SourceNestedOne:
			if v == nil {
				continue
			}
			if _, isObject := v.(map[string]any); isObject {
				continue
			}

			t, err := s.target(f)
			if err != nil {
				return nil, nil, err
			}
			key, err := t.model.CoerceKey(v)
			if err != nil {
				verr.add(f.Name, ErrInvalidValue, err.Error())
				skip[f.Name] = true
				continue
			}
			related, err := s.fetchRelated(ctx, t, key)
			if err != nil {
				return nil, nil, err
			}
			if related == nil {
				verr.add(f.Name, ErrRelatedNotFound, relatedMissingMessage(t, key))
				skip[f.Name] = true
				continue
			}

			// Only one level is expanded: the related object's own
			// relations render as keys.
			obj, err := t.dump(ctx, related, t.opts.MaxDepth, projectionOf(f.Nested))
			if err != nil {
				return nil, nil, err
			}
			if pk := t.model.PrimaryKey(); obj[pk.Name] == nil {
				obj[pk.Name] = key
			}
			input[f.Name] = obj
		}
	}

	return input, skip, nil
}

func (s *Schema) fetchRelated(ctx context.Context, t *Schema, key any) (*model.Instance, error) {
	fetch, err := s.fetcher()
	if err != nil {
		return nil, err
	}
	related, err := fetch.FetchByKey(ctx, t.model, key)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %v: %w", t.name, key, err)
	}
	return related, nil
}

func relatedMissingMessage(t *Schema, key any) string {
	return fmt.Sprintf("Related %s with key %v does not exist.", t.name, key)
}

// loadReference validates an expanded (or client-supplied) related object and
// returns the key it identifies. The related row itself is not modified.
func (s *Schema) loadReference(ctx context.Context, f *Field, v any, verr *ValidationError) (any, bool, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		verr.add(f.Name, ErrInvalidValue, "Not a valid mapping type.")
		return nil, false, nil
	}
	t, err := s.target(f)
	if err != nil {
		return nil, false, err
	}

	failed := false
	for _, k := range slices.Sorted(maps.Keys(obj)) {
		if _, ok := t.byName[k]; !ok {
			verr.add(f.Name+"."+k, ErrUnknownField, unknownFieldMessage(k))
			failed = true
		}
	}

	pk := t.model.PrimaryKey()
	raw, present := obj[pk.Name]
	if !present || raw == nil {
		verr.add(f.Name+"."+pk.Name, ErrRequired, msgRequired)
		return nil, false, nil
	}
	key, err := t.model.CoerceKey(raw)
	if err != nil {
		verr.add(f.Name+"."+pk.Name, ErrInvalidValue, err.Error())
		return nil, false, nil
	}
	if failed {
		return nil, false, nil
	}

	related, err := s.fetchRelated(ctx, t, key)
	if err != nil {
		return nil, false, err
	}
	if related == nil {
		verr.add(f.Name, ErrRelatedNotFound, relatedMissingMessage(t, key))
		return nil, false, nil
	}
	return key, true, nil
}

func (s *Schema) loadColumn(f *Field, v any, verr *ValidationError) (any, bool) {
	if v == nil {
		if !f.Nullable {
			verr.add(f.Name, ErrNull, msgNull)
			return nil, false
		}
		return nil, true
	}

	val, err := f.Kind.Deserialize(v)
	if err != nil {
		verr.add(f.Name, ErrInvalidValue, err.Error())
		return nil, false
	}

	if str, ok := val.(string); ok && f.Column.MaxLength > 0 && utf8.RuneCountInString(str) > f.Column.MaxLength {
		verr.add(f.Name, ErrInvalidValue, fmt.Sprintf("Longer than maximum length %d.", f.Column.MaxLength))
		return nil, false
	}

	if f.Column.Type == model.TypeSecret {
		hash, err := bcrypt.GenerateFromPassword([]byte(val.(string)), s.opts.SecretCost)
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			verr.add(f.Name, ErrInvalidValue, "Longer than maximum length 72.")
			return nil, false
		}
		if err != nil {
			verr.add(f.Name, ErrInvalidValue, "Not a valid secret.")
			return nil, false
		}
		return string(hash), true
	}

	return val, true
}

func (s *Schema) applyDefault(f *Field, inst *model.Instance, verr *ValidationError) {
	if f.Column.Default == nil {
		if f.Required {
			verr.add(f.Name, ErrRequired, msgRequired)
		}
		return
	}
	val, err := f.Kind.Deserialize(f.Column.Default)
	if err != nil {
		verr.add(f.Name, ErrInvalidValue, fmt.Sprintf("Invalid default: %s", err))
		return
	}
	inst.Values[f.Name] = val
}

// CheckSecret reports whether plain matches the stored hash of a secret column.
func CheckSecret(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
