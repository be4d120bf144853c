// Package introspect provides schema introspection endpoints.
// Clients can discover the registered resources, their routes and the JSON
// Schema of what each resource accepts and renders.
package introspect

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/artpar/modelapi/core/fields"
	"github.com/artpar/modelapi/core/registry"
	"github.com/artpar/modelapi/core/resource"
	"github.com/artpar/modelapi/pkg/envelope"
)

// Summary describes a registered resource.
type Summary struct {
	Resource string `json:"resource"`
	Table    string `json:"table"`
	Prefix   string `json:"prefix"`
}

// Route is one URL rule of a resource.
type Route struct {
	Endpoint string   `json:"endpoint"`
	Pattern  string   `json:"pattern"`
	Methods  []string `json:"methods"`
}

// ResourceSchema is the full description of a resource.
type ResourceSchema struct {
	Summary
	Routes []Route             `json:"routes"`
	Output *jsonschema.Schema `json:"output"`
	Input  *jsonschema.Schema `json:"input"`
}

// Handler handles schema introspection requests.
type Handler struct {
	reg *registry.Registry
}

// NewHandler creates a new schema handler.
func NewHandler(reg *registry.Registry) *Handler {
	return &Handler{reg: reg}
}

// Routes returns a router with all schema routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.listResources)
	r.Get("/{resource}", h.getResource)
	return r
}

// listResources handles GET /_schema
func (h *Handler) listResources(w http.ResponseWriter, r *http.Request) {
	entries := h.reg.Entries()
	summaries := make([]Summary, 0, len(entries))
	for _, e := range entries {
		summaries = append(summaries, summarize(e))
	}
	envelope.WriteJSON(w, http.StatusOK, map[string]any{
		"resources": summaries,
		"count":     len(summaries),
	})
}

// getResource handles GET /_schema/{resource}
func (h *Handler) getResource(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.lookup(chi.URLParam(r, "resource"))
	if !ok {
		envelope.WriteStatus(w, http.StatusNotFound)
		return
	}

	resp, err := h.Describe(entry)
	if err != nil {
		envelope.WriteError(w, http.StatusInternalServerError, "", nil)
		return
	}
	envelope.WriteJSON(w, http.StatusOK, resp)
}

// lookup accepts a resource name or a table name.
func (h *Handler) lookup(name string) (*registry.Entry, bool) {
	if e, ok := h.reg.Get(name); ok {
		return e, true
	}
	for _, e := range h.reg.Entries() {
		if e.Schema.Model().Table == name {
			return e, true
		}
	}
	return nil, false
}

// Describe builds the description of a registered resource.
func (h *Handler) Describe(e *registry.Entry) (*ResourceSchema, error) {
	input, err := InputSchema(h.reg, e.Schema)
	if err != nil {
		return nil, err
	}
	routes := make([]Route, 0, len(e.Routes))
	for _, rt := range e.Routes {
		routes = append(routes, Route{Endpoint: rt.Endpoint, Pattern: rt.Pattern, Methods: rt.Methods})
	}
	return &ResourceSchema{
		Summary: summarize(e),
		Routes:  routes,
		Output:  OutputSchema(e.Schema),
		Input:   input,
	}, nil
}

func summarize(e *registry.Entry) Summary {
	return Summary{
		Resource: e.Schema.Name(),
		Table:    e.Schema.Model().Table,
		Prefix:   e.Prefix,
	}
}

// OutputSchema describes the objects a resource renders.
func OutputSchema(s *resource.Schema) *jsonschema.Schema {
	out := &jsonschema.Schema{
		Title:      s.Name(),
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema),
	}
	for _, f := range s.Fields() {
		if f.WriteOnly {
			continue
		}
		var prop *jsonschema.Schema
		switch f.Source {
		case resource.SourceNestedOne:
			prop = &jsonschema.Schema{Title: f.Nested.Resource, Types: []string{"object", "integer", "string", "null"}}
		case resource.SourceNestedMany:
			prop = &jsonschema.Schema{
				Type:  "array",
				Items: &jsonschema.Schema{Title: f.Nested.Resource, Types: []string{"object", "integer", "string"}},
			}
		default:
			prop = kindSchema(f.Kind, false)
			if f.Nullable || f.Source == resource.SourceDerived {
				nullable(prop)
			}
		}
		prop.ReadOnly = f.ReadOnly
		out.Properties[f.Name] = prop
	}
	return out
}

// InputSchema describes the bodies a resource accepts on create. Unknown
// properties are rejected.
func InputSchema(reg *registry.Registry, s *resource.Schema) (*jsonschema.Schema, error) {
	in := &jsonschema.Schema{
		Title:                s.Name(),
		Type:                 "object",
		Properties:           make(map[string]*jsonschema.Schema),
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
	for _, f := range s.Fields() {
		if f.ReadOnly {
			// accepted and ignored so rendered objects can be submitted back
			in.Properties[f.Name] = &jsonschema.Schema{ReadOnly: true}
			continue
		}
		var prop *jsonschema.Schema
		switch f.Source {
		case resource.SourceNestedMany:
			continue
		case resource.SourceNestedOne:
			target, err := reg.Schema(f.Nested.Resource)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", s.Name(), f.Name, err)
			}
			key := kindSchema(target.Model().PrimaryKey().Type.Kind(), true)
			prop = &jsonschema.Schema{
				Title: target.Name(),
				Types: append(types(key), "object"),
			}
		default:
			prop = kindSchema(f.Kind, true)
			if f.Column != nil && f.Column.MaxLength > 0 {
				n := f.Column.MaxLength
				prop.MaxLength = &n
			}
		}
		if f.Nullable {
			nullable(prop)
		}
		in.Properties[f.Name] = prop
		if f.Required {
			in.Required = append(in.Required, f.Name)
		}
	}
	return in, nil
}

// kindSchema maps a catalog kind onto JSON types. Input schemas accept
// decimals as numbers or strings.
func kindSchema(k fields.Kind, input bool) *jsonschema.Schema {
	s := &jsonschema.Schema{}
	switch k.Name() {
	case fields.Integer:
		s.Type = "integer"
	case fields.Float, fields.Number:
		s.Type = "number"
	case fields.Decimal:
		s.Type, s.Format = "string", "decimal"
		if input {
			s.Type, s.Types = "", []string{"number", "string"}
		}
	case fields.Boolean:
		s.Type = "boolean"
	case fields.String:
		s.Type = "string"
	case fields.Email:
		s.Type, s.Format = "string", "email"
	case fields.URL:
		s.Type, s.Format = "string", "uri"
	case fields.UUID:
		s.Type, s.Format = "string", "uuid"
	case fields.ULID:
		s.Type, s.Format = "string", "ulid"
	case fields.Date:
		s.Type, s.Format = "string", "date"
	case fields.DateTime:
		s.Type, s.Format = "string", "date-time"
	case fields.Time:
		s.Type, s.Format = "string", "time"
	case fields.Dict:
		s.Type = "object"
	case fields.List:
		s.Type = "array"
	}
	return s
}

func types(s *jsonschema.Schema) []string {
	if s.Type != "" {
		return []string{s.Type}
	}
	return append([]string(nil), s.Types...)
}

func nullable(s *jsonschema.Schema) {
	t := types(s)
	if len(t) == 0 {
		return
	}
	s.Type, s.Types = "", append(t, "null")
}
