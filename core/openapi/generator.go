// Package openapi generates the OpenAPI 3.0 document of the registered
// resources and publishes it for the swagger UI.
package openapi

import (
	"fmt"
	"net/http"

	"github.com/swaggest/jsonschema-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/artpar/modelapi/core/api"
	"github.com/artpar/modelapi/core/controller"
	"github.com/artpar/modelapi/core/fields"
	"github.com/artpar/modelapi/core/registry"
	"github.com/artpar/modelapi/core/resource"
	"github.com/artpar/modelapi/pkg/envelope"
)

// Info is the document metadata.
type Info struct {
	Title       string
	Version     string
	Description string
}

// DefaultInfo is used when no title is configured.
var DefaultInfo = Info{
	Title:       "modelapi",
	Version:     "1.0.0",
	Description: "REST resources generated from model descriptions",
}

const (
	errorSchema = "Error"
	inputSuffix = "Input"
	refPrefix   = "#/components/schemas/"
)

// Generator builds OpenAPI documents from a registry.
type Generator struct {
	reg     *registry.Registry
	info    Info
	servers []string
}

// NewGenerator creates a generator over reg.
func NewGenerator(reg *registry.Registry, info Info) *Generator {
	if info.Title == "" {
		info.Title = DefaultInfo.Title
	}
	if info.Version == "" {
		info.Version = DefaultInfo.Version
	}
	return &Generator{reg: reg, info: info}
}

// AddServer adds a server URL.
func (g *Generator) AddServer(url string) {
	g.servers = append(g.servers, url)
}

// Generate creates the document for every registered resource.
func (g *Generator) Generate() (*openapi3.Spec, error) {
	spec := &openapi3.Spec{
		Openapi: "3.0.3",
		Info: openapi3.Info{
			Title:   g.info.Title,
			Version: g.info.Version,
		},
		Components: &openapi3.Components{
			Schemas: &openapi3.ComponentsSchemas{
				MapOfSchemaOrRefValues: make(map[string]openapi3.SchemaOrRef),
			},
		},
	}
	if g.info.Description != "" {
		spec.Info.Description = ptr(g.info.Description)
	}
	for _, url := range g.servers {
		spec.Servers = append(spec.Servers, openapi3.Server{URL: url})
	}

	errSchema, err := envelopeSchema()
	if err != nil {
		return nil, err
	}
	schemas := spec.Components.Schemas.MapOfSchemaOrRefValues
	schemas[errorSchema] = errSchema

	for _, entry := range g.reg.Entries() {
		s := entry.Schema
		spec.Tags = append(spec.Tags, openapi3.Tag{Name: s.Name()})

		output, input, err := g.resourceSchemas(s)
		if err != nil {
			return nil, err
		}
		schemas[s.Name()] = output
		schemas[s.Name()+inputSuffix] = input

		for _, route := range entry.Routes {
			for _, method := range route.Methods {
				op := operation(s.Name(), api.Operation(route.Endpoint, method))
				if err := spec.AddOperation(method, route.Pattern, op); err != nil {
					return nil, fmt.Errorf("add %s %s: %w", method, route.Pattern, err)
				}
			}
		}
	}
	return spec, nil
}

// envelopeSchema reflects the error envelope.
func envelopeSchema() (openapi3.SchemaOrRef, error) {
	var reflector jsonschema.Reflector
	js, err := reflector.Reflect(envelope.Error{}, jsonschema.InlineRefs)
	if err != nil {
		return openapi3.SchemaOrRef{}, fmt.Errorf("reflect error envelope: %w", err)
	}
	var out openapi3.SchemaOrRef
	out.FromJSONSchema(js.ToSchemaOrBool())
	return out, nil
}

// resourceSchemas returns the output and input schemas of s.
func (g *Generator) resourceSchemas(s *resource.Schema) (openapi3.SchemaOrRef, openapi3.SchemaOrRef, error) {
	output := &openapi3.Schema{
		Type:       ptr(openapi3.SchemaTypeObject),
		Properties: make(map[string]openapi3.SchemaOrRef),
	}
	input := &openapi3.Schema{
		Type:       ptr(openapi3.SchemaTypeObject),
		Properties: make(map[string]openapi3.SchemaOrRef),
	}

	for _, f := range s.Fields() {
		prop, err := g.fieldSchema(f)
		if err != nil {
			return openapi3.SchemaOrRef{}, openapi3.SchemaOrRef{}, fmt.Errorf("%s.%s: %w", s.Name(), f.Name, err)
		}
		if !f.WriteOnly {
			out := prop
			if f.ReadOnly {
				out = withReadOnly(prop)
			}
			output.Properties[f.Name] = out
		}
		if f.ReadOnly {
			continue
		}
		in := prop
		if f.Source == resource.SourceNestedOne {
			if in, err = g.nestedInput(f); err != nil {
				return openapi3.SchemaOrRef{}, openapi3.SchemaOrRef{}, fmt.Errorf("%s.%s: %w", s.Name(), f.Name, err)
			}
		}
		if f.Source == resource.SourceNestedMany {
			continue
		}
		input.Properties[f.Name] = in
		if f.Required {
			input.Required = append(input.Required, f.Name)
		}
	}
	return openapi3.SchemaOrRef{Schema: output}, openapi3.SchemaOrRef{Schema: input}, nil
}

func (g *Generator) fieldSchema(f *resource.Field) (openapi3.SchemaOrRef, error) {
	switch f.Source {
	case resource.SourceNestedOne:
		if !f.Nullable {
			return ref(f.Nested.Resource), nil
		}
		return openapi3.SchemaOrRef{Schema: &openapi3.Schema{
			Nullable: ptr(true),
			AllOf:    []openapi3.SchemaOrRef{ref(f.Nested.Resource)},
		}}, nil
	case resource.SourceNestedMany:
		items := ref(f.Nested.Resource)
		return openapi3.SchemaOrRef{Schema: &openapi3.Schema{
			Type:  ptr(openapi3.SchemaTypeArray),
			Items: &items,
		}}, nil
	}

	schema := kindSchema(f.Kind)
	if f.Nullable {
		schema.Nullable = ptr(true)
	}
	if f.Column != nil && f.Column.MaxLength > 0 {
		schema.MaxLength = ptr(int64(f.Column.MaxLength))
	}
	return openapi3.SchemaOrRef{Schema: schema}, nil
}

// nestedInput accepts either the related key or an object carrying it.
func (g *Generator) nestedInput(f *resource.Field) (openapi3.SchemaOrRef, error) {
	target, err := g.reg.Schema(f.Nested.Resource)
	if err != nil {
		return openapi3.SchemaOrRef{}, err
	}
	key := kindSchema(target.Model().PrimaryKey().Type.Kind())
	schema := &openapi3.Schema{
		OneOf: []openapi3.SchemaOrRef{{Schema: key}, ref(target.Name())},
	}
	if f.Nullable {
		schema.Nullable = ptr(true)
	}
	return openapi3.SchemaOrRef{Schema: schema}, nil
}

// kindSchema maps a catalog kind onto a JSON type and format.
func kindSchema(k fields.Kind) *openapi3.Schema {
	s := &openapi3.Schema{}
	switch k.Name() {
	case fields.Integer:
		s.Type, s.Format = ptr(openapi3.SchemaTypeInteger), ptr("int64")
	case fields.Float, fields.Number:
		s.Type, s.Format = ptr(openapi3.SchemaTypeNumber), ptr("double")
	case fields.Decimal:
		s.Type, s.Format = ptr(openapi3.SchemaTypeString), ptr("decimal")
	case fields.Boolean:
		s.Type = ptr(openapi3.SchemaTypeBoolean)
	case fields.String:
		s.Type = ptr(openapi3.SchemaTypeString)
	case fields.Email:
		s.Type, s.Format = ptr(openapi3.SchemaTypeString), ptr("email")
	case fields.URL:
		s.Type, s.Format = ptr(openapi3.SchemaTypeString), ptr("uri")
	case fields.UUID:
		s.Type, s.Format = ptr(openapi3.SchemaTypeString), ptr("uuid")
	case fields.ULID:
		s.Type, s.Format = ptr(openapi3.SchemaTypeString), ptr("ulid")
	case fields.Date:
		s.Type, s.Format = ptr(openapi3.SchemaTypeString), ptr("date")
	case fields.DateTime:
		s.Type, s.Format = ptr(openapi3.SchemaTypeString), ptr("date-time")
	case fields.Time:
		s.Type, s.Format = ptr(openapi3.SchemaTypeString), ptr("time")
	case fields.Dict:
		s.Type = ptr(openapi3.SchemaTypeObject)
	case fields.List:
		s.Type = ptr(openapi3.SchemaTypeArray)
		s.Items = &openapi3.SchemaOrRef{Schema: &openapi3.Schema{}}
	}
	return s
}

func withReadOnly(s openapi3.SchemaOrRef) openapi3.SchemaOrRef {
	if s.Schema == nil {
		return s
	}
	cp := *s.Schema
	cp.ReadOnly = ptr(true)
	return openapi3.SchemaOrRef{Schema: &cp}
}

// operation describes one controller operation of a resource.
func operation(resourceName, op string) openapi3.Operation {
	def := openapi3.Operation{
		Tags: []string{resourceName},
		ID:   ptr(op + resourceName),
		Responses: openapi3.Responses{
			MapOfResponseOrRefValues: make(map[string]openapi3.ResponseOrRef),
		},
	}
	responses := def.Responses.MapOfResponseOrRefValues

	switch op {
	case controller.OpList:
		def.Summary = ptr("List " + resourceName)
		items := ref(resourceName)
		responses["200"] = jsonResponse("OK", openapi3.SchemaOrRef{Schema: &openapi3.Schema{
			Type:  ptr(openapi3.SchemaTypeArray),
			Items: &items,
		}})
	case controller.OpShow:
		def.Summary = ptr("Show " + resourceName)
		responses["200"] = jsonResponse("OK", ref(resourceName))
	case controller.OpCreate:
		def.Summary = ptr("Create " + resourceName)
		def.RequestBody = requestBody(resourceName)
		created := jsonResponse("Created", ref(resourceName))
		created.Response.Headers = map[string]openapi3.HeaderOrRef{
			"Location": {Header: &openapi3.Header{
				Schema: &openapi3.SchemaOrRef{Schema: &openapi3.Schema{Type: ptr(openapi3.SchemaTypeString)}},
			}},
		}
		responses["201"] = created
		responses["400"] = errorResponse(http.StatusBadRequest)
	case controller.OpReplace:
		def.Summary = ptr("Update " + resourceName)
		def.RequestBody = requestBody(resourceName)
		responses["200"] = jsonResponse("OK", ref(resourceName))
		responses["400"] = errorResponse(http.StatusBadRequest)
	case controller.OpDelete:
		def.Summary = ptr("Delete " + resourceName)
		responses["200"] = openapi3.ResponseOrRef{Response: &openapi3.Response{Description: "Deleted"}}
	}

	if op != controller.OpList && op != controller.OpCreate {
		def.Parameters = []openapi3.ParameterOrRef{{Parameter: &openapi3.Parameter{
			Name:     "id",
			In:       openapi3.ParameterInPath,
			Required: ptr(true),
			Schema:   &openapi3.SchemaOrRef{Schema: &openapi3.Schema{Type: ptr(openapi3.SchemaTypeString)}},
		}}}
		responses["404"] = errorResponse(http.StatusNotFound)
	}
	responses["500"] = errorResponse(http.StatusInternalServerError)
	return def
}

func requestBody(resourceName string) *openapi3.RequestBodyOrRef {
	schema := ref(resourceName + inputSuffix)
	return &openapi3.RequestBodyOrRef{RequestBody: &openapi3.RequestBody{
		Required: ptr(true),
		Content: map[string]openapi3.MediaType{
			envelope.ContentType: {Schema: &schema},
		},
	}}
}

func jsonResponse(description string, schema openapi3.SchemaOrRef) openapi3.ResponseOrRef {
	return openapi3.ResponseOrRef{Response: &openapi3.Response{
		Description: description,
		Content: map[string]openapi3.MediaType{
			envelope.ContentType: {Schema: &schema},
		},
	}}
}

func errorResponse(status int) openapi3.ResponseOrRef {
	return jsonResponse(envelope.DefaultMessage(status), ref(errorSchema))
}

func ref(name string) openapi3.SchemaOrRef {
	return openapi3.SchemaOrRef{SchemaReference: &openapi3.SchemaReference{Ref: refPrefix + name}}
}

func ptr[T any](v T) *T { return &v }
