// Package controller translates HTTP requests on one resource into store and
// schema operations: list, show, create, replace (partial) and delete.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/artpar/modelapi/core/convention"
	"github.com/artpar/modelapi/core/model"
	"github.com/artpar/modelapi/core/resource"
	"github.com/artpar/modelapi/core/storage"
	"github.com/artpar/modelapi/pkg/envelope"
)

// DefaultMaxBodyBytes bounds request bodies.
const DefaultMaxBodyBytes int64 = 1 << 20

// MsgCannotParse is the message of a 400 caused by an unreadable body.
const MsgCannotParse = "Cannot parse JSON"

// Operation names, also used as metric and span labels.
const (
	OpList    = "list"
	OpShow    = "show"
	OpCreate  = "create"
	OpReplace = "replace"
	OpDelete  = "delete"
)

// Reasons reported to the Observer.
const (
	ReasonMalformedBody        = "malformed_body"
	ReasonUnknownField         = "unknown_field"
	ReasonRelationshipMutation = "relationship_mutation"
	ReasonInvalidValue         = "invalid_value"
)

// Observer is notified of rejected request bodies.
type Observer interface {
	ValidationFailed(resource, reason string)
}

// ParamFunc extracts a path parameter from a routed request.
type ParamFunc func(r *http.Request, name string) string

// Controller serves one resource.
type Controller struct {
	schema   *resource.Schema
	store    storage.Store
	param    ParamFunc
	logger   zerolog.Logger
	tracer   trace.Tracer
	observer Observer
	maxBody  int64
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger used for unexpected failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithParam sets how the item key is read from the request.
// The default reads net/http pattern wildcards (Request.PathValue).
func WithParam(fn ParamFunc) Option {
	return func(c *Controller) { c.param = fn }
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) { c.tracer = t }
}

// WithObserver registers an observer of validation failures.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithMaxBodyBytes limits the size of request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// New creates a controller for s backed by store.
func New(s *resource.Schema, store storage.Store, opts ...Option) *Controller {
	c := &Controller{
		schema:  s,
		store:   store,
		param:   func(r *http.Request, name string) string { return r.PathValue(name) },
		logger:  zerolog.Nop(),
		tracer:  otel.Tracer("github.com/artpar/modelapi/core/controller"),
		maxBody: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("resource", s.Name()).Logger()
	return c
}

// Schema returns the schema served by c.
func (c *Controller) Schema() *resource.Schema { return c.schema }

func (c *Controller) model() *model.Model { return c.schema.Model() }

// Handler returns the handler of an operation.
func (c *Controller) Handler(op string) http.HandlerFunc {
	switch op {
	case OpList:
		return c.List
	case OpShow:
		return c.Show
	case OpCreate:
		return c.Create
	case OpReplace:
		return c.Replace
	case OpDelete:
		return c.Delete
	}
	return func(w http.ResponseWriter, r *http.Request) {
		envelope.WriteStatus(w, http.StatusMethodNotAllowed)
	}
}

// Item dispatches GET, PUT and DELETE on the item URL.
func (c *Controller) Item(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		c.Show(w, r)
	case http.MethodPut:
		c.Replace(w, r)
	case http.MethodDelete:
		c.Delete(w, r)
	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		envelope.WriteStatus(w, http.StatusMethodNotAllowed)
	}
}

func (c *Controller) start(r *http.Request, op string) (context.Context, trace.Span) {
	return c.tracer.Start(r.Context(), c.schema.Name()+"."+op,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("modelapi.resource", c.schema.Name()),
			attribute.String("modelapi.operation", op),
		),
	)
}

// List responds with every instance of the resource.
func (c *Controller) List(w http.ResponseWriter, r *http.Request) {
	ctx, span := c.start(r, OpList)
	defer span.End()

	insts, err := c.store.FetchAll(ctx, c.model())
	if err != nil {
		c.internal(w, span, OpList, err)
		return
	}
	out, err := c.schema.DumpMany(ctx, insts)
	if err != nil {
		c.internal(w, span, OpList, err)
		return
	}
	span.SetAttributes(attribute.Int("modelapi.count", len(out)))
	envelope.WriteJSON(w, http.StatusOK, out)
}

// Show responds with the instance named by the URL.
func (c *Controller) Show(w http.ResponseWriter, r *http.Request) {
	ctx, span := c.start(r, OpShow)
	defer span.End()

	inst, ok := c.lookup(ctx, w, r, span, OpShow)
	if !ok {
		return
	}
	c.render(ctx, w, span, OpShow, http.StatusOK, inst)
}

// Create validates the body, inserts the new instance and responds 201 with
// a Location header pointing at it.
func (c *Controller) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := c.start(r, OpCreate)
	defer span.End()

	raw, ok := c.decode(w, r, span)
	if !ok {
		return
	}
	inst, err := c.schema.Load(ctx, raw, nil, false)
	if err != nil {
		c.rejected(w, span, OpCreate, err)
		return
	}

	err = storage.WithTx(ctx, c.store, func(tx storage.Tx) error {
		return tx.Insert(ctx, inst)
	})
	if err != nil {
		c.internal(w, span, OpCreate, err)
		return
	}

	out, err := c.schema.Dump(ctx, inst)
	if err != nil {
		c.internal(w, span, OpCreate, err)
		return
	}
	if href, ok := out[resource.LinkField].(string); ok {
		w.Header().Set("Location", href)
	}
	c.logger.Debug().Interface("key", inst.Key()).Msg("created")
	envelope.WriteJSON(w, http.StatusCreated, out)
}

// Replace applies the fields present in the body to the instance named by
// the URL. Fields absent from the body are left unchanged.
func (c *Controller) Replace(w http.ResponseWriter, r *http.Request) {
	ctx, span := c.start(r, OpReplace)
	defer span.End()

	existing, ok := c.lookup(ctx, w, r, span, OpReplace)
	if !ok {
		return
	}
	raw, ok := c.decode(w, r, span)
	if !ok {
		return
	}
	inst, err := c.schema.Load(ctx, raw, existing, true)
	if err != nil {
		c.rejected(w, span, OpReplace, err)
		return
	}

	err = storage.WithTx(ctx, c.store, func(tx storage.Tx) error {
		return tx.Update(ctx, inst)
	})
	if errors.Is(err, storage.ErrNotFound) {
		// deleted concurrently
		envelope.WriteStatus(w, http.StatusNotFound)
		return
	}
	if err != nil {
		c.internal(w, span, OpReplace, err)
		return
	}
	c.render(ctx, w, span, OpReplace, http.StatusOK, inst)
}

// Delete removes the instance named by the URL and responds with an empty body.
func (c *Controller) Delete(w http.ResponseWriter, r *http.Request) {
	ctx, span := c.start(r, OpDelete)
	defer span.End()

	inst, ok := c.lookup(ctx, w, r, span, OpDelete)
	if !ok {
		return
	}
	err := storage.WithTx(ctx, c.store, func(tx storage.Tx) error {
		return tx.Delete(ctx, inst)
	})
	if errors.Is(err, storage.ErrNotFound) {
		envelope.WriteStatus(w, http.StatusNotFound)
		return
	}
	if err != nil {
		c.internal(w, span, OpDelete, err)
		return
	}
	envelope.WriteEmpty(w, http.StatusOK)
}

// lookup fetches the instance named by the key parameter. Keys that do not
// parse as the primary key type name no instance.
func (c *Controller) lookup(ctx context.Context, w http.ResponseWriter, r *http.Request, span trace.Span, op string) (*model.Instance, bool) {
	raw := c.param(r, convention.KeyParam)
	key, err := c.model().ParseKey(raw)
	if err != nil {
		span.SetAttributes(attribute.String("modelapi.key", raw))
		envelope.WriteStatus(w, http.StatusNotFound)
		return nil, false
	}

	inst, err := c.store.FetchByKey(ctx, c.model(), key)
	if err != nil {
		c.internal(w, span, op, err)
		return nil, false
	}
	if inst == nil {
		envelope.WriteStatus(w, http.StatusNotFound)
		return nil, false
	}
	return inst, true
}

func (c *Controller) render(ctx context.Context, w http.ResponseWriter, span trace.Span, op string, status int, inst *model.Instance) {
	out, err := c.schema.Dump(ctx, inst)
	if err != nil {
		c.internal(w, span, op, err)
		return
	}
	envelope.WriteJSON(w, status, out)
}

// decode reads a single JSON value from the body. Numbers are kept as
// json.Number so integer keys survive unchanged.
func (c *Controller) decode(w http.ResponseWriter, r *http.Request, span trace.Span) (any, bool) {
	fail := func(err error) (any, bool) {
		span.RecordError(err)
		c.notify(ReasonMalformedBody)
		envelope.WriteError(w, http.StatusBadRequest, MsgCannotParse, nil)
		return nil, false
	}

	if ct := r.Header.Get("Content-Type"); ct != "" && !IsJSONContentType(ct) {
		return fail(fmt.Errorf("unsupported content type %q", ct))
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, c.maxBody))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fail(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fail(errors.New("trailing data after JSON value"))
	}
	return raw, true
}

// IsJSONContentType reports whether a Content-Type header names JSON.
func IsJSONContentType(ct string) bool {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// rejected answers a failed Load: validation problems become a 400 with
// details, anything else is unexpected.
func (c *Controller) rejected(w http.ResponseWriter, span trace.Span, op string, err error) {
	var verr *resource.ValidationError
	if !errors.As(err, &verr) {
		c.internal(w, span, op, err)
		return
	}
	span.SetStatus(codes.Error, "validation failed")
	span.SetAttributes(attribute.StringSlice("modelapi.invalid_fields", verr.Fields()))
	c.notify(reasonOf(verr))
	envelope.WriteError(w, http.StatusBadRequest, "", verr.Details())
}

func reasonOf(verr *resource.ValidationError) string {
	switch {
	case errors.Is(verr, resource.ErrUnsupportedRelationshipMutation):
		return ReasonRelationshipMutation
	case errors.Is(verr, resource.ErrUnknownField):
		return ReasonUnknownField
	}
	return ReasonInvalidValue
}

func (c *Controller) notify(reason string) {
	if c.observer != nil {
		c.observer.ValidationFailed(c.schema.Name(), reason)
	}
}

// internal logs err and answers with the generic 500 envelope.
func (c *Controller) internal(w http.ResponseWriter, span trace.Span, op string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.logger.Error().Err(err).Str("operation", op).Msg("request failed")
	envelope.WriteStatus(w, http.StatusInternalServerError)
}
