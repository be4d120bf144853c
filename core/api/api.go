// Package api registers resources and binds them to a router and a store.
//
// An API starts unattached: RegisterResource only queues the model. The
// first AttachRuntime call stores the router and the store, flushes the queue
// in registration order and installs the error handlers. From then on
// RegisterResource wires resources immediately. Attaching twice is an error.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/artpar/modelapi/core/controller"
	"github.com/artpar/modelapi/core/convention"
	"github.com/artpar/modelapi/core/model"
	"github.com/artpar/modelapi/core/registry"
	"github.com/artpar/modelapi/core/resource"
	"github.com/artpar/modelapi/core/storage"
	"github.com/artpar/modelapi/pkg/envelope"
)

// ErrAlreadyAttached is returned by a second AttachRuntime call.
var ErrAlreadyAttached = errors.New("api: runtime already attached")

// ErrUnresolvedTargets reports nested fields naming unregistered resources.
var ErrUnresolvedTargets = errors.New("api: unresolved nested resources")

// StatusCodes are the statuses answered with the error envelope by the router.
var StatusCodes = []int{
	http.StatusBadRequest,
	http.StatusNotFound,
	http.StatusMethodNotAllowed,
	http.StatusInternalServerError,
}

// Router is the routing substrate resources are published on.
type Router interface {
	// Handle routes method requests matching pattern to h. Patterns use
	// {name} placeholders for path parameters.
	Handle(method, pattern string, h http.Handler)

	// HandleStatus installs the handler answering router-level failures
	// with the given status (unmatched path, method not allowed, panic).
	HandleStatus(status int, h http.Handler)

	// URLParam returns a path parameter of a routed request.
	URLParam(r *http.Request, name string) string
}

// Metrics receives per-request and lifecycle measurements.
type Metrics interface {
	controller.Observer
	ObserveRequest(resource, operation string, status int, d time.Duration)
	SetResources(n int)
	SetPending(n int)
}

type pendingResource struct {
	model  *model.Model
	prefix string
}

// API is the resource registrar.
type API struct {
	mu sync.Mutex

	registry *registry.Registry
	pending  []pendingResource

	router Router
	store  storage.Store

	controllers map[string]*controller.Controller

	logger     zerolog.Logger
	metrics    Metrics
	maxDepth   int
	maxBody    int64
	secretCost int
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithBaseURL makes hrefs absolute URLs rooted at baseURL.
func WithBaseURL(baseURL string) Option {
	return func(a *API) { a.registry = registry.New(baseURL) }
}

// WithMetrics instruments every resource handler.
func WithMetrics(m Metrics) Option {
	return func(a *API) { a.metrics = m }
}

// WithMaxDepth bounds how deep related objects are embedded.
func WithMaxDepth(n int) Option {
	return func(a *API) { a.maxDepth = n }
}

// WithMaxBodyBytes limits request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) { a.maxBody = n }
}

// WithSecretCost sets the bcrypt cost of secret columns.
func WithSecretCost(cost int) Option {
	return func(a *API) { a.secretCost = cost }
}

// New creates an unattached API.
func New(opts ...Option) *API {
	a := &API{
		registry:    registry.New(""),
		controllers: make(map[string]*controller.Controller),
		logger:      zerolog.Nop(),
		maxBody:     controller.DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Registry returns the registry of published resources.
func (a *API) Registry() *registry.Registry { return a.registry }

// Attached reports whether AttachRuntime has been called.
func (a *API) Attached() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.router != nil
}

// Pending returns the number of queued registrations.
func (a *API) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Controller returns the controller of a published resource.
func (a *API) Controller(resourceName string) (*controller.Controller, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.controllers[resourceName]
	return c, ok
}

// RegisterResource publishes m under prefix. An empty prefix means
// "/<table>/". Before AttachRuntime the model is queued and no error is
// reported until the queue is flushed.
func (a *API) RegisterResource(m *model.Model, prefix string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.router == nil {
		a.pending = append(a.pending, pendingResource{model: m, prefix: prefix})
		a.setPending()
		a.logger.Debug().Str("table", m.Table).Msg("resource queued")
		return nil
	}

	if err := a.register(m, prefix); err != nil {
		return err
	}
	a.setResources()

	if missing := a.unresolved(m.ResourceName()); len(missing) > 0 {
		a.logger.Warn().
			Str("resource", m.ResourceName()).
			Strs("targets", missing).
			Msg("nested resources not registered yet")
	}
	return nil
}

// AttachRuntime binds the router and the store, publishes every queued
// resource in registration order and installs the error handlers. Failed
// registrations do not stop the flush; their errors are joined. Nested
// fields naming resources that are still unknown afterwards are reported
// as ErrUnresolvedTargets.
func (a *API) AttachRuntime(router Router, store storage.Store) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.router != nil {
		return ErrAlreadyAttached
	}
	if router == nil || store == nil {
		return errors.New("api: router and store are required")
	}
	a.router = router
	a.store = store

	pending := a.pending
	a.pending = nil

	var errs []error
	for _, p := range pending {
		if err := a.register(p.model, p.prefix); err != nil {
			errs = append(errs, err)
		}
	}

	if missing := a.registry.Unresolved(); len(missing) > 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrUnresolvedTargets, strings.Join(missing, ", ")))
	}

	for status, h := range envelope.Handlers(StatusCodes...) {
		router.HandleStatus(status, h)
	}

	a.setPending()
	a.setResources()
	a.logger.Info().
		Int("resources", a.registry.Len()).
		Int("failed", len(errs)).
		Msg("runtime attached")

	return errors.Join(errs...)
}

// register is the immediate path: build the schema, record it and route
// the three URL rules. Callers hold the lock.
func (a *API) register(m *model.Model, prefix string) error {
	if prefix == "" {
		prefix = convention.DefaultPrefix(m.Table)
	}
	prefix = convention.NormalizePrefix(prefix)

	schema, err := resource.Build(m, resource.Options{
		Resolver:   a.registry,
		Linker:     a.registry,
		Fetcher:    a.store,
		MaxDepth:   a.maxDepth,
		SecretCost: a.secretCost,
	})
	if err != nil {
		return fmt.Errorf("register %s: %w", m.Table, err)
	}

	entry, err := a.registry.Register(schema, prefix)
	if err != nil {
		return fmt.Errorf("register %s: %w", m.Table, err)
	}

	opts := []controller.Option{
		controller.WithLogger(a.logger),
		controller.WithParam(a.router.URLParam),
		controller.WithMaxBodyBytes(a.maxBody),
	}
	if a.metrics != nil {
		opts = append(opts, controller.WithObserver(a.metrics))
	}
	c := controller.New(schema, a.store, opts...)
	a.controllers[schema.Name()] = c

	for _, route := range entry.Routes {
		for _, method := range route.Methods {
			op := Operation(route.Endpoint, method)
			a.router.Handle(method, route.Pattern, a.instrument(schema.Name(), op, c.Handler(op)))
		}
	}

	a.logger.Info().
		Str("resource", schema.Name()).
		Str("prefix", prefix).
		Msg("resource registered")
	return nil
}

// Operation maps an endpoint and a method onto a controller operation.
func Operation(endpoint, method string) string {
	switch {
	case strings.HasSuffix(endpoint, "/"+convention.ActionIndex):
		return controller.OpList
	case strings.HasSuffix(endpoint, "/"+convention.ActionCreate):
		return controller.OpCreate
	}
	switch method {
	case http.MethodPut:
		return controller.OpReplace
	case http.MethodDelete:
		return controller.OpDelete
	}
	return controller.OpShow
}

func (a *API) instrument(resourceName, op string, h http.Handler) http.Handler {
	if a.metrics == nil {
		return h
	}
	m := a.metrics
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		h.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.ObserveRequest(resourceName, op, status, time.Since(start))
	})
}

// unresolved lists the nested targets of one resource that are not registered.
func (a *API) unresolved(resourceName string) []string {
	var missing []string
	for _, u := range a.registry.Unresolved() {
		if strings.HasPrefix(u, resourceName+".") {
			missing = append(missing, u)
		}
	}
	return missing
}

func (a *API) setPending() {
	if a.metrics != nil {
		a.metrics.SetPending(len(a.pending))
	}
}

func (a *API) setResources() {
	if a.metrics != nil {
		a.metrics.SetResources(a.registry.Len())
	}
}
