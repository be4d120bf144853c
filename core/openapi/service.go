package openapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"

	"github.com/artpar/modelapi/core/registry"
	"github.com/artpar/modelapi/pkg/envelope"
)

// Service serves the OpenAPI document, regenerating it when resources are
// added to the registry.
type Service struct {
	reg    *registry.Registry
	gen    *Generator
	logger zerolog.Logger

	cache atomic.Pointer[cachedDoc]
	mu    sync.Mutex
}

type cachedDoc struct {
	resources int
	doc       []byte
}

// NewService creates a service publishing the resources of reg.
func NewService(reg *registry.Registry, gen *Generator, logger zerolog.Logger) *Service {
	return &Service{reg: reg, gen: gen, logger: logger}
}

// Document returns the JSON document.
func (s *Service) Document() ([]byte, error) {
	n := s.reg.Len()
	if cached := s.cache.Load(); cached != nil && cached.resources == n {
		return cached.doc, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cached := s.cache.Load(); cached != nil && cached.resources == n {
		return cached.doc, nil
	}

	spec, err := s.gen.Generate()
	if err != nil {
		return nil, err
	}
	doc, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}
	s.cache.Store(&cachedDoc{resources: n, doc: doc})
	s.logger.Debug().Int("resources", n).Msg("openapi document generated")
	return doc, nil
}

// ServeHTTP writes the document.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	doc, err := s.Document()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to generate openapi document")
		envelope.WriteStatus(w, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", envelope.ContentType)
	w.Write(doc)
}

// ReadDoc implements swag.Swagger.
func (s *Service) ReadDoc() string {
	doc, err := s.Document()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to generate openapi document")
		return "{}"
	}
	return string(doc)
}

var (
	published    atomic.Pointer[Service]
	registerOnce sync.Once
)

// swagDoc adapts the published service to the swag registry.
type swagDoc struct{}

func (swagDoc) ReadDoc() string {
	if s := published.Load(); s != nil {
		return s.ReadDoc()
	}
	return "{}"
}

// Publish makes s the document served by the swagger UI. The swag registry
// is process-wide, so the last published service wins.
func Publish(s *Service) {
	published.Store(s)
	registerOnce.Do(func() {
		swag.Register(swag.Name, swagDoc{})
	})
}

// SwaggerUI serves the swagger UI; it loads doc.json from the swag registry.
// Mount it under a path ending in "/*".
func SwaggerUI() http.HandlerFunc {
	return httpSwagger.Handler()
}
