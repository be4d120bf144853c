// Package ginrouter publishes resources on a gin engine.
package ginrouter

import (
	"context"
	"net/http"
	"regexp"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/artpar/modelapi/core/controller"
	"github.com/artpar/modelapi/pkg/envelope"
)

type paramsKey struct{}

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Pattern converts a {name} pattern into gin's :name syntax.
func Pattern(pattern string) string {
	return placeholder.ReplaceAllString(pattern, ":$1")
}

// Router adapts a gin.Engine to the resource registrar.
type Router struct {
	engine *gin.Engine
	logger zerolog.Logger

	mu       sync.RWMutex
	statuses map[int]http.Handler
}

// New wraps engine and installs recovery, the JSON body guard and the
// not-found and method-not-allowed handlers.
func New(engine *gin.Engine, logger zerolog.Logger) *Router {
	r := &Router{
		engine:   engine,
		logger:   logger,
		statuses: make(map[int]http.Handler),
	}
	engine.HandleMethodNotAllowed = true
	engine.Use(gin.CustomRecovery(r.recovered), r.requireJSON)
	engine.NoRoute(r.serveStatus(http.StatusNotFound))
	engine.NoMethod(r.serveStatus(http.StatusMethodNotAllowed))
	return r
}

// Handle implements api.Router.
func (r *Router) Handle(method, pattern string, h http.Handler) {
	r.engine.Handle(method, Pattern(pattern), func(c *gin.Context) {
		ctx := context.WithValue(c.Request.Context(), paramsKey{}, c.Params)
		h.ServeHTTP(c.Writer, c.Request.WithContext(ctx))
	})
}

// HandleStatus implements api.Router.
func (r *Router) HandleStatus(status int, h http.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[status] = h
}

// URLParam implements api.Router.
func (r *Router) URLParam(req *http.Request, name string) string {
	params, _ := req.Context().Value(paramsKey{}).(gin.Params)
	return params.ByName(name)
}

// ServeHTTP serves the wrapped engine.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.engine.ServeHTTP(w, req)
}

func (r *Router) handler(code int) http.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.statuses[code]; ok {
		return h
	}
	return envelope.Handler(code)
}

func (r *Router) serveStatus(code int) gin.HandlerFunc {
	return func(c *gin.Context) {
		r.handler(code).ServeHTTP(c.Writer, c.Request)
		c.Abort()
	}
}

func (r *Router) recovered(c *gin.Context, rec any) {
	r.logger.Error().
		Interface("panic", rec).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Msg("handler panicked")
	r.serveStatus(http.StatusInternalServerError)(c)
}

func (r *Router) requireJSON(c *gin.Context) {
	if c.Request.Method == http.MethodPost || c.Request.Method == http.MethodPut {
		if ct := c.GetHeader("Content-Type"); ct != "" && !controller.IsJSONContentType(ct) {
			r.serveStatus(http.StatusBadRequest)(c)
			return
		}
	}
	c.Next()
}
