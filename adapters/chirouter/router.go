// Package chirouter publishes resources on a chi router.
package chirouter

import (
	"errors"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/artpar/modelapi/core/controller"
	"github.com/artpar/modelapi/pkg/envelope"
)

// Router adapts a chi.Router to the resource registrar.
type Router struct {
	mux    chi.Router
	logger zerolog.Logger

	mu       sync.RWMutex
	statuses map[int]http.Handler
}

// New wraps mux. It installs its middlewares on mux, so it must be called
// before any route is added.
func New(mux chi.Router, logger zerolog.Logger) *Router {
	r := &Router{
		mux:      mux,
		logger:   logger,
		statuses: make(map[int]http.Handler),
	}
	mux.Use(r.recoverer, r.requireJSON)
	mux.NotFound(r.status(http.StatusNotFound).ServeHTTP)
	mux.MethodNotAllowed(r.status(http.StatusMethodNotAllowed).ServeHTTP)
	return r
}

// Handle implements api.Router.
func (r *Router) Handle(method, pattern string, h http.Handler) {
	r.mux.Method(method, pattern, h)
}

// HandleStatus implements api.Router.
func (r *Router) HandleStatus(status int, h http.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[status] = h
}

// URLParam implements api.Router.
func (r *Router) URLParam(req *http.Request, name string) string {
	return chi.URLParam(req, name)
}

// ServeHTTP serves the wrapped router.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// status returns a handler that looks up the installed handler at request
// time and falls back to the default envelope.
func (r *Router) status(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.RLock()
		h, ok := r.statuses[code]
		r.mu.RUnlock()
		if !ok {
			h = envelope.Handler(code)
		}
		h.ServeHTTP(w, req)
	})
}

func (r *Router) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			r.logger.Error().
				Interface("panic", rec).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Msg("handler panicked")
			r.status(http.StatusInternalServerError).ServeHTTP(w, req)
		}()
		next.ServeHTTP(w, req)
	})
}

// requireJSON rejects POST and PUT bodies declared as anything but JSON.
func (r *Router) requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodPost || req.Method == http.MethodPut {
			if ct := req.Header.Get("Content-Type"); ct != "" && !controller.IsJSONContentType(ct) {
				r.status(http.StatusBadRequest).ServeHTTP(w, req)
				return
			}
		}
		next.ServeHTTP(w, req)
	})
}
