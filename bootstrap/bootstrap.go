// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/artpar/modelapi/adapters/chirouter"
	"github.com/artpar/modelapi/adapters/ginrouter"
	apihttp "github.com/artpar/modelapi/adapters/http"
	"github.com/artpar/modelapi/adapters/idgen"
	"github.com/artpar/modelapi/adapters/metrics"
	"github.com/artpar/modelapi/config"
	"github.com/artpar/modelapi/core/api"
	"github.com/artpar/modelapi/core/introspect"
	"github.com/artpar/modelapi/core/model"
	"github.com/artpar/modelapi/core/openapi"
	"github.com/artpar/modelapi/core/storage"
	"github.com/artpar/modelapi/pkg/envelope"
)

// Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = ""
)

// Publication is a model and the prefix it is published under.
type Publication struct {
	Model  *model.Model
	Prefix string
}

// App represents the running application.
type App struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Store      storage.Store
	API        *api.API
	Metrics    *metrics.Collector
	Handler    http.Handler
	HTTPServer *http.Server
}

// New loads the models named by cfg and initializes the application.
func New(cfg *config.Config) (*App, error) {
	logger := NewLogger(cfg.Logging, os.Stdout)

	models, err := model.ParseDir(cfg.Models.Dir)
	if err != nil {
		return nil, fmt.Errorf("load models: %w", err)
	}
	logger.Info().Str("dir", cfg.Models.Dir).Int("count", len(models)).Msg("models loaded")

	return NewWithModels(context.Background(), cfg, logger, models)
}

// NewWithModels initializes the application from already parsed models.
func NewWithModels(ctx context.Context, cfg *config.Config, logger zerolog.Logger, models []*model.Model) (*App, error) {
	logger.Info().Msg("initializing modelapi")

	pubs, err := Select(models, cfg.Resources)
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database initialized")

	a := &App{
		Config: cfg,
		Logger: logger,
		Store:  store,
	}

	if err := a.init(ctx, pubs); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, pubs []Publication) error {
	cfg := a.Config

	if cfg.Database.AutoCreateTables {
		if err := EnsureTables(ctx, a.Store, pubs); err != nil {
			return err
		}
	}

	opts := []api.Option{
		api.WithLogger(a.Logger),
		api.WithBaseURL(cfg.Server.PublicURL),
		api.WithMaxDepth(cfg.Serializer.MaxDepth),
		api.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	}
	if cfg.Serializer.SecretCost > 0 {
		opts = append(opts, api.WithSecretCost(cfg.Serializer.SecretCost))
	}

	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.Metrics = metrics.NewWithRegistry(registry)
		opts = append(opts, api.WithMetrics(a.Metrics))
		a.Logger.Info().Msg("prometheus metrics enabled")
	}

	a.API = api.New(opts...)
	for _, p := range pubs {
		if err := a.API.RegisterResource(p.Model, p.Prefix); err != nil {
			return err
		}
	}

	resources, err := a.newRouter()
	if err != nil {
		return err
	}
	if err := a.API.AttachRuntime(resources, a.Store); err != nil {
		return fmt.Errorf("attach runtime: %w", err)
	}

	a.Handler = a.routes(resources)
	a.HTTPServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      a.Handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return nil
}

// resourceRouter is the routing substrate resources are published on.
type resourceRouter interface {
	api.Router
	http.Handler
}

func (a *App) newRouter() (resourceRouter, error) {
	switch a.Config.Server.Router {
	case "chi":
		return chirouter.New(chi.NewRouter(), a.Logger), nil
	case "gin":
		gin.SetMode(gin.ReleaseMode)
		return ginrouter.New(gin.New(), a.Logger), nil
	}
	return nil, fmt.Errorf("unknown router %q", a.Config.Server.Router)
}

// routes mounts the service endpoints next to the resources.
func (a *App) routes(resources http.Handler) http.Handler {
	cfg := a.Config
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apihttp.NewLoggingMiddleware(a.Logger))
	if a.Metrics != nil {
		r.Use(apihttp.NewMetricsMiddleware(a.Metrics))
	}
	r.Use(middleware.Recoverer)

	r.NotFound(envelope.Handler(http.StatusNotFound).ServeHTTP)
	r.MethodNotAllowed(envelope.Handler(http.StatusMethodNotAllowed).ServeHTTP)

	var pinger apihttp.Pinger
	if p, ok := a.Store.(apihttp.Pinger); ok {
		pinger = p
	}
	health := apihttp.NewHealthHandler(pinger)
	r.Get("/health", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Get("/version", apihttp.Version(apihttp.VersionResponse{Version: Version, Commit: Commit}))

	if a.Metrics != nil {
		r.Handle(cfg.Metrics.Path, a.Metrics.Handler())
	}

	reg := a.API.Registry()
	if cfg.OpenAPI.Enabled {
		gen := openapi.NewGenerator(reg, openapi.Info{Title: cfg.OpenAPI.Title, Version: cfg.OpenAPI.Version})
		if cfg.Server.PublicURL != "" {
			gen.AddServer(cfg.Server.PublicURL)
		}
		svc := openapi.NewService(reg, gen, a.Logger)
		openapi.Publish(svc)
		r.Handle("/openapi.json", svc)
		r.Get("/swagger/*", openapi.SwaggerUI())
	}
	r.Mount("/_schema", introspect.NewHandler(reg).Routes())

	r.Mount("/", resources)

	if cfg.Tracing.Enabled {
		return otelhttp.NewHandler(r, cfg.Tracing.ServiceName)
	}
	return r
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt or error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
			errs = append(errs, err)
		}
	}

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
			errs = append(errs, err)
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return errors.Join(errs...)
}

// NewLogger builds the process logger and sets the global level.
func NewLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(out).With().Timestamp().Logger()
}

// OpenStore opens the persistence engine named by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (storage.Store, error) {
	opts := idgen.Options()
	switch cfg.Driver {
	case "memory":
		return storage.NewMemory(opts), nil
	case "sqlite":
		return storage.OpenSQLite(cfg.DSN, opts)
	case "postgres":
		return storage.OpenPostgres(ctx, cfg.DSN, opts)
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

// EnsureTables creates the tables of pubs when the store supports it.
func EnsureTables(ctx context.Context, store storage.Store, pubs []Publication) error {
	migrator, ok := store.(storage.Migrator)
	if !ok {
		return nil
	}
	for _, p := range pubs {
		if err := migrator.EnsureTable(ctx, p.Model); err != nil {
			return fmt.Errorf("create table %s: %w", p.Model.Table, err)
		}
	}
	return nil
}

// Select picks the models to publish. With no resources configured every
// model is published under its default prefix. A resource names a model
// by table or by resource name.
func Select(models []*model.Model, resources []config.ResourceConfig) ([]Publication, error) {
	if len(resources) == 0 {
		pubs := make([]Publication, 0, len(models))
		for _, m := range models {
			pubs = append(pubs, Publication{Model: m})
		}
		return pubs, nil
	}

	byName := make(map[string]*model.Model, len(models)*2)
	for _, m := range models {
		byName[m.Table] = m
		byName[m.ResourceName()] = m
	}

	var (
		pubs    []Publication
		unknown []string
	)
	for _, r := range resources {
		m, ok := byName[r.Model]
		if !ok {
			unknown = append(unknown, r.Model)
			continue
		}
		pubs = append(pubs, Publication{Model: m, Prefix: r.Prefix})
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown models: %s", strings.Join(unknown, ", "))
	}
	return pubs, nil
}
