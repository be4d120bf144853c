package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/modelapi/config"
	"github.com/artpar/modelapi/core/api"
	"github.com/artpar/modelapi/core/model"
)

func loadModels(t *testing.T) []*model.Model {
	t.Helper()
	models, err := model.ParseDir(filepath.Join("..", "models"))
	require.NoError(t, err)
	require.Len(t, models, 2)
	return models
}

func newApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Driver = "memory"
	if mutate != nil {
		mutate(cfg)
	}
	app, err := NewWithModels(context.Background(), cfg, zerolog.Nop(), loadModels(t))
	require.NoError(t, err)
	t.Cleanup(func() { app.Store.Close() })
	return app
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestApp_ResourceLifecycle(t *testing.T) {
	for _, router := range []string{"chi", "gin"} {
		t.Run(router, func(t *testing.T) {
			app := newApp(t, func(c *config.Config) { c.Server.Router = router })
			h := app.Handler

			w := do(t, h, http.MethodPost, "/categories/", `{"name": "Tools"}`)
			require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
			assert.Equal(t, "/categories/1/", w.Header().Get("Location"))

			w = do(t, h, http.MethodPost, "/products/", `{"name": "hammer", "price": 9.5, "category": 1}`)
			require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

			var product map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &product))
			assert.Equal(t, "HAMMER", product["label"])
			assert.Equal(t, "9.5", product["price"])
			assert.Equal(t, true, product["in_stock"])
			assert.Equal(t, "Tools", product["category"].(map[string]any)["name"])

			w = do(t, h, http.MethodGet, "/categories/1/", "")
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), `"/products/1/"`)

			w = do(t, h, http.MethodGet, "/products/42/", "")
			assert.Equal(t, http.StatusNotFound, w.Code)
			assert.JSONEq(t, `{"message":"Not Found"}`, w.Body.String())

			w = do(t, h, http.MethodPatch, "/products/1/", `{}`)
			assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

			w = do(t, h, http.MethodDelete, "/products/1/", "")
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}

func TestApp_ServiceEndpoints(t *testing.T) {
	app := newApp(t, nil)
	h := app.Handler

	w := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/version", "")
	assert.Contains(t, w.Body.String(), `"service":"modelapi"`)

	w = do(t, h, http.MethodGet, "/openapi.json", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "createProducts")

	w = do(t, h, http.MethodGet, "/_schema/Categories", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"resource":"Categories"`)

	do(t, h, http.MethodGet, "/products/", "")
	w = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `modelapi_requests_total{operation="list",resource="Products",status="200"} 1`)
	assert.Contains(t, w.Body.String(), "modelapi_resources_registered 2")
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestApp_DisabledExtras(t *testing.T) {
	app := newApp(t, func(c *config.Config) {
		c.Metrics.Enabled = false
		c.OpenAPI.Enabled = false
	})

	assert.Nil(t, app.Metrics)
	assert.Equal(t, http.StatusNotFound, do(t, app.Handler, http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, app.Handler, http.MethodGet, "/openapi.json", "").Code)
}

func TestApp_SQLite(t *testing.T) {
	app := newApp(t, func(c *config.Config) {
		c.Database.Driver = "sqlite"
		c.Database.DSN = filepath.Join(t.TempDir(), "shop.db")
	})

	w := do(t, app.Handler, http.MethodPost, "/categories/", `{"name": "Garden"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, app.Handler, http.MethodGet, "/categories/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"Garden"`)

	w = do(t, app.Handler, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestApp_UnresolvedTargets(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "memory"
	cfg.Resources = []config.ResourceConfig{{Model: "products"}}

	_, err := NewWithModels(context.Background(), cfg, zerolog.Nop(), loadModels(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrUnresolvedTargets)
}

func TestApp_CustomPrefixAndBaseURL(t *testing.T) {
	app := newApp(t, func(c *config.Config) {
		c.Server.PublicURL = "https://shop.example.com"
		c.Resources = []config.ResourceConfig{
			{Model: "Categories", Prefix: "/catalog/categories"},
			{Model: "products"},
		}
	})

	w := do(t, app.Handler, http.MethodPost, "/catalog/categories/", `{"name": "Tools"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "https://shop.example.com/catalog/categories/1/", w.Header().Get("Location"))
}

func TestSelect(t *testing.T) {
	models := loadModels(t)

	pubs, err := Select(models, nil)
	require.NoError(t, err)
	assert.Len(t, pubs, 2)

	pubs, err = Select(models, []config.ResourceConfig{{Model: "Products", Prefix: "/items/"}})
	require.NoError(t, err)
	require.Len(t, pubs, 1)
	assert.Equal(t, "products", pubs[0].Model.Table)
	assert.Equal(t, "/items/", pubs[0].Prefix)

	_, err = Select(models, []config.ResourceConfig{{Model: "orders"}, {Model: "users"}})
	assert.EqualError(t, err, "unknown models: orders, users")
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	logger.Info().Msg("hidden")
	logger.Warn().Str("resource", "Products").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"resource":"Products"`)
	assert.Contains(t, out, `"time"`)
}
