package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/modelapi/core/convention"
	"github.com/artpar/modelapi/core/model"
	"github.com/artpar/modelapi/core/registry"
	"github.com/artpar/modelapi/core/resource"
	"github.com/artpar/modelapi/core/storage"
)

// -----------------------------------------------------------------------------
// Fixtures
// -----------------------------------------------------------------------------

func categoryModel() *model.Model {
	return &model.Model{
		Table: "categories",
		Columns: []model.Column{
			{Name: "id", Type: model.TypeInteger, PrimaryKey: true},
			{Name: "name", Type: model.TypeString},
		},
		Nested: []model.NestedField{
			{Name: "products", Resource: "Products", Many: true, Exclude: []string{"category"}},
		},
	}
}

func productModel() *model.Model {
	return &model.Model{
		Table: "products",
		Columns: []model.Column{
			{Name: "id", Type: model.TypeInteger, PrimaryKey: true},
			{Name: "name", Type: model.TypeString},
			{Name: "price", Type: model.TypeDecimal, Default: "0"},
			{Name: "category_id", Type: model.TypeInteger, Nullable: true},
		},
		Nested: []model.NestedField{
			{Name: "category", Resource: "Categories", Exclude: []string{"products"}},
		},
	}
}

type recordingObserver struct {
	mu      sync.Mutex
	reasons []string
}

func (o *recordingObserver) ValidationFailed(resource, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reasons = append(o.reasons, resource+":"+reason)
}

type server struct {
	handler  http.Handler
	store    *storage.Memory
	observer *recordingObserver
}

func newServer(t *testing.T) *server {
	t.Helper()

	store := storage.NewMemory(storage.Options{})
	reg := registry.New("")
	obs := &recordingObserver{}
	mux := http.NewServeMux()

	for _, m := range []*model.Model{categoryModel(), productModel()} {
		s, err := resource.Build(m, resource.Options{Resolver: reg, Linker: reg, Fetcher: store})
		require.NoError(t, err)
		entry, err := reg.Register(s, convention.DefaultPrefix(m.Table))
		require.NoError(t, err)

		c := New(s, store, WithObserver(obs))
		mux.HandleFunc("GET "+entry.Prefix+"{$}", c.List)
		mux.HandleFunc("POST "+entry.Prefix+"{$}", c.Create)
		mux.HandleFunc(entry.Prefix+"{id}/{$}", c.Item)
	}

	return &server{handler: mux, store: store, observer: obs}
}

func (s *server) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, r)
	return w
}

func decodeObject(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func (s *server) seedFurniture(t *testing.T) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/categories/", `{"name": "Furniture"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

// -----------------------------------------------------------------------------
// List
// -----------------------------------------------------------------------------

func TestList_EmptyIsArray(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodGet, "/products/", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestList_RendersNestedCollections(t *testing.T) {
	s := newServer(t)
	s.seedFurniture(t)
	s.do(t, http.MethodPost, "/products/", `{"name": "Chair", "category": 1}`)
	s.do(t, http.MethodPost, "/products/", `{"name": "Desk", "category": 1}`)

	w := s.do(t, http.MethodGet, "/categories/", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{
		"id": 1,
		"name": "Furniture",
		"href": "/categories/1/",
		"products": [
			{"id": 1, "name": "Chair", "price": "0", "href": "/products/1/"},
			{"id": 2, "name": "Desk", "price": "0", "href": "/products/2/"}
		]
	}]`, w.Body.String())
}

// -----------------------------------------------------------------------------
// Create
// -----------------------------------------------------------------------------

func TestCreate_ExpandsRelatedObject(t *testing.T) {
	s := newServer(t)
	s.seedFurniture(t)

	w := s.do(t, http.MethodPost, "/products/", `{"name": "Chair", "category": 1}`)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "/products/1/", w.Header().Get("Location"))
	assert.JSONEq(t, `{
		"id": 1,
		"name": "Chair",
		"price": "0",
		"href": "/products/1/",
		"category": {"id": 1, "name": "Furniture", "href": "/categories/1/"}
	}`, w.Body.String())
}

func TestCreate_ThenShowRoundTrips(t *testing.T) {
	s := newServer(t)
	s.seedFurniture(t)

	created := s.do(t, http.MethodPost, "/products/", `{"name": "Lamp", "price": "12.50", "category": {"id": 1}}`)
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())

	shown := s.do(t, http.MethodGet, created.Header().Get("Location"), "")
	require.Equal(t, http.StatusOK, shown.Code)
	assert.JSONEq(t, created.Body.String(), shown.Body.String())
}

func eventModel() *model.Model {
	return &model.Model{
		Table: "events",
		Columns: []model.Column{
			{Name: "id", Type: model.TypeInteger, PrimaryKey: true},
			{Name: "label", Type: model.TypeString},
			{Name: "at", Type: model.TypeDateTime},
			{Name: "day", Type: model.TypeDate, Nullable: true},
			{Name: "price", Type: model.TypeDecimal, Nullable: true},
		},
	}
}

func dayModel() *model.Model {
	return &model.Model{
		Table: "days",
		Columns: []model.Column{
			{Name: "day", Type: model.TypeDate, PrimaryKey: true},
			{Name: "note", Type: model.TypeString, Nullable: true},
		},
	}
}

// serveModels publishes models over store under their default prefixes.
func serveModels(t *testing.T, store storage.Store, models ...*model.Model) http.Handler {
	t.Helper()

	reg := registry.New("")
	mux := http.NewServeMux()
	for _, m := range models {
		if migrator, ok := store.(storage.Migrator); ok {
			require.NoError(t, migrator.EnsureTable(context.Background(), m))
		}
		s, err := resource.Build(m, resource.Options{Resolver: reg, Linker: reg, Fetcher: store})
		require.NoError(t, err)
		entry, err := reg.Register(s, convention.DefaultPrefix(m.Table))
		require.NoError(t, err)

		c := New(s, store)
		mux.HandleFunc("GET "+entry.Prefix+"{$}", c.List)
		mux.HandleFunc("POST "+entry.Prefix+"{$}", c.Create)
		mux.HandleFunc(entry.Prefix+"{id}/{$}", c.Item)
	}
	return mux
}

func TestCreate_ThenShowRoundTripsOnEveryStore(t *testing.T) {
	stores := map[string]func(t *testing.T) storage.Store{
		"memory": func(t *testing.T) storage.Store {
			return storage.NewMemory(storage.Options{})
		},
		"sqlite": func(t *testing.T) storage.Store {
			s, err := storage.OpenSQLite(":memory:", storage.Options{})
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			s := &server{handler: serveModels(t, open(t), eventModel(), dayModel())}

			created := s.do(t, http.MethodPost, "/events/",
				`{"label": "launch", "at": "2024-05-01T10:00:00+02:00", "day": "2024-05-01", "price": "12.50"}`)
			require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
			assert.Equal(t, "2024-05-01T08:00:00Z", decodeObject(t, created)["at"])

			shown := s.do(t, http.MethodGet, created.Header().Get("Location"), "")
			require.Equal(t, http.StatusOK, shown.Code, shown.Body.String())
			assert.JSONEq(t, created.Body.String(), shown.Body.String())

			created = s.do(t, http.MethodPost, "/days/", `{"day": "2024-05-01", "note": "launch"}`)
			require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
			assert.Equal(t, "/days/2024-05-01/", created.Header().Get("Location"))

			shown = s.do(t, http.MethodGet, created.Header().Get("Location"), "")
			require.Equal(t, http.StatusOK, shown.Code, shown.Body.String())
			assert.JSONEq(t, created.Body.String(), shown.Body.String())
		})
	}
}

func TestCreate_UnknownFieldNamedInDetails(t *testing.T) {
	s := newServer(t)
	s.seedFurniture(t)

	w := s.do(t, http.MethodPost, "/products/", `{"name": "Chair", "category": 1, "bogus": "x"}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeObject(t, w)
	assert.Equal(t, "Bad Request", body["message"])
	details, ok := body["details"].(map[string]any)
	require.True(t, ok, "details missing: %v", body)
	assert.Equal(t, []any{"Unknown field name bogus"}, details["bogus"])

	all := s.do(t, http.MethodGet, "/products/", "")
	assert.JSONEq(t, `[]`, all.Body.String(), "nothing persisted")
	assert.Equal(t, []string{"Products:unknown_field"}, s.observer.reasons)
}

func TestCreate_ToManyRelationRejected(t *testing.T) {
	s := newServer(t)

	for _, payload := range []string{
		`{"name": "Furniture", "products": []}`,
		`{"name": "Furniture", "products": [1, 2]}`,
		`{"name": "Furniture", "products": null}`,
		`{"name": "Furniture", "products": {"id": 1}}`,
	} {
		w := s.do(t, http.MethodPost, "/categories/", payload)
		require.Equal(t, http.StatusBadRequest, w.Code, payload)
		details := decodeObject(t, w)["details"].(map[string]any)
		msgs := details["products"].([]any)
		assert.Contains(t, msgs[0], "Cannot update relationship through the `Categories` model", payload)
		assert.Contains(t, msgs[0], "directly manipulate `Products` objects", payload)
	}
}

func TestCreate_MissingRelatedRow(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodPost, "/products/", `{"name": "Chair", "category": 5}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	details := decodeObject(t, w)["details"].(map[string]any)
	assert.Contains(t, details, "category")
}

func TestCreate_MissingRequiredField(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodPost, "/products/", `{}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	details := decodeObject(t, w)["details"].(map[string]any)
	assert.Equal(t, []any{"Missing data for required field."}, details["name"])
	assert.NotContains(t, details, "price", "defaulted column is optional")
}

func TestCreate_UnparseableBody(t *testing.T) {
	s := newServer(t)

	tests := []struct {
		name        string
		body        string
		contentType string
	}{
		{"malformed", `{"name":`, "application/json"},
		{"empty", ``, "application/json"},
		{"trailing data", `{"name": "a"} {"name": "b"}`, "application/json"},
		{"form encoded", `name=Chair`, "application/x-www-form-urlencoded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/categories/", strings.NewReader(tt.body))
			r.Header.Set("Content-Type", tt.contentType)
			w := httptest.NewRecorder()
			s.handler.ServeHTTP(w, r)

			require.Equal(t, http.StatusBadRequest, w.Code)
			assert.JSONEq(t, `{"message": "Cannot parse JSON"}`, w.Body.String())
		})
	}
}

func TestCreate_BodyTooLarge(t *testing.T) {
	store := storage.NewMemory(storage.Options{})
	reg := registry.New("")
	s, err := resource.Build(&model.Model{
		Table:   "notes",
		Columns: []model.Column{{Name: "id", Type: model.TypeInteger, PrimaryKey: true}, {Name: "text", Type: model.TypeText}},
	}, resource.Options{Resolver: reg, Linker: reg, Fetcher: store})
	require.NoError(t, err)
	_, err = reg.Register(s, "/notes/")
	require.NoError(t, err)

	c := New(s, store, WithMaxBodyBytes(64))
	body := `{"text": "` + strings.Repeat("x", 100) + `"}`
	r := httptest.NewRequest(http.MethodPost, "/notes/", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	c.Create(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreate_NonObjectBody(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodPost, "/categories/", `["Furniture"]`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	details := decodeObject(t, w)["details"].(map[string]any)
	assert.Equal(t, []any{"Invalid input type."}, details["_schema"])
}

// -----------------------------------------------------------------------------
// Show / Replace / Delete
// -----------------------------------------------------------------------------

func TestItem_MissingIsNotFound(t *testing.T) {
	s := newServer(t)

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		for _, path := range []string{"/products/42/", "/products/abc/"} {
			body := ""
			if method == http.MethodPut {
				body = `{"name": "x"}`
			}
			w := s.do(t, method, path, body)
			assert.Equal(t, http.StatusNotFound, w.Code, "%s %s", method, path)
			assert.JSONEq(t, `{"message": "Not Found"}`, w.Body.String())
		}
	}
}

func TestReplace_PartialUpdateKeepsOtherFields(t *testing.T) {
	s := newServer(t)
	s.seedFurniture(t)
	s.do(t, http.MethodPost, "/products/", `{"name": "Chair", "price": "10", "category": 1}`)

	w := s.do(t, http.MethodPut, "/products/1/", `{"price": "12.75"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{
		"id": 1,
		"name": "Chair",
		"price": "12.75",
		"href": "/products/1/",
		"category": {"id": 1, "name": "Furniture", "href": "/categories/1/"}
	}`, w.Body.String())

	shown := s.do(t, http.MethodGet, "/products/1/", "")
	assert.JSONEq(t, w.Body.String(), shown.Body.String())
}

func TestReplace_ShownObjectCanBeSubmittedBack(t *testing.T) {
	s := newServer(t)
	s.seedFurniture(t)
	created := s.do(t, http.MethodPost, "/products/", `{"name": "Chair", "category": 1}`)

	w := s.do(t, http.MethodPut, "/products/1/", created.Body.String())

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, created.Body.String(), w.Body.String())
}

func TestReplace_ClearsRelation(t *testing.T) {
	s := newServer(t)
	s.seedFurniture(t)
	s.do(t, http.MethodPost, "/products/", `{"name": "Chair", "category": 1}`)

	w := s.do(t, http.MethodPut, "/products/1/", `{"category": null}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Nil(t, decodeObject(t, w)["category"])
}

func TestReplace_InvalidValue(t *testing.T) {
	s := newServer(t)
	s.seedFurniture(t)

	w := s.do(t, http.MethodPut, "/categories/1/", `{"name": 12}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	details := decodeObject(t, w)["details"].(map[string]any)
	assert.Equal(t, []any{"Not a valid string."}, details["name"])
	assert.Equal(t, []string{"Categories:invalid_value"}, s.observer.reasons)
}

func TestDelete(t *testing.T) {
	s := newServer(t)
	s.seedFurniture(t)

	w := s.do(t, http.MethodDelete, "/categories/1/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/categories/1/", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/categories/1/", "").Code)
}

func TestItem_UnsupportedMethod(t *testing.T) {
	s := newServer(t)
	s.seedFurniture(t)

	w := s.do(t, http.MethodPatch, "/categories/1/", `{"name": "x"}`)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.JSONEq(t, `{"message": "Method Not Allowed"}`, w.Body.String())
}

func TestIsJSONContentType(t *testing.T) {
	assert.True(t, IsJSONContentType("application/json"))
	assert.True(t, IsJSONContentType("application/json; charset=utf-8"))
	assert.True(t, IsJSONContentType("application/merge-patch+json"))
	assert.False(t, IsJSONContentType("text/plain"))
	assert.False(t, IsJSONContentType(";;"))
}
