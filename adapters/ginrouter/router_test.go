package ginrouter_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/artpar/modelapi/adapters/ginrouter"
	"github.com/artpar/modelapi/core/api"
	"github.com/artpar/modelapi/core/model"
	"github.com/artpar/modelapi/core/storage"
)

var _ api.Router = (*ginrouter.Router)(nil)

func newRouter(t *testing.T) *ginrouter.Router {
	t.Helper()

	router := ginrouter.New(gin.New(), zerolog.Nop())
	a := api.New()
	err := a.RegisterResource(&model.Model{
		Table: "categories",
		Columns: []model.Column{
			{Name: "id", Type: model.TypeInteger, PrimaryKey: true},
			{Name: "name", Type: model.TypeString},
		},
	}, "")
	if err != nil {
		t.Fatalf("RegisterResource failed: %v", err)
	}
	if err := a.AttachRuntime(router, storage.NewMemory(storage.Options{})); err != nil {
		t.Fatalf("AttachRuntime failed: %v", err)
	}
	return router
}

func serve(router http.Handler, method, path, contentType, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func TestRouter_ServesResource(t *testing.T) {
	router := newRouter(t)

	w := serve(router, http.MethodPost, "/categories/", "application/json", `{"name": "Furniture"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST status = %d, body = %s", w.Code, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != "/categories/1/" {
		t.Errorf("Location = %q, want /categories/1/", loc)
	}

	w = serve(router, http.MethodGet, "/categories/1/", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"name":"Furniture"`) {
		t.Errorf("GET body = %s", w.Body.String())
	}
}

func TestRouter_StatusEnvelopes(t *testing.T) {
	router := newRouter(t)

	tests := []struct {
		name        string
		method      string
		path        string
		contentType string
		wantStatus  int
		wantBody    string
	}{
		{"unknown path", http.MethodGet, "/nowhere/", "", http.StatusNotFound, `{"message":"Not Found"}`},
		{"wrong method", http.MethodPatch, "/categories/", "", http.StatusMethodNotAllowed, `{"message":"Method Not Allowed"}`},
		{"non-JSON body", http.MethodPost, "/categories/", "text/plain", http.StatusBadRequest, `{"message":"Bad Request"}`},
		{"missing row", http.MethodGet, "/categories/7/", "", http.StatusNotFound, `{"message":"Not Found"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(router, tt.method, tt.path, tt.contentType, "name=x")
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := strings.TrimSpace(w.Body.String()); got != tt.wantBody {
				t.Errorf("body = %s, want %s", got, tt.wantBody)
			}
		})
	}
}

func TestRouter_RecoversPanics(t *testing.T) {
	router := newRouter(t)
	router.Handle(http.MethodGet, "/boom/", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := serve(router, http.MethodGet, "/boom/", "", "")

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"message":"Internal Server Error"}` {
		t.Errorf("body = %s", got)
	}
}

func TestRouter_URLParam(t *testing.T) {
	router := ginrouter.New(gin.New(), zerolog.Nop())
	var got string
	router.Handle(http.MethodGet, "/things/{id}/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = router.URLParam(r, "id")
	}))

	serve(router, http.MethodGet, "/things/abc/", "", "")

	if got != "abc" {
		t.Errorf("URLParam = %q, want abc", got)
	}
}

func init() {
	gin.SetMode(gin.TestMode)
}

func TestPattern(t *testing.T) {
	tests := map[string]string{
		"/products/":             "/products/",
		"/products/{id}/":        "/products/:id/",
		"/a/{parent_id}/b/{id}/": "/a/:parent_id/b/:id/",
	}
	for in, want := range tests {
		if got := ginrouter.Pattern(in); got != want {
			t.Errorf("Pattern(%q) = %q, want %q", in, got, want)
		}
	}
}
