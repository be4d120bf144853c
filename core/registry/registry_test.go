package registry

import (
	"errors"
	"testing"

	"github.com/artpar/modelapi/core/model"
	"github.com/artpar/modelapi/core/resource"
)

func buildSchema(t *testing.T, table string, nested ...model.NestedField) *resource.Schema {
	t.Helper()
	cols := []model.Column{
		{Name: "id", Type: model.TypeInteger, PrimaryKey: true},
		{Name: "name", Type: model.TypeString},
	}
	for _, n := range nested {
		if !n.Many {
			cols = append(cols, model.Column{Name: n.LocalColumn(), Type: model.TypeInteger, Nullable: true})
		}
	}
	s, err := resource.Build(&model.Model{Table: table, Columns: cols, Nested: nested}, resource.Options{})
	if err != nil {
		t.Fatalf("Build(%s) failed: %v", table, err)
	}
	return s
}

func TestRegister(t *testing.T) {
	r := New("")

	entry, err := r.Register(buildSchema(t, "products"), "products")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if entry.Prefix != "/products/" {
		t.Errorf("Prefix = %q, want /products/", entry.Prefix)
	}

	want := []struct{ endpoint, pattern string }{
		{"products_api/index", "/products/"},
		{"products_api/create", "/products/"},
		{"products_api/show", "/products/{id}/"},
	}
	if len(entry.Routes) != len(want) {
		t.Fatalf("got %d routes, want %d", len(entry.Routes), len(want))
	}
	for i, w := range want {
		if entry.Routes[i].Endpoint != w.endpoint || entry.Routes[i].Pattern != w.pattern {
			t.Errorf("route %d = %+v, want %s %s", i, entry.Routes[i], w.endpoint, w.pattern)
		}
	}

	s, err := r.Schema("Products")
	if err != nil || s.Name() != "Products" {
		t.Errorf("Schema(Products) = %v, %v", s, err)
	}
}

func TestRegister_Conflicts(t *testing.T) {
	r := New("")
	if _, err := r.Register(buildSchema(t, "products"), "/products/"); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Register(buildSchema(t, "products"), "/other/"); err == nil {
		t.Error("expected duplicate resource error")
	}

	_, err := r.Register(buildSchema(t, "items"), "/products/")
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Prefix != "/products/" {
		t.Errorf("conflict prefix = %q", conflict.Prefix)
	}
}

func TestSchema_Unknown(t *testing.T) {
	r := New("")
	_, err := r.Schema("Nope")
	if !errors.Is(err, resource.ErrUnknownResource) {
		t.Fatalf("expected ErrUnknownResource, got %v", err)
	}
}

func TestHref(t *testing.T) {
	r := New("")
	if _, err := r.Register(buildSchema(t, "products"), "/shop/products/"); err != nil {
		t.Fatal(err)
	}

	href, err := r.Href("products_api/show", int64(42))
	if err != nil || href != "/shop/products/42/" {
		t.Errorf("Href = %q, %v", href, err)
	}

	if _, err := r.Href("missing_api/show", 1); err == nil {
		t.Error("expected error for unknown endpoint")
	}

	abs := New("https://api.example.com/")
	if _, err := abs.Register(buildSchema(t, "products"), "/products/"); err != nil {
		t.Fatal(err)
	}
	href, _ = abs.Href("products_api/show", "a b")
	if href != "https://api.example.com/products/a%20b/" {
		t.Errorf("absolute Href = %q", href)
	}
}

func TestEntriesAndUnresolved(t *testing.T) {
	r := New("")
	r.Register(buildSchema(t, "products", model.NestedField{Name: "category", Resource: "Categories"}), "/products/")
	r.Register(buildSchema(t, "tags"), "/tags/")

	entries := r.Entries()
	if len(entries) != 2 || entries[0].Schema.Name() != "Products" || entries[1].Schema.Name() != "Tags" {
		t.Fatalf("Entries not in registration order: %v", entries)
	}

	missing := r.Unresolved()
	if len(missing) != 1 || missing[0] != "Products.category -> Categories" {
		t.Errorf("Unresolved = %v", missing)
	}

	r.Register(buildSchema(t, "categories"), "/categories/")
	if missing := r.Unresolved(); len(missing) != 0 {
		t.Errorf("Unresolved after registering target = %v", missing)
	}
	if r.Len() != 3 {
		t.Errorf("Len = %d", r.Len())
	}
}
