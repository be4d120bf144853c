// Package registry keeps the schemas of registered resources and the URL
// rules they are published under. It resolves nested-field targets by
// resource name and turns endpoint names into hyperlinks.
package registry

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/artpar/modelapi/core/convention"
	"github.com/artpar/modelapi/core/resource"
)

// Route is one URL rule of a resource.
type Route struct {
	Endpoint string
	Pattern  string
	Methods  []string
	Resource string
}

// Entry is a registered resource.
type Entry struct {
	Schema *resource.Schema
	Prefix string
	Routes []Route
}

// Registry maps resource names to schemas and endpoint names to URL patterns.
type Registry struct {
	mu sync.RWMutex

	baseURL string

	// entries in registration order
	entries []*Entry
	byName  map[string]*Entry

	// tables and prefixes to resource names
	tables   map[string]string
	prefixes map[string]string

	// endpoints to URL patterns
	endpoints map[string]string
}

// New creates a registry. When baseURL is non-empty hrefs are absolute URLs
// rooted at it; otherwise they are absolute paths.
func New(baseURL string) *Registry {
	return &Registry{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		byName:    make(map[string]*Entry),
		tables:    make(map[string]string),
		prefixes:  make(map[string]string),
		endpoints: make(map[string]string),
	}
}

// Routes derives the URL rules of a resource mounted at prefix.
func Routes(s *resource.Schema, prefix string) []Route {
	table := s.Model().Table
	return []Route{
		{Endpoint: convention.Endpoint(table, convention.ActionIndex), Pattern: prefix, Methods: []string{"GET"}, Resource: s.Name()},
		{Endpoint: convention.Endpoint(table, convention.ActionCreate), Pattern: prefix, Methods: []string{"POST"}, Resource: s.Name()},
		{Endpoint: convention.Endpoint(table, convention.ActionShow), Pattern: convention.ItemPattern(prefix), Methods: []string{"GET", "PUT", "DELETE"}, Resource: s.Name()},
	}
}

// Register records a schema under prefix.
// It fails if the resource name, table or prefix is already taken.
func (r *Registry) Register(s *resource.Schema, prefix string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	table := s.Model().Table
	prefix = convention.NormalizePrefix(prefix)

	if _, exists := r.byName[name]; exists {
		return nil, fmt.Errorf("resource %q already registered", name)
	}
	if existing, exists := r.tables[table]; exists {
		return nil, fmt.Errorf("table %q already claimed by resource %q", table, existing)
	}
	if existing, exists := r.prefixes[prefix]; exists {
		return nil, &ConflictError{Prefix: prefix, Resources: []string{existing, name}}
	}

	entry := &Entry{Schema: s, Prefix: prefix, Routes: Routes(s, prefix)}
	r.entries = append(r.entries, entry)
	r.byName[name] = entry
	r.tables[table] = name
	r.prefixes[prefix] = name
	for _, route := range entry.Routes {
		r.endpoints[route.Endpoint] = route.Pattern
	}

	return entry, nil
}

// Schema returns the schema registered under a resource name.
func (r *Registry) Schema(name string) (*resource.Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", resource.ErrUnknownResource, name)
	}
	return entry.Schema, nil
}

// Get returns the entry of a resource.
func (r *Registry) Get(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byName[name]
	return entry, ok
}

// Entries returns the registered resources in registration order.
func (r *Registry) Entries() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of registered resources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Href builds the URL of an endpoint with key substituted for its parameter.
// key is expected in its rendered (JSON output) form.
func (r *Registry) Href(endpoint string, key any) (string, error) {
	r.mu.RLock()
	pattern, ok := r.endpoints[endpoint]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown endpoint %q", endpoint)
	}

	path := strings.ReplaceAll(pattern, "{"+convention.KeyParam+"}", url.PathEscape(fmt.Sprint(key)))
	return r.baseURL + path, nil
}

// Unresolved lists nested-field targets that name no registered resource,
// formatted as "Resource.field -> Target".
func (r *Registry) Unresolved() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for _, entry := range r.entries {
		for _, f := range entry.Schema.Fields() {
			if f.Nested == nil {
				continue
			}
			if _, ok := r.byName[f.Nested.Resource]; !ok {
				missing = append(missing, fmt.Sprintf("%s.%s -> %s", entry.Schema.Name(), f.Name, f.Nested.Resource))
			}
		}
	}
	return missing
}

// ConflictError reports two resources claiming the same URL prefix.
type ConflictError struct {
	Prefix    string
	Resources []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("prefix %q claimed by %s", e.Prefix, strings.Join(e.Resources, " and "))
}
