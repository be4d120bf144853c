// Package convention derives the names a resource is published under from
// its storage table name.
//
// For a table named "order_items":
//
//	ResourceName  OrderItems
//	DefaultPrefix /order_items/
//	Endpoint      order_items_api/index, order_items_api/create, order_items_api/show
//	ForeignKey    order_item_id
package convention

import (
	"strings"
	"unicode"
)

// Endpoint suffixes, one per URL rule wired for a resource.
const (
	ActionIndex  = "index"
	ActionCreate = "create"
	ActionShow   = "show"
)

// KeyParam is the name of the URL parameter carrying an instance key.
const KeyParam = "id"

// ResourceName title-cases a table name and drops underscores.
func ResourceName(table string) string {
	var b strings.Builder
	for _, part := range strings.FieldsFunc(table, isSeparator) {
		runes := []rune(strings.ToLower(part))
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	return b.String()
}

// SchemaName is the display name of the schema derived for a resource.
func SchemaName(resource string) string {
	return resource + "Schema"
}

// DefaultPrefix is the collection URL used when a resource is registered
// without an explicit prefix.
func DefaultPrefix(table string) string {
	return "/" + table + "/"
}

// NormalizePrefix makes sure prefix starts and ends with a slash.
func NormalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

// Endpoint names one URL rule of a resource, e.g. "products_api/show".
func Endpoint(table, action string) string {
	return table + "_api/" + action
}

// ItemPattern returns the item URL pattern under a collection prefix.
func ItemPattern(prefix string) string {
	return prefix + "{" + KeyParam + "}/"
}

// ForeignKey returns the conventional column referencing rows of table,
// e.g. "categories" -> "category_id".
func ForeignKey(table string) string {
	return Singularize(table) + "_id"
}

func isSeparator(r rune) bool {
	return r == '_' || r == '-' || r == ' ' || r == '.'
}
