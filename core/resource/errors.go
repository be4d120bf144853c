package resource

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Request-time errors. They are matched with errors.Is against a
// *ValidationError, which unwraps to every field error it carries.
var (
	ErrUnknownField                    = errors.New("unknown field")
	ErrUnsupportedRelationshipMutation = errors.New("unsupported relationship mutation")
	ErrInvalidInput                    = errors.New("invalid input type")
	ErrRequired                        = errors.New("missing required field")
	ErrNull                            = errors.New("field may not be null")
	ErrInvalidValue                    = errors.New("invalid value")
	ErrRelatedNotFound                 = errors.New("related instance not found")
	ErrImmutableKey                    = errors.New("primary key cannot be changed")
)

// ErrUnknownResource is returned by a Resolver for unregistered names.
var ErrUnknownResource = errors.New("unknown resource")

// SchemaField is the details key for errors about the payload as a whole.
const SchemaField = "_schema"

// FieldError is a single problem with one input field.
type FieldError struct {
	Field   string
	Message string
	Err     error
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *FieldError) Unwrap() error { return e.Err }

// ValidationError accumulates every field problem found while loading input.
type ValidationError struct {
	Errors []*FieldError
}

func (e *ValidationError) add(field string, err error, message string) {
	e.Errors = append(e.Errors, &FieldError{Field: field, Message: message, Err: err})
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Error()
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(parts, "; "))
}

// Unwrap exposes the individual field errors to errors.Is and errors.As.
func (e *ValidationError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, fe := range e.Errors {
		errs[i] = fe
	}
	return errs
}

// Details groups messages by field name, the shape used in error responses.
func (e *ValidationError) Details() map[string][]string {
	details := make(map[string][]string, len(e.Errors))
	for _, fe := range e.Errors {
		details[fe.Field] = append(details[fe.Field], fe.Message)
	}
	return details
}

// Fields returns the names of the offending fields, sorted.
func (e *ValidationError) Fields() []string {
	return slices.Sorted(maps.Keys(e.Details()))
}

func unknownFieldMessage(name string) string {
	return "Unknown field name " + name
}

func relationshipMessage(resource, target string) string {
	return fmt.Sprintf("Cannot update relationship through the `%s` model. "+
		"An alternative is to directly manipulate `%s` objects.", resource, target)
}

const (
	msgRequired     = "Missing data for required field."
	msgNull         = "Field may not be null."
	msgInvalidInput = "Invalid input type."
	msgImmutableKey = "Primary key cannot be changed."
)
