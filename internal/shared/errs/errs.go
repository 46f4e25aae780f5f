// Package errs defines the structured error taxonomy shared by the block services.
//
// Every failure a caller can act on is one of the concrete types below. Callers match with
// errors.As or the Is* helpers; the HTTP layer maps each type onto a status code.
// Missing or unsupported data found while resolving references is not an error and never
// appears here: it is reported as a warning on the affected reference.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Issue is a single field-level problem carried by a ValidationError.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError reports a type, slot, schema or binding mismatch.
type ValidationError struct {
	Field   string   `json:"field,omitempty"`
	Message string   `json:"message"`
	Missing []string `json:"missing,omitempty"`
	Extra   []string `json:"extra,omitempty"`
	Issues  []Issue  `json:"issues,omitempty"`
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("validation failed")
	if e.Field != "" {
		sb.WriteString(" on ")
		sb.WriteString(e.Field)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&sb, " (missing: %s)", strings.Join(e.Missing, ", "))
	}
	if len(e.Extra) > 0 {
		fmt.Fprintf(&sb, " (extra: %s)", strings.Join(e.Extra, ", "))
	}
	return sb.String()
}

// ConflictError reports a write that collides with existing state.
type ConflictError struct {
	Resource string `json:"resource"`
	Message  string `json:"message"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Resource, e.Message)
}

// NotFoundError reports a missing block, block type, parent, child or reference.
type NotFoundError struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// AmbiguousDeletionError reports several stored references matching a delete without a path.
type AmbiguousDeletionError struct {
	EntityType string   `json:"entity_type"`
	EntityID   string   `json:"entity_id"`
	Paths      []string `json:"paths"`
}

func (e *AmbiguousDeletionError) Error() string {
	return fmt.Sprintf("%d references match %s/%s, specify one of paths %s",
		len(e.Paths), e.EntityType, e.EntityID, strings.Join(e.Paths, ", "))
}

// CycleError reports an ownership edge that would make a block its own ancestor.
type CycleError struct {
	ParentID string `json:"parent_id"`
	ChildID  string `json:"child_id"`
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("adding %s under %s would create an ownership cycle", e.ChildID, e.ParentID)
}

// UnsupportedError reports a feature that is declared but has no evaluation semantics.
type UnsupportedError struct {
	Feature string `json:"feature"`
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s is not supported", e.Feature)
}

// Constructors

func Validation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func Conflict(resource, format string, args ...any) *ConflictError {
	return &ConflictError{Resource: resource, Message: fmt.Sprintf(format, args...)}
}

func NotFound(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// Predicates

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsAmbiguous(err error) bool {
	var target *AmbiguousDeletionError
	return errors.As(err, &target)
}

func IsCycle(err error) bool {
	var target *CycleError
	return errors.As(err, &target)
}

func IsUnsupported(err error) bool {
	var target *UnsupportedError
	return errors.As(err, &target)
}
