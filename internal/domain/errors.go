package domain

import (
	"fmt"
	"strings"
)

// TemplateError indicates a malformed template. It is localized to one
// object and does not abort the batch.
type TemplateError struct {
	ID  ObjectID
	Err error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template for %s: %v", e.ID, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// ErrTemplate wraps a rendering failure with the object it belongs to.
func ErrTemplate(id ObjectID, err error) *TemplateError {
	return &TemplateError{ID: id, Err: err}
}

// UnresolvedReferenceError indicates a ref() call naming an object that is
// absent from the source tree.
type UnresolvedReferenceError struct {
	Ref  string
	From ObjectID
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("unresolved reference %q in %s", e.Ref, e.From)
}

// ErrUnresolvedReference reports a failed ref() lookup.
func ErrUnresolvedReference(ref string, from ObjectID) *UnresolvedReferenceError {
	return &UnresolvedReferenceError{Ref: ref, From: from}
}

// CyclicDependencyError indicates the reference edges do not form a DAG.
// It aborts the entire deployment.
type CyclicDependencyError struct {
	Members []ObjectID
}

func (e *CyclicDependencyError) Error() string {
	names := make([]string, len(e.Members))
	for i, id := range e.Members {
		names[i] = id.String()
	}
	return "cyclic dependency between " + strings.Join(names, ", ")
}

// ConfigValidationError indicates malformed metric/rank configuration.
// It aborts before any rendering begins.
type ConfigValidationError struct {
	Message string
}

func (e *ConfigValidationError) Error() string { return e.Message }

// ErrConfigValidation creates a ConfigValidationError with a formatted message.
func ErrConfigValidation(format string, args ...interface{}) *ConfigValidationError {
	return &ConfigValidationError{Message: fmt.Sprintf(format, args...)}
}

// WarehouseOperationError indicates a failure communicating with or executing
// DDL against the remote warehouse.
type WarehouseOperationError struct {
	Op     string
	Object string
	Err    error
}

func (e *WarehouseOperationError) Error() string {
	if e.Object == "" {
		return fmt.Sprintf("warehouse %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("warehouse %s %s: %v", e.Op, e.Object, e.Err)
}

func (e *WarehouseOperationError) Unwrap() error { return e.Err }

// ErrWarehouseOperation wraps a warehouse failure with the operation and the
// object it applied to.
func ErrWarehouseOperation(op, object string, err error) *WarehouseOperationError {
	return &WarehouseOperationError{Op: op, Object: object, Err: err}
}
