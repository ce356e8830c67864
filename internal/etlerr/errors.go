// Package etlerr defines the error taxonomy shared by every load stage.
package etlerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	SourceNotFound      Kind = "source_not_found"
	SourceUnavailable   Kind = "source_unavailable"
	AuthenticationError Kind = "authentication_error"
	EndpointError       Kind = "endpoint_error"
	SchemaMismatch      Kind = "schema_mismatch"
	TransformError      Kind = "transform_error"
	WarehouseWriteError Kind = "warehouse_write_error"
	ConfigurationError  Kind = "configuration_error"
)

// Error is a classified stage failure. Optional fields carry the status
// information an operator needs to fix the run (HTTP status, column name,
// unresolved placeholders).
type Error struct {
	Kind         Kind
	Stage        string
	StatusCode   int
	Column       string
	Placeholders []string
	Err          error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Stage != "" {
		b.WriteString(e.Stage)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Column != "" {
		fmt.Fprintf(&b, " (column %q)", e.Column)
	}
	if len(e.Placeholders) > 0 {
		fmt.Fprintf(&b, " (unresolved: %s)", strings.Join(e.Placeholders, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error for stage.
func New(kind Kind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// Status creates a classified error that carries an HTTP status code.
func Status(kind Kind, stage string, code int, err error) *Error {
	return &Error{Kind: kind, Stage: stage, StatusCode: code, Err: err}
}

// Column creates a classified error that names the offending column.
func Column(kind Kind, stage, column string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Column: column, Err: err}
}

// Unresolved creates a ConfigurationError listing placeholder key paths.
func Unresolved(stage string, paths []string) *Error {
	return &Error{Kind: ConfigurationError, Stage: stage, Placeholders: paths}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
