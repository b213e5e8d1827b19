// Package fiterr defines the error kinds shared by the fitting packages.
//
// Configuration and resource errors are fatal and surface immediately.
// Data-quality errors are recovered by the fit driver, which skips the
// affected fit unit and reports NaN results for it.
package fiterr

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is to classify any error returned by the
// fitting packages.
var (
	// ErrInvalidConfiguration indicates an unknown mode, wrong-length
	// parameter lists or an otherwise unusable fit setup.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrMissingResource indicates a required phase-map file is absent.
	ErrMissingResource = errors.New("missing resource")

	// ErrDataQualityDegenerate indicates a fit unit without enough valid data.
	ErrDataQualityDegenerate = errors.New("degenerate data")

	// ErrDimensionMismatch indicates arrays whose shapes disagree.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// Code is a stable identifier for an error kind.
type Code string

// Error codes.
const (
	CodeInvalidConfiguration  Code = "GRAV001"
	CodeMissingResource       Code = "GRAV002"
	CodeDataQualityDegenerate Code = "GRAV003"
	CodeDimensionMismatch     Code = "GRAV004"
)

// Error is a classified error carrying the operation that failed.
type Error struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's code.
func (e *Error) Is(target error) bool {
	return target != nil && target == sentinel(e.Code)
}

func sentinel(code Code) error {
	switch code {
	case CodeInvalidConfiguration:
		return ErrInvalidConfiguration
	case CodeMissingResource:
		return ErrMissingResource
	case CodeDataQualityDegenerate:
		return ErrDataQualityDegenerate
	case CodeDimensionMismatch:
		return ErrDimensionMismatch
	}
	return nil
}

// Invalid returns an ErrInvalidConfiguration error.
func Invalid(op, format string, args ...any) error {
	return &Error{Code: CodeInvalidConfiguration, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Missing returns an ErrMissingResource error for path.
func Missing(op, path string, err error) error {
	return &Error{Code: CodeMissingResource, Op: op, Message: fmt.Sprintf("%s does not exist, generate the phase map first", path), Err: err}
}

// Degenerate returns an ErrDataQualityDegenerate error.
func Degenerate(op, format string, args ...any) error {
	return &Error{Code: CodeDataQualityDegenerate, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Mismatch returns an ErrDimensionMismatch error.
func Mismatch(op, format string, args ...any) error {
	return &Error{Code: CodeDimensionMismatch, Op: op, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}
