// Package cerr defines the wire-level error taxonomy shared by the core
// engine and the HTTP service.
package cerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Wire-level error codes returned to API clients.
const (
	CodeInvalidParameterSelection = "invalid_parameter_selection"
	CodeInvalidInput              = "invalid_input"
	CodeUnauthorized              = "unauthorized"
	CodeForbidden                 = "forbidden"
	CodeConfigurationError        = "configuration_error"
	CodeResultTooLarge            = "dataset_result_too_large"
	CodeExecutionError            = "execution_error"
	CodeDuplicateConfigurable     = "duplicate_configurable_header"
)

// Error carries a wire-level code and HTTP status alongside the wrapped
// cause. Configuration errors are server-side faults and must never be
// attributed to the client.
type Error struct {
	Code           string
	HTTPStatusCode int
	Err            error
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

// InvalidSelection reports a parse or validation failure for a parameter
// selection. It includes the raw value and a short reason.
func InvalidSelection(name, raw, reason string) *Error {
	return &Error{
		Code:           CodeInvalidParameterSelection,
		HTTPStatusCode: http.StatusBadRequest,
		Err:            fmt.Errorf("parameter %q: invalid selection %q: %s", name, raw, reason),
	}
}

func InvalidInput(err error) *Error {
	return &Error{Code: CodeInvalidInput, HTTPStatusCode: http.StatusBadRequest, Err: err}
}

func Unauthorized(err error) *Error {
	return &Error{Code: CodeUnauthorized, HTTPStatusCode: http.StatusUnauthorized, Err: err}
}

func Forbidden(err error) *Error {
	return &Error{Code: CodeForbidden, HTTPStatusCode: http.StatusForbidden, Err: err}
}

// Config reports a project-side problem discovered at runtime such as an
// unknown parameter name, a dependency cycle, or invalid parent typing.
func Config(format string, args ...any) *Error {
	return &Error{
		Code:           CodeConfigurationError,
		HTTPStatusCode: http.StatusInternalServerError,
		Err:            fmt.Errorf(format, args...),
	}
}

func TooLarge(rows, max int) *Error {
	return &Error{
		Code:           CodeResultTooLarge,
		HTTPStatusCode: http.StatusRequestEntityTooLarge,
		Err:            fmt.Errorf("result has %d rows, exceeds the configured maximum of %d", rows, max),
	}
}

// Execution attributes a downstream SQL or model failure to a single model
// node.
func Execution(model string, err error) *Error {
	return &Error{
		Code:           CodeExecutionError,
		HTTPStatusCode: http.StatusInternalServerError,
		Err:            fmt.Errorf("model %q: %w", model, err),
	}
}

func DuplicateConfigurable(name string) *Error {
	return &Error{
		Code:           CodeDuplicateConfigurable,
		HTTPStatusCode: http.StatusBadRequest,
		Err:            fmt.Errorf("configurable %q set by more than one header", name),
	}
}

// CodeOf extracts the wire-level code from err, defaulting to
// execution_error for untyped failures.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeExecutionError
}

// StatusOf extracts the HTTP status from err, defaulting to 500.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatusCode
	}
	return http.StatusInternalServerError
}
