// Package errors defines the structured error type shared by the proxy's handlers and
// services. Every failure that reaches the HTTP surface is an AppError of one of three
// kinds: validation, upstream, or IO.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes carried by AppError.Code.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeUpstream   = "UPSTREAM_ERROR"
	CodeIO         = "IO_ERROR"
	CodeInternal   = "INTERNAL_ERROR"
)

// AppError represents a structured application error.
type AppError struct {
	// HTTPStatusCode is the HTTP status code to return.
	HTTPStatusCode int `json:"-"`
	// Code is an internal error code string.
	Code string `json:"code"`
	// Message is the user-facing error message.
	Message string `json:"message"`
	// Details provides additional error context (optional).
	Details map[string]interface{} `json:"details,omitempty"`
	// Err is the underlying error (not marshaled to JSON).
	Err error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// ToJSON returns the JSON byte representation of the error.
func (e *AppError) ToJSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// WithDetail attaches a key/value pair to Details and returns the receiver.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{}, 1)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError.
func New(statusCode int, code, message string, err error) *AppError {
	return &AppError{
		HTTPStatusCode: statusCode,
		Code:           code,
		Message:        message,
		Err:            err,
	}
}

// Validation reports a missing or malformed request field. Never retried.
func Validation(message string) *AppError {
	return New(http.StatusBadRequest, CodeValidation, message, nil)
}

// Upstream wraps a hosted-service failure. When err exposes an HTTPStatus() in the 4xx/5xx
// range that status is propagated, otherwise 502 is used.
func Upstream(service string, err error) *AppError {
	status := http.StatusBadGateway
	var sc interface{ HTTPStatus() int }
	if stderrors.As(err, &sc) {
		if code := sc.HTTPStatus(); code >= 400 && code <= 599 {
			status = code
		}
	}
	return New(status, CodeUpstream, service+" request failed", err).WithDetail("service", service)
}

// IO wraps a temp-file or audio file failure.
func IO(op string, err error) *AppError {
	return New(http.StatusInternalServerError, CodeIO, op, err)
}

// StatusOf returns the HTTP status for err, defaulting to 500 for non-AppErrors.
func StatusOf(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) && appErr.HTTPStatusCode > 0 {
		return appErr.HTTPStatusCode
	}
	return http.StatusInternalServerError
}

// Is reports whether err is an AppError carrying code.
func Is(err error, code string) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}
