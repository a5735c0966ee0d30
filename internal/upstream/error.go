package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// Error is a failed call to a hosted service.
type Error struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s service error (status %d): %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s service error: %v", e.Service, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the upstream status. A call that timed out is 504, any other
// failure without a status is 502.
func (e *Error) HTTPStatus() int {
	if e.StatusCode >= 400 && e.StatusCode <= 599 {
		return e.StatusCode
	}
	if IsTimeout(e.Err) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

// Message returns the upstream's own error message when one was sent. Transport errors
// carry the upstream URL, so they are reported generically.
func (e *Error) Message() string {
	var apiErr *openai.APIError
	if errors.As(e.Err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if IsTimeout(e.Err) {
		return e.Service + " service timed out"
	}
	return e.Service + " service error"
}

// IsTimeout reports whether err is a context deadline or a client/network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

func wrapError(service string, err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return &Error{Service: service, StatusCode: status, Err: err}
}
