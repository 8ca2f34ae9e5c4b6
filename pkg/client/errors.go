// Package client provides the worker side of the dispatch protocol over
// HTTP and over the message queue.
package client

import (
	"errors"
	"fmt"
)

var (
	// ErrTryAgain is returned when no reply arrived within the receive
	// timeout. The request may still be served later; retry with a new call.
	ErrTryAgain = errors.New("no reply received, try again")
	// ErrBadRequest is returned when the service rejected the payload.
	ErrBadRequest = errors.New("bad request")
	// ErrServer is returned when the service failed to handle the request.
	ErrServer = errors.New("server error")
	// ErrUnavailable is returned when the service could not reach its store.
	ErrUnavailable = errors.New("service unavailable")
)

// APIError is a structured error returned by the service.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps the HTTP class to the package sentinels.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == 503:
		return ErrUnavailable
	case e.Status >= 400 && e.Status < 500:
		return ErrBadRequest
	default:
		return ErrServer
	}
}
