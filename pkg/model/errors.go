package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedInput is returned when a query or document payload cannot be parsed
	ErrMalformedInput = errors.New("malformed input")
	// ErrMalformedQuery is returned when a query payload is invalid
	ErrMalformedQuery = fmt.Errorf("%w: query", ErrMalformedInput)
	// ErrMalformedDocument is returned when a document payload is invalid
	ErrMalformedDocument = fmt.Errorf("%w: document", ErrMalformedInput)
	// ErrInvalidStage is returned when a stage name is empty or contains illegal characters
	ErrInvalidStage = fmt.Errorf("%w: stage name", ErrMalformedInput)
	// ErrConversion is returned when a valid payload cannot be converted to the store's native form
	ErrConversion = errors.New("conversion failed")
	// ErrDatabaseUnavailable is returned when the backing store cannot be reached
	ErrDatabaseUnavailable = errors.New("database unavailable")
	// ErrCanceled is returned when the operation is canceled by the client
	ErrCanceled = errors.New("operation canceled")
)

// IsMalformed reports whether err originates from a bad caller payload.
// Conversion errors count as malformed for the purpose of protocol replies.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedInput) || errors.Is(err, ErrConversion)
}

// WrapError converts context.Canceled and context.DeadlineExceeded to ErrCanceled.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsCanceled(err) {
		return ErrCanceled
	}
	return err
}

// IsCanceled returns true if the error is due to context cancellation or deadline exceeded.
// Drivers that flatten context errors into strings are matched by message.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrCanceled) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "context canceled") || strings.Contains(errStr, "context deadline exceeded")
}
