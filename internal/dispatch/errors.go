package dispatch

import (
	"context"
	"errors"

	"github.com/syntrixbase/stagehand/pkg/model"
)

// Outcome is the protocol-level result class of an operation.
type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeBadRequest covers unparseable or unconvertible caller input.
	OutcomeBadRequest
	// OutcomeUnavailable means the store could not be reached in time.
	OutcomeUnavailable
	OutcomeServerError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeBadRequest:
		return "bad_request"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "server_error"
	}
}

// Classify maps an error returned by the service to its protocol outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case model.IsMalformed(err):
		return OutcomeBadRequest
	case errors.Is(err, model.ErrDatabaseUnavailable), errors.Is(err, context.DeadlineExceeded):
		return OutcomeUnavailable
	default:
		return OutcomeServerError
	}
}
