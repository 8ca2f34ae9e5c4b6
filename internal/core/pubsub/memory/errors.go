// Package memory provides an in-process broker for standalone mode and tests.
package memory

import "errors"

// ErrInvalidSubject is returned for empty or wildcard publish subjects.
var ErrInvalidSubject = errors.New("memory: invalid subject")
