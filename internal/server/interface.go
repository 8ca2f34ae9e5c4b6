package server

import (
	"context"
	"net/http"
)

// Service is the HTTP listener shared by every route of the process.
type Service interface {
	// Start listens and serves until a fatal error occurs or ctx is
	// canceled.
	Start(ctx context.Context) error

	// Stop drains active connections until they finish or ctx expires.
	Stop(ctx context.Context) error

	// HTTPMux returns the mux routes are registered on. Routes must be
	// registered before Start.
	HTTPMux() *http.ServeMux

	// Addr returns the bound address, or "" before the listener is open.
	Addr() string
}
