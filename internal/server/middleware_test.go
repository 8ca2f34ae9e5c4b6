package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoggedServer(cfg Config) (*serverImpl, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(cfg, logger).(*serverImpl), &buf
}

func lastLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestRequestIDMiddleware(t *testing.T) {
	srv := New(Config{}, nil).(*serverImpl)

	var seen string
	handler := srv.requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "existing-id")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, "existing-id", seen)
	assert.Equal(t, "existing-id", w.Header().Get("X-Request-ID"))
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, buf := newLoggedServer(Config{})

	handler := srv.recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("oops")
	}))

	w := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var errResp APIError
	require.NoError(t, json.NewDecoder(w.Body).Decode(&errResp))
	assert.Equal(t, "SERVER_ERROR", errResp.Code)
	assert.Equal(t, "Panic recovered", lastLogLine(t, buf)["msg"])
}

func TestLoggingMiddleware_Levels(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name   string
		status int
		ctx    context.Context
		level  string
	}{
		{"ok", http.StatusOK, context.Background(), "INFO"},
		{"no work", http.StatusNoContent, context.Background(), "DEBUG"},
		{"client closed", 499, context.Background(), "WARN"},
		{"canceled server error", http.StatusInternalServerError, canceled, "WARN"},
		{"server error", http.StatusInternalServerError, context.Background(), "ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, buf := newLoggedServer(Config{})
			handler := srv.loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			req := httptest.NewRequest("POST", "/v1/documents/claim", nil).WithContext(tt.ctx)
			handler.ServeHTTP(httptest.NewRecorder(), req)

			entry := lastLogLine(t, buf)
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, float64(tt.status), entry["status"])
			assert.Equal(t, "/v1/documents/claim", entry["path"])
		})
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "192.168.1.7, 10.0.0.1")

	direct := New(Config{}, nil).(*serverImpl)
	assert.Equal(t, "10.0.0.1", direct.clientIP(req))

	proxied := New(Config{TrustProxyHeaders: true}, nil).(*serverImpl)
	assert.Equal(t, "192.168.1.7", proxied.clientIP(req))
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mw("a"), mw("b"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, []string{"a", "b", "handler"}, order)
}

type flushRecorder struct {
	*httptest.ResponseRecorder
	flushed bool
}

func (f *flushRecorder) Flush() { f.flushed = true }

func TestResponseWriter_Flush(t *testing.T) {
	fr := &flushRecorder{ResponseRecorder: httptest.NewRecorder()}
	(&responseWriter{ResponseWriter: fr}).Flush()
	assert.True(t, fr.flushed)

	type plain struct{ http.ResponseWriter }
	assert.NotPanics(t, func() {
		(&responseWriter{ResponseWriter: plain{httptest.NewRecorder()}}).Flush()
	})
}
