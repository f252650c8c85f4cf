package trace

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	flog "fintrack/internal/log"
)

func newTestMiddleware(buf *bytes.Buffer) *Middleware {
	logger := flog.New(flog.Config{
		Component: flog.ComponentHTTP,
		Handler:   flog.NewHandler(buf, slog.LevelDebug, "json"),
	})
	return NewMiddleware(func(*http.Request) string { return "203.0.113.9" }, logger)
}

func TestMiddleware_RequestID(t *testing.T) {
	var buf bytes.Buffer
	m := newTestMiddleware(&buf)

	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		flog.FromContext(r.Context()).InfoContext(r.Context(), "inside handler")
	}))

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))

		got := rec.Header().Get(HeaderRequestID)
		if !strings.HasPrefix(got, "req_") || got != seen {
			t.Fatalf("expected generated id echoed, header=%q context=%q", got, seen)
		}
		if !strings.Contains(buf.String(), `"request_id":"`+got+`"`) {
			t.Fatalf("handler log missing request id: %s", buf.String())
		}
	})

	t.Run("incoming kept", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, "abc-123")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Header().Get(HeaderRequestID) != "abc-123" || seen != "abc-123" {
			t.Fatalf("incoming id not kept: %q", rec.Header().Get(HeaderRequestID))
		}
	})

	t.Run("unsafe incoming replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, "bad id\nwith newline")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if !strings.HasPrefix(rec.Header().Get(HeaderRequestID), "req_") {
			t.Fatalf("unsafe id should be replaced, got %q", rec.Header().Get(HeaderRequestID))
		}
	})
}

func TestMiddleware_StatusAndMetrics(t *testing.T) {
	var buf bytes.Buffer
	m := newTestMiddleware(&buf)

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/boom" {
			w.WriteHeader(http.StatusInternalServerError)
			w.WriteHeader(http.StatusOK)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	got := m.GetMetrics()
	if got.TotalRequests != 2 || got.ServerErrors != 1 {
		t.Fatalf("unexpected metrics %+v", got)
	}
	out := buf.String()
	if !strings.Contains(out, `"status_code":500`) || !strings.Contains(out, `"level":"ERROR"`) {
		t.Fatalf("expected error completion log, got %s", out)
	}
	if !strings.Contains(out, `"client_ip":"203.0.113.9"`) {
		t.Fatalf("expected client ip in log, got %s", out)
	}
}

func TestGetRequestID_Empty(t *testing.T) {
	if got := GetRequestID(httptest.NewRequest(http.MethodGet, "/", nil).Context()); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}
