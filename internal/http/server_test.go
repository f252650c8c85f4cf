package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"fintrack/internal/identity"
	flog "fintrack/internal/log"
	"fintrack/internal/session"
	"fintrack/internal/store/memory"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func quietLogger() *flog.Logger {
	return flog.New(flog.Config{Handler: flog.NewHandler(io.Discard, flog.ParseLevel("error"), "text")})
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	st := memory.New()
	provider, err := identity.NewProvider(st, identity.Config{
		Secret:     []byte("0123456789abcdef0123456789"),
		TTL:        time.Hour,
		BcryptCost: bcrypt.MinCost,
	}, nil)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if opts.Auth == nil {
		opts.Auth = provider
	}
	if opts.Ledger == nil {
		opts.Ledger = session.NewManager(st, session.Options{Logger: quietLogger()})
	}
	opts.Logger = quietLogger()

	srv, err := NewServer(":0", opts)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, path, token, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return v
}

func signUp(t *testing.T, srv *Server, email string) string {
	t.Helper()
	rr := do(t, srv, http.MethodPost, "/auth/signup", "", "application/json",
		`{"email":"`+email+`","password":"secret123"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup status=%d body=%s", rr.Code, rr.Body.String())
	}
	return decode[sessionView](t, rr).Token
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, Options{})

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := do(t, srv, http.MethodGet, path, "", "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Errorf("%s: missing X-Request-ID", path)
		}
		if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Errorf("%s: missing security headers", path)
		}
	}

	down := newTestServer(t, Options{Pinger: fakePinger{err: errors.New("db down")}})
	rr := do(t, down, http.MethodGet, "/readyz", "", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with failing pinger status=%d", rr.Code)
	}
	if body := decode[errorBody](t, rr); body.Kind != KindUnavailable || strings.Contains(body.Error, "db down") {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestAuthFlow(t *testing.T) {
	srv := newTestServer(t, Options{})

	token := signUp(t, srv, "Ana@Example.com")

	t.Run("duplicate signup", func(t *testing.T) {
		rr := do(t, srv, http.MethodPost, "/auth/signup", "", "application/json",
			`{"email":"ana@example.com","password":"secret123"}`)
		if rr.Code != http.StatusConflict {
			t.Fatalf("status=%d", rr.Code)
		}
	})

	t.Run("short password", func(t *testing.T) {
		rr := do(t, srv, http.MethodPost, "/auth/signup", "", "application/json",
			`{"email":"bob@example.com","password":"123"}`)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status=%d", rr.Code)
		}
	})

	t.Run("signin with form body", func(t *testing.T) {
		rr := do(t, srv, http.MethodPost, "/auth/signin", "", "application/x-www-form-urlencoded",
			"email=ana%40example.com&password=secret123")
		if rr.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
		}
		if v := decode[sessionView](t, rr); v.Token == "" || v.User.Email != "ana@example.com" {
			t.Errorf("unexpected session %+v", v)
		}
	})

	t.Run("signin wrong password", func(t *testing.T) {
		rr := do(t, srv, http.MethodPost, "/auth/signin", "", "application/json",
			`{"email":"ana@example.com","password":"wrong-one"}`)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("status=%d", rr.Code)
		}
		if body := decode[errorBody](t, rr); body.Kind != "invalid_credentials" {
			t.Errorf("kind=%q", body.Kind)
		}
	})

	t.Run("api without token", func(t *testing.T) {
		rr := do(t, srv, http.MethodGet, "/api/transactions", "", "", "")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("status=%d", rr.Code)
		}
		if rr.Header().Get("WWW-Authenticate") == "" {
			t.Error("missing WWW-Authenticate")
		}
	})

	t.Run("signout revokes token", func(t *testing.T) {
		rr := do(t, srv, http.MethodPost, "/auth/signout", token, "", "")
		if rr.Code != http.StatusNoContent {
			t.Fatalf("signout status=%d", rr.Code)
		}
		rr = do(t, srv, http.MethodGet, "/api/transactions", token, "", "")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("revoked token status=%d", rr.Code)
		}
		if body := decode[errorBody](t, rr); body.Kind != "revoked" {
			t.Errorf("kind=%q", body.Kind)
		}
	})
}

func TestTransactionsAndDashboard(t *testing.T) {
	srv := newTestServer(t, Options{})
	token := signUp(t, srv, "ana@example.com")

	rr := do(t, srv, http.MethodPost, "/api/transactions", token, "application/json",
		`{"description":"Salary","amount":"1.234,56","type":"income","category":"Work","date":"2024-03-05"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
	}
	salary := decode[transactionView](t, rr)
	if rr.Header().Get("Location") != "/api/transactions/"+salary.ID {
		t.Errorf("Location=%q", rr.Header().Get("Location"))
	}
	if salary.Amount != "1234.56" || salary.Date != "2024-03-05" {
		t.Errorf("unexpected view %+v", salary)
	}

	rr = do(t, srv, http.MethodPost, "/api/transactions", token, "application/x-www-form-urlencoded",
		"description=Groceries&amount=34.56&type=expense&category=Food&date=2024-03-20")
	if rr.Code != http.StatusCreated {
		t.Fatalf("form create status=%d body=%s", rr.Code, rr.Body.String())
	}
	groceries := decode[transactionView](t, rr)

	t.Run("invalid amount", func(t *testing.T) {
		rr := do(t, srv, http.MethodPost, "/api/transactions", token, "application/json",
			`{"description":"x","amount":"abc","type":"income","category":"c"}`)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status=%d", rr.Code)
		}
		if body := decode[errorBody](t, rr); body.Kind != KindValidation || body.Error != "invalid amount" {
			t.Errorf("unexpected body %+v", body)
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		rr := do(t, srv, http.MethodPost, "/api/transactions", token, "application/json", `{"amount":`)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", rr.Code)
		}
	})

	t.Run("list newest first", func(t *testing.T) {
		rr := do(t, srv, http.MethodGet, "/api/transactions", token, "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("status=%d", rr.Code)
		}
		body := decode[struct {
			Transactions []transactionView `json:"transactions"`
			Count        int               `json:"count"`
		}](t, rr)
		if body.Count != 2 || body.Transactions[0].ID != groceries.ID {
			t.Fatalf("unexpected list %+v", body)
		}
	})

	t.Run("dashboard in pt-BR", func(t *testing.T) {
		rr := do(t, srv, http.MethodGet, "/api/dashboard?locale=pt-BR", token, "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("status=%d", rr.Code)
		}
		d := decode[dashboardView](t, rr)
		if d.Totals.Balance.Value != "1200" || d.Totals.Balance.Formatted != "R$ 1.200,00" {
			t.Errorf("balance=%+v", d.Totals.Balance)
		}
		if len(d.Months) != 1 || d.Months[0].Label != "março de 2024" {
			t.Errorf("months=%+v", d.Months)
		}
		if d.Empty || d.Count != 2 || d.Order != string(session.OrderFirstSeen) {
			t.Errorf("unexpected dashboard %+v", d)
		}
	})

	t.Run("other users cannot delete", func(t *testing.T) {
		other := signUp(t, srv, "bob@example.com")
		rr := do(t, srv, http.MethodDelete, "/api/transactions/"+salary.ID, other, "", "")
		if rr.Code != http.StatusNotFound {
			t.Fatalf("status=%d", rr.Code)
		}
	})

	t.Run("delete", func(t *testing.T) {
		rr := do(t, srv, http.MethodDelete, "/api/transactions/"+salary.ID, token, "", "")
		if rr.Code != http.StatusNoContent {
			t.Fatalf("status=%d", rr.Code)
		}
		rr = do(t, srv, http.MethodDelete, "/api/transactions/"+salary.ID, token, "", "")
		if rr.Code != http.StatusNotFound {
			t.Fatalf("second delete status=%d", rr.Code)
		}

		rr = do(t, srv, http.MethodGet, "/api/dashboard", token, "", "")
		d := decode[dashboardView](t, rr)
		if d.Totals.Balance.Value != "-34.56" || d.Totals.Balance.Formatted != "-$34.56" {
			t.Errorf("balance after delete=%+v", d.Totals.Balance)
		}
	})
}

func TestRoutingErrors(t *testing.T) {
	srv := newTestServer(t, Options{})

	rr := do(t, srv, http.MethodPost, "/healthz", "", "", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("wrong method status=%d", rr.Code)
	}
	if body := decode[errorBody](t, rr); body.Kind != KindMethod {
		t.Errorf("kind=%q", body.Kind)
	}

	rr = do(t, srv, http.MethodGet, "/nope", "", "", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown route status=%d", rr.Code)
	}
}

func TestRateLimitedSignIn(t *testing.T) {
	srv := newTestServer(t, Options{RateLimitPerMinute: 2})

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = do(t, srv, http.MethodPost, "/auth/signin", "", "application/json",
			`{"email":"nobody@example.com","password":"whatever"}`)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if body := decode[errorBody](t, last); body.Kind != KindRateLimited {
		t.Errorf("kind=%q", body.Kind)
	}
}

func TestNewServerRequiresDependencies(t *testing.T) {
	if _, err := NewServer(":0", Options{}); err == nil {
		t.Fatal("expected error without auth and ledger")
	}
}
