package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"fintrack/internal/core"
	"fintrack/internal/identity"
	flog "fintrack/internal/log"
	"fintrack/internal/middleware/ratelimit"
	"fintrack/internal/middleware/security"
	"fintrack/internal/middleware/trace"
	"fintrack/internal/session"
	"fintrack/internal/store"
)

// requestTimeout bounds every store or identity call made by a handler.
const requestTimeout = 7 * time.Second

// Authenticator is the identity provider as seen by the API.
type Authenticator interface {
	SignUp(ctx context.Context, email, password string) (identity.Session, error)
	SignIn(ctx context.Context, email, password string) (identity.Session, error)
	SignOut(ctx context.Context, token string) error
	Verify(ctx context.Context, token string) (identity.Identity, error)
}

// Ledger is the per-owner application state as seen by the API.
type Ledger interface {
	Transactions(ctx context.Context, owner string) ([]core.Transaction, error)
	Add(ctx context.Context, owner string, n core.NewTransaction) (core.Transaction, error)
	Delete(ctx context.Context, owner, id string) error
	Dashboard(ctx context.Context, owner string, order session.Order) (session.Dashboard, error)
}

// Options configures NewServer. Pinger may be nil.
type Options struct {
	Auth               Authenticator
	Ledger             Ledger
	Pinger             store.Pinger
	TrustedProxies     []string
	RateLimitPerMinute int
	Locale             string
	Logger             *flog.Logger
}

type Server struct {
	http.Server
	auth          Authenticator
	ledger        Ledger
	pinger        store.Pinger
	defaultLocale string
	now           func() time.Time

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware

	shutdownOnce sync.Once
}

func NewServer(addr string, opts Options) (*Server, error) {
	if opts.Auth == nil || opts.Ledger == nil {
		return nil, fmt.Errorf("http server: auth and ledger are required")
	}
	detector, err := security.NewDetector(opts.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("http server: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = flog.New(flog.DefaultConfig())
	}

	s := &Server{
		auth:          opts.Auth,
		ledger:        opts.Ledger,
		pinger:        opts.Pinger,
		defaultLocale: opts.Locale,
		now:           time.Now,
		limiter:       ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		detector:      detector,
		tracer:        trace.NewMiddleware(detector.ExtractClientIP, logger),
	}
	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusNotFound, KindNotFound, "no such route").Write(w)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		MethodNotAllowedError().Write(w)
	})

	r.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)

	limited := s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		flog.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded", flog.FieldPath, r.URL.Path)
		ErrorResponse(http.StatusTooManyRequests, KindRateLimited, "rate limit exceeded, try again later").Write(w)
	})

	authR := r.PathPrefix("/auth").Subrouter()
	authR.Handle("/signup", limited(http.HandlerFunc(s.handleSignUp))).Methods(http.MethodPost)
	authR.Handle("/signin", limited(http.HandlerFunc(s.handleSignIn))).Methods(http.MethodPost)
	authR.Handle("/signout", s.requireAuth(http.HandlerFunc(s.handleSignOut))).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireAuth)
	api.HandleFunc("/transactions", s.handleListTransactions).Methods(http.MethodGet)
	api.Handle("/transactions", limited(http.HandlerFunc(s.handleCreateTransaction))).Methods(http.MethodPost)
	api.Handle("/transactions/{id}", limited(http.HandlerFunc(s.handleDeleteTransaction))).Methods(http.MethodDelete)
	api.HandleFunc("/dashboard", s.handleDashboard).Methods(http.MethodGet)

	var h http.Handler = r
	h = flog.ComponentMiddleware(flog.ComponentHTTP)(h)
	h = s.detector.Middleware(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = s.tracer.Middleware(h)
	return h
}

// Shutdown gracefully shuts down the server and its background loops.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
