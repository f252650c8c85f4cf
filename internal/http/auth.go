package http

import (
	"context"
	"net/http"

	"fintrack/internal/identity"
	flog "fintrack/internal/log"
)

type identityKey struct{}

// identityFrom returns the caller authenticated by requireAuth.
func identityFrom(ctx context.Context) (identity.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(identity.Identity)
	return id, ok
}

// requireAuth verifies the bearer token and stores the caller's identity in
// the request context. Downstream handlers scope every read and write to it.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.auth.Verify(r.Context(), bearerToken(r))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="fintrack"`)
			writeError(w, r, err, "authenticate")
			return
		}
		logger := flog.FromContext(r.Context()).With(flog.FieldOwner, id.UserID)
		ctx := context.WithValue(r.Context(), identityKey{}, id)
		ctx = context.WithValue(ctx, flog.LoggerContextKey, logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		writeError(w, r, err, flog.OpSignUp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	sess, err := s.auth.SignUp(ctx, p.Get("email"), p.GetRaw("password"))
	if err != nil {
		writeError(w, r, err, flog.OpSignUp)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(newSessionView(sess)).Write(w)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		writeError(w, r, err, flog.OpSignIn)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	sess, err := s.auth.SignIn(ctx, p.Get("email"), p.GetRaw("password"))
	if err != nil {
		writeError(w, r, err, flog.OpSignIn)
		return
	}
	NewJSONResponse().Body(newSessionView(sess)).Write(w)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.SignOut(r.Context(), bearerToken(r)); err != nil {
		writeError(w, r, err, flog.OpSignOut)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
