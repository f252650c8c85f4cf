package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"fintrack/internal/core"
	flog "fintrack/internal/log"
	"fintrack/internal/present"
	"fintrack/internal/session"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			flog.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", flog.FieldError, err)
			ErrorResponse(http.StatusServiceUnavailable, KindUnavailable, "backend unavailable").Write(w)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ready"))
}

// locale picks the display locale from ?locale=, then Accept-Language.
func (s *Server) locale(r *http.Request) present.Locale {
	return present.Resolve(r.URL.Query().Get("locale"), r.Header.Get("Accept-Language"), s.defaultLocale)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	txs, err := s.ledger.Transactions(ctx, id.UserID)
	if err != nil {
		writeError(w, r, err, flog.OpList)
		return
	}
	NewJSONResponse().Body(map[string]interface{}{
		"transactions": newTransactionViews(txs, s.locale(r)),
		"count":        len(txs),
	}).Write(w)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		writeError(w, r, err, flog.OpCreate)
		return
	}
	n, err := parseNewTransaction(p, s.now())
	if err != nil {
		writeError(w, r, err, flog.OpCreate)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	created, err := s.ledger.Add(ctx, id.UserID, n)
	if err != nil {
		writeError(w, r, err, flog.OpCreate)
		return
	}

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/transactions/"+created.ID).
		Body(newTransactionView(created, s.locale(r))).
		Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	txID := strings.TrimSpace(mux.Vars(r)["id"])
	if txID == "" {
		writeError(w, r, core.ErrNotFound, flog.OpDelete)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := s.ledger.Delete(ctx, id.UserID, txID); err != nil {
		writeError(w, r, err, flog.OpDelete)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	order := session.ParseOrder(r.URL.Query().Get("order"))

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	d, err := s.ledger.Dashboard(ctx, id.UserID, order)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return // client went away
		}
		writeError(w, r, err, flog.OpLoad)
		return
	}
	NewJSONResponse().Body(newDashboardView(d, s.locale(r))).Write(w)
}
