// Package session scopes one database transaction to each API request.
// Handlers run inside the transaction; it commits only when the handler
// returns cleanly and rolls back on any error or panic.
package session

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/CSCfi/sd-submit/pkg/api/problem"
	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
	"github.com/CSCfi/sd-submit/pkg/logger"
	"github.com/CSCfi/sd-submit/pkg/storage"
)

// Handler is an HTTP handler that reports its outcome. A nil return commits
// the request's transaction; an error rolls it back and is rendered as a
// problem document.
type Handler func(w http.ResponseWriter, r *http.Request) error

// outcome carries the handler result out to the enclosing middleware.
type outcome struct {
	err error
}

type outcomeKey struct{}

// Handle adapts a Handler for chi. The error is recorded for the session
// middleware before it is serialised.
func Handle(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if o, ok := r.Context().Value(outcomeKey{}).(*outcome); ok {
			o.err = err
		}
		if err != nil {
			problem.Write(w, r, err)
		}
	}
}

// Middleware opens a transaction per request and exposes it to the
// repositories through the context. Requests that already carry a
// transaction are rejected as an internal invariant violation.
func Middleware(db *sql.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if _, ok := storage.TxFromContext(ctx); ok {
				problem.Write(w, r, apperrors.NewInternalError("nested database session", nil))
				return
			}

			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				problem.Write(w, r, apperrors.NewInternalError("opening database session", err))
				return
			}

			o := &outcome{}
			ctx = storage.WithTx(ctx, tx)
			ctx = context.WithValue(ctx, outcomeKey{}, o)

			defer func() {
				if p := recover(); p != nil {
					rollback(tx)
					panic(p)
				}
			}()

			next.ServeHTTP(w, r.WithContext(ctx))

			if o.err != nil {
				rollback(tx)
				return
			}
			if err := tx.Commit(); err != nil && err != sql.ErrTxDone {
				logger.Errorf("Committing request transaction: %v", err)
			}
		})
	}
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		logger.Errorf("Rolling back request transaction: %v", err)
	}
}
