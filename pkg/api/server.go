// Package api assembles the SD Submit HTTP server: public auth and health
// endpoints plus the authenticated, transaction-scoped /v1 surface.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/CSCfi/sd-submit/pkg/api/problem"
	"github.com/CSCfi/sd-submit/pkg/api/session"
	v1 "github.com/CSCfi/sd-submit/pkg/api/v1"
	"github.com/CSCfi/sd-submit/pkg/auth"
	"github.com/CSCfi/sd-submit/pkg/files"
	"github.com/CSCfi/sd-submit/pkg/health"
	"github.com/CSCfi/sd-submit/pkg/logger"
	"github.com/CSCfi/sd-submit/pkg/project"
	"github.com/CSCfi/sd-submit/pkg/storage"
	"github.com/CSCfi/sd-submit/pkg/xmlproc"
)

const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Deps carries everything the router serves with.
type Deps struct {
	DB *sql.DB

	Submissions   storage.SubmissionStore
	Objects       storage.ObjectStore
	Registrations storage.RegistrationStore

	Auth     *auth.Service
	OIDC     *auth.OIDCProvider
	Projects project.Service

	Publisher v1.Publisher
	Rems      v1.ApplicationBaseLister
	Provider  files.FileProvider
	Processor xmlproc.Processor
	Health    *health.Aggregator

	SecureCookie bool
}

// NewRouter builds the full route tree.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Timeout(middlewareTimeout),
	)

	authRoutes := &authRoutes{oidc: deps.OIDC, auth: deps.Auth, secureCookie: deps.SecureCookie}
	r.Get("/login", authRoutes.login)
	r.Get("/callback", authRoutes.callback)
	r.Get("/logout", authRoutes.logout)
	r.Get("/health", healthHandler(deps.Health))

	r.Route("/v1", func(r chi.Router) {
		r.Use(
			auth.Middleware(deps.Auth, problem.Write),
			withProjects(deps.Projects),
			session.Middleware(deps.DB),
		)

		routers := map[string]http.Handler{
			"/submissions": v1.SubmissionRouter(deps.Submissions, deps.Registrations),
			"/objects":     v1.ObjectRouter(deps.Objects, deps.Submissions, deps.Processor),
			"/validate":    v1.ValidateRouter(deps.Processor),
			"/publish":     v1.PublishRouter(deps.Publisher),
			"/api/keys":    v1.APIKeyRouter(deps.Auth),
			"/buckets":     v1.BucketRouter(deps.Provider),
			"/rems":        v1.RemsRouter(deps.Rems),
			"/users":       v1.UserRouter(),
		}
		for prefix, router := range routers {
			r.Mount(prefix, router)
		}
	})

	return r
}

// withProjects resolves the caller's project memberships once per request.
func withProjects(projects project.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := auth.UserFromContext(r.Context())
			if ok && len(user.Projects) == 0 {
				memberships, err := projects.GetProjects(r.Context(), user.UserID)
				if err != nil {
					problem.Write(w, r, err)
					return
				}
				enriched := *user
				enriched.Projects = memberships
				r = r.WithContext(auth.WithUser(r.Context(), &enriched))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func healthHandler(aggregator *health.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := aggregator.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(report); err != nil {
			logger.Errorf("Writing health report: %v", err)
		}
	}
}

// Serve runs the server until the context is cancelled, then drains it.
func Serve(ctx context.Context, address string, handler http.Handler) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              address,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Infof("Listening on %s", address)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Infof("Server stopped")
	return nil
}
