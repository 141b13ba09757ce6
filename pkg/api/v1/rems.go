package v1

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CSCfi/sd-submit/pkg/api/session"
	"github.com/CSCfi/sd-submit/pkg/clients"
)

// ApplicationBaseLister lists the REMS building blocks offered to the UI.
type ApplicationBaseLister interface {
	ApplicationBases(ctx context.Context, language, organisation string) ([]clients.Organization, error)
}

// RemsRoutes serves the REMS reference data used when shaping a RemsSpec.
type RemsRoutes struct {
	rems ApplicationBaseLister
}

// RemsRouter sets up the REMS reference data route.
func RemsRouter(rems ApplicationBaseLister) http.Handler {
	routes := &RemsRoutes{rems: rems}
	r := chi.NewRouter()
	r.Get("/", session.Handle(routes.list))
	return r
}

func (s *RemsRoutes) list(w http.ResponseWriter, r *http.Request) error {
	if _, err := currentUser(r); err != nil {
		return err
	}

	language := r.URL.Query().Get("language")
	if language == "" {
		language = "en"
	}
	organisation := r.URL.Query().Get("organisation")

	organisations, err := s.rems.ApplicationBases(r.Context(), language, organisation)
	if err != nil {
		return err
	}
	if organisations == nil {
		organisations = []clients.Organization{}
	}
	return writeJSON(w, http.StatusOK, organisations)
}
