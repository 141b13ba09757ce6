package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CSCfi/sd-submit/pkg/api/session"
)

// UserRoutes serves the authenticated caller's identity.
type UserRoutes struct{}

// UserRouter sets up the user route.
func UserRouter() http.Handler {
	routes := &UserRoutes{}
	r := chi.NewRouter()
	r.Get("/", session.Handle(routes.get))
	return r
}

func (s *UserRoutes) get(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, user)
}
