package v1

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/CSCfi/sd-submit/pkg/api/session"
	"github.com/CSCfi/sd-submit/pkg/auth"
	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
)

// APIKeyRoutes serves API key management.
type APIKeyRoutes struct {
	auth *auth.Service
}

// APIKeyRouter sets up the API key routes.
func APIKeyRouter(authService *auth.Service) http.Handler {
	routes := &APIKeyRoutes{auth: authService}
	r := chi.NewRouter()
	r.Post("/", session.Handle(routes.create))
	r.Get("/", session.Handle(routes.list))
	r.Delete("/", session.Handle(routes.revoke))
	return r
}

type keyRequest struct {
	KeyID string `json:"keyId"`
}

type keyResponse struct {
	KeyID     string    `json:"keyId"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *APIKeyRoutes) create(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	var req keyRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.KeyID == "" {
		return apperrors.NewUserError("keyId is required", nil)
	}

	plaintext, err := s.auth.CreateAPIKey(r.Context(), user.UserID, req.KeyID)
	if err != nil {
		return err
	}

	// The secret is shown exactly once, framed for easy copying.
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "\n%s\n\n", plaintext)
	return nil
}

func (s *APIKeyRoutes) list(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	keys, err := s.auth.ListAPIKeys(r.Context(), user.UserID)
	if err != nil {
		return err
	}

	response := make([]keyResponse, 0, len(keys))
	for _, key := range keys {
		response = append(response, keyResponse{KeyID: key.KeyID, CreatedAt: key.CreatedAt})
	}
	return writeJSON(w, http.StatusOK, response)
}

func (s *APIKeyRoutes) revoke(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	var req keyRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.KeyID == "" {
		return apperrors.NewUserError("keyId is required", nil)
	}

	if err := s.auth.RevokeAPIKey(r.Context(), user.UserID, req.KeyID); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
