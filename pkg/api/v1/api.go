// Package v1 contains the HTTP routes of the SD Submit API.
package v1

import (
	"encoding/json"
	"net/http"

	"github.com/CSCfi/sd-submit/pkg/auth"
	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
	"github.com/CSCfi/sd-submit/pkg/storage"
)

// currentUser reads the authenticated user from the request context.
func currentUser(r *http.Request) (*storage.User, error) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		return nil, apperrors.NewUnauthorizedError("no authenticated user", nil)
	}
	return user, nil
}

// requireMember rejects the request when the user does not belong to the
// project owning the resource.
func requireMember(user *storage.User, projectID string) error {
	if projectID == "" {
		return apperrors.NewUserError("projectId is required", nil)
	}
	for _, project := range user.Projects {
		if project.ProjectID == projectID {
			return nil
		}
	}
	return apperrors.NewForbiddenError("user is not a member of project "+projectID, nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return apperrors.NewInternalError("encoding response", err)
	}
	return nil
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return apperrors.NewUserError("invalid request body", err)
	}
	return nil
}
