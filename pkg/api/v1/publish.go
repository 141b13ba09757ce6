package v1

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CSCfi/sd-submit/pkg/api/session"
	"github.com/CSCfi/sd-submit/pkg/storage"
)

// Publisher runs the publication of one submission.
type Publisher interface {
	Publish(ctx context.Context, user *storage.User, submissionID string) error
}

// PublishRoutes triggers the publication orchestrator.
type PublishRoutes struct {
	publisher Publisher
}

// PublishRouter sets up the publication route.
func PublishRouter(publisher Publisher) http.Handler {
	routes := &PublishRoutes{publisher: publisher}
	r := chi.NewRouter()
	r.Patch("/{submissionID}", session.Handle(routes.publish))
	return r
}

type publishResponse struct {
	SubmissionID string `json:"submissionId"`
}

func (s *PublishRoutes) publish(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	submissionID := chi.URLParam(r, "submissionID")

	if err := s.publisher.Publish(r.Context(), user, submissionID); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, publishResponse{SubmissionID: submissionID})
}
