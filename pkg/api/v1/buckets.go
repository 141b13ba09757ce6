package v1

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CSCfi/sd-submit/pkg/api/session"
	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
	"github.com/CSCfi/sd-submit/pkg/files"
)

// BucketRoutes exposes the object storage buckets of a project.
type BucketRoutes struct {
	provider files.FileProvider
}

// BucketRouter sets up the bucket routes.
func BucketRouter(provider files.FileProvider) http.Handler {
	routes := &BucketRoutes{provider: provider}
	r := chi.NewRouter()
	r.Get("/", session.Handle(routes.list))
	r.Get("/{bucket}/files", session.Handle(routes.listFiles))
	r.Put("/{bucket}", session.Handle(routes.grant))
	r.Head("/{bucket}", session.Handle(routes.hasPolicy))
	return r
}

func (s *BucketRoutes) list(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	if err := requireMember(user, r.URL.Query().Get("projectId")); err != nil {
		return err
	}

	buckets, err := s.provider.ListBuckets(r.Context())
	if err != nil {
		return err
	}
	if buckets == nil {
		buckets = []string{}
	}
	return writeJSON(w, http.StatusOK, buckets)
}

func (s *BucketRoutes) listFiles(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	if err := requireMember(user, r.URL.Query().Get("projectId")); err != nil {
		return err
	}
	bucket := chi.URLParam(r, "bucket")

	bucketFiles, err := s.provider.ListFiles(r.Context(), bucket)
	if err != nil {
		return err
	}
	if len(bucketFiles) == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("bucket %q holds no files", bucket), nil)
	}
	return writeJSON(w, http.StatusOK, bucketFiles)
}

func (s *BucketRoutes) grant(w http.ResponseWriter, r *http.Request) error {
	if _, err := currentUser(r); err != nil {
		return err
	}
	bucket := chi.URLParam(r, "bucket")

	if err := s.provider.GrantReadPolicy(r.Context(), bucket); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (s *BucketRoutes) hasPolicy(w http.ResponseWriter, r *http.Request) error {
	if _, err := currentUser(r); err != nil {
		return err
	}
	bucket := chi.URLParam(r, "bucket")

	granted, err := s.provider.HasReadPolicy(r.Context(), bucket)
	if err != nil {
		return err
	}
	if !granted {
		return apperrors.NewUserError(fmt.Sprintf("bucket %q has no read policy", bucket), nil)
	}
	w.WriteHeader(http.StatusOK)
	return nil
}
