package v1

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/CSCfi/sd-submit/pkg/api/session"
	"github.com/CSCfi/sd-submit/pkg/datacite"
	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
	"github.com/CSCfi/sd-submit/pkg/storage"
)

// SubmissionRoutes serves the submission CRUD surface.
type SubmissionRoutes struct {
	submissions   storage.SubmissionStore
	registrations storage.RegistrationStore
}

// SubmissionRouter sets up the submission routes.
func SubmissionRouter(submissions storage.SubmissionStore, registrations storage.RegistrationStore) http.Handler {
	routes := &SubmissionRoutes{submissions: submissions, registrations: registrations}
	r := chi.NewRouter()
	r.Post("/", session.Handle(routes.create))
	r.Get("/", session.Handle(routes.list))
	r.Get("/{submissionID}", session.Handle(routes.get))
	r.Patch("/{submissionID}", session.Handle(routes.patch))
	r.Delete("/{submissionID}", session.Handle(routes.delete))
	r.Get("/{submissionID}/registrations", session.Handle(routes.listRegistrations))
	return r
}

type createSubmissionRequest struct {
	Name        string             `json:"name"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	ProjectID   string             `json:"projectId"`
	Workflow    storage.Workflow   `json:"workflow"`
	Bucket      string             `json:"bucket,omitempty"`
	Metadata    *datacite.Metadata `json:"metadata,omitempty"`
	Rems        *storage.RemsSpec  `json:"rems,omitempty"`
}

func (s *SubmissionRoutes) create(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	var req createSubmissionRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.Name == "" {
		return apperrors.NewUserError("name is required", nil)
	}
	if !req.Workflow.Valid() {
		return apperrors.NewUserError(fmt.Sprintf("unknown workflow %q", req.Workflow), nil)
	}
	if err := requireMember(user, req.ProjectID); err != nil {
		return err
	}

	now := time.Now().UTC()
	submission := &storage.Submission{
		SubmissionID: uuid.NewString(),
		ProjectID:    req.ProjectID,
		Workflow:     req.Workflow,
		Name:         req.Name,
		Title:        req.Title,
		Description:  req.Description,
		DateCreated:  now,
		LastModified: now,
		Bucket:       req.Bucket,
		Metadata:     req.Metadata,
		Rems:         req.Rems,
	}
	if err := s.submissions.Create(r.Context(), submission); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return apperrors.NewUserError(
				fmt.Sprintf("submission name %q already exists in project %s", req.Name, req.ProjectID), err)
		}
		return apperrors.NewInternalError("creating submission", err)
	}

	return writeJSON(w, http.StatusCreated, submission)
}

func (s *SubmissionRoutes) list(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	query := r.URL.Query()
	if err := requireMember(user, query.Get("projectId")); err != nil {
		return err
	}
	filter, err := submissionFilter(query)
	if err != nil {
		return err
	}

	items, total, err := s.submissions.List(r.Context(), filter)
	if err != nil {
		return apperrors.NewInternalError("listing submissions", err)
	}

	pages := totalPages(total, filter.PerPage)
	if len(items) > 0 {
		setLinkHeader(w, r, filter.Page, filter.PerPage, pages)
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	if items == nil {
		items = []*storage.Submission{}
	}
	return writeJSON(w, http.StatusOK, items)
}

func submissionFilter(query url.Values) (storage.SubmissionFilter, error) {
	page, perPage, err := parsePagination(query)
	if err != nil {
		return storage.SubmissionFilter{}, err
	}

	filter := storage.SubmissionFilter{
		ProjectID: query.Get("projectId"),
		Name:      query.Get("name"),
		Page:      page,
		PerPage:   perPage,
	}

	if raw := query.Get("published"); raw != "" {
		published, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, apperrors.NewUserError("published must be a boolean", err)
		}
		filter.Published = &published
	}

	dates := []struct {
		name   string
		target *time.Time
	}{
		{"date_created_start", &filter.CreatedStart},
		{"date_created_end", &filter.CreatedEnd},
		{"date_modified_start", &filter.ModifiedStart},
		{"date_modified_end", &filter.ModifiedEnd},
	}
	for _, date := range dates {
		raw := query.Get(date.name)
		if raw == "" {
			continue
		}
		parsed, err := parseDateParam(raw)
		if err != nil {
			return filter, apperrors.NewUserError(
				fmt.Sprintf("%s must be a date (YYYY-MM-DD)", date.name), err)
		}
		*date.target = parsed
	}
	return filter, nil
}

func parseDateParam(raw string) (time.Time, error) {
	if parsed, err := time.Parse("2006-01-02", raw); err == nil {
		return parsed, nil
	}
	return time.Parse(time.RFC3339, raw)
}

// load fetches the submission and enforces project membership.
func (s *SubmissionRoutes) load(r *http.Request) (*storage.Submission, error) {
	user, err := currentUser(r)
	if err != nil {
		return nil, err
	}
	submissionID := chi.URLParam(r, "submissionID")

	submission, err := s.submissions.Get(r.Context(), submissionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.NewNotFoundError(
				fmt.Sprintf("submission %s not found", submissionID), err)
		}
		return nil, apperrors.NewInternalError("loading submission", err)
	}
	if err := requireMember(user, submission.ProjectID); err != nil {
		return nil, err
	}
	return submission, nil
}

func (s *SubmissionRoutes) get(w http.ResponseWriter, r *http.Request) error {
	submission, err := s.load(r)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, submission)
}

type patchSubmissionRequest struct {
	Name        *string            `json:"name,omitempty"`
	Title       *string            `json:"title,omitempty"`
	Description *string            `json:"description,omitempty"`
	Bucket      *string            `json:"bucket,omitempty"`
	Metadata    *datacite.Metadata `json:"metadata,omitempty"`
	Rems        *storage.RemsSpec  `json:"rems,omitempty"`
}

func (s *SubmissionRoutes) patch(w http.ResponseWriter, r *http.Request) error {
	submission, err := s.load(r)
	if err != nil {
		return err
	}
	if submission.Published {
		return apperrors.NewUserError("Submission already published", nil)
	}

	var req patchSubmissionRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.Name != nil {
		if *req.Name == "" {
			return apperrors.NewUserError("name must not be empty", nil)
		}
		submission.Name = *req.Name
	}
	if req.Title != nil {
		submission.Title = *req.Title
	}
	if req.Description != nil {
		submission.Description = *req.Description
	}
	if req.Bucket != nil {
		submission.Bucket = *req.Bucket
	}
	if req.Metadata != nil {
		submission.Metadata = req.Metadata
	}
	if req.Rems != nil {
		submission.Rems = req.Rems
	}
	submission.LastModified = time.Now().UTC()

	if err := s.submissions.Update(r.Context(), submission); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return apperrors.NewUserError(
				fmt.Sprintf("submission name %q already exists in project %s", submission.Name, submission.ProjectID), err)
		}
		return apperrors.NewInternalError("updating submission", err)
	}
	return writeJSON(w, http.StatusOK, submission)
}

func (s *SubmissionRoutes) delete(w http.ResponseWriter, r *http.Request) error {
	submission, err := s.load(r)
	if err != nil {
		return err
	}
	if submission.Published {
		return apperrors.NewUserError("Submission already published", nil)
	}

	if err := s.submissions.Delete(r.Context(), submission.SubmissionID); err != nil {
		return apperrors.NewInternalError("deleting submission", err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *SubmissionRoutes) listRegistrations(w http.ResponseWriter, r *http.Request) error {
	submission, err := s.load(r)
	if err != nil {
		return err
	}

	registrations, err := s.registrations.ListBySubmission(r.Context(), submission.SubmissionID)
	if err != nil {
		return apperrors.NewInternalError("listing registrations", err)
	}
	if registrations == nil {
		registrations = []*storage.Registration{}
	}
	return writeJSON(w, http.StatusOK, registrations)
}
