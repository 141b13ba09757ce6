package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/CSCfi/sd-submit/pkg/api/problem"
	"github.com/CSCfi/sd-submit/pkg/api/session"
	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
	"github.com/CSCfi/sd-submit/pkg/storage"
	"github.com/CSCfi/sd-submit/pkg/xmlproc"
)

// maxDocumentBytes bounds submitted metadata documents.
const maxDocumentBytes = 10 << 20

// ObjectRoutes serves the metadata object surface.
type ObjectRoutes struct {
	objects     storage.ObjectStore
	submissions storage.SubmissionStore
	processor   xmlproc.Processor
}

// ObjectRouter sets up the metadata object routes.
func ObjectRouter(objects storage.ObjectStore, submissions storage.SubmissionStore, processor xmlproc.Processor) http.Handler {
	routes := &ObjectRoutes{objects: objects, submissions: submissions, processor: processor}
	r := chi.NewRouter()
	r.Post("/{schema}", session.Handle(routes.create))
	r.Get("/{schema}/{objectID}", session.Handle(routes.get))
	r.Put("/{schema}/{objectID}", session.Handle(routes.replace))
	r.Delete("/{schema}/{objectID}", session.Handle(routes.delete))
	return r
}

type objectResponse struct {
	ObjectID   string              `json:"objectId"`
	ObjectType string              `json:"objectType"`
	References []xmlproc.ObjectRef `json:"references,omitempty"`
}

func (s *ObjectRoutes) create(w http.ResponseWriter, r *http.Request) error {
	schema := chi.URLParam(r, "schema")
	submission, err := s.loadSubmission(r, r.URL.Query().Get("submission"))
	if err != nil {
		return err
	}
	if submission.Published {
		return apperrors.NewUserError("Submission already published", nil)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes))
	if err != nil {
		return apperrors.NewUserError("reading request body", err)
	}

	object, references, err := s.buildObject(r, schema, body)
	if err != nil {
		return err
	}
	object.ObjectID = uuid.NewString()
	object.SubmissionID = submission.SubmissionID

	if err := s.objects.Create(r.Context(), object); err != nil {
		return apperrors.NewInternalError("creating metadata object", err)
	}
	return writeJSON(w, http.StatusCreated, objectResponse{
		ObjectID:   object.ObjectID,
		ObjectType: object.ObjectType,
		References: references,
	})
}

// buildObject validates the document and shapes it for storage. JSON bodies
// are stored verbatim; XML bodies go through schema validation and are
// stored as a JSON string.
func (s *ObjectRoutes) buildObject(r *http.Request, schema string, body []byte) (*storage.MetadataObject, []xmlproc.ObjectRef, error) {
	if isJSONRequest(r) {
		if !json.Valid(body) {
			return nil, nil, apperrors.NewUserError("invalid JSON document", nil)
		}
		var titled struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		}
		_ = json.Unmarshal(body, &titled)
		return &storage.MetadataObject{
			ObjectType:  schema,
			Title:       titled.Title,
			Description: titled.Description,
			Document:    json.RawMessage(body),
		}, nil, nil
	}

	doc, validationErrors := s.processor.ParseAndValidate(schema, body)
	if len(validationErrors) > 0 {
		return nil, nil, &problem.Validation{
			Detail: fmt.Sprintf("%s document failed validation", schema),
			Errors: validationErrors,
		}
	}

	stored, err := json.Marshal(string(doc.Raw))
	if err != nil {
		return nil, nil, apperrors.NewInternalError("encoding document", err)
	}
	return &storage.MetadataObject{
		ObjectType:  doc.ObjectType,
		Title:       doc.Title,
		Description: doc.Description,
		Document:    stored,
	}, s.processor.ExtractReferences(doc), nil
}

func isJSONRequest(r *http.Request) bool {
	contentType := r.Header.Get("Content-Type")
	return strings.HasPrefix(contentType, "application/json")
}

func (s *ObjectRoutes) get(w http.ResponseWriter, r *http.Request) error {
	object, _, err := s.load(r)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, object)
}

func (s *ObjectRoutes) replace(w http.ResponseWriter, r *http.Request) error {
	object, submission, err := s.load(r)
	if err != nil {
		return err
	}
	if submission.Published {
		return apperrors.NewUserError("Submission already published", nil)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes))
	if err != nil {
		return apperrors.NewUserError("reading request body", err)
	}
	replacement, references, err := s.buildObject(r, object.ObjectType, body)
	if err != nil {
		return err
	}

	object.Title = replacement.Title
	object.Description = replacement.Description
	object.Document = replacement.Document
	if err := s.objects.Update(r.Context(), object); err != nil {
		return apperrors.NewInternalError("updating metadata object", err)
	}
	return writeJSON(w, http.StatusOK, objectResponse{
		ObjectID:   object.ObjectID,
		ObjectType: object.ObjectType,
		References: references,
	})
}

func (s *ObjectRoutes) delete(w http.ResponseWriter, r *http.Request) error {
	object, submission, err := s.load(r)
	if err != nil {
		return err
	}
	if submission.Published {
		return apperrors.NewUserError("Submission already published", nil)
	}
	if err := s.objects.Delete(r.Context(), object.ObjectID); err != nil {
		return apperrors.NewInternalError("deleting metadata object", err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// load fetches the object and checks membership through its submission.
func (s *ObjectRoutes) load(r *http.Request) (*storage.MetadataObject, *storage.Submission, error) {
	objectID := chi.URLParam(r, "objectID")
	object, err := s.objects.Get(r.Context(), objectID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, apperrors.NewNotFoundError(
				fmt.Sprintf("object %s not found", objectID), err)
		}
		return nil, nil, apperrors.NewInternalError("loading metadata object", err)
	}
	submission, err := s.loadSubmission(r, object.SubmissionID)
	if err != nil {
		return nil, nil, err
	}
	return object, submission, nil
}

func (s *ObjectRoutes) loadSubmission(r *http.Request, submissionID string) (*storage.Submission, error) {
	user, err := currentUser(r)
	if err != nil {
		return nil, err
	}
	if submissionID == "" {
		return nil, apperrors.NewUserError("submission is required", nil)
	}

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
