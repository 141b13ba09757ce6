package v1

import (
	"bytes"
	"encoding/xml"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/CSCfi/sd-submit/pkg/api/problem"
	"github.com/CSCfi/sd-submit/pkg/api/session"
	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
	"github.com/CSCfi/sd-submit/pkg/xmlproc"
)

// ValidateRoutes validates submitted XML without persisting anything.
type ValidateRoutes struct {
	processor xmlproc.Processor
}

// ValidateRouter sets up the validation route.
func ValidateRouter(processor xmlproc.Processor) http.Handler {
	routes := &ValidateRoutes{processor: processor}
	r := chi.NewRouter()
	r.Post("/", session.Handle(routes.validate))
	return r
}

type validateResponse struct {
	Valid      bool   `json:"valid"`
	ObjectType string `json:"objectType"`
}

func (s *ValidateRoutes) validate(w http.ResponseWriter, r *http.Request) error {
	if _, err := currentUser(r); err != nil {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes))
	if err != nil {
		return apperrors.NewUserError("reading request body", err)
	}

	schema := r.URL.Query().Get("schema")
	if schema == "" {
		schema = sniffSchema(body)
	}
	if schema == "" {
		return apperrors.NewUserError("cannot determine the document's schema type", nil)
	}

	doc, validationErrors := s.processor.ParseAndValidate(schema, body)
	if len(validationErrors) > 0 {
		return &problem.Validation{
			Detail: schema + " document failed validation",
			Errors: validationErrors,
		}
	}
	return writeJSON(w, http.StatusOK, validateResponse{Valid: true, ObjectType: doc.ObjectType})
}

// sniffSchema infers the schema type from the document's root element.
func sniffSchema(doc []byte) string {
	decoder := xml.NewDecoder(bytes.NewReader(doc))
	for {
		token, err := decoder.Token()
		if err != nil {
			return ""
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		name := strings.ToLower(start.Name.Local)
		name = strings.TrimSuffix(name, "_set")
		for _, known := range xmlproc.SchemaTypes {
			if name == known {
				return known
			}
		}
		return ""
	}
}
