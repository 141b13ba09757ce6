// Package problem renders errors as RFC 7807 problem documents.
package problem

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
	"github.com/CSCfi/sd-submit/pkg/logger"
)

// ContentType is the media type of every error response.
const ContentType = "application/problem+json"

// Details is the RFC 7807 body sent for every failed request.
type Details struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// Errors itemises validation problems when the detail alone is not
	// actionable.
	Errors any `json:"errors,omitempty"`
}

// Validation is an error carrying an itemised list of problems, rendered
// as a 400 with the list in the errors member.
type Validation struct {
	Detail string
	Errors any
}

// Error returns the summary line.
func (v *Validation) Error() string {
	return v.Detail
}

// From converts an application error into a problem document.
func From(r *http.Request, err error) Details {
	status := apperrors.Status(err)
	detail := err.Error()

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		detail = appErr.Message
	}

	return Details{
		Type:     "about:blank",
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}
}

// Write serialises the error for the client. Internal errors are logged
// with their cause; the response carries only the message.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	var validation *Validation
	if errors.As(err, &validation) {
		WriteValidation(w, r, validation.Detail, validation.Errors)
		return
	}

	details := From(r, err)
	if details.Status >= 500 {
		logger.Errorf("Request %s %s failed: %v", r.Method, r.URL.Path, err)
	}
	WriteDetails(w, details)
}

// WriteValidation reports a 400 with an itemised error list.
func WriteValidation(w http.ResponseWriter, r *http.Request, detail string, errs any) {
	WriteDetails(w, Details{
		Type:     "about:blank",
		Title:    http.StatusText(http.StatusBadRequest),
		Status:   http.StatusBadRequest,
		Detail:   detail,
		Instance: r.URL.Path,
		Errors:   errs,
	})
}

// WriteDetails writes a prebuilt problem document.
func WriteDetails(w http.ResponseWriter, details Details) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(details.Status)
	if err := json.NewEncoder(w).Encode(details); err != nil {
		logger.Errorf("Failed to write problem document: %v", err)
	}
}
