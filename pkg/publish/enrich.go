package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/CSCfi/sd-submit/pkg/datacite"
	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
	"github.com/CSCfi/sd-submit/pkg/metax"
	"github.com/CSCfi/sd-submit/pkg/storage"
)

const (
	fieldOfScienceScheme    = "Field of Science and Technology Classification"
	fieldOfScienceSchemeURI = "http://www.yso.fi/onto/okm-tieteenala/conceptscheme"
	localAccessionType      = "Local accession number"
)

// cloneMetadata deep copies metadata through a JSON round trip so the
// record stored on the submission stays untouched by the enrichment.
func cloneMetadata(md *datacite.Metadata) (*datacite.Metadata, error) {
	raw, err := json.Marshal(md)
	if err != nil {
		return nil, apperrors.NewInternalError("encoding metadata", err)
	}
	clone := &datacite.Metadata{}
	if err := json.Unmarshal(raw, clone); err != nil {
		return nil, apperrors.NewInternalError("decoding metadata", err)
	}
	return clone, nil
}

// enrichMetadata shapes the submission's DataCite record for registration:
// the submission id is added as a local accession number, the title and
// description come from the submission itself, and every subject is
// completed with its field-of-science vocabulary entry.
func (o *Orchestrator) enrichMetadata(ctx context.Context, submission *storage.Submission) (*datacite.Metadata, error) {
	md, err := cloneMetadata(submission.Metadata)
	if err != nil {
		return nil, err
	}

	md.AlternateIdentifiers = append(md.AlternateIdentifiers, datacite.AlternateIdentifier{
		AlternateIdentifier:     submission.SubmissionID,
		AlternateIdentifierType: localAccessionType,
	})
	md.Titles = []datacite.Title{{Title: submission.Title}}
	md.Descriptions = []datacite.Description{{
		Description:     submission.Description,
		DescriptionType: "Abstract",
	}}

	if err := o.enrichSubjects(ctx, md); err != nil {
		return nil, err
	}
	return md, nil
}

func (o *Orchestrator) enrichSubjects(ctx context.Context, md *datacite.Metadata) error {
	entries, err := o.fos.GetFieldsOfScience(ctx)
	if err != nil {
		return err
	}

	for i := range md.Subjects {
		subject := &md.Subjects[i]

		code, label := metax.ParseUISubject(subject.Subject)
		if code == "" {
			code = subject.ClassificationCode
		}
		entry, ok := metax.FindFieldOfScience(entries, code, label)
		if !ok {
			return apperrors.NewUserError(
				fmt.Sprintf("subject %q is not a known field of science", subject.Subject), nil)
		}

		subject.SubjectScheme = fieldOfScienceScheme
		subject.SchemeURI = fieldOfScienceSchemeURI
		subject.ClassificationCode = entry.Code
		if entry.URL != "" {
			subject.ValueURI = entry.URL
		} else {
			subject.ValueURI = entry.ID
		}
	}
	return nil
}
