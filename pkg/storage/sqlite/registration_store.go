package sqlite

import (
	"context"
	"fmt"

	"github.com/CSCfi/sd-submit/pkg/storage"
)

// RegistrationStore implements storage.RegistrationStore on SQLite.
type RegistrationStore struct {
	wrapper *DB
}

// NewRegistrationStore creates a SQLite-backed RegistrationStore.
func NewRegistrationStore(db *DB) *RegistrationStore {
	return &RegistrationStore{wrapper: db}
}

var _ storage.RegistrationStore = (*RegistrationStore)(nil)

// Create persists the identifiers minted for one published unit. Runs
// inside the publication request transaction; the same commit flips the
// submission to published.
func (s *RegistrationStore) Create(ctx context.Context, registration *storage.Registration) error {
	_, err := s.wrapper.querier(ctx).ExecContext(ctx, `
		INSERT INTO registrations (
			submission_id, object_id, object_type, title, description,
			doi, metax_id, datacite_url, rems_url, rems_resource_id, rems_catalogue_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		registration.SubmissionID,
		registration.ObjectID,
		registration.ObjectType,
		registration.Title,
		registration.Description,
		registration.DOI,
		registration.MetaxID,
		registration.DataciteURL,
		registration.RemsURL,
		registration.RemsResourceID,
		registration.RemsCatalogueID,
	)
	if err != nil {
		return fmt.Errorf("inserting registration: %w", err)
	}
	return nil
}

// ListBySubmission returns the registrations of a submission.
func (s *RegistrationStore) ListBySubmission(
	ctx context.Context, submissionID string,
) ([]*storage.Registration, error) {
	rows, err := s.wrapper.querier(ctx).QueryContext(ctx, `
		SELECT submission_id, object_id, object_type, title, description,
			doi, metax_id, datacite_url, rems_url, rems_resource_id, rems_catalogue_id
		FROM registrations WHERE submission_id = ? ORDER BY id`,
		submissionID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying registrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*storage.Registration
	for rows.Next() {
		var reg storage.Registration
		if err := rows.Scan(
			&reg.SubmissionID, &reg.ObjectID, &reg.ObjectType,
			&reg.Title, &reg.Description, &reg.DOI, &reg.MetaxID,
			&reg.DataciteURL, &reg.RemsURL, &reg.RemsResourceID, &reg.RemsCatalogueID,
		); err != nil {
			return nil, fmt.Errorf("scanning registration row: %w", err)
		}
		result = append(result, &reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating registration rows: %w", err)
	}
	return result, nil
}
