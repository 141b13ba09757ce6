package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/CSCfi/sd-submit/pkg/storage"
)

// ObjectStore implements storage.ObjectStore on SQLite.
type ObjectStore struct {
	wrapper *DB
}

// NewObjectStore creates a SQLite-backed ObjectStore.
func NewObjectStore(db *DB) *ObjectStore {
	return &ObjectStore{wrapper: db}
}

var _ storage.ObjectStore = (*ObjectStore)(nil)

const objectColumns = `object_id, submission_id, object_type, title, description, document`

// Create stores a new metadata object.
func (s *ObjectStore) Create(ctx context.Context, object *storage.MetadataObject) error {
	_, err := s.wrapper.querier(ctx).ExecContext(ctx, `
		INSERT INTO objects (object_id, submission_id, object_type, title, description, document)
		VALUES (?, ?, ?, ?, ?, ?)`,
		object.ObjectID,
		object.SubmissionID,
		object.ObjectType,
		object.Title,
		object.Description,
		string(object.Document),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting object: %w", err)
	}
	return nil
}

// Get retrieves a metadata object by id.
func (s *ObjectStore) Get(ctx context.Context, objectID string) (*storage.MetadataObject, error) {
	row := s.wrapper.querier(ctx).QueryRowContext(ctx,
		`SELECT `+objectColumns+` FROM objects WHERE object_id = ?`, objectID)
	return scanObject(row)
}

// ListBySubmission returns all metadata objects of a submission.
func (s *ObjectStore) ListBySubmission(
	ctx context.Context, submissionID string,
) ([]*storage.MetadataObject, error) {
	rows, err := s.wrapper.querier(ctx).QueryContext(ctx,
		`SELECT `+objectColumns+` FROM objects WHERE submission_id = ? ORDER BY object_id`,
		submissionID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying objects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*storage.MetadataObject
	for rows.Next() {
		object, scanErr := scanObject(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		result = append(result, object)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating object rows: %w", err)
	}
	return result, nil
}

// Update replaces the stored document and descriptive fields.
func (s *ObjectStore) Update(ctx context.Context, object *storage.MetadataObject) error {
	res, err := s.wrapper.querier(ctx).ExecContext(ctx, `
		UPDATE objects SET object_type = ?, title = ?, description = ?, document = ?
		WHERE object_id = ?`,
		object.ObjectType,
		object.Title,
		object.Description,
		string(object.Document),
		object.ObjectID,
	)
	if err != nil {
		return fmt.Errorf("updating object: %w", err)
	}
	return requireAffected(res)
}

// Delete removes a metadata object.
func (s *ObjectStore) Delete(ctx context.Context, objectID string) error {
	res, err := s.wrapper.querier(ctx).ExecContext(ctx,
		`DELETE FROM objects WHERE object_id = ?`, objectID)
	if err != nil {
		return fmt.Errorf("deleting object: %w", err)
	}
	return requireAffected(res)
}

func scanObject(sc scanner) (*storage.MetadataObject, error) {
	var (
		object   storage.MetadataObject
		document sql.NullString
	)
	err := sc.Scan(
		&object.ObjectID, &object.SubmissionID, &object.ObjectType,
		&object.Title, &object.Description, &document,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning object row: %w", err)
	}
	if document.Valid {
		object.Document = []byte(document.String)
	}
	return &object, nil
}
