package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/CSCfi/sd-submit/pkg/storage"
)

// FileStore implements storage.FileStore on SQLite.
type FileStore struct {
	wrapper *DB
}

// NewFileStore creates a SQLite-backed FileStore.
func NewFileStore(db *DB) *FileStore {
	return &FileStore{wrapper: db}
}

var _ storage.FileStore = (*FileStore)(nil)

const fileColumns = `file_id, submission_id, object_id, path, bytes, checksum, status`

// Add stores a new file row.
func (s *FileStore) Add(ctx context.Context, file *storage.File) error {
	objectID := sql.NullString{String: file.ObjectID, Valid: file.ObjectID != ""}
	_, err := s.wrapper.querier(ctx).ExecContext(ctx, `
		INSERT INTO files (file_id, submission_id, object_id, path, bytes, checksum, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		file.FileID,
		file.SubmissionID,
		objectID,
		file.Path,
		file.Bytes,
		file.Checksum,
		string(file.Status),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting file: %w", err)
	}
	return nil
}

// ListBySubmission returns all files of a submission.
func (s *FileStore) ListBySubmission(ctx context.Context, submissionID string) ([]*storage.File, error) {
	return s.list(ctx,
		`SELECT `+fileColumns+` FROM files WHERE submission_id = ? ORDER BY path`, submissionID)
}

// ListByObject returns the files attached to one metadata object.
func (s *FileStore) ListByObject(ctx context.Context, objectID string) ([]*storage.File, error) {
	return s.list(ctx,
		`SELECT `+fileColumns+` FROM files WHERE object_id = ? ORDER BY path`, objectID)
}

// SetStatus advances a file through the ingestion states.
func (s *FileStore) SetStatus(ctx context.Context, fileID string, status storage.FileStatus) error {
	res, err := s.wrapper.querier(ctx).ExecContext(ctx,
		`UPDATE files SET status = ? WHERE file_id = ?`, string(status), fileID)
	if err != nil {
		return fmt.Errorf("updating file status: %w", err)
	}
	return requireAffected(res)
}

// Delete removes a file row.
func (s *FileStore) Delete(ctx context.Context, fileID string) error {
	res, err := s.wrapper.querier(ctx).ExecContext(ctx,
		`DELETE FROM files WHERE file_id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return requireAffected(res)
}

func (s *FileStore) list(ctx context.Context, query string, arg any) ([]*storage.File, error) {
	rows, err := s.wrapper.querier(ctx).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("querying files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*storage.File
	for rows.Next() {
		var (
			file     storage.File
			objectID sql.NullString
			status   string
		)
		if err := rows.Scan(
			&file.FileID, &file.SubmissionID, &objectID,
			&file.Path, &file.Bytes, &file.Checksum, &status,
		); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, storage.ErrNotFound
			}
			return nil, fmt.Errorf("scanning file row: %w", err)
		}
		file.ObjectID = objectID.String
		file.Status = storage.FileStatus(status)
		result = append(result, &file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating file rows: %w", err)
	}
	return result, nil
}
