package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/CSCfi/sd-submit/pkg/datacite"
	"github.com/CSCfi/sd-submit/pkg/storage"
)

// SubmissionStore implements storage.SubmissionStore on SQLite.
type SubmissionStore struct {
	wrapper *DB
}

// NewSubmissionStore creates a SQLite-backed SubmissionStore.
func NewSubmissionStore(db *DB) *SubmissionStore {
	return &SubmissionStore{wrapper: db}
}

var _ storage.SubmissionStore = (*SubmissionStore)(nil)

// submissionColumns is the SELECT column list shared by Get and List.
const submissionColumns = `submission_id, project_id, workflow, name, title, description,
			date_created, last_modified, published, bucket, metadata, rems`

// Create stores a new draft submission.
func (s *SubmissionStore) Create(ctx context.Context, submission *storage.Submission) error {
	metadataJSON, remsJSON, err := encodeSubmissionBlobs(submission)
	if err != nil {
		return err
	}

	_, err = s.wrapper.querier(ctx).ExecContext(ctx, `
		INSERT INTO submissions (
			submission_id, project_id, workflow, name, title, description,
			date_created, last_modified, published, bucket, metadata, rems
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		submission.SubmissionID,
		submission.ProjectID,
		string(submission.Workflow),
		submission.Name,
		submission.Title,
		submission.Description,
		submission.DateCreated.UTC().Format(time.RFC3339Nano),
		submission.LastModified.UTC().Format(time.RFC3339Nano),
		boolToInt(submission.Published),
		submission.Bucket,
		metadataJSON,
		remsJSON,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting submission: %w", err)
	}
	return nil
}

// Get retrieves a submission by id.
func (s *SubmissionStore) Get(ctx context.Context, submissionID string) (*storage.Submission, error) {
	row := s.wrapper.querier(ctx).QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE submission_id = ?`,
		submissionID,
	)
	return scanSubmission(row)
}

// List returns one page of submissions matching the filter plus the unpaged
// total, newest first.
func (s *SubmissionStore) List(
	ctx context.Context, filter storage.SubmissionFilter,
) ([]*storage.Submission, int, error) {
	where := ` WHERE project_id = ?`
	args := []any{filter.ProjectID}

	if filter.Name != "" {
		where += ` AND name LIKE ?`
		args = append(args, "%"+filter.Name+"%")
	}
	if filter.Published != nil {
		where += ` AND published = ?`
		args = append(args, boolToInt(*filter.Published))
	}
	if !filter.CreatedStart.IsZero() {
		where += ` AND date_created >= ?`
		args = append(args, filter.CreatedStart.UTC().Format(time.RFC3339Nano))
	}
	if !filter.CreatedEnd.IsZero() {
		where += ` AND date_created <= ?`
		args = append(args, filter.CreatedEnd.UTC().Format(time.RFC3339Nano))
	}
	if !filter.ModifiedStart.IsZero() {
		where += ` AND last_modified >= ?`
		args = append(args, filter.ModifiedStart.UTC().Format(time.RFC3339Nano))
	}
	if !filter.ModifiedEnd.IsZero() {
		where += ` AND last_modified <= ?`
		args = append(args, filter.ModifiedEnd.UTC().Format(time.RFC3339Nano))
	}

	q := s.wrapper.querier(ctx)

	var total int
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submissions`+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting submissions: %w", err)
	}

	query := `SELECT ` + submissionColumns + ` FROM submissions` + where +
		` ORDER BY date_created DESC LIMIT ? OFFSET ?`
	args = append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying submissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*storage.Submission
	for rows.Next() {
		submission, scanErr := scanSubmission(rows)
		if scanErr != nil {
			return nil, 0, scanErr
		}
		result = append(result, submission)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating submission rows: %w", err)
	}

	return result, total, nil
}

// Update persists mutated submission fields and bumps last_modified.
func (s *SubmissionStore) Update(ctx context.Context, submission *storage.Submission) error {
	metadataJSON, remsJSON, err := encodeSubmissionBlobs(submission)
	if err != nil {
		return err
	}

	res, err := s.wrapper.querier(ctx).ExecContext(ctx, `
		UPDATE submissions SET
			name = ?, title = ?, description = ?, bucket = ?,
			metadata = ?, rems = ?, last_modified = ?
		WHERE submission_id = ? AND published = 0`,
		submission.Name,
		submission.Title,
		submission.Description,
		submission.Bucket,
		metadataJSON,
		remsJSON,
		time.Now().UTC().Format(time.RFC3339Nano),
		submission.SubmissionID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("updating submission: %w", err)
	}
	return requireAffected(res)
}

// Delete removes a submission; objects, files and registrations cascade.
func (s *SubmissionStore) Delete(ctx context.Context, submissionID string) error {
	res, err := s.wrapper.querier(ctx).ExecContext(ctx,
		`DELETE FROM submissions WHERE submission_id = ?`, submissionID)
	if err != nil {
		return fmt.Errorf("deleting submission: %w", err)
	}
	return requireAffected(res)
}

// MarkPublished conditionally flips the submission to published. The
// WHERE published = 0 guard makes concurrent publish attempts race safely:
// exactly one request wins, the rest observe ErrAlreadyPublished.
func (s *SubmissionStore) MarkPublished(ctx context.Context, submissionID string) error {
	res, err := s.wrapper.querier(ctx).ExecContext(ctx, `
		UPDATE submissions SET published = 1, last_modified = ?
		WHERE submission_id = ? AND published = 0`,
		time.Now().UTC().Format(time.RFC3339Nano),
		submissionID,
	)
	if err != nil {
		return fmt.Errorf("publishing submission: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		if err := s.wrapper.querier(ctx).QueryRowContext(ctx,
			`SELECT COUNT(*) FROM submissions WHERE submission_id = ?`, submissionID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("checking submission existence: %w", err)
		}
		if exists == 0 {
			return storage.ErrNotFound
		}
		return storage.ErrAlreadyPublished
	}
	return nil
}

func scanSubmission(sc scanner) (*storage.Submission, error) {
	var (
		submission   storage.Submission
		workflow     string
		created      string
		modified     string
		published    int
		metadataBlob sql.NullString
		remsBlob     sql.NullString
	)

	err := sc.Scan(
		&submission.SubmissionID, &submission.ProjectID, &workflow,
		&submission.Name, &submission.Title, &submission.Description,
		&created, &modified, &published, &submission.Bucket,
		&metadataBlob, &remsBlob,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning submission row: %w", err)
	}

	submission.Workflow = storage.Workflow(workflow)
	submission.Published = published != 0
	if submission.DateCreated, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parsing date_created: %w", err)
	}
	if submission.LastModified, err = time.Parse(time.RFC3339Nano, modified); err != nil {
		return nil, fmt.Errorf("parsing last_modified: %w", err)
	}
	if metadataBlob.Valid && metadataBlob.String != "" {
		var md datacite.Metadata
		if err := json.Unmarshal([]byte(metadataBlob.String), &md); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
		submission.Metadata = &md
	}
	if remsBlob.Valid && remsBlob.String != "" {
		var rems storage.RemsSpec
		if err := json.Unmarshal([]byte(remsBlob.String), &rems); err != nil {
			return nil, fmt.Errorf("decoding rems spec: %w", err)
		}
		submission.Rems = &rems
	}

	return &submission, nil
}

func encodeSubmissionBlobs(submission *storage.Submission) (metadata, rems sql.NullString, err error) {
	if submission.Metadata != nil {
		data, merr := json.Marshal(submission.Metadata)
		if merr != nil {
			return metadata, rems, fmt.Errorf("encoding metadata: %w", merr)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}
	if submission.Rems != nil {
		data, merr := json.Marshal(submission.Rems)
		if merr != nil {
			return metadata, rems, fmt.Errorf("encoding rems spec: %w", merr)
		}
		rems = sql.NullString{String: string(data), Valid: true}
	}
	return metadata, rems, nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface{ Scan(dest ...any) error }

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation checks for a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
