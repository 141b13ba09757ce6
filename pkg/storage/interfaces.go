package storage

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_stores.go -package=mocks -source=interfaces.go

// SubmissionFilter configures filtering and pagination for submission lists.
type SubmissionFilter struct {
	ProjectID     string
	Name          string
	Published     *bool
	CreatedStart  time.Time
	CreatedEnd    time.Time
	ModifiedStart time.Time
	ModifiedEnd   time.Time

	// Page is 1-based; PerPage bounds the page size.
	Page    int
	PerPage int
}

// SubmissionStore manages submission rows.
type SubmissionStore interface {
	// Create stores a new draft submission.
	Create(ctx context.Context, submission *Submission) error
	// Get retrieves a submission by id.
	Get(ctx context.Context, submissionID string) (*Submission, error)
	// List returns one page of submissions and the unpaged total.
	List(ctx context.Context, filter SubmissionFilter) ([]*Submission, int, error)
	// Update persists mutated submission fields. Published submissions are immutable.
	Update(ctx context.Context, submission *Submission) error
	// Delete removes a submission and cascades to its objects, files and registrations.
	Delete(ctx context.Context, submissionID string) error
	// MarkPublished conditionally flips the submission to published.
	// Returns ErrAlreadyPublished when the row was already flipped.
	MarkPublished(ctx context.Context, submissionID string) error
}

// ObjectStore manages metadata objects inside submissions.
type ObjectStore interface {
	Create(ctx context.Context, object *MetadataObject) error
	Get(ctx context.Context, objectID string) (*MetadataObject, error)
	ListBySubmission(ctx context.Context, submissionID string) ([]*MetadataObject, error)
	Update(ctx context.Context, object *MetadataObject) error
	Delete(ctx context.Context, objectID string) error
}

// FileStore manages the data files associated with submissions.
type FileStore interface {
	Add(ctx context.Context, file *File) error
	ListBySubmission(ctx context.Context, submissionID string) ([]*File, error)
	ListByObject(ctx context.Context, objectID string) ([]*File, error)
	SetStatus(ctx context.Context, fileID string, status FileStatus) error
	Delete(ctx context.Context, fileID string) error
}

// RegistrationStore persists the identifiers minted at publication.
type RegistrationStore interface {
	Create(ctx context.Context, registration *Registration) error
	ListBySubmission(ctx context.Context, submissionID string) ([]*Registration, error)
}

// APIKeyStore manages hashed API keys.
type APIKeyStore interface {
	// Create stores a new key row. Reusing a keyId for the same user
	// returns ErrAlreadyExists.
	Create(ctx context.Context, key *APIKey) error
	// GetByGeneratedID retrieves a key row by its generated lookup id.
	GetByGeneratedID(ctx context.Context, generatedKeyID string) (*APIKey, error)
	// ListByUser returns the user's keys, newest first.
	ListByUser(ctx context.Context, userID string) ([]*APIKey, error)
	// Delete revokes a key by its user-chosen id.
	Delete(ctx context.Context, userID, keyID string) error
}
