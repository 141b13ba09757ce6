// Package storage defines the persistent entities of SD Submit and the
// repository interfaces over them. Repositories never manage transactions;
// they resolve the current one from the request context (see WithTx).
package storage

import (
	"encoding/json"
	"time"

	"github.com/CSCfi/sd-submit/pkg/datacite"
)

// Workflow is the end-to-end publication variant of a submission.
type Workflow string

// Supported publication workflows.
const (
	WorkflowSD   Workflow = "SD"
	WorkflowFEGA Workflow = "FEGA"
	WorkflowBP   Workflow = "BP"
)

// Valid reports whether w is a known workflow.
func (w Workflow) Valid() bool {
	switch w {
	case WorkflowSD, WorkflowFEGA, WorkflowBP:
		return true
	}
	return false
}

// User is the authenticated caller resolved by the auth middleware.
// Identity is authoritative in the external identity provider.
type User struct {
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
	Projects []Project `json:"projects,omitempty"`
}

// Project is a billing/ownership unit the user belongs to.
type Project struct {
	ProjectID string `json:"projectId"`
}

// RemsSpec selects the REMS workflow and licenses attached at publication.
type RemsSpec struct {
	OrganizationID string `json:"organizationId"`
	WorkflowID     int    `json:"workflowId"`
	Licenses       []int  `json:"licenses"`
}

// Submission is a user-owned aggregate of metadata and files awaiting
// publication. Name is unique within the project. Published submissions
// are read-only.
type Submission struct {
	SubmissionID string             `json:"submissionId"`
	ProjectID    string             `json:"projectId"`
	Workflow     Workflow           `json:"workflow"`
	Name         string             `json:"name"`
	Title        string             `json:"title"`
	Description  string             `json:"description"`
	DateCreated  time.Time          `json:"dateCreated"`
	LastModified time.Time          `json:"lastModified"`
	Published    bool               `json:"published"`
	Bucket       string             `json:"bucket,omitempty"`
	Metadata     *datacite.Metadata `json:"metadata,omitempty"`
	Rems         *RemsSpec          `json:"rems,omitempty"`
}

// MetadataObject is a typed document inside a submission.
type MetadataObject struct {
	ObjectID     string          `json:"objectId"`
	SubmissionID string          `json:"submissionId"`
	ObjectType   string          `json:"objectType"`
	Title        string          `json:"title,omitempty"`
	Description  string          `json:"description,omitempty"`
	Document     json.RawMessage `json:"document,omitempty"`
}

// FileStatus tracks a data file through ingestion.
type FileStatus string

// File ingestion states.
const (
	FileAdded    FileStatus = "added"
	FileVerified FileStatus = "verified"
	FileReady    FileStatus = "ready"
	FileIngested FileStatus = "ingested"
	FileReleased FileStatus = "released"
)

// File is a data file held in object storage, owned by a submission and
// optionally attached to one metadata object.
type File struct {
	FileID       string     `json:"fileId"`
	SubmissionID string     `json:"submissionId"`
	ObjectID     string     `json:"objectId,omitempty"`
	Path         string     `json:"path"`
	Bytes        int64      `json:"bytes"`
	Checksum     string     `json:"checksum,omitempty"`
	Status       FileStatus `json:"status"`
}

// Registration records the identifiers minted for a published submission or
// object. Created only by the publication orchestrator; never updated.
type Registration struct {
	SubmissionID    string `json:"submissionId"`
	ObjectID        string `json:"objectId,omitempty"`
	ObjectType      string `json:"objectType,omitempty"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	DOI             string `json:"doi"`
	MetaxID         string `json:"metaxId,omitempty"`
	DataciteURL     string `json:"dataciteUrl,omitempty"`
	RemsURL         string `json:"remsUrl,omitempty"`
	RemsResourceID  int    `json:"remsResourceId,omitempty"`
	RemsCatalogueID int    `json:"remsCatalogueId,omitempty"`
}

// APIKey is the stored form of an issued key. The plaintext secret is
// returned exactly once at creation; only hash and salt persist.
type APIKey struct {
	KeyID          string    `json:"keyId"`
	GeneratedKeyID string    `json:"-"`
	UserID         string    `json:"-"`
	Salt           string    `json:"-"`
	Hash           string    `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
}
