// Package publish runs the publication of a submission: precondition
// checks, the workflow-specific choreography across the external services,
// and the atomic persistence of the resulting registrations.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/CSCfi/sd-submit/pkg/clients"
	"github.com/CSCfi/sd-submit/pkg/datacite"
	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
	"github.com/CSCfi/sd-submit/pkg/files"
	"github.com/CSCfi/sd-submit/pkg/logger"
	"github.com/CSCfi/sd-submit/pkg/metax"
	"github.com/CSCfi/sd-submit/pkg/storage"
)

// pidPlaceholder is the token replaced with an identifier in the discovery
// URL template.
const pidPlaceholder = "<PID>"

// MetaxCatalog is the slice of the Metax client the orchestrator drives.
type MetaxCatalog interface {
	CreateDraftDataset(ctx context.Context, doi, title, description string) (string, error)
	GetDataset(ctx context.Context, metaxID string) (json.RawMessage, error)
	Patch(ctx context.Context, metaxID string, partial any) error
	UpdateDescription(ctx context.Context, metaxID, description string) error
	Publish(ctx context.Context, metaxID string) (json.RawMessage, error)
}

// AccessManager is the slice of the REMS client the orchestrator drives.
type AccessManager interface {
	CreateResource(ctx context.Context, orgID string, workflowID int, licenseIDs []int, doi string) (int, error)
	CreateCatalogueItem(ctx context.Context, orgID string, workflowID, resourceID int, title, discoveryURL string) (int, error)
	ApplicationURL(catalogueID int) string
}

// Archive is the slice of the admin API the FEGA workflow drives.
type Archive interface {
	IngestFile(ctx context.Context, username, filepath string) error
	ReleaseDataset(ctx context.Context, datasetID string) error
}

// MetadataMapper translates DataCite metadata into Metax dataset fields.
type MetadataMapper interface {
	Map(ctx context.Context, draft json.RawMessage, md *datacite.Metadata) (*metax.Fields, error)
}

// Stores groups the repositories the orchestrator persists through. All of
// them observe the per-request transaction from the context.
type Stores struct {
	Submissions   storage.SubmissionStore
	Objects       storage.ObjectStore
	Files         storage.FileStore
	Registrations storage.RegistrationStore
}

// Orchestrator publishes submissions.
type Orchestrator struct {
	stores   Stores
	pid      clients.DoiRegistry
	datacite clients.DoiRegistry
	metax    MetaxCatalog
	rems     AccessManager
	archive  Archive
	mapper   MetadataMapper
	fos      metax.FieldsOfScienceLister
	provider files.FileProvider

	// discoveryTemplate carries a <PID> placeholder replaced with the
	// Metax id (SD) or the DOI (BP) of the published dataset.
	discoveryTemplate string
}

// New wires the orchestrator.
func New(stores Stores, pid, dataciteRegistry clients.DoiRegistry, catalog MetaxCatalog,
	rems AccessManager, archive Archive, mapper MetadataMapper,
	fos metax.FieldsOfScienceLister, provider files.FileProvider,
	discoveryTemplate string) *Orchestrator {
	return &Orchestrator{
		stores:            stores,
		pid:               pid,
		datacite:          dataciteRegistry,
		metax:             catalog,
		rems:              rems,
		archive:           archive,
		mapper:            mapper,
		fos:               fos,
		provider:          provider,
		discoveryTemplate: discoveryTemplate,
	}
}

// Publish validates the submission and runs its workflow. On success the
// registrations are persisted and the submission is flipped to published
// within the caller's transaction.
func (o *Orchestrator) Publish(ctx context.Context, user *storage.User, submissionID string) error {
	submission, err := o.stores.Submissions.Get(ctx, submissionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.NewNotFoundError(
				fmt.Sprintf("submission %s not found", submissionID), err)
		}
		return apperrors.NewInternalError("loading submission", err)
	}

	if err := o.checkPreconditions(ctx, user, submission); err != nil {
		return err
	}

	logger.Infof("Publishing submission %s with workflow %s", submissionID, submission.Workflow)

	switch submission.Workflow {
	case storage.WorkflowSD:
		err = o.publishSD(ctx, submission)
	case storage.WorkflowBP:
		err = o.publishBP(ctx, submission)
	case storage.WorkflowFEGA:
		err = o.publishFEGA(ctx, user, submission)
	default:
		return apperrors.NewUserError(
			fmt.Sprintf("unknown workflow %q", submission.Workflow), nil)
	}
	if err != nil {
		return err
	}

	if err := o.stores.Submissions.MarkPublished(ctx, submissionID); err != nil {
		if errors.Is(err, storage.ErrAlreadyPublished) {
			return apperrors.NewUserError("Submission already published", err)
		}
		return apperrors.NewInternalError("marking submission published", err)
	}
	return nil
}

// checkPreconditions runs the ordered validation chain; every failure is a
// hard stop with a specific error.
func (o *Orchestrator) checkPreconditions(ctx context.Context, user *storage.User, submission *storage.Submission) error {
	if !o.memberOf(user, submission.ProjectID) {
		return apperrors.NewForbiddenError(
			fmt.Sprintf("user is not a member of project %s", submission.ProjectID), nil)
	}
	if submission.Published {
		return apperrors.NewUserError("Submission already published", nil)
	}

	needsFiles := submission.Workflow == storage.WorkflowSD || submission.Workflow == storage.WorkflowBP
	if needsFiles && submission.Bucket == "" {
		return apperrors.NewUserError("Submission has no data bucket", nil)
	}

	switch submission.Workflow {
	case storage.WorkflowSD:
		if err := checkSDMetadata(submission.Metadata); err != nil {
			return err
		}
	case storage.WorkflowBP:
		if err := o.checkBPObjects(ctx, submission.SubmissionID); err != nil {
			return err
		}
	case storage.WorkflowFEGA:
		if err := o.checkFEGAObjects(ctx, submission.SubmissionID); err != nil {
			return err
		}
	}

	if needsFiles {
		bucketFiles, err := o.provider.ListFiles(ctx, submission.Bucket)
		if err != nil {
			return err
		}
		if len(bucketFiles) == 0 {
			return apperrors.NewUserError(
				fmt.Sprintf("bucket %q holds no files", submission.Bucket), nil)
		}
	}

	return nil
}

func (o *Orchestrator) memberOf(user *storage.User, projectID string) bool {
	for _, project := range user.Projects {
		if project.ProjectID == projectID {
			return true
		}
	}
	return false
}

func checkSDMetadata(md *datacite.Metadata) error {
	if md == nil {
		return apperrors.NewUserError("Missing DataCite metadata", nil)
	}
	if len(md.Creators) == 0 {
		return apperrors.NewUserError("Missing DataCite creators", nil)
	}
	if md.Publisher == nil || md.Publisher.Name == "" {
		return apperrors.NewUserError("Missing DataCite publisher", nil)
	}
	if len(md.Subjects) == 0 {
		return apperrors.NewUserError("Missing DataCite subjects", nil)
	}
	return nil
}

// checkBPObjects requires at least one dataset object with an attached file.
func (o *Orchestrator) checkBPObjects(ctx context.Context, submissionID string) error {
	datasets, err := o.datasetObjects(ctx, submissionID)
	if err != nil {
		return err
	}
	if len(datasets) == 0 {
		return apperrors.NewUserError("Submission has no dataset objects", nil)
	}

	for _, dataset := range datasets {
		attached, err := o.stores.Files.ListByObject(ctx, dataset.ObjectID)
		if err != nil {
			return apperrors.NewInternalError("listing object files", err)
		}
		if len(attached) > 0 {
			return nil
		}
	}
	return apperrors.NewUserError("No dataset object has attached files", nil)
}

// fegaRequiredTypes are the object types a FEGA submission must carry.
var fegaRequiredTypes = []string{"study", "dac", "policy", "dataset"}

func (o *Orchestrator) checkFEGAObjects(ctx context.Context, submissionID string) error {
	objects, err := o.stores.Objects.ListBySubmission(ctx, submissionID)
	if err != nil {
		return apperrors.NewInternalError("listing submission objects", err)
	}

	present := make(map[string]bool, len(objects))
	for _, object := range objects {
		present[object.ObjectType] = true
	}
	for _, required := range fegaRequiredTypes {
		if !present[required] {
			return apperrors.NewUserError(
				fmt.Sprintf("Submission is missing a %s object", required), nil)
		}
	}
	return nil
}

func (o *Orchestrator) datasetObjects(ctx context.Context, submissionID string) ([]*storage.MetadataObject, error) {
	objects, err := o.stores.Objects.ListBySubmission(ctx, submissionID)
	if err != nil {
		return nil, apperrors.NewInternalError("listing submission objects", err)
	}

	var datasets []*storage.MetadataObject
	for _, object := range objects {
		if object.ObjectType == "dataset" {
			datasets = append(datasets, object)
		}
	}
	return datasets, nil
}

// discoveryURL substitutes the identifier into the configured template.
func (o *Orchestrator) discoveryURL(identifier string) string {
	if o.discoveryTemplate == "" || !strings.Contains(o.discoveryTemplate, pidPlaceholder) {
		return o.discoveryTemplate
	}
	return strings.Replace(o.discoveryTemplate, pidPlaceholder, identifier, 1)
}

func doiURL(doi string) string {
	return "https://doi.org/" + doi
}
