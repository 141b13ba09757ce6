package publish

import (
	"context"

	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
	"github.com/CSCfi/sd-submit/pkg/logger"
	"github.com/CSCfi/sd-submit/pkg/storage"
)

// publishFEGA hands the submission over to the federated archive: files are
// queued for ingestion, every dataset object gets a DOI, and the datasets
// are released for access applications downstream.
func (o *Orchestrator) publishFEGA(ctx context.Context, user *storage.User, submission *storage.Submission) error {
	submissionFiles, err := o.stores.Files.ListBySubmission(ctx, submission.SubmissionID)
	if err != nil {
		return apperrors.NewInternalError("listing submission files", err)
	}

	for _, file := range submissionFiles {
		if err := o.archive.IngestFile(ctx, user.UserName, file.Path); err != nil {
			return err
		}
		if err := o.stores.Files.SetStatus(ctx, file.FileID, storage.FileIngested); err != nil {
			return apperrors.NewInternalError("updating file status", err)
		}
	}

	datasets, err := o.datasetObjects(ctx, submission.SubmissionID)
	if err != nil {
		return err
	}

	for _, dataset := range datasets {
		doi, err := o.pid.CreateDraftDOI(ctx)
		if err != nil {
			return err
		}
		logger.Debugf("Minted draft DOI %s for dataset object %s", doi, dataset.ObjectID)

		md, err := o.bpMetadata(submission, dataset)
		if err != nil {
			return err
		}
		if err := o.pid.Publish(ctx, doi, md, doiURL(doi), false); err != nil {
			return err
		}

		if err := o.archive.ReleaseDataset(ctx, dataset.ObjectID); err != nil {
			return err
		}

		registration := &storage.Registration{
			SubmissionID: submission.SubmissionID,
			ObjectID:     dataset.ObjectID,
			ObjectType:   dataset.ObjectType,
			Title:        dataset.Title,
			Description:  dataset.Description,
			DOI:          doi,
			DataciteURL:  doiURL(doi),
		}
		if err := o.stores.Registrations.Create(ctx, registration); err != nil {
			return apperrors.NewInternalError("saving registration", err)
		}
	}
	return nil
}
