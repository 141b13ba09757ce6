package publish

import (
	"context"
	"fmt"

	"github.com/CSCfi/sd-submit/pkg/datacite"
	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
	"github.com/CSCfi/sd-submit/pkg/logger"
	"github.com/CSCfi/sd-submit/pkg/storage"
)

// publishBP registers every dataset object of the submission as its own
// DataCite DOI. Discovery happens through the DOI itself, so subjects are
// passed through without field-of-science enrichment.
func (o *Orchestrator) publishBP(ctx context.Context, submission *storage.Submission) error {
	datasets, err := o.datasetObjects(ctx, submission.SubmissionID)
	if err != nil {
		return err
	}

	if err := o.provider.GrantReadPolicy(ctx, submission.Bucket); err != nil {
		return err
	}

	for _, dataset := range datasets {
		if err := o.publishBPDataset(ctx, submission, dataset); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) publishBPDataset(ctx context.Context, submission *storage.Submission,
	dataset *storage.MetadataObject) error {
	md, err := o.bpMetadata(submission, dataset)
	if err != nil {
		return err
	}

	doi, err := o.datacite.CreateDraftDOI(ctx)
	if err != nil {
		return err
	}
	logger.Debugf("Minted draft DOI %s for dataset object %s", doi, dataset.ObjectID)

	discovery := doiURL(doi)
	if err := o.datacite.Publish(ctx, doi, md, discovery, true); err != nil {
		return err
	}

	registration := &storage.Registration{
		SubmissionID: submission.SubmissionID,
		ObjectID:     dataset.ObjectID,
		ObjectType:   dataset.ObjectType,
		Title:        dataset.Title,
		Description:  dataset.Description,
		DOI:          doi,
		DataciteURL:  discovery,
	}

	if submission.Rems != nil {
		rems := submission.Rems
		resourceID, err := o.rems.CreateResource(ctx, rems.OrganizationID, rems.WorkflowID, rems.Licenses, doi)
		if err != nil {
			return err
		}
		catalogueID, err := o.rems.CreateCatalogueItem(ctx, rems.OrganizationID, rems.WorkflowID,
			resourceID, dataset.Title, discovery)
		if err != nil {
			return err
		}
		registration.RemsURL = o.rems.ApplicationURL(catalogueID)
		registration.RemsResourceID = resourceID
		registration.RemsCatalogueID = catalogueID
	}

	if err := o.stores.Registrations.Create(ctx, registration); err != nil {
		return apperrors.NewInternalError("saving registration", err)
	}
	return nil
}

// bpMetadata derives the per-dataset DataCite record: the submission's
// metadata with the dataset object's own title and description, and the
// object id recorded as a local accession number.
func (o *Orchestrator) bpMetadata(submission *storage.Submission,
	dataset *storage.MetadataObject) (*datacite.Metadata, error) {
	base := submission.Metadata
	if base == nil {
		base = &datacite.Metadata{}
	}
	md, err := cloneMetadata(base)
	if err != nil {
		return nil, err
	}

	md.AlternateIdentifiers = append(md.AlternateIdentifiers, datacite.AlternateIdentifier{
		AlternateIdentifier:     dataset.ObjectID,
		AlternateIdentifierType: localAccessionType,
	})
	md.Titles = []datacite.Title{{Title: dataset.Title}}
	if dataset.Description != "" {
		md.Descriptions = []datacite.Description{{
			Description:     dataset.Description,
			DescriptionType: "Abstract",
		}}
	}

	if len(md.Titles) == 0 || md.Titles[0].Title == "" {
		return nil, apperrors.NewUserError(
			fmt.Sprintf("dataset object %s has no title", dataset.ObjectID), nil)
	}
	return md, nil
}
