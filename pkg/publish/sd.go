package publish

import (
	"context"
	"fmt"

	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
	"github.com/CSCfi/sd-submit/pkg/logger"
	"github.com/CSCfi/sd-submit/pkg/storage"
)

// applicationLinkFormat is appended to the dataset description when a REMS
// catalogue item exists, pointing applicants at the apply form.
const applicationLinkFormat = "%s\n\nSD Apply Application link: %s"

// publishSD registers a single dataset: a DOI from the PID service, a Metax
// catalog record built from the mapped DataCite metadata, and optionally a
// REMS resource gating access to the bucket. The DOI stays registered but
// not findable until its lifecycle is handled downstream.
func (o *Orchestrator) publishSD(ctx context.Context, submission *storage.Submission) error {
	md, err := o.enrichMetadata(ctx, submission)
	if err != nil {
		return err
	}

	doi, err := o.pid.CreateDraftDOI(ctx)
	if err != nil {
		return err
	}
	logger.Debugf("Minted draft DOI %s for submission %s", doi, submission.SubmissionID)

	metaxID, err := o.metax.CreateDraftDataset(ctx, doi, submission.Title, submission.Description)
	if err != nil {
		return err
	}

	registration := &storage.Registration{
		SubmissionID: submission.SubmissionID,
		Title:        submission.Title,
		Description:  submission.Description,
		DOI:          doi,
		MetaxID:      metaxID,
		DataciteURL:  doiURL(doi),
	}

	if err := o.pid.Publish(ctx, doi, md, o.discoveryURL(metaxID), false); err != nil {
		return err
	}

	draft, err := o.metax.GetDataset(ctx, metaxID)
	if err != nil {
		return err
	}
	fields, err := o.mapper.Map(ctx, draft, md)
	if err != nil {
		return err
	}
	if err := o.metax.Patch(ctx, metaxID, fields); err != nil {
		return err
	}

	if err := o.provider.GrantReadPolicy(ctx, submission.Bucket); err != nil {
		return err
	}

	if submission.Rems != nil {
		if err := o.attachRems(ctx, submission, doi, metaxID, registration); err != nil {
			return err
		}
	}

	if _, err := o.metax.Publish(ctx, metaxID); err != nil {
		return err
	}

	if err := o.stores.Registrations.Create(ctx, registration); err != nil {
		return apperrors.NewInternalError("saving registration", err)
	}
	return nil
}

// attachRems creates the REMS resource and catalogue item and points the
// dataset description at the application form.
func (o *Orchestrator) attachRems(ctx context.Context, submission *storage.Submission,
	doi, metaxID string, registration *storage.Registration) error {
	rems := submission.Rems

	resourceID, err := o.rems.CreateResource(ctx, rems.OrganizationID, rems.WorkflowID, rems.Licenses, doi)
	if err != nil {
		return err
	}
	catalogueID, err := o.rems.CreateCatalogueItem(ctx, rems.OrganizationID, rems.WorkflowID,
		resourceID, submission.Title, o.discoveryURL(metaxID))
	if err != nil {
		return err
	}

	applicationURL := o.rems.ApplicationURL(catalogueID)
	described := fmt.Sprintf(applicationLinkFormat, submission.Description, applicationURL)
	if err := o.metax.UpdateDescription(ctx, metaxID, described); err != nil {
		return err
	}

	registration.RemsURL = applicationURL
	registration.RemsResourceID = resourceID
	registration.RemsCatalogueID = catalogueID
	return nil
}
