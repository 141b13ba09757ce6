// Package clients holds the typed facades over the external services SD
// Submit talks to: the DOI registries (DataCite and the CSC PID proxy),
// the Metax dataset catalogue, REMS, ROR, and the CSC admin and Keystone
// APIs. Every facade is a thin wrapper over service.Client so retries,
// error mapping and health probing behave identically across services.
package clients

import (
	"context"

	"github.com/CSCfi/sd-submit/pkg/datacite"
)

// DoiRegistry mints draft DOIs and records their DataCite metadata.
type DoiRegistry interface {
	// CreateDraftDOI mints a new draft DOI.
	CreateDraftDOI(ctx context.Context) (string, error)
	// Publish records the metadata and landing URL for the DOI. When
	// publish is true the DOI is also transitioned to findable.
	Publish(ctx context.Context, doi string, metadata *datacite.Metadata, discoveryURL string, publish bool) error
}

// doiAttributes is the JSON:API attribute payload shared by both registries.
type doiAttributes struct {
	*datacite.Metadata

	DOI   string `json:"doi,omitempty"`
	URL   string `json:"url,omitempty"`
	Event string `json:"event,omitempty"`
}

type doiPayload struct {
	Data struct {
		Type       string        `json:"type"`
		Attributes doiAttributes `json:"attributes"`
	} `json:"data"`
}

// doiBody builds the JSON:API request body for a DOI update. The publish
// event is included only when the DOI is being made findable.
func doiBody(doi string, metadata *datacite.Metadata, discoveryURL string, publish bool) doiPayload {
	var payload doiPayload
	payload.Data.Type = "dois"
	payload.Data.Attributes = doiAttributes{
		Metadata: metadata,
		DOI:      doi,
		URL:      discoveryURL,
	}
	if publish {
		payload.Data.Attributes.Event = "publish"
	}
	return payload
}

type doiRecord struct {
	Data struct {
		Attributes struct {
			DOI   string `json:"doi"`
			URL   string `json:"url"`
			State string `json:"state"`
		} `json:"attributes"`
	} `json:"data"`
}
