package clients

import (
	"context"
	"net/http"

	"github.com/CSCfi/sd-submit/pkg/config"
	"github.com/CSCfi/sd-submit/pkg/datacite"
	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
	"github.com/CSCfi/sd-submit/pkg/service"
)

// PIDClient mints DOIs through the CSC PID proxy. The proxy carries the
// DOI prefix itself, so drafts are requested without one.
type PIDClient struct {
	client *service.Client
}

// NewPID creates the PID facade from configuration.
func NewPID(cfg config.ServiceConfig) *PIDClient {
	opts := []service.Option{
		service.WithHeaders(map[string]string{"apikey": cfg.Key}),
		service.WithHealth(cfg.URL+"/q/health/live", nil),
	}
	if !cfg.Enabled {
		opts = append(opts, service.Disabled())
	}
	return &PIDClient{client: service.New("PID", cfg.URL, opts...)}
}

// Service exposes the underlying client for health aggregation.
func (p *PIDClient) Service() *service.Client {
	return p.client
}

// CreateDraftDOI mints a draft DOI under the proxy-managed prefix.
func (p *PIDClient) CreateDraftDOI(ctx context.Context) (string, error) {
	var record doiRecord
	err := p.client.DoJSON(ctx, service.Request{
		Method: http.MethodPost,
		Path:   "/v1/pid/doi",
		Body:   doiBody("", nil, "", false),
	}, &record)
	if err != nil {
		return "", err
	}
	if record.Data.Attributes.DOI == "" {
		return "", apperrors.NewUpstreamServerError("PID answered without a DOI", nil)
	}
	return record.Data.Attributes.DOI, nil
}

// Publish records the DataCite metadata and landing URL for the DOI.
func (p *PIDClient) Publish(ctx context.Context, doi string, metadata *datacite.Metadata, discoveryURL string, publish bool) error {
	_, err := p.client.Do(ctx, service.Request{
		Method: http.MethodPut,
		Path:   "/v1/pid/doi/" + doi,
		Body:   doiBody(doi, metadata, discoveryURL, publish),
	})
	return err
}

// Get returns the discovery URL currently recorded for the DOI.
func (p *PIDClient) Get(ctx context.Context, doi string) (string, error) {
	var record doiRecord
	err := p.client.DoJSON(ctx, service.Request{
		Method: http.MethodGet,
		Path:   "/v1/pid/doi/" + doi,
	}, &record)
	if err != nil {
		return "", err
	}
	return record.Data.Attributes.URL, nil
}
