package clients

import (
	"context"
	"net/http"

	"github.com/CSCfi/sd-submit/pkg/config"
	"github.com/CSCfi/sd-submit/pkg/service"
)

// AdminClient talks to the SD archive admin API to move ingested files
// into released datasets. Used by the FEGA workflow.
type AdminClient struct {
	client *service.Client
}

// NewAdmin creates the admin API facade from configuration.
func NewAdmin(cfg config.ServiceConfig) *AdminClient {
	opts := []service.Option{
		service.WithBasicAuth(cfg.User, cfg.Key),
		service.WithHealth(cfg.URL+"/health", nil),
	}
	if !cfg.Enabled {
		opts = append(opts, service.Disabled())
	}
	return &AdminClient{client: service.New("Admin", cfg.URL, opts...)}
}

// Service exposes the underlying client for health aggregation.
func (a *AdminClient) Service() *service.Client {
	return a.client
}

// IngestFile asks the archive to ingest one uploaded file for the user.
func (a *AdminClient) IngestFile(ctx context.Context, username, filepath string) error {
	_, err := a.client.Do(ctx, service.Request{
		Method: http.MethodPost,
		Path:   "/file/ingest",
		Body: map[string]string{
			"user":     username,
			"filepath": filepath,
		},
	})
	return err
}

// ReleaseDataset makes an ingested dataset available for access requests.
func (a *AdminClient) ReleaseDataset(ctx context.Context, datasetID string) error {
	_, err := a.client.Do(ctx, service.Request{
		Method: http.MethodPost,
		Path:   "/dataset/release/" + datasetID,
	})
	return err
}
