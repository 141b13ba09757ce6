package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/CSCfi/sd-submit/pkg/config"
	"github.com/CSCfi/sd-submit/pkg/datacite"
	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
	"github.com/CSCfi/sd-submit/pkg/service"
)

// DataciteClient mints DOIs directly at DataCite under the configured
// prefix.
type DataciteClient struct {
	client *service.Client
	prefix string
}

// NewDatacite creates the DataCite facade from configuration.
func NewDatacite(cfg config.ServiceConfig, doiPrefix string) *DataciteClient {
	opts := []service.Option{
		service.WithBasicAuth(cfg.User, cfg.Key),
		service.WithHealth(cfg.URL+"/heartbeat", nil),
		service.WithErrorFormat(formatDataciteError),
	}
	if !cfg.Enabled {
		opts = append(opts, service.Disabled())
	}
	return &DataciteClient{
		client: service.New("DataCite", cfg.URL, opts...),
		prefix: doiPrefix,
	}
}

// Service exposes the underlying client for health aggregation.
func (d *DataciteClient) Service() *service.Client {
	return d.client
}

// CreateDraftDOI asks DataCite to mint a random draft DOI under the prefix.
func (d *DataciteClient) CreateDraftDOI(ctx context.Context) (string, error) {
	body := map[string]any{
		"data": map[string]any{
			"type": "dois",
			"attributes": map[string]any{
				"prefix": d.prefix,
			},
		},
	}

	var record doiRecord
	err := d.client.DoJSON(ctx, service.Request{
		Method: http.MethodPost,
		Path:   "/dois",
		Body:   body,
	}, &record)
	if err != nil {
		return "", err
	}
	if record.Data.Attributes.DOI == "" {
		return "", apperrors.NewUpstreamServerError("DataCite answered without a DOI", nil)
	}
	return record.Data.Attributes.DOI, nil
}

// Publish records the metadata and landing URL, optionally transitioning
// the DOI to findable.
func (d *DataciteClient) Publish(ctx context.Context, doi string, metadata *datacite.Metadata, discoveryURL string, publish bool) error {
	_, err := d.client.Do(ctx, service.Request{
		Method: http.MethodPut,
		Path:   "/dois/" + doi,
		Body:   doiBody(doi, metadata, discoveryURL, publish),
	})
	return err
}

// Get fetches the full DOI record.
func (d *DataciteClient) Get(ctx context.Context, doi string) (json.RawMessage, error) {
	resp, err := d.client.Do(ctx, service.Request{
		Method: http.MethodGet,
		Path:   "/dois/" + doi,
	})
	if err != nil {
		return nil, err
	}
	return resp.JSON, nil
}

// Delete removes a draft DOI. Findable DOIs cannot be deleted.
func (d *DataciteClient) Delete(ctx context.Context, doi string) error {
	_, err := d.client.Do(ctx, service.Request{
		Method: http.MethodDelete,
		Path:   "/dois/" + doi,
	})
	return err
}

// formatDataciteError extracts the error titles from a DataCite JSON:API
// error document.
func formatDataciteError(status int, body string) string {
	var doc struct {
		Errors []struct {
			Title string `json:"title"`
		} `json:"errors"`
	}
	if err := json.Unmarshal([]byte(body), &doc); err == nil && len(doc.Errors) > 0 {
		titles := make([]string, 0, len(doc.Errors))
		for _, e := range doc.Errors {
			if e.Title != "" {
				titles = append(titles, e.Title)
			}
		}
		if len(titles) > 0 {
			return fmt.Sprintf("DataCite rejected the request with HTTP %d: %s",
				status, strings.Join(titles, "; "))
		}
	}
	return fmt.Sprintf("DataCite rejected the request with HTTP %d", status)
}
