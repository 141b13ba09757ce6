package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/CSCfi/sd-submit/pkg/config"
	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
	"github.com/CSCfi/sd-submit/pkg/service"
)

// fieldsOfScienceTTL is how long the reference data is served from memory.
const fieldsOfScienceTTL = 7 * 24 * time.Hour

// FieldOfScience is one entry of the Metax field-of-science vocabulary.
type FieldOfScience struct {
	ID        string            `json:"id"`
	URL       string            `json:"url"`
	Code      string            `json:"code"`
	PrefLabel map[string]string `json:"pref_label"`
}

// MetaxClient manages draft datasets in the Metax catalogue and serves its
// field-of-science reference data from a process-wide cache.
type MetaxClient struct {
	client *service.Client

	group   singleflight.Group
	mu      sync.Mutex
	fields  []FieldOfScience
	fetched time.Time
}

// NewMetax creates the Metax facade from configuration.
func NewMetax(cfg config.ServiceConfig) *MetaxClient {
	opts := []service.Option{
		service.WithHeaders(map[string]string{"Authorization": "Token " + cfg.Token}),
		service.WithHealth(cfg.URL+"/watchman/ping/", nil),
	}
	if !cfg.Enabled {
		opts = append(opts, service.Disabled())
	}
	return &MetaxClient{client: service.New("Metax", cfg.URL, opts...)}
}

// Service exposes the underlying client for health aggregation.
func (m *MetaxClient) Service() *service.Client {
	return m.client
}

// CreateDraftDataset creates a draft dataset carrying the DOI and returns
// the Metax id.
func (m *MetaxClient) CreateDraftDataset(ctx context.Context, doi, title, description string) (string, error) {
	body := map[string]any{
		"title":                 map[string]string{"en": title},
		"description":           map[string]string{"en": description},
		"persistent_identifier": "doi:" + doi,
		"state":                 "draft",
	}

	var created struct {
		ID string `json:"id"`
	}
	err := m.client.DoJSON(ctx, service.Request{
		Method: http.MethodPost,
		Path:   "/v3/datasets",
		Body:   body,
	}, &created)
	if err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", apperrors.NewUpstreamServerError("Metax answered without a dataset id", nil)
	}
	return created.ID, nil
}

// GetDataset fetches the current dataset record.
func (m *MetaxClient) GetDataset(ctx context.Context, metaxID string) (json.RawMessage, error) {
	resp, err := m.client.Do(ctx, service.Request{
		Method: http.MethodGet,
		Path:   "/v3/datasets/" + metaxID,
	})
	if err != nil {
		return nil, err
	}
	return resp.JSON, nil
}

// Patch applies a partial update to the dataset.
func (m *MetaxClient) Patch(ctx context.Context, metaxID string, partial any) error {
	_, err := m.client.Do(ctx, service.Request{
		Method: http.MethodPatch,
		Path:   "/v3/datasets/" + metaxID,
		Body:   partial,
	})
	return err
}

// UpdateDescription replaces the English description of the dataset.
func (m *MetaxClient) UpdateDescription(ctx context.Context, metaxID, description string) error {
	return m.Patch(ctx, metaxID, map[string]any{
		"description": map[string]string{"en": description},
	})
}

// Publish transitions the draft dataset to published and returns the
// resulting record.
func (m *MetaxClient) Publish(ctx context.Context, metaxID string) (json.RawMessage, error) {
	resp, err := m.client.Do(ctx, service.Request{
		Method: http.MethodPost,
		Path:   "/v3/datasets/" + metaxID + "/publish",
	})
	if err != nil {
		return nil, err
	}
	return resp.JSON, nil
}

// Delete removes a dataset. Used to discard drafts.
func (m *MetaxClient) Delete(ctx context.Context, metaxID string) error {
	_, err := m.client.Do(ctx, service.Request{
		Method: http.MethodDelete,
		Path:   "/v3/datasets/" + metaxID,
	})
	return err
}

// GetFieldsOfScience returns the field-of-science vocabulary. The upstream
// list changes rarely, so it is cached in memory for a week; concurrent
// cache misses collapse into a single upstream fetch.
func (m *MetaxClient) GetFieldsOfScience(ctx context.Context) ([]FieldOfScience, error) {
	m.mu.Lock()
	if m.fields != nil && time.Since(m.fetched) < fieldsOfScienceTTL {
		fields := m.fields
		m.mu.Unlock()
		return fields, nil
	}
	m.mu.Unlock()

	result, err, _ := m.group.Do("fields-of-science", func() (any, error) {
		var page struct {
			Results []FieldOfScience `json:"results"`
		}
		err := m.client.DoJSON(ctx, service.Request{
			Method: http.MethodGet,
			Path:   "/v3/reference-data/fields-of-science",
			Query:  url.Values{"limit": []string{"1000"}},
		}, &page)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.fields = page.Results
		m.fetched = time.Now()
		m.mu.Unlock()
		return page.Results, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]FieldOfScience), nil
}
