package clients

import (
	"context"
	"net/http"

	"github.com/CSCfi/sd-submit/pkg/config"
	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
	"github.com/CSCfi/sd-submit/pkg/service"
)

// KeystoneClient issues project-scoped tokens from the OpenStack identity
// API, used when granting bucket read policies on behalf of a project.
type KeystoneClient struct {
	client *service.Client
	user   string
	secret string
}

// NewKeystone creates the Keystone facade from configuration.
func NewKeystone(cfg config.ServiceConfig) *KeystoneClient {
	opts := []service.Option{
		service.WithHealth(cfg.URL+"/v3", nil),
	}
	if !cfg.Enabled {
		opts = append(opts, service.Disabled())
	}
	return &KeystoneClient{
		client: service.New("Keystone", cfg.URL, opts...),
		user:   cfg.User,
		secret: cfg.Key,
	}
}

// Service exposes the underlying client for health aggregation.
func (k *KeystoneClient) Service() *service.Client {
	return k.client
}

// ProjectScopedToken authenticates the service account and returns a token
// scoped to the given project. Keystone delivers the token in the
// X-Subject-Token response header.
func (k *KeystoneClient) ProjectScopedToken(ctx context.Context, projectID string) (string, error) {
	body := map[string]any{
		"auth": map[string]any{
			"identity": map[string]any{
				"methods": []string{"password"},
				"password": map[string]any{
					"user": map[string]any{
						"name":     k.user,
						"domain":   map[string]string{"id": "default"},
						"password": k.secret,
					},
				},
			},
			"scope": map[string]any{
				"project": map[string]string{"id": projectID},
			},
		},
	}

	resp, err := k.client.Do(ctx, service.Request{
		Method: http.MethodPost,
		Path:   "/v3/auth/tokens",
		Body:   body,
	})
	if err != nil {
		return "", err
	}

	token := resp.Header.Get("X-Subject-Token")
	if token == "" {
		return "", apperrors.NewUpstreamServerError("Keystone answered without a subject token", nil)
	}
	return token, nil
}
