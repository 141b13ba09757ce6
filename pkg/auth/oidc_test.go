package auth

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/oauth2-proxy/mockoidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CSCfi/sd-submit/pkg/config"
	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
)

func testOIDCProvider(t *testing.T) *OIDCProvider {
	t.Helper()

	m, err := mockoidc.Run()
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown() })

	provider, err := NewOIDCProvider(context.Background(), config.OIDCConfig{
		URL:          m.Issuer(),
		ClientID:     m.ClientID,
		ClientSecret: m.ClientSecret,
		Scope:        "openid profile",
	}, "http://localhost:8080/callback")
	require.NoError(t, err)
	return provider
}

func TestOIDCAuthURL(t *testing.T) {
	t.Parallel()

	provider := testOIDCProvider(t)

	rawURL, err := provider.AuthURL()
	require.NoError(t, err)

	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)
	query := parsed.Query()
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "openid profile", query.Get("scope"))
	assert.Equal(t, "http://localhost:8080/callback", query.Get("redirect_uri"))
	assert.NotEmpty(t, query.Get("state"))
	assert.NotEmpty(t, query.Get("nonce"))

	// The state was recorded server-side with exactly that nonce.
	nonce, ok := provider.states.take(query.Get("state"))
	require.True(t, ok)
	assert.Equal(t, query.Get("nonce"), nonce)
}

func TestOIDCCallbackUnknownState(t *testing.T) {
	t.Parallel()

	provider := testOIDCProvider(t)

	_, _, err := provider.Callback(context.Background(), "never-issued", "some-code")
	assert.True(t, apperrors.IsUnauthorized(err))
}

func TestOIDCStateSingleUseAndExpiry(t *testing.T) {
	t.Parallel()

	store := newStateStore()
	store.put("state-1", "nonce-1")

	nonce, ok := store.take("state-1")
	require.True(t, ok)
	assert.Equal(t, "nonce-1", nonce)

	_, ok = store.take("state-1")
	assert.False(t, ok, "states are single-use")

	store.states["stale"] = loginState{nonce: "n", created: time.Now().Add(-loginStateTTL - time.Minute)}
	_, ok = store.take("stale")
	assert.False(t, ok, "expired states are rejected")
}

func TestOIDCProviderRequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := NewOIDCProvider(context.Background(), config.OIDCConfig{}, "")
	assert.True(t, apperrors.IsConfig(err))
}
