package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/CSCfi/sd-submit/pkg/config"
	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
)

// loginStateTTL bounds how long a started login may wait for its callback.
const loginStateTTL = 10 * time.Minute

// loginState is the server-side record of one started login.
type loginState struct {
	nonce   string
	created time.Time
}

// stateStore keeps pending login states in memory, keyed by the state
// parameter. States are single-use and expire after loginStateTTL.
type stateStore struct {
	mu     sync.Mutex
	states map[string]loginState
}

func newStateStore() *stateStore {
	return &stateStore{states: make(map[string]loginState)}
}

func (s *stateStore) put(state, nonce string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for key, st := range s.states {
		if now.Sub(st.created) > loginStateTTL {
			delete(s.states, key)
		}
	}
	s.states[state] = loginState{nonce: nonce, created: now}
}

// take consumes a state and returns its nonce.
func (s *stateStore) take(state string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[state]
	if !ok || time.Since(st.created) > loginStateTTL {
		delete(s.states, state)
		return "", false
	}
	delete(s.states, state)
	return st.nonce, true
}

// OIDCProvider owns the authorization-code flow against the AAI, with DPoP
// proofs on the token and userinfo endpoints.
type OIDCProvider struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	oauth    oauth2.Config
	client   *http.Client
	prover   *DPoPProver
	states   *stateStore
}

// NewOIDCProvider discovers the issuer and prepares the flow.
func NewOIDCProvider(ctx context.Context, cfg config.OIDCConfig, redirectURL string) (*OIDCProvider, error) {
	if cfg.URL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, apperrors.NewConfigError("OIDC is not configured", nil)
	}

	provider, err := oidc.NewProvider(ctx, strings.TrimSuffix(cfg.URL, "/"))
	if err != nil {
		return nil, apperrors.NewConfigError("OIDC discovery failed", err)
	}

	prover, err := NewDPoPProver()
	if err != nil {
		return nil, err
	}

	var claims struct {
		UserinfoEndpoint string `json:"userinfo_endpoint"`
	}
	if err := provider.Claims(&claims); err != nil {
		return nil, apperrors.NewConfigError("reading OIDC metadata", err)
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &dpopTransport{
			prover:      prover,
			userinfoURL: claims.UserinfoEndpoint,
		},
	}

	return &OIDCProvider{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  redirectURL,
			Scopes:       strings.Fields(cfg.Scope),
		},
		client: client,
		prover: prover,
		states: newStateStore(),
	}, nil
}

// AuthURL starts a login: it generates and records state and nonce, and
// returns the IdP authorization URL to redirect the user to.
func (p *OIDCProvider) AuthURL() (string, error) {
	state, err := randomToken()
	if err != nil {
		return "", err
	}
	nonce, err := randomToken()
	if err != nil {
		return "", err
	}
	p.states.put(state, nonce)

	return p.oauth.AuthCodeURL(state, oidc.Nonce(nonce)), nil
}

// Callback finalises a login: it validates the state, exchanges the code,
// verifies the ID token nonce and resolves the user identity from the
// userinfo endpoint.
func (p *OIDCProvider) Callback(ctx context.Context, state, code string) (userID, userName string, err error) {
	nonce, ok := p.states.take(state)
	if !ok {
		return "", "", apperrors.NewUnauthorizedError("unknown or expired login state", nil)
	}

	// Route the exchange through the DPoP-proofing client.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return "", "", apperrors.NewUnauthorizedError("code exchange failed", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return "", "", apperrors.NewUnauthorizedError("no id_token in token response", nil)
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", "", apperrors.NewUnauthorizedError("invalid id_token", err)
	}
	if idToken.Nonce != nonce {
		return "", "", apperrors.NewUnauthorizedError("id_token nonce mismatch", nil)
	}

	userInfo, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return "", "", apperrors.NewUnauthorizedError("userinfo request failed", err)
	}

	var claims struct {
		Sub       string `json:"sub"`
		Name      string `json:"name"`
		CSCUser   string `json:"CSCUserName"`
		RemoteSub string `json:"remoteUserIdentifier"`
	}
	if err := userInfo.Claims(&claims); err != nil {
		return "", "", apperrors.NewUnauthorizedError("invalid userinfo claims", err)
	}

	// The CSC user name is the authoritative identity when present; the
	// remote identifier and the plain sub are the fallbacks.
	userID = claims.CSCUser
	if userID == "" {
		userID = claims.RemoteSub
	}
	if userID == "" {
		userID = claims.Sub
	}
	if userID == "" {
		return "", "", apperrors.NewUnauthorizedError("userinfo carried no identity", nil)
	}
	userName = claims.Name
	if userName == "" {
		userName = userID
	}
	return userID, userName, nil
}

func randomToken() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", apperrors.NewInternalError("generating random token", err)
	}
	return hex.EncodeToString(raw), nil
}
