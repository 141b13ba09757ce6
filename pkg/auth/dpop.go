package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"

	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
)

// DPoPProver generates DPoP proofs (RFC 9449) bound to a process-held
// ES256 key, and tracks the server-issued nonce.
type DPoPProver struct {
	key jwk.Key
	pub jwk.Key

	mu    sync.Mutex
	nonce string
}

// NewDPoPProver generates a fresh P-256 key for this process.
func NewDPoPProver() (*DPoPProver, error) {
	raw, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, apperrors.NewInternalError("generating DPoP key", err)
	}

	key, err := jwk.Import(raw)
	if err != nil {
		return nil, apperrors.NewInternalError("importing DPoP key", err)
	}
	pub, err := jwk.PublicKeyOf(key)
	if err != nil {
		return nil, apperrors.NewInternalError("deriving DPoP public key", err)
	}

	return &DPoPProver{key: key, pub: pub}, nil
}

// SetNonce stores the latest DPoP-Nonce issued by the server.
func (p *DPoPProver) SetNonce(nonce string) {
	if nonce == "" {
		return
	}
	p.mu.Lock()
	p.nonce = nonce
	p.mu.Unlock()
}

// Proof builds a DPoP proof JWT for one request. When accessToken is
// non-empty the proof is bound to it through the ath claim.
func (p *DPoPProver) Proof(method, url, accessToken string) (string, error) {
	builder := jwt.NewBuilder().
		Claim("jti", uuid.NewString()).
		Claim("htm", method).
		Claim("htu", url).
		Claim("iat", time.Now().Unix())

	p.mu.Lock()
	nonce := p.nonce
	p.mu.Unlock()
	if nonce != "" {
		builder = builder.Claim("nonce", nonce)
	}
	if accessToken != "" {
		sum := sha256.Sum256([]byte(accessToken))
		builder = builder.Claim("ath", base64.RawURLEncoding.EncodeToString(sum[:]))
	}

	token, err := builder.Build()
	if err != nil {
		return "", apperrors.NewInternalError("building DPoP proof", err)
	}

	headers := jws.NewHeaders()
	if err := headers.Set("typ", "dpop+jwt"); err != nil {
		return "", apperrors.NewInternalError("setting DPoP proof type", err)
	}
	if err := headers.Set("jwk", p.pub); err != nil {
		return "", apperrors.NewInternalError("embedding DPoP key", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.ES256(), p.key, jws.WithProtectedHeaders(headers)))
	if err != nil {
		return "", apperrors.NewInternalError("signing DPoP proof", err)
	}
	return string(signed), nil
}

// dpopTransport intercepts outbound OIDC calls: it attaches a DPoP proof
// to every request, captures the server nonce, and upgrades the userinfo
// Authorization header from Bearer to DPoP with a token-bound proof.
type dpopTransport struct {
	base        http.RoundTripper
	prover      *DPoPProver
	userinfoURL string
}

// RoundTrip implements http.RoundTripper.
func (t *dpopTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	// Clone the request to avoid modifying the original.
	newReq := req.Clone(req.Context())

	accessToken := ""
	if t.userinfoURL != "" && requestTargets(newReq, t.userinfoURL) {
		authHeader := newReq.Header.Get("Authorization")
		if after, found := strings.CutPrefix(authHeader, "Bearer "); found {
			accessToken = after
			newReq.Header.Set("Authorization", "DPoP "+accessToken)
		}
	}

	proof, err := t.prover.Proof(newReq.Method, requestURL(newReq), accessToken)
	if err != nil {
		return nil, err
	}
	newReq.Header.Set("DPoP", proof)

	resp, err := base.RoundTrip(newReq)
	if err != nil {
		return nil, err
	}
	t.prover.SetNonce(resp.Header.Get("DPoP-Nonce"))
	return resp, nil
}

func requestTargets(req *http.Request, target string) bool {
	return requestURL(req) == target
}

// requestURL is the htu value: scheme, host and path without query.
func requestURL(req *http.Request) string {
	u := *req.URL
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
