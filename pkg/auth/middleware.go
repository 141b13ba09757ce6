package auth

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
	"github.com/CSCfi/sd-submit/pkg/storage"
)

// AccessTokenCookie is the cookie carrying the application JWT after login.
const AccessTokenCookie = "access_token"

// ErrorWriter renders an error response. Injected by the API layer so the
// middleware emits the same problem documents as the handlers.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Middleware resolves the caller from the request credential and stores the
// User in the request context.
//
// Extraction order: the access_token cookie is always treated as a JWT; a
// bearer Authorization header is treated as a JWT when it parses as one,
// and as an API key otherwise.
func Middleware(svc *Service, writeError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := resolveUser(svc, r)
			if err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func resolveUser(svc *Service, r *http.Request) (*storage.User, error) {
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		return svc.ValidateToken(cookie.Value)
	}

	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, apperrors.NewUnauthorizedError("no credentials provided", nil)
	}
	credential := strings.TrimPrefix(authHeader, "Bearer ")

	if looksLikeJWT(credential) {
		return svc.ValidateToken(credential)
	}

	if user := svc.ValidateAPIKey(r.Context(), credential); user != nil {
		return user, nil
	}
	return nil, apperrors.NewUnauthorizedError("invalid api key", nil)
}

// looksLikeJWT reports whether the credential has a decodable JWT header.
func looksLikeJWT(credential string) bool {
	parts := strings.Split(credential, ".")
	if len(parts) != 3 {
		return false
	}
	header, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	var decoded struct {
		Alg string `json:"alg"`
	}
	return json.Unmarshal(header, &decoded) == nil && decoded.Alg != ""
}
