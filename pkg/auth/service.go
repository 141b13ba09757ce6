// Package auth provides authentication for SD Submit: application JWTs,
// hashed API keys, the request middleware that resolves callers, and the
// OIDC authorization-code flow with DPoP.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
	"github.com/CSCfi/sd-submit/pkg/storage"
)

// Issuer is the iss claim of every application JWT.
const Issuer = "SD Submit"

// TokenLifetime is how long application JWTs and cookies stay valid.
const TokenLifetime = 7 * 24 * time.Hour

const (
	generatedKeyIDBytes = 6
	saltBytes           = 16
	secretLength        = 32
	secretAlphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Service issues and validates application JWTs and API keys.
type Service struct {
	secret []byte
	keys   storage.APIKeyStore
	now    func() time.Time
}

// NewService creates an auth service signing with the shared secret.
func NewService(jwtSecret string, keys storage.APIKeyStore) *Service {
	return &Service{
		secret: []byte(jwtSecret),
		keys:   keys,
		now:    time.Now,
	}
}

// IssueToken mints an application JWT for the user.
func (s *Service) IssueToken(userID, userName string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":       userID,
		"user_name": userName,
		"iat":       now.Unix(),
		"exp":       now.Add(TokenLifetime).Unix(),
		"iss":       Issuer,
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", apperrors.NewInternalError("signing token", err)
	}
	return signed, nil
}

// ValidateToken checks signature, issuer and expiry, and returns the caller.
func (s *Service) ValidateToken(tokenString string) (*storage.User, error) {
	token, err := jwt.Parse(tokenString,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, apperrors.NewUnauthorizedError("invalid token", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apperrors.NewUnauthorizedError("invalid token claims", nil)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, apperrors.NewUnauthorizedError("token missing sub claim", nil)
	}
	userName, _ := claims["user_name"].(string)

	return &storage.User{UserID: sub, UserName: userName}, nil
}

// CreateAPIKey issues a new API key for the user. The returned plaintext
// "{generatedKeyId}.{secret}" is shown exactly once; only hash and salt
// are stored.
func (s *Service) CreateAPIKey(ctx context.Context, userID, keyID string) (string, error) {
	if keyID == "" {
		return "", apperrors.NewUserError("key id is required", nil)
	}

	idBytes := make([]byte, generatedKeyIDBytes)
	if _, err := rand.Read(idBytes); err != nil {
		return "", apperrors.NewInternalError("generating key id", err)
	}
	generatedKeyID := hex.EncodeToString(idBytes)

	secret, err := randomSecret(secretLength)
	if err != nil {
		return "", apperrors.NewInternalError("generating key secret", err)
	}

	saltRaw := make([]byte, saltBytes)
	if _, err := rand.Read(saltRaw); err != nil {
		return "", apperrors.NewInternalError("generating salt", err)
	}
	salt := hex.EncodeToString(saltRaw)

	key := &storage.APIKey{
		KeyID:          keyID,
		GeneratedKeyID: generatedKeyID,
		UserID:         userID,
		Salt:           salt,
		Hash:           hashSecret(secret, salt),
		CreatedAt:      s.now().UTC(),
	}
	if err := s.keys.Create(ctx, key); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return "", apperrors.NewUserError(
				fmt.Sprintf("api key %q already exists", keyID), nil)
		}
		return "", apperrors.NewInternalError("storing api key", err)
	}

	return generatedKeyID + "." + secret, nil
}

// ValidateAPIKey checks a plaintext "{generatedKeyId}.{secret}" key and
// returns the owning user, or nil when the key is not valid.
func (s *Service) ValidateAPIKey(ctx context.Context, plaintext string) *storage.User {
	generatedKeyID, secret, found := strings.Cut(plaintext, ".")
	if !found || generatedKeyID == "" || secret == "" {
		return nil
	}

	key, err := s.keys.GetByGeneratedID(ctx, generatedKeyID)
	if err != nil {
		return nil
	}

	computed := hashSecret(secret, key.Salt)
	if subtle.ConstantTimeCompare([]byte(computed), []byte(key.Hash)) != 1 {
		return nil
	}

	return &storage.User{UserID: key.UserID, UserName: key.UserID}
}

// ListAPIKeys returns the user's keys for display.
func (s *Service) ListAPIKeys(ctx context.Context, userID string) ([]*storage.APIKey, error) {
	keys, err := s.keys.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.NewInternalError("listing api keys", err)
	}
	return keys, nil
}

// RevokeAPIKey deletes a key by its user-chosen id.
func (s *Service) RevokeAPIKey(ctx context.Context, userID, keyID string) error {
	if err := s.keys.Delete(ctx, userID, keyID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return apperrors.NewInternalError("revoking api key", err)
	}
	return nil
}

func hashSecret(secret, salt string) string {
	sum := sha256.Sum256([]byte(secret + salt))
	return hex.EncodeToString(sum[:])
}

func randomSecret(length int) (string, error) {
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	out := make([]byte, length)
	for i, b := range raw {
		out[i] = secretAlphabet[int(b)%len(secretAlphabet)]
	}
	return string(out), nil
}
