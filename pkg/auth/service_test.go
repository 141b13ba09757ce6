package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
	"github.com/CSCfi/sd-submit/pkg/storage"
	"github.com/CSCfi/sd-submit/pkg/storage/mocks"
)

var apiKeyPattern = regexp.MustCompile(`^[0-9a-f]{12}\.[A-Za-z0-9]{32}$`)

func TestIssueAndValidateToken(t *testing.T) {
	t.Parallel()

	svc := NewService("test-secret", nil)

	token, err := svc.IssueToken("user-1", "Test User")
	require.NoError(t, err)

	user, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.UserID)
	assert.Equal(t, "Test User", user.UserName)
}

func TestValidateTokenRejections(t *testing.T) {
	t.Parallel()

	svc := NewService("test-secret", nil)

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		other := NewService("other-secret", nil)
		token, err := other.IssueToken("user-1", "Test User")
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		assert.True(t, apperrors.IsUnauthorized(err))
	})

	t.Run("expired", func(t *testing.T) {
		t.Parallel()
		past := NewService("test-secret", nil)
		past.now = func() time.Time { return time.Now().Add(-TokenLifetime - time.Hour) }
		token, err := past.IssueToken("user-1", "Test User")
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		assert.True(t, apperrors.IsUnauthorized(err))
	})

	t.Run("garbage", func(t *testing.T) {
		t.Parallel()
		_, err := svc.ValidateToken("not.a.token")
		assert.True(t, apperrors.IsUnauthorized(err))
	})
}

func TestCreateAPIKeyFormat(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	var stored *storage.APIKey
	keys := mocks.NewMockAPIKeyStore(ctrl)
	keys.EXPECT().Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, key *storage.APIKey) error {
			stored = key
			return nil
		})

	svc := NewService("test-secret", keys)
	plaintext, err := svc.CreateAPIKey(context.Background(), "user-1", "laptop")
	require.NoError(t, err)
	assert.Regexp(t, apiKeyPattern, plaintext)

	require.NotNil(t, stored)
	assert.Equal(t, "laptop", stored.KeyID)
	assert.Equal(t, "user-1", stored.UserID)
	assert.NotContains(t, plaintext, stored.Hash, "plaintext must not leak the stored hash")

	// The stored hash is sha256 over secret+salt, never the raw secret.
	secret := plaintext[len(stored.GeneratedKeyID)+1:]
	sum := sha256.Sum256([]byte(secret + stored.Salt))
	assert.Equal(t, hex.EncodeToString(sum[:]), stored.Hash)
}

func TestCreateAPIKeyDuplicate(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	keys := mocks.NewMockAPIKeyStore(ctrl)
	keys.EXPECT().Create(gomock.Any(), gomock.Any()).Return(storage.ErrAlreadyExists)

	svc := NewService("test-secret", keys)
	_, err := svc.CreateAPIKey(context.Background(), "user-1", "laptop")
	assert.True(t, apperrors.IsUser(err))
}

func TestValidateAPIKey(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	var stored *storage.APIKey
	keys := mocks.NewMockAPIKeyStore(ctrl)
	keys.EXPECT().Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, key *storage.APIKey) error {
			stored = key
			return nil
		})
	keys.EXPECT().GetByGeneratedID(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, id string) (*storage.APIKey, error) {
			if stored != nil && stored.GeneratedKeyID == id {
				return stored, nil
			}
			return nil, storage.ErrNotFound
		}).AnyTimes()

	svc := NewService("test-secret", keys)
	plaintext, err := svc.CreateAPIKey(context.Background(), "user-1", "laptop")
	require.NoError(t, err)

	user := svc.ValidateAPIKey(context.Background(), plaintext)
	require.NotNil(t, user)
	assert.Equal(t, "user-1", user.UserID)

	assert.Nil(t, svc.ValidateAPIKey(context.Background(), stored.GeneratedKeyID+".wrongwrongwrongwrongwrongwrongwr"))
	assert.Nil(t, svc.ValidateAPIKey(context.Background(), "ffffffffffff.wrongwrongwrongwrongwrongwrongwr"))
	assert.Nil(t, svc.ValidateAPIKey(context.Background(), "no-separator"))
}
