package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/CSCfi/sd-submit/pkg/storage"
)

// APIKeyStore implements storage.APIKeyStore on SQLite.
type APIKeyStore struct {
	wrapper *DB
}

// NewAPIKeyStore creates a SQLite-backed APIKeyStore.
func NewAPIKeyStore(db *DB) *APIKeyStore {
	return &APIKeyStore{wrapper: db}
}

var _ storage.APIKeyStore = (*APIKeyStore)(nil)

// Create stores a new key row.
func (s *APIKeyStore) Create(ctx context.Context, key *storage.APIKey) error {
	_, err := s.wrapper.querier(ctx).ExecContext(ctx, `
		INSERT INTO api_keys (generated_key_id, key_id, user_id, salt, hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		key.GeneratedKeyID,
		key.KeyID,
		key.UserID,
		key.Salt,
		key.Hash,
		key.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting api key: %w", err)
	}
	return nil
}

// GetByGeneratedID retrieves a key row by its generated lookup id.
func (s *APIKeyStore) GetByGeneratedID(
	ctx context.Context, generatedKeyID string,
) (*storage.APIKey, error) {
	var (
		key     storage.APIKey
		created string
	)
	err := s.wrapper.querier(ctx).QueryRowContext(ctx, `
		SELECT generated_key_id, key_id, user_id, salt, hash, created_at
		FROM api_keys WHERE generated_key_id = ?`,
		generatedKeyID,
	).Scan(&key.GeneratedKeyID, &key.KeyID, &key.UserID, &key.Salt, &key.Hash, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	if key.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &key, nil
}

// ListByUser returns the user's keys, newest first.
func (s *APIKeyStore) ListByUser(ctx context.Context, userID string) ([]*storage.APIKey, error) {
	rows, err := s.wrapper.querier(ctx).QueryContext(ctx, `
		SELECT generated_key_id, key_id, user_id, salt, hash, created_at
		FROM api_keys WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying api keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*storage.APIKey
	for rows.Next() {
		var (
			key     storage.APIKey
			created string
		)
		if err := rows.Scan(
			&key.GeneratedKeyID, &key.KeyID, &key.UserID, &key.Salt, &key.Hash, &created,
		); err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		if key.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		result = append(result, &key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating api key rows: %w", err)
	}
	return result, nil
}

// Delete revokes a key by its user-chosen id.
func (s *APIKeyStore) Delete(ctx context.Context, userID, keyID string) error {
	res, err := s.wrapper.querier(ctx).ExecContext(ctx,
		`DELETE FROM api_keys WHERE user_id = ? AND key_id = ?`, userID, keyID)
	if err != nil {
		return fmt.Errorf("deleting api key: %w", err)
	}
	return requireAffected(res)
}
