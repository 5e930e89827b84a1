package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/stocksync/stocksync-go/internal/model"
)

var ErrTokenNotFound = errors.New("api token not found")

// TokenStore handles API token persistence.
type TokenStore struct {
	db *sql.DB
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db}
}

// Create inserts a new token and sets the generated ID.
func (s *TokenStore) Create(ctx context.Context, t *model.APIToken) error {
	abilities, err := json.Marshal(t.Abilities)
	if err != nil {
		return err
	}

	var expires any
	if t.ExpiresAt != nil {
		expires = millis(*t.ExpiresAt)
	}

	query := `INSERT INTO api_tokens (name, secret_hash, abilities, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query, t.Name, t.SecretHash, string(abilities), expires, millis(t.CreatedAt))
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}

	t.ID = id
	return nil
}

// GetByID retrieves a token by its numeric ID.
func (s *TokenStore) GetByID(ctx context.Context, id int64) (*model.APIToken, error) {
	query := `SELECT id, name, secret_hash, abilities, last_used_at, expires_at, revoked_at, created_at
		FROM api_tokens WHERE id = ?`

	t := &model.APIToken{}
	var abilities string
	var lastUsed, expires, revoked sql.NullInt64
	var createdAt int64

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.Name, &t.SecretHash, &abilities, &lastUsed, &expires, &revoked, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal([]byte(abilities), &t.Abilities); err != nil {
		return nil, err
	}
	t.CreatedAt = fromMillis(createdAt)
	t.LastUsedAt = nullTime(lastUsed)
	t.ExpiresAt = nullTime(expires)
	t.RevokedAt = nullTime(revoked)

	return t, nil
}

// TouchLastUsed stamps the token's last use.
func (s *TokenStore) TouchLastUsed(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_tokens SET last_used_at = ? WHERE id = ?`, millis(at), id)
	return err
}

// Revoke marks a token revoked. Revocation is permanent.
func (s *TokenStore) Revoke(ctx context.Context, id int64, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE api_tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, millis(at), id)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTokenNotFound
	}

	return nil
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
