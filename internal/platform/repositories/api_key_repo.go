package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"zyphon/internal/platform/models"
)

// ErrKeyNotActive is returned when a revoke or rotate targets a key that is
// already inactive.
var ErrKeyNotActive = errors.New("api key is not active")

const apiKeyColumns = `id, name, key_hash, key_prefix, scopes, active, created_by, rotated_from, created_at, revoked_at, last_used_at`

type APIKeyRepository struct {
	db *sql.DB
}

func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (r *APIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	return insertKey(ctx, r.db, key)
}

func insertKey(ctx context.Context, db execer, key *models.APIKey) error {
	if key.ID == "" {
		key.ID = "key_" + uuid.New().String()
	}

	scopesJSON, err := json.Marshal(key.Scopes)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, active, created_by, rotated_from, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)
	`, key.ID, key.Name, key.KeyHash, key.KeyPrefix, string(scopesJSON), key.CreatedBy, key.RotatedFrom, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	key.Active = true
	return nil
}

// GetByID returns nil, nil when no key matches.
func (r *APIKeyRepository) GetByID(ctx context.Context, id string) (*models.APIKey, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ?`, id)
	return scanKey(row)
}

// GetByHash returns nil, nil when no key matches.
func (r *APIKeyRepository) GetByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = ?`, hash)
	return scanKey(row)
}

func (r *APIKeyRepository) List(ctx context.Context, limit, offset int) ([]*models.APIKey, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []*models.APIKey{}
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Revoke deactivates an active key in place.
func (r *APIKeyRepository) Revoke(ctx context.Context, id string, at int64) error {
	return revokeKey(ctx, r.db, id, at)
}

func revokeKey(ctx context.Context, db execer, id string, at int64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE api_keys SET active = 0, revoked_at = ?
		WHERE id = ? AND active = 1 AND revoked_at IS NULL
	`, at, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrKeyNotActive
	}
	return nil
}

// Rotate revokes oldID and inserts next in one transaction. Either both
// writes land or neither does.
func (r *APIKeyRepository) Rotate(ctx context.Context, oldID string, next *models.APIKey, at int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := revokeKey(ctx, tx, oldID, at); err != nil {
		return err
	}

	next.RotatedFrom = &oldID
	if err := insertKey(ctx, tx, next); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, id string, at int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, at, id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanKey(row rowScanner) (*models.APIKey, error) {
	var k models.APIKey
	var scopesStr string
	var rotatedFrom sql.NullString
	var revokedAt, lastUsedAt sql.NullInt64

	err := row.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &scopesStr, &k.Active, &k.CreatedBy,
		&rotatedFrom, &k.CreatedAt, &revokedAt, &lastUsedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if rotatedFrom.Valid {
		k.RotatedFrom = &rotatedFrom.String
	}
	if revokedAt.Valid {
		k.RevokedAt = &revokedAt.Int64
	}
	if lastUsedAt.Valid {
		k.LastUsedAt = &lastUsedAt.Int64
	}

	if err := json.Unmarshal([]byte(scopesStr), &k.Scopes); err != nil {
		return nil, fmt.Errorf("decode scopes for %s: %w", k.ID, err)
	}

	return &k, nil
}
