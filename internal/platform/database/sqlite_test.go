package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zyphon/internal/platform/config"
)

func TestMigrate_AuditEventsAreAppendOnly(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Path: ":memory:"})
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db))
	// idempotent
	require.NoError(t, Migrate(ctx, db))

	_, err = db.Exec(`INSERT INTO audit_events (id, action, created_at) VALUES ('a1', 'key.created', 1)`)
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE audit_events SET action = 'x' WHERE id = 'a1'`)
	assert.Error(t, err)

	_, err = db.Exec(`DELETE FROM audit_events WHERE id = 'a1'`)
	assert.Error(t, err)
}

func TestMigrate_KeyStateConstraint(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Path: ":memory:"})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(context.Background(), db))

	// active and revoked at the same time is rejected
	_, err = db.Exec(`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, active, created_by, created_at, revoked_at)
		VALUES ('k1', 'n', 'h', 'p', '[]', 1, 'u', 1, 2)`)
	assert.Error(t, err)
}
