package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"zyphon/internal/platform/models"
)

// AuditRepository only appends and reads. There is no update or delete path.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Insert(ctx context.Context, e *models.AuditEvent) error {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]interface{}{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, action, key_prefix, actor_id, ip_address, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Action, e.KeyPrefix, e.ActorID, e.IPAddress, string(metaJSON), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// List returns the newest events first. An empty action matches every event.
func (r *AuditRepository) List(ctx context.Context, action string, limit int) ([]*models.AuditEvent, error) {
	query := `SELECT id, action, key_prefix, actor_id, ip_address, metadata, created_at FROM audit_events`
	args := []interface{}{}
	if action != "" {
		query += ` WHERE action = ?`
		args = append(args, action)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []*models.AuditEvent{}
	for rows.Next() {
		var e models.AuditEvent
		var metaStr string
		if err := rows.Scan(&e.ID, &e.Action, &e.KeyPrefix, &e.ActorID, &e.IPAddress, &metaStr, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(metaStr), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode audit metadata for %s: %w", e.ID, err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
