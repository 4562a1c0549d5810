package audit

import (
	"context"
	"database/sql"
)

// PostgresTrail writes audit entries to PostgreSQL.
type PostgresTrail struct {
	db *sql.DB
}

// NewPostgresTrail creates an audit trail backed by PostgreSQL.
func NewPostgresTrail(db *sql.DB) *PostgresTrail {
	return &PostgresTrail{db: db}
}

// Migrate creates the audit table.
func (t *PostgresTrail) Migrate(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_trail (
			id           BIGSERIAL PRIMARY KEY,
			entity_type  VARCHAR(20) NOT NULL,
			entity_id    VARCHAR(64) NOT NULL,
			action       VARCHAR(40) NOT NULL,
			actor_id     VARCHAR(64) NOT NULL,
			actor_role   VARCHAR(20),
			prev_value   JSONB,
			new_value    JSONB,
			request_id   VARCHAR(64),
			reason       TEXT,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_trail(entity_type, entity_id, created_at DESC);
	`)
	return err
}

func (t *PostgresTrail) Append(ctx context.Context, entry *Entry) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO audit_trail (entity_type, entity_id, action, actor_id, actor_role, prev_value, new_value, request_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6,'')::JSONB, NULLIF($7,'')::JSONB, $8, $9, NOW())
	`, entry.EntityType, entry.EntityID, entry.Action, entry.ActorID, entry.ActorRole,
		entry.PrevValue, entry.NewValue, entry.RequestID, entry.Reason)
	return err
}

func (t *PostgresTrail) Query(ctx context.Context, entityType, entityID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := t.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, action, actor_id, COALESCE(actor_role, ''),
			COALESCE(prev_value::TEXT, ''), COALESCE(new_value::TEXT, ''),
			COALESCE(request_id, ''), COALESCE(reason, ''), created_at
		FROM audit_trail
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, entityType, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.ActorID, &e.ActorRole,
			&e.PrevValue, &e.NewValue, &e.RequestID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
