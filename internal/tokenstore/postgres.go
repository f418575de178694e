package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultRecordKey = "default"

// Postgres mirrors the token record into a single row and keeps an audit
// trail of lifecycle events.
type Postgres struct {
	db  *sql.DB
	key string
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, key: defaultRecordKey}
}

func (p *Postgres) Upsert(ctx context.Context, record Record) error {
	record = record.mirrored()

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bullhorn_tokens (id, access_token, refresh_token, access_token_expires_at, bh_rest_token, bh_rest_token_expires_at, rest_url, refresh_token_rejected_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id)
		DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			access_token_expires_at = EXCLUDED.access_token_expires_at,
			bh_rest_token = EXCLUDED.bh_rest_token,
			bh_rest_token_expires_at = EXCLUDED.bh_rest_token_expires_at,
			rest_url = EXCLUDED.rest_url,
			refresh_token_rejected_at = EXCLUDED.refresh_token_rejected_at,
			updated_at = EXCLUDED.updated_at
	`, p.key, record.AccessToken, record.RefreshToken, nullTime(record.AccessTokenExpiresAt),
		record.BhRestToken, nullTime(record.BhRestTokenExpiresAt), record.RestURL,
		nullTime(record.RefreshTokenRejectedAt), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert token record: %w", err)
	}

	return nil
}

func (p *Postgres) Load(ctx context.Context) (Record, error) {
	var record Record
	var accessExpiresAt, sessionExpiresAt, rejectedAt sql.NullTime

	err := p.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, access_token_expires_at, bh_rest_token, bh_rest_token_expires_at, rest_url, refresh_token_rejected_at
		FROM bullhorn_tokens
		WHERE id = $1
	`, p.key).Scan(&record.AccessToken, &record.RefreshToken, &accessExpiresAt, &record.BhRestToken, &sessionExpiresAt, &record.RestURL, &rejectedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("query token record: %w", err)
	}

	if accessExpiresAt.Valid {
		record.AccessTokenExpiresAt = accessExpiresAt.Time
	}
	if sessionExpiresAt.Valid {
		record.BhRestTokenExpiresAt = sessionExpiresAt.Time
	}
	if rejectedAt.Valid {
		record.RefreshTokenRejectedAt = rejectedAt.Time
	}

	return record.normalized(), nil
}

func (p *Postgres) Delete(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM bullhorn_tokens WHERE id = $1`, p.key); err != nil {
		return fmt.Errorf("delete token record: %w", err)
	}

	return nil
}

func (p *Postgres) RecordEvent(ctx context.Context, kind, detail string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate event id: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO token_events (id, kind, detail, created_at)
		VALUES ($1, $2, $3, $4)
	`, id.String(), kind, detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert token event: %w", err)
	}

	return nil
}

func (p *Postgres) ListEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, kind, detail, created_at
		FROM token_events
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query token events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Kind, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan token event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token events: %w", err)
	}

	return events, nil
}

func (p *Postgres) PruneEvents(ctx context.Context, retention time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	cutoff := time.Now().UTC().Add(-retention)
	res, err := p.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM token_events
			WHERE created_at < $1
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM token_events t
		USING stale
		WHERE t.id = stale.id
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale token events: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale token events rows affected: %w", err)
	}

	return affected, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
