// internal/store/postgres.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github-manager/internal/model"
)

// Postgres implements RecordStore, AuditSink and StateStore on a pgx pool.
// Records are stored as JSONB documents keyed by (kind, record_key), so an
// upsert covers the create-or-update race without explicit locking.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Exists(ctx context.Context, kind, key string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM records WHERE kind = $1 AND record_key = $2)`,
		kind, key).Scan(&exists)
	return exists, err
}

func (p *Postgres) Get(ctx context.Context, kind, key string, out any) error {
	var data []byte
	err := p.pool.QueryRow(ctx,
		`SELECT data FROM records WHERE kind = $1 AND record_key = $2`,
		kind, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (p *Postgres) Create(ctx context.Context, kind, key string, record any) error {
	return p.put(ctx, kind, key, record)
}

func (p *Postgres) Update(ctx context.Context, kind, key string, record any) error {
	return p.put(ctx, kind, key, record)
}

func (p *Postgres) put(ctx context.Context, kind, key string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", kind, key, err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO records (kind, record_key, data, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (kind, record_key)
		 DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		kind, key, data)
	return err
}

func (p *Postgres) Delete(ctx context.Context, kind, key string) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM records WHERE kind = $1 AND record_key = $2`, kind, key)
	return err
}

func (p *Postgres) ListKeys(ctx context.Context, kind string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT record_key FROM records WHERE kind = $1 ORDER BY record_key`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (p *Postgres) CountWhere(ctx context.Context, kind, field, value string) (int64, error) {
	var count int64
	var err error
	if field == "" {
		err = p.pool.QueryRow(ctx,
			`SELECT count(*) FROM records WHERE kind = $1`, kind).Scan(&count)
	} else {
		err = p.pool.QueryRow(ctx,
			`SELECT count(*) FROM records WHERE kind = $1 AND data->>$2 = $3`,
			kind, field, value).Scan(&count)
	}
	return count, err
}

func (p *Postgres) Append(ctx context.Context, entry model.AuditLogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO audit_log
		 (action_type, resource_type, resource_name, actor, status, request_payload, response_payload, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ActionType, entry.ResourceType, entry.ResourceName, entry.User,
		entry.Status, entry.RequestPayload, entry.ResponsePayload,
		nullIfEmpty(entry.ErrorMessage), entry.Timestamp)
	return err
}

func (p *Postgres) SaveRateLimit(ctx context.Context, remaining int, resetAt time.Time) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO sync_state (id, rate_limit_remaining, rate_limit_reset_at)
		 VALUES (1, $1, $2)
		 ON CONFLICT (id)
		 DO UPDATE SET rate_limit_remaining = EXCLUDED.rate_limit_remaining,
		               rate_limit_reset_at = EXCLUDED.rate_limit_reset_at`,
		remaining, resetAt)
	return err
}

func (p *Postgres) RateLimit(ctx context.Context) (*model.RateLimitState, error) {
	var state model.RateLimitState
	err := p.pool.QueryRow(ctx,
		`SELECT COALESCE(rate_limit_remaining, 0), COALESCE(rate_limit_reset_at, to_timestamp(0)) FROM sync_state WHERE id = 1`).
		Scan(&state.Remaining, &state.ResetAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (p *Postgres) SaveTokenRefresh(ctx context.Context, at time.Time) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO sync_state (id, last_token_refresh)
		 VALUES (1, $1)
		 ON CONFLICT (id)
		 DO UPDATE SET last_token_refresh = EXCLUDED.last_token_refresh`,
		at)
	return err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
