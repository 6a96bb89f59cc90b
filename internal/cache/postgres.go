package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS action_cache (
	cache_key             TEXT PRIMARY KEY,
	action_id             TEXT NOT NULL,
	steps                 JSONB NOT NULL,
	transcript            TEXT NOT NULL DEFAULT '',
	successful_executions INTEGER NOT NULL DEFAULT 0,
	created_at            TIMESTAMPTZ NOT NULL,
	updated_at            TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS action_cache_action_id_idx ON action_cache (action_id);
`

type PostgresRepository struct {
	pool *pgxpool.Pool
}

// ConnectPostgres creates a connection pool and ensures the cache table exists.
func ConnectPostgres(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create cache table: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

func (p *PostgresRepository) Save(ctx context.Context, rec Record) error {
	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO action_cache (cache_key, action_id, steps, transcript, successful_executions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (cache_key) DO UPDATE SET
			action_id = EXCLUDED.action_id,
			steps = EXCLUDED.steps,
			transcript = EXCLUDED.transcript,
			successful_executions = EXCLUDED.successful_executions,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
	`, rec.Key, rec.ActionID, steps, rec.Transcript, rec.SuccessfulExecutions, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save cache entry %s: %w", rec.Key, err)
	}
	return nil
}

const selectColumns = `SELECT cache_key, action_id, steps, transcript, successful_executions, created_at, updated_at FROM action_cache`

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec   Record
		steps []byte
	)
	if err := row.Scan(&rec.Key, &rec.ActionID, &steps, &rec.Transcript, &rec.SuccessfulExecutions, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal(steps, &rec.Steps); err != nil {
		return Record{}, fmt.Errorf("decode steps of %s: %w", rec.Key, err)
	}
	return rec, nil
}

func (p *PostgresRepository) Find(ctx context.Context, key string) (Record, error) {
	rec, err := scanRecord(p.pool.QueryRow(ctx, selectColumns+` WHERE cache_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func (p *PostgresRepository) FindByActionID(ctx context.Context, actionID string) ([]Record, error) {
	return p.query(ctx, selectColumns+` WHERE action_id = $1 ORDER BY cache_key`, actionID)
}

func (p *PostgresRepository) List(ctx context.Context) ([]Record, error) {
	return p.query(ctx, selectColumns+` ORDER BY cache_key`)
}

func (p *PostgresRepository) query(ctx context.Context, sql string, args ...any) ([]Record, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query cache: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresRepository) Delete(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM action_cache WHERE cache_key = $1`, key)
	return err
}

func (p *PostgresRepository) Clear(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM action_cache`)
	return err
}

func (p *PostgresRepository) Close() error {
	p.pool.Close()
	return nil
}
