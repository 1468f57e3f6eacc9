package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/cadforge/cadopt/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts the pgxpool.Pool so the store can be mocked with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres persists cache entries in a single table. Results serialize to
// JSON; the upsert keeps last-write-wins semantics for concurrent writers.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
}

// Schema is the DDL the postgres backend expects. Applied out of band.
const Schema = `
CREATE TABLE IF NOT EXISTS optimization_cache (
    fingerprint TEXT PRIMARY KEY,
    result      JSONB NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    ttl_seconds BIGINT NOT NULL
);`

// NewPostgres creates the postgres-backed cache and verifies the connection.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, &schemas.TransientError{Op: "cache ping", Err: err}
	}
	return &Postgres{pool: pool, log: logger.Named("cache")}, nil
}

// Get fetches a cache entry, treating expired or missing rows as absent.
// Connection-level failures surface as TransientError so the optimizer can
// degrade to uncached operation.
func (p *Postgres) Get(ctx context.Context, fingerprint string) (schemas.OptimizationResult, bool, error) {
	var (
		raw        []byte
		createdAt  time.Time
		ttlSeconds int64
	)
	err := p.pool.QueryRow(ctx, `
		SELECT result, created_at, ttl_seconds
		FROM optimization_cache WHERE fingerprint = $1;
	`, fingerprint).Scan(&raw, &createdAt, &ttlSeconds)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schemas.OptimizationResult{}, false, nil
		}
		return schemas.OptimizationResult{}, false, &schemas.TransientError{Op: "cache get", Err: err}
	}

	if time.Now().After(createdAt.Add(time.Duration(ttlSeconds) * time.Second)) {
		// Lazy expiry; leave the stale row for the next Put to overwrite.
		return schemas.OptimizationResult{}, false, nil
	}

	var result schemas.OptimizationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return schemas.OptimizationResult{}, false, fmt.Errorf("failed to unmarshal cached result: %w", err)
	}
	return result, true, nil
}

// Put upserts the entry, replacing any previous result for the fingerprint.
func (p *Postgres) Put(ctx context.Context, fingerprint string, result schemas.OptimizationResult, ttl time.Duration) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result for caching: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO optimization_cache (fingerprint, result, created_at, ttl_seconds)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (fingerprint) DO UPDATE SET
			result = EXCLUDED.result,
			created_at = EXCLUDED.created_at,
			ttl_seconds = EXCLUDED.ttl_seconds;
	`, fingerprint, raw, time.Now().UTC(), int64(ttl.Seconds()))
	if err != nil {
		return &schemas.TransientError{Op: "cache put", Err: err}
	}
	return nil
}
