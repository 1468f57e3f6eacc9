package corpus

import (
	"context"
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
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres persists corpus runs. Similarity ranking happens in process after
// a tool-scoped fetch; the corpus for any one tool stays small enough that
// pushing the Jaccard ranking into SQL is not worth the complexity.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
}

// Schema is the DDL the postgres backend expects. Applied out of band.
const Schema = `
CREATE TABLE IF NOT EXISTS corpus_runs (
    id          BIGSERIAL PRIMARY KEY,
    project_id  TEXT NOT NULL,
    tool        TEXT NOT NULL,
    parameters  JSONB NOT NULL,
    metrics     JSONB NOT NULL,
    confidence  DOUBLE PRECISION NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS corpus_runs_tool_idx ON corpus_runs (tool);`

// NewPostgres creates the postgres-backed corpus and verifies the connection.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, &schemas.TransientError{Op: "corpus ping", Err: err}
	}
	return &Postgres{pool: pool, log: logger.Named("corpus")}, nil
}

// Record inserts one completed run.
func (p *Postgres) Record(ctx context.Context, run schemas.CorpusRun) error {
	params, err := json.Marshal(run.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal run parameters: %w", err)
	}
	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal run metrics: %w", err)
	}

	recordedAt := run.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO corpus_runs (project_id, tool, parameters, metrics, confidence, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6);
	`, run.ProjectID, run.Tool, params, metrics, run.Confidence, recordedAt)
	if err != nil {
		return &schemas.TransientError{Op: "corpus record", Err: err}
	}
	return nil
}

// Similar fetches the tool's runs and ranks them in process, reusing the
// memory backend's scoring.
func (p *Postgres) Similar(ctx context.Context, tool string, params map[string]any, limit int) ([]schemas.CorpusRun, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT project_id, tool, parameters, metrics, confidence, recorded_at
		FROM corpus_runs WHERE tool = $1
		ORDER BY recorded_at DESC LIMIT 500;
	`, tool)
	if err != nil {
		return nil, &schemas.TransientError{Op: "corpus query", Err: err}
	}
	defer rows.Close()

	scratch := NewMemory(p.log)
	for rows.Next() {
		var (
			run               schemas.CorpusRun
			rawParams, rawMet []byte
		)
		if err := rows.Scan(&run.ProjectID, &run.Tool, &rawParams, &rawMet, &run.Confidence, &run.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan corpus row: %w", err)
		}
		if err := json.Unmarshal(rawParams, &run.Parameters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run parameters: %w", err)
		}
		if err := json.Unmarshal(rawMet, &run.Metrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run metrics: %w", err)
		}
		if err := scratch.Record(ctx, run); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &schemas.TransientError{Op: "corpus iteration", Err: err}
	}

	return scratch.Similar(ctx, tool, params, limit)
}
