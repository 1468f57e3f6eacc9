package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cadforge/cadopt/api/schemas"
	"github.com/cadforge/cadopt/internal/audit"
	"github.com/cadforge/cadopt/internal/cache"
	"github.com/cadforge/cadopt/internal/config"
	"github.com/cadforge/cadopt/internal/corpus"
	"github.com/cadforge/cadopt/internal/optimizer"
	"github.com/cadforge/cadopt/internal/progress"
	"github.com/cadforge/cadopt/internal/queue"
)

// stack is the assembled engine shared by the serve and optimize commands.
type stack struct {
	optimizer *optimizer.Optimizer
	engine    *queue.Engine
	hub       *progress.Hub

	pools []*pgxpool.Pool
}

// buildStack wires cache, corpus, audit, optimizer, progress hub, and queue
// from the loaded configuration. close releases any database pools.
func buildStack(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stack, error) {
	st := &stack{}

	store, err := st.buildCache(ctx, cfg, logger)
	if err != nil {
		st.close()
		return nil, err
	}
	runs, err := st.buildCorpus(ctx, cfg, logger)
	if err != nil {
		st.close()
		return nil, err
	}

	rec := audit.New(cfg.Audit, logger)
	st.hub = progress.NewHub(logger)
	st.optimizer = optimizer.New(cfg.Optimizer, cfg.Cache.TTL, optimizer.Deps{
		Cache:  store,
		Corpus: runs,
		Audit:  rec,
		Logger: logger,
	})
	st.engine = queue.NewEngine(cfg.Engine, st.optimizer, st.hub, rec, logger)
	return st, nil
}

func (st *stack) buildCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.Cache, error) {
	switch cfg.Cache.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Cache.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connecting cache database: %w", err)
		}
		st.pools = append(st.pools, pool)
		if _, err := pool.Exec(ctx, cache.Schema); err != nil {
			return nil, fmt.Errorf("applying cache schema: %w", err)
		}
		return cache.NewPostgres(ctx, pool, logger)
	default:
		return cache.NewMemory(cfg.Cache.MaxEntries, logger), nil
	}
}

func (st *stack) buildCorpus(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.Corpus, error) {
	switch cfg.Corpus.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Corpus.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connecting corpus database: %w", err)
		}
		st.pools = append(st.pools, pool)
		if _, err := pool.Exec(ctx, corpus.Schema); err != nil {
			return nil, fmt.Errorf("applying corpus schema: %w", err)
		}
		return corpus.NewPostgres(ctx, pool, logger)
	default:
		return corpus.NewMemory(logger), nil
	}
}

func (st *stack) close() {
	for _, pool := range st.pools {
		pool.Close()
	}
}
