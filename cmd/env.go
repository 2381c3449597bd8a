package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/idresolve/internal/config"
	"github.com/sells-group/idresolve/internal/enrich"
	"github.com/sells-group/idresolve/internal/mapping"
	"github.com/sells-group/idresolve/internal/queue"
	"github.com/sells-group/idresolve/internal/resolver"
	"github.com/sells-group/idresolve/internal/tempid"
	"github.com/sells-group/idresolve/pkg/eqc"
)

// resolveEnv bundles the wired components for one command invocation.
type resolveEnv struct {
	repo     mapping.Repository
	queue    queue.Queue
	provider enrich.Provider
	resolver *resolver.Resolver
	backflow *resolver.BackflowWriter

	migrateIndex func(context.Context) error
	closers      []func() error
}

func (e *resolveEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close", zap.Error(err))
		}
	}
}

// initEnv validates configuration and wires the store, queue, provider, and
// resolver for the configured driver.
func initEnv(ctx context.Context) (*resolveEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	overrides, err := config.LoadOverrides(cfg.Resolver.OverridesPath)
	if err != nil {
		return nil, err
	}

	gen, err := tempid.New(cfg.Resolver.Salt)
	if err != nil {
		return nil, err
	}

	env := &resolveEnv{}

	switch cfg.Store.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "init postgres pool")
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, eris.Wrap(err, "ping postgres")
		}
		env.closers = append(env.closers, func() error { pool.Close(); return nil })
		env.repo = mapping.NewPostgres(pool)
		env.queue = queue.NewPostgres(pool)
		env.migrateIndex = func(ctx context.Context) error { return mapping.Migrate(ctx, pool) }

	case "sqlite":
		repo, err := mapping.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, repo.Close)
		q, err := queue.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.closers = append(env.closers, q.Close)
		env.repo = repo
		env.queue = q
		env.migrateIndex = repo.Migrate

	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}

	if cfg.Resolver.EnrichmentEnabled {
		client := eqc.NewClient(eqc.StaticToken(cfg.EQC.Token),
			eqc.WithBaseURL(cfg.EQC.BaseURL),
			eqc.WithRateLimit(cfg.EQC.RateLimit),
		)
		provider, err := enrich.NewEQCProvider(client, cfg.Resolver.ConfidenceByMatchType, cfg.Resolver.DefaultConfidence)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.provider = provider
	}

	r, err := resolver.New(env.repo, env.provider, env.queue, gen, resolver.Config{
		EnrichmentEnabled: cfg.Resolver.EnrichmentEnabled,
		SyncBudget:        cfg.Resolver.SyncBudget,
		Overrides:         overrides,
	})
	if err != nil {
		env.Close()
		return nil, err
	}
	env.resolver = r
	env.backflow = resolver.NewBackflowWriter(env.repo)

	return env, nil
}
