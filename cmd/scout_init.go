package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/safeplate/scout-cli/internal/scout"
	"github.com/safeplate/scout-cli/internal/store"
	"github.com/safeplate/scout-cli/pkg/anthropic"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "scout.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{MaxConns: cfg.Store.MaxConns})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initScout wires the lookup pipeline. A missing database DSN is tolerated:
// the scout runs cache-less and every lookup goes to the analyzer.
func initScout(ctx context.Context) (*scout.Scout, store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		if eris.Is(err, store.ErrNotConfigured) {
			zap.L().Warn("no database configured, running without cache")
			st = nil
		} else {
			return nil, nil, err
		}
	}

	if st != nil {
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, nil, eris.Wrap(err, "migrate store")
		}
	}

	client := anthropic.NewClient(cfg.Anthropic.Key)
	analyzer := scout.NewClaudeAnalyzer(client, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens, cfg.Anthropic.MaxSearches)
	return scout.New(st, analyzer), st, nil
}

func closeStore(st store.Store) {
	if st == nil {
		return
	}
	if err := st.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}
