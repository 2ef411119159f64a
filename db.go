package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/NeilG112/LocalLoop/store"
)

// backend is the store the service runs on plus its cleanup.
type backend struct {
	store    store.Store
	accounts store.Accounts
	close    func()
}

func openBackend(ctx context.Context, cfg Config, logger *zap.Logger) (*backend, error) {
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store, data is lost on restart")
		m := store.NewMemory()
		return &backend{store: m, accounts: m, close: func() {}}, nil
	case "postgres":
		return openPostgres(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

func openPostgres(ctx context.Context, cfg Config, logger *zap.Logger) (*backend, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres store")
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cannot reach the database: %w", err)
	}
	logger.Info("database connection established")

	if cfg.AutoMigrate {
		if err := store.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	pg := store.NewPostgres(db, logger.Named("store"))
	listenCtx, cancel := context.WithCancel(context.Background())
	if err := pg.Listen(listenCtx, cfg.DatabaseURL); err != nil {
		cancel()
		_ = db.Close()
		return nil, err
	}
	return &backend{
		store:    pg,
		accounts: pg,
		close: func() {
			cancel()
			_ = db.Close()
		},
	}, nil
}
