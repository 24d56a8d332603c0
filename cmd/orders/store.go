package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/joao-fontenele/order-intake/internal/config"
	"github.com/joao-fontenele/order-intake/internal/orders"
	"github.com/joao-fontenele/order-intake/internal/telemetry"
)

// openStore picks the order store once for the life of the process. The
// returned close function releases the database pool, if any.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (orders.Store, func(), error) {
	if !cfg.UsePostgres() {
		logger.Info("POSTGRES_URL not set, using in-memory order store")
		return orders.NewMemoryStore(), func() {}, nil
	}

	db, err := connectPostgres(ctx, cfg)
	if err != nil {
		if cfg.StorageFallback == config.FallbackMemory {
			logger.Warn("postgres unavailable, falling back to in-memory order store", "error", err)
			return orders.NewMemoryStore(), func() {}, nil
		}
		return nil, nil, err
	}

	logger.Info("using postgres order store", "auto_migrate", cfg.AutoMigrate)
	return orders.NewPostgresStore(db), func() { _ = db.Close() }, nil
}

func connectPostgres(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := telemetry.OpenDB(cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := orders.Migrate(db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return db, nil
}
