// Package store owns the Postgres connection pool and schema migrations
// shared by the registry and ledger stores.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/enrollflow/enrollflow/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ResolveDSN reads the connection string from the environment variable
// named by the store configuration. Credentials never live in config
// files.
func ResolveDSN(cfg config.StoreConfig) (string, error) {
	dsn := os.Getenv(cfg.DSNEnv)
	if dsn == "" {
		return "", fmt.Errorf("store: environment variable %s is not set", cfg.DSNEnv)
	}
	return dsn, nil
}

// Open migrates the schema (when auto_migrate is on) and returns a
// connection pool. The caller owns the pool and must Close it.
func Open(ctx context.Context, cfg config.StoreConfig) (*pgxpool.Pool, error) {
	dsn, err := ResolveDSN(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := Migrate(dsn); err != nil {
			return nil, err
		}
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return pool, nil
}

// Migrate applies all pending schema migrations. Migrations run over a
// short-lived database/sql connection; the pgx pool is opened afterwards.
func Migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("store: open migration connection: %w", err)
	}
	defer db.Close()

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: create migration source: %w", err)
	}
	dbDriver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("store: create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "pgx", dbDriver)
	if err != nil {
		return fmt.Errorf("store: create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: apply migrations: %w", err)
	}
	return nil
}
