package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Config struct {
	Driver           string // postgres | sqlite
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// Open connects to the configured database and returns an Ent SQL driver.
// The pgx pool is nil for sqlite.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*entsql.Driver, *pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Driver == "sqlite" {
		drv, err := OpenSQLite(ctx, cfg.DSN, logger)
		return drv, nil, err
	}
	return OpenPostgres(ctx, cfg, logger)
}

// OpenPostgres creates a pgx pool and wraps it for Ent.
func OpenPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*entsql.Driver, *pgxpool.Pool, error) {
	logger.Info("connecting to database", "driver", "postgres")
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, nil, err
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "planning-pipeline"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", cfg.StatementTimeout.Milliseconds())
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, nil, err
	}

	// Wrap pool as *sql.DB for Ent
	db := stdlib.OpenDBFromPool(pool)
	drv := entsql.OpenDB(dialect.Postgres, db)

	logger.Info("successfully connected to database")
	return drv, pool, nil
}

// OpenSQLite opens a modernc sqlite database. Foreign keys must be on for
// Ent's migration, and a busy timeout keeps concurrent writers from failing fast.
func OpenSQLite(ctx context.Context, dsn string, logger *slog.Logger) (*entsql.Driver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("connecting to database", "driver", "sqlite")
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		logger.Error("failed to open sqlite", "error", err)
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		logger.Error("failed to open sqlite", "error", err)
		return nil, err
	}
	return entsql.OpenDB(dialect.SQLite, db), nil
}

// SQLiteFileDSN builds a modernc DSN for a database file with the pragmas the store relies on.
func SQLiteFileDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Close closes the database connections gracefully
func Close(drv *entsql.Driver, pool *pgxpool.Pool, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("closing database connections")
	if drv != nil {
		if err := drv.Close(); err != nil {
			logger.Error("failed to close ent driver", "error", err)
		}
	}
	if pool != nil {
		pool.Close()
	}
	logger.Info("database connections closed")
}

// HealthCheck pings using database/sql to catch DSN issues early.
func HealthCheck(ctx context.Context, drv *entsql.Driver, timeout time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("pinging database")
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := drv.DB().PingContext(ctx); err != nil {
		logger.Error("database ping failed", "error", err)
		return err
	}
	logger.Debug("database ping successful")
	return nil
}
