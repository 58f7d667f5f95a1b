package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// Pool bounds the database/sql pool behind a PostgresStore.
type Pool struct {
	MaxOpen          int
	MaxIdle          int
	MaxIdleTime      time.Duration
	MaxLifetime      time.Duration
	StatementTimeout time.Duration
}

// DefaultPool suits one governor process: short governance transactions
// plus one scheduler tick at a time.
var DefaultPool = Pool{
	MaxOpen:          20,
	MaxIdle:          10,
	MaxIdleTime:      5 * time.Minute,
	MaxLifetime:      30 * time.Minute,
	StatementTimeout: 15 * time.Second,
}

func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	return OpenPool(ctx, databaseURL, DefaultPool)
}

func OpenPool(ctx context.Context, databaseURL string, pool Pool) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	if _, ok := cfg.RuntimeParams["application_name"]; !ok {
		cfg.RuntimeParams["application_name"] = "governor"
	}
	if pool.StatementTimeout > 0 {
		cfg.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", pool.StatementTimeout.Milliseconds())
	}

	db := stdlib.OpenDB(*cfg)
	db.SetConnMaxIdleTime(pool.MaxIdleTime)
	db.SetConnMaxLifetime(pool.MaxLifetime)
	db.SetMaxIdleConns(pool.MaxIdle)
	db.SetMaxOpenConns(pool.MaxOpen)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}
