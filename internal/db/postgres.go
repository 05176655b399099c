// Package db opens the Postgres pool used by the sync run.
package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	perr "leasesync/internal/errors"
)

// Config configures the pool
type Config struct {
	URL         string
	MaxConns    int32
	PingTimeout time.Duration
}

var newPool = pgxpool.NewWithConfig

// Open parses cfg, creates the pool and pings it once. A store that cannot
// be reached is reported as Unavailable.
func Open(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeConfig, "parse DATABASE_URL")
	}
	// one run owns the store from a single goroutine
	pcfg.MaxConns = 2
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	pool, err := newPool(ctx, pcfg)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "create pool")
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "ping store")
	}
	return pool, nil
}
