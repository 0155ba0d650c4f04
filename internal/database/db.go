package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Options tunes the shared connection pool.
type Options struct {
	MaxConns    int
	MinConns    int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

var (
	pool     *pgxpool.Pool
	poolMu   sync.RWMutex
	poolOnce sync.Once
)

// Connect opens the process-wide connection pool and verifies the
// connection with a ping. Subsequent calls are no-ops until Close.
func Connect(ctx context.Context, connString string, opts Options) error {
	var initErr error
	poolOnce.Do(func() {
		cfg, err := pgxpool.ParseConfig(connString)
		if err != nil {
			initErr = fmt.Errorf("parsing database config: %w", err)
			return
		}

		cfg.MaxConns = int32(opts.MaxConns)
		cfg.MinConns = int32(opts.MinConns)
		cfg.MaxConnLifetime = opts.MaxLifetime
		cfg.MaxConnIdleTime = opts.MaxIdleTime
		cfg.HealthCheckPeriod = 1 * time.Minute

		newPool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			initErr = fmt.Errorf("creating connection pool: %w", err)
			return
		}

		if err := newPool.Ping(ctx); err != nil {
			newPool.Close()
			initErr = fmt.Errorf("connecting to database: %w", err)
			return
		}

		poolMu.Lock()
		pool = newPool
		poolMu.Unlock()
	})

	if initErr != nil {
		poolOnce = sync.Once{} // reset so a later call can retry
		return initErr
	}
	return nil
}

// Close shuts down the pool. A later Connect reopens it.
func Close() {
	poolMu.Lock()
	defer poolMu.Unlock()
	if pool != nil {
		pool.Close()
		pool = nil
	}
	poolOnce = sync.Once{}
}

// Pool returns the shared connection pool, or nil before Connect.
func Pool() *pgxpool.Pool {
	poolMu.RLock()
	defer poolMu.RUnlock()
	return pool
}

// Status pings the database through the pool.
func Status(ctx context.Context) error {
	poolMu.RLock()
	p := pool
	poolMu.RUnlock()

	if p == nil {
		return fmt.Errorf("database not initialized")
	}
	return p.Ping(ctx)
}

// Stats exposes pool statistics for diagnostics.
func Stats() *pgxpool.Stat {
	poolMu.RLock()
	defer poolMu.RUnlock()
	if pool == nil {
		return nil
	}
	return pool.Stat()
}
