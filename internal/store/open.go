package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jusunglee/train-schedules/internal/logger"
)

// Supported schedule sources
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
	DriverGTFS     = "gtfs"
)

// SourceConfig says where the schedule lives
type SourceConfig struct {
	Driver string
	// Path is a file path for sqlite3 and gtfs, a connection string for pgx.
	Path string
	// RetryFor bounds how long opening a database is retried.
	RetryFor time.Duration
}

// Open loads the schedule from the configured source.
// Any error here means there is nothing to serve.
func Open(ctx context.Context, cfg SourceConfig, log logger.Logger) (*Snapshot, error) {
	switch cfg.Driver {
	case DriverGTFS:
		return LoadGTFS(cfg.Path, log)
	case DriverSQLite:
		// the driver would otherwise create an empty database
		if _, err := os.Stat(cfg.Path); err != nil {
			return nil, fmt.Errorf("schedule database: %w", err)
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unknown schedule driver %q", cfg.Driver)
	}

	db, err := connect(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	return LoadSQL(ctx, db, log)
}

func connect(ctx context.Context, cfg SourceConfig, log logger.Logger) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     500 * time.Millisecond,
		RandomizationFactor: 0.25,
		Multiplier:          2,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      cfg.RetryFor,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("Schedule database not reachable, retrying", "driver", cfg.Driver, "error", err, "wait", wait.String())
	}

	if err := backoff.RetryNotify(ping, backoff.WithContext(b, ctx), notify); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}
