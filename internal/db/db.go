package db

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/achievetrack/apiserver/config"
	_ "github.com/lib/pq"
)

const (
	defaultDBDriver     = "postgres"
	defaultPingTimeout  = 5 * time.Second
	defaultConnMaxIdle  = 2 * time.Minute
	defaultConnMaxLife  = 30 * time.Minute
	defaultMaxIdleConns = 5
	defaultMaxOpenConns = 25
)

// MigrationsURL is the golang-migrate source for the bundled schema.
const MigrationsURL = "file://internal/db/migrations"

// PostgresURL builds the connection URL used by both the pool and the migrator.
func PostgresURL(cfg config.DatabaseConfig) string {
	sslmode := "disable"
	if cfg.UseSSL {
		sslmode = "require"
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		User:   url.UserPassword(cfg.User, cfg.Password),
		Path:   cfg.DBName,
	}

	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()

	return u.String()
}

// poolLimits resolves the configured pool sizes against the defaults. Idle
// connections never exceed open ones.
func poolLimits(cfg config.DatabaseConfig) (maxOpen, maxIdle int, maxLife time.Duration) {
	maxOpen = cmp.Or(cfg.MaxOpenConns, defaultMaxOpenConns)
	maxIdle = min(cmp.Or(cfg.MaxIdleConns, defaultMaxIdleConns), maxOpen)
	maxLife = cmp.Or(cfg.ConnMaxLifetime, defaultConnMaxLife)
	return maxOpen, maxIdle, maxLife
}

// Open connects to Postgres and fails fast when the server is unreachable.
func Open(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open(defaultDBDriver, PostgresURL(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxOpen, maxIdle, maxLife := poolLimits(cfg.Database)
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLife)
	db.SetConnMaxIdleTime(defaultConnMaxIdle)

	ctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s:%d: %w", cfg.Database.Host, cfg.Database.Port, err)
	}

	return db, nil
}
