// Package postgres implements the request ledger on PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/dvloznov/statement-relay/internal/logger"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnConfig holds the ledger database connection settings.
type ConnConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
}

// URL builds the connection string. User and password are escaped.
func (c ConnConfig) URL() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}

// ConnectDB opens a connection pool, retrying with exponential backoff
// until the database answers a ping.
func ConnectDB(ctx context.Context, cfg ConnConfig) (*pgxpool.Pool, error) {
	log := logger.FromContext(ctx)

	poolCfg, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("ConnectDB: parse config: %w", err)
	}

	// The pipeline handles one request at a time.
	poolCfg.MaxConns = 4
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	const maxRetries = 5
	delay := 2 * time.Second

	for i := 1; i <= maxRetries; i++ {
		log.Info().
			Int("attempt", i).
			Str("host", cfg.Host).
			Str("database", cfg.Database).
			Msg("Connecting to ledger database")

		pool, connErr := connectOnce(ctx, poolCfg)
		if connErr == nil {
			log.Info().Msg("Connected to ledger database")
			return pool, nil
		}
		err = connErr

		log.Warn().Err(err).Int("attempt", i).Msg("Ledger database connection failed")

		if i < maxRetries {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}
	}

	return nil, fmt.Errorf("ConnectDB: failed after %d attempts: %w", maxRetries, err)
}

func connectOnce(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}
