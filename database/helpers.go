package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantum-dapp-core/retry"
)

const (
	defaultMaxRetry = 6

	defaultMinDBPoolSize = 1
	defaultMaxDBPoolSize = 8

	// Keep connections relatively short-lived / not too idle
	defaultConnectionMaxLifetime = 2 * time.Minute
	defaultConnectionMaxIdleTime = 30 * time.Second
	defaultHealthCheckPeriod     = 15 * time.Second

	uniqueConstraintViolationCode = "23505"
)

type DatabaseSettings struct {
	Host                  string
	Port                  string
	User                  string
	Password              string
	Database              string
	SSLModeDisable        bool
	CertPath              string
	ConnectionMaxLifetime time.Duration
	ConnectionMaxIdleTime time.Duration
	MaxPoolSize           uint
	MinPoolSize           uint
}

func retryConfig() *retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxDelayBeforeRetrying = 1 * time.Second
	cfg.MaxNumRetries = defaultMaxRetry
	return cfg
}

// getConnectionString renders user:password@host:port/db?sslmode=..., without a scheme.
func getConnectionString(dbSettings DatabaseSettings) (string, error) {
	connString := fmt.Sprintf("%s@%s/%s",
		url.UserPassword(dbSettings.User, dbSettings.Password).String(),
		net.JoinHostPort(dbSettings.Host, dbSettings.Port),
		dbSettings.Database,
	)

	// Local/dev docker etc.
	if dbSettings.SSLModeDisable {
		return connString + "?sslmode=disable", nil
	}

	// Default to "require" so no CA bundle is needed; verify-ca only with a cert path.
	if dbSettings.CertPath == "" {
		return connString + "?sslmode=require", nil
	}

	if _, err := os.Stat(dbSettings.CertPath); errors.Is(err, os.ErrNotExist) {
		return "", errors.New("ssl mode was enabled but cert file not found")
	} else if err != nil {
		return "", err
	}

	return connString + "?sslmode=verify-ca&sslrootcert=" + url.QueryEscape(dbSettings.CertPath), nil
}

func poolConfig(dbSettings DatabaseSettings) (*pgxpool.Config, error) {
	connStr, err := getConnectionString(dbSettings)
	if err != nil {
		return nil, err
	}
	cfg, err := pgxpool.ParseConfig("postgres://" + connStr)
	if err != nil {
		return nil, errors.Wrap(err, "parse connection string")
	}

	cfg.MinConns = int32(orDefault(dbSettings.MinPoolSize, defaultMinDBPoolSize))
	cfg.MaxConns = int32(orDefault(dbSettings.MaxPoolSize, defaultMaxDBPoolSize))
	cfg.MaxConnLifetime = dbSettings.ConnectionMaxLifetime
	if cfg.MaxConnLifetime == 0 {
		cfg.MaxConnLifetime = defaultConnectionMaxLifetime
	}
	cfg.MaxConnIdleTime = dbSettings.ConnectionMaxIdleTime
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = defaultConnectionMaxIdleTime
	}
	// proactively check connections so dead ones don't linger
	cfg.HealthCheckPeriod = defaultHealthCheckPeriod
	return cfg, nil
}

func orDefault(v, def uint) uint {
	if v == 0 {
		return def
	}
	return v
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	// never retry "no rows"
	if errors.Is(err, pgx.ErrNoRows) {
		return false
	}

	// never retry unique constraint violations
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueConstraintViolationCode {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// network errors and serialization failures: let the pool hand out a fresh connection
	return true
}
