package database

import (
	"context"
	"embed"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantum-dapp-core/log"
	"github.com/quantumauth-io/quantum-dapp-core/retry"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Querier is the subset of a pgx pool the stores need.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, arguments ...interface{}) pgx.Row
}

type PostgresDatabase struct {
	dbPool   *pgxpool.Pool
	settings DatabaseSettings
}

var _ Querier = (*PostgresDatabase)(nil)

// Connect opens a pgx pool, retrying until the database answers.
func Connect(ctx context.Context, dbSettings DatabaseSettings) (*PostgresDatabase, error) {
	cfg, err := poolConfig(dbSettings)
	if err != nil {
		return nil, err
	}

	pool, err := retry.Do(ctx, retryConfig(), func(ctx context.Context) (*pgxpool.Pool, error) {
		p, err := pgxpool.ConnectConfig(ctx, cfg.Copy())
		if err != nil {
			return nil, errors.Wrap(err, "error opening the database")
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return nil, errors.Wrap(err, "error pinging the database")
		}
		return p, nil
	}, nil, "Database Connection")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database after retries")
	}

	log.Info("database connected", "host", dbSettings.Host, "database", dbSettings.Database)
	return &PostgresDatabase{dbPool: pool, settings: dbSettings}, nil
}

func (db *PostgresDatabase) GetSettings() DatabaseSettings {
	return db.settings
}

// Migrate applies the embedded schema.
func (db *PostgresDatabase) Migrate(ctx context.Context) error {
	src, err := Migrations()
	if err != nil {
		return err
	}
	return migrateWithIOFS(ctx, src, db.settings)
}

// Migrations exposes the embedded schema as a migrate source.
func Migrations() (source.Driver, error) {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, errors.Wrap(err, "open embedded migrations")
	}
	return src, nil
}

func migrateWithIOFS(ctx context.Context, src source.Driver, cfg DatabaseSettings) error {
	connectionString, err := getConnectionString(cfg)
	if err != nil {
		return errors.Wrap(err, "Failed to create connection string")
	}

	_, err = retry.Do(ctx, retryConfig(), func(context.Context) (struct{}, error) {
		m, err := migrate.NewWithSourceInstance("iofs", src, "pgx://"+connectionString)
		if err != nil {
			return struct{}{}, errors.Wrap(err, "Failed to initialize migrations")
		}
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return struct{}{}, errors.Wrap(err, "error migrating database schema")
		}
		return struct{}{}, nil
	}, nil, "Database Migration")
	return err
}

func (db *PostgresDatabase) Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error) {
	tag, err := retry.Do(ctx, retryConfig(), func(ctx context.Context) (pgconn.CommandTag, error) {
		return db.dbPool.Exec(ctx, sql, arguments...)
	}, isRetryable, "Database Exec")
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to execute %s", sql)
	}
	return tag, nil
}

// QueryRow defers the query to Scan, which retries transient failures.
func (db *PostgresDatabase) QueryRow(ctx context.Context, sql string, arguments ...interface{}) pgx.Row {
	return &retryingRow{ctx: ctx, pool: db.dbPool, sql: sql, args: arguments}
}

func (db *PostgresDatabase) Close() {
	db.dbPool.Close()
}

type retryingRow struct {
	ctx  context.Context
	pool *pgxpool.Pool
	sql  string
	args []interface{}
}

func (r *retryingRow) Scan(dest ...interface{}) error {
	_, err := retry.Do(r.ctx, retryConfig(), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.pool.QueryRow(ctx, r.sql, r.args...).Scan(dest...)
	}, isRetryable, "Database QueryRow")
	if errors.Is(err, pgx.ErrNoRows) {
		return pgx.ErrNoRows
	}
	return err
}
