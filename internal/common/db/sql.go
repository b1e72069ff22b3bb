package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLDatabase implements Database on database/sql for any supported dialect.
// Each instance manages its own connection pool
type SQLDatabase struct {
	db      *sql.DB
	dialect Dialect
}

// Open creates a pooled connection for cfg.Driver and verifies it with a ping.
func Open(cfg Config) (*SQLDatabase, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("DSN cannot be empty")
	}
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	db, err := sql.Open(dialect.Name(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLDatabase{db: db, dialect: dialect}, nil
}

// NewWithDB wraps an existing sql.DB.
func NewWithDB(db *sql.DB, dialect Dialect) *SQLDatabase {
	return &SQLDatabase{db: db, dialect: dialect}
}

func (d *SQLDatabase) Dialect() Dialect {
	return d.dialect
}

// Query executes a query that returns rows
func (d *SQLDatabase) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	rows, err := d.db.QueryContext(ctx, d.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return rows, nil
}

// QueryRow executes a query that returns at most one row
func (d *SQLDatabase) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return d.db.QueryRowContext(ctx, d.dialect.Rebind(query), args...)
}

// Exec executes a query that doesn't return rows
func (d *SQLDatabase) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	result, err := d.db.ExecContext(ctx, d.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("exec failed: %w", err)
	}
	return result, nil
}

// Transaction executes fn within a database transaction, rolling back on error.
func (d *SQLDatabase) Transaction(ctx context.Context, fn func(tx Transaction) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction failed: %w", err)
	}

	if err := fn(&sqlTransaction{tx: tx, dialect: d.dialect}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

// Ping verifies a connection to the database is still alive
func (d *SQLDatabase) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// Close closes the database connection
func (d *SQLDatabase) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close failed: %w", err)
	}
	return nil
}

type sqlTransaction struct {
	tx      *sql.Tx
	dialect Dialect
}

func (t *sqlTransaction) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	rows, err := t.tx.QueryContext(ctx, t.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("transaction query failed: %w", err)
	}
	return rows, nil
}

func (t *sqlTransaction) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return t.tx.QueryRowContext(ctx, t.dialect.Rebind(query), args...)
}

func (t *sqlTransaction) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	result, err := t.tx.ExecContext(ctx, t.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("transaction exec failed: %w", err)
	}
	return result, nil
}

var _ Database = (*SQLDatabase)(nil)
