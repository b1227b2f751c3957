// Package store persists users, detections and the disease knowledge base
// in SQLite (modernc) or PostgreSQL (pgx).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
	ErrNoChange  = errors.New("no change")
)

type Config struct {
	Driver string
	DSN    string
}

// DB wraps *sql.DB with the dialect needed for placeholder rewriting.
type DB struct {
	sql    *sql.DB
	driver string

	Users      *UserRepo
	Detections *DetectionRepo
	Diseases   *DiseaseRepo
}

// Open connects, applies pending migrations and pings.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("missing DSN")
	}
	mig, err := NewMigrator(cfg)
	if err != nil {
		return nil, err
	}
	if err := mig.Up(ctx); err != nil && !errors.Is(err, ErrNoChange) {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	sdb, err := openSQL(cfg)
	if err != nil {
		return nil, err
	}
	sdb.SetConnMaxLifetime(30 * time.Minute)
	if cfg.Driver == DriverSQLite {
		// single writer avoids SQLITE_BUSY under concurrent uploads
		sdb.SetMaxOpenConns(1)
	} else {
		sdb.SetMaxOpenConns(10)
		sdb.SetMaxIdleConns(5)
	}
	if err := sdb.PingContext(ctx); err != nil {
		sdb.Close()
		return nil, err
	}

	db := &DB{sql: sdb, driver: cfg.Driver}
	db.Users = NewUserRepo(db)
	db.Detections = NewDetectionRepo(db)
	db.Diseases = NewDiseaseRepo(db)
	return db, nil
}

func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) Ping(ctx context.Context) error { return d.sql.PingContext(ctx) }

func openSQL(cfg Config) (*sql.DB, error) {
	switch cfg.Driver {
	case DriverSQLite:
		dsn, err := sqliteDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return sql.Open("sqlite", dsn)
	case DriverPostgres:
		return sql.Open("pgx", cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func sqliteDSN(dsn string) (string, error) {
	if strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, "?") {
		return dsn, nil
	}
	if dir := filepath.Dir(dsn); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return "", fmt.Errorf("create database dir: %w", err)
		}
	}
	return "file:" + dsn + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (d *DB) rebind(q string) string {
	if d.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *DB) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return d.sql.ExecContext(ctx, d.rebind(q), args...)
}

func (d *DB) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return d.sql.QueryContext(ctx, d.rebind(q), args...)
}

func (d *DB) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return d.sql.QueryRowContext(ctx, d.rebind(q), args...)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
