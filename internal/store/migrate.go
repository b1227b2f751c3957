package store

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrator handles DB schema migrations using golang-migrate.
type Migrator struct {
	cfg Config
}

func NewMigrator(cfg Config) (*Migrator, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("missing DSN")
	}
	if cfg.Driver != DriverSQLite && cfg.Driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	return &Migrator{cfg: cfg}, nil
}

func (m *Migrator) Up(ctx context.Context) error {
	return m.run(ctx, func(mig *migrate.Migrate) error { return mig.Up() })
}

// Down rolls back one migration.
func (m *Migrator) Down(ctx context.Context) error {
	return m.run(ctx, func(mig *migrate.Migrate) error { return mig.Steps(-1) })
}

// Version returns the applied schema version; dirty means a migration failed halfway.
func (m *Migrator) Version(ctx context.Context) (version uint, dirty bool, err error) {
	err = m.run(ctx, func(mig *migrate.Migrate) error {
		v, d, verr := mig.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			return nil
		}
		version, dirty = v, d
		return verr
	})
	return version, dirty, err
}

func (m *Migrator) run(ctx context.Context, fn func(*migrate.Migrate) error) error {
	mig, closer, err := m.migrateInstance(ctx)
	if err != nil {
		return err
	}
	defer closer()
	if err := fn(mig); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return ErrNoChange
		}
		return err
	}
	return nil
}

// migrateInstance opens a dedicated connection; closing the migrate instance closes it.
func (m *Migrator) migrateInstance(ctx context.Context) (*migrate.Migrate, func(), error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, func() {}, err
	}
	sdb, err := openSQL(m.cfg)
	if err != nil {
		return nil, func() {}, err
	}
	if err := sdb.PingContext(ctx); err != nil {
		sdb.Close()
		return nil, func() {}, err
	}

	var mig *migrate.Migrate
	switch m.cfg.Driver {
	case DriverSQLite:
		drv, derr := migratesqlite.WithInstance(sdb, &migratesqlite.Config{})
		if derr != nil {
			sdb.Close()
			return nil, func() {}, derr
		}
		mig, err = migrate.NewWithInstance("iofs", src, "sqlite", drv)
	case DriverPostgres:
		drv, derr := migratepgx.WithInstance(sdb, &migratepgx.Config{})
		if derr != nil {
			sdb.Close()
			return nil, func() {}, derr
		}
		mig, err = migrate.NewWithInstance("iofs", src, "pgx5", drv)
	}
	if err != nil {
		sdb.Close()
		return nil, func() {}, err
	}
	return mig, func() { mig.Close() }, nil
}

// Migrate runs migrations in the given direction ("up" or "down"). ErrNoChange is not an error.
func Migrate(ctx context.Context, cfg Config, direction string) error {
	m, err := NewMigrator(cfg)
	if err != nil {
		return err
	}
	switch direction {
	case "up":
		err = m.Up(ctx)
	case "down":
		err = m.Down(ctx)
	default:
		return fmt.Errorf("unknown migration direction %q", direction)
	}
	if errors.Is(err, ErrNoChange) {
		return nil
	}
	return err
}
