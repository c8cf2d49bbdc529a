package repository

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("not found")

// Repository handles database operations for projects, completions,
// annotations, schemas and widgets.
type Repository struct {
	db     *sqlx.DB
	dbType string
	logger *zap.Logger
}

// NewRepository connects to the database and runs migrations.
// dbType is "sqlite" (path is a file) or "postgres" (path is a URL).
func NewRepository(dbType, path string, logger *zap.Logger) (*Repository, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch dbType {
	case "", "sqlite":
		dbType = "sqlite"
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		db, err = sqlx.Connect("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
		if err == nil {
			db.SetMaxOpenConns(1)
		}
	case "postgres":
		db, err = sqlx.Connect("postgres", path)
	default:
		return nil, fmt.Errorf("unsupported database type %q", dbType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := &Repository{db: db, dbType: dbType, logger: logger}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("Database ready", zap.String("type", dbType))
	return repo, nil
}

// migrate applies the embedded migrations for the active dialect. The
// migrate instance is not closed since that would close the shared db.
func (r *Repository) migrate() error {
	var (
		driver database.Driver
		err    error
	)
	switch r.dbType {
	case "postgres":
		driver, err = postgres.WithInstance(r.db.DB, &postgres.Config{})
	default:
		driver, err = sqlite.WithInstance(r.db.DB, &sqlite.Config{})
	}
	if err != nil {
		return fmt.Errorf("couldn't get database instance for running migrations: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations/"+r.dbType)
	if err != nil {
		return fmt.Errorf("couldn't open migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, r.dbType, driver)
	if err != nil {
		return fmt.Errorf("couldn't create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("couldn't run database migration: %w", err)
	}
	return nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping checks the connection
func (r *Repository) Ping() error {
	return r.db.Ping()
}

func (r *Repository) q(query string) string {
	return r.db.Rebind(query)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
