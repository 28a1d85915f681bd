package postgres

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"

	"portfolio-chat/internal/config"
	"portfolio-chat/internal/logger"
	"portfolio-chat/internal/repository/db"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Ensure PostgresDB implements db.Database interface
var _ db.Database = (*PostgresDB)(nil)

// PostgresDB implements the db.Database interface
type PostgresDB struct {
	conn *sql.DB
}

// NewPostgresDB creates a new PostgresDB instance with a new connection and
// applies pending migrations.
func NewPostgresDB(storeConfig config.StoreConfig) (*PostgresDB, error) {
	p, err := Open(storeConfig)
	if err != nil {
		return nil, err
	}

	if err = p.RunMigrations(); err != nil {
		p.Close()
		return nil, fmt.Errorf("error running migrations: %w", err)
	}

	logger.Log.Info("Migrations completed successfully")

	return p, nil
}

// Open connects without touching the schema
func Open(storeConfig config.StoreConfig) (*PostgresDB, error) {
	dsn, err := BuildDSN(storeConfig)
	if err != nil {
		return nil, err
	}
	logger.Log.WithField("host", hostOf(dsn)).Info("Connecting to PostgreSQL")

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err = conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	logger.Log.Info("Successfully connected to PostgreSQL")

	return NewWithConn(conn), nil
}

// NewWithConn wraps an existing connection
func NewWithConn(conn *sql.DB) *PostgresDB {
	return &PostgresDB{conn: conn}
}

// BuildDSN returns the store URL with the service key as its password when one is configured
func BuildDSN(storeConfig config.StoreConfig) (string, error) {
	if storeConfig.URL == "" {
		return "", errors.New("STORE_URL not configured")
	}
	if storeConfig.ServiceKey == "" {
		return storeConfig.URL, nil
	}

	u, err := url.Parse(storeConfig.URL)
	if err != nil {
		return "", fmt.Errorf("error parsing STORE_URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported STORE_URL scheme %q", u.Scheme)
	}

	username := "postgres"
	if u.User != nil && u.User.Username() != "" {
		username = u.User.Username()
	}
	u.User = url.UserPassword(username, storeConfig.ServiceKey)
	return u.String(), nil
}

func hostOf(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return ""
	}
	return u.Host
}

// Close closes the database connection
func (p *PostgresDB) Close() error {
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *PostgresDB) newMigrate() (*migrate.Migrate, error) {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("error loading embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(p.conn, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("error creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("error creating migration instance: %w", err)
	}
	return m, nil
}

// RunMigrations runs database migrations using golang-migrate
func (p *PostgresDB) RunMigrations() error {
	m, err := p.newMigrate()
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("error running migrations: %w", err)
	}

	logger.Log.Info("Database migrations applied successfully")
	return nil
}

// RollbackMigrations reverts every applied migration
func (p *PostgresDB) RollbackMigrations() error {
	m, err := p.newMigrate()
	if err != nil {
		return err
	}

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("error rolling back migrations: %w", err)
	}

	logger.Log.Info("Database migrations rolled back")
	return nil
}
