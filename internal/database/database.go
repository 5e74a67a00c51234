package database

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"runwarden/internal/config"
)

// New connects to the database described by conf. The pgx driver is used for postgres, sqlite3
// is accepted for single node setups and tests.
func New(conf *config.RWConfig) (*sqlx.DB, error) {
	return Open(conf.Database.Driver, conf.GetDatabaseURL())
}

// Open connects with an explicit driver name and data source
func Open(driver, dsn string) (*sqlx.DB, error) {
	if driver == "" {
		driver = "pgx"
	}
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, err
	}

	if driver == "sqlite3" {
		// every connection to an in-memory sqlite database is a separate database
		if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
			db.SetMaxOpenConns(1)
			db.SetMaxIdleConns(1)
		}
	}
	return db, nil
}

// Migrate creates the tables used by the run store if they do not exist yet
func Migrate(ctx context.Context, db *sqlx.DB) error {
	statements := postgresSchema
	if db.DriverName() == "sqlite3" {
		statements = sqliteSchema
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, stmt)
		}
	}
	return nil
}
