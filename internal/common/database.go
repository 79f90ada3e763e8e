package common

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	// postgres driver, registered for database/sql
	_ "github.com/lib/pq"
)

// DSN builds the postgres connection string from configuration.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// InitializeDatabase establishes a PostgreSQL connection pool with optional
// schema initialization. If schemaFilePath is empty, schema loading is
// skipped.
func InitializeDatabase(cfg PostgresConfig, schemaFilePath string) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, err
	}
	if schemaFilePath == "" {
		return db, nil
	}
	schema, err := os.ReadFile(schemaFilePath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(string(schema)); err != nil {
		return nil, err
	}
	return db, nil
}
