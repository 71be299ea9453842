package openmemory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// NewPostgresStore connects to Postgres, verifies the connection, and runs
// migrations. The DSN is a standard libpq connection string.
func NewPostgresStore(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("openmemory: open postgres: %w", err)
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("openmemory: ping postgres: %w", err)
	}

	s := &Store{db: db, dialect: "postgres"}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("openmemory: migrate: %w", err)
	}
	return s, nil
}
