package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kolect-core/internal/config"
)

// Connection holds the database connection
type Connection struct {
	DB *sql.DB
}

// DSN builds the connection string. DATABASE_URL wins over the PG* variables.
func DSN() string {
	if url := config.GetEnv("DATABASE_URL", ""); url != "" {
		return url
	}

	host := config.GetEnv("PGHOST", "localhost")
	port := config.GetEnv("PGPORT", "5432")
	user := config.GetEnv("PGUSER", "kolect")
	password := config.GetEnv("PGPASSWORD", "password")
	dbname := config.GetEnv("PGDATABASE", "kolect")
	sslmode := config.GetEnv("PGSSLMODE", "disable")

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)
}

// NewConnection opens and pings the database
func NewConnection(ctx context.Context) (*Connection, error) {
	return Open(ctx, DSN())
}

// Open connects to an explicit DSN
func Open(ctx context.Context, dsn string) (*Connection, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(config.GetEnvInt("DB_MAX_OPEN_CONNS", 20))
	db.SetMaxIdleConns(config.GetEnvInt("DB_MAX_IDLE_CONNS", 10))
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Connection{DB: db}, nil
}

// Close closes the database connection
func (c *Connection) Close() error {
	return c.DB.Close()
}
