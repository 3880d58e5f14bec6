package conn

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mstgnz/coursepay/infra/config"
	"github.com/mstgnz/coursepay/infra/logger"

	_ "github.com/lib/pq"
)

const connectAttempts = 5

type DB struct {
	*sql.DB
}

// DSN builds the Postgres connection string. DATABASE_URL wins over the
// individual DB_* variables.
func DSN() string {
	if url := config.GetEnv("DATABASE_URL", ""); url != "" {
		return url
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		config.GetEnv("DB_HOST", "localhost"),
		config.GetEnv("DB_PORT", "5432"),
		config.GetEnv("DB_USER", "coursepay"),
		config.GetEnv("DB_PASS", ""),
		config.GetEnv("DB_NAME", "coursepay"),
		config.GetEnv("DB_SSLMODE", "disable"),
		config.GetEnv("DB_ZONE", "UTC"),
	)
}

// ConnectDatabase opens the pool and waits for the server, retrying a few
// times so the service can start alongside the database container.
func ConnectDatabase(ctx context.Context, dsn string) (*DB, error) {
	var lastErr error

	for attempt := 1; attempt <= connectAttempts; attempt++ {
		database, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}

		database.SetMaxOpenConns(25)
		database.SetMaxIdleConns(5)
		database.SetConnMaxLifetime(5 * time.Minute)
		database.SetConnMaxIdleTime(2 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = database.PingContext(pingCtx)
		cancel()

		if lastErr == nil {
			logger.Info("database connected")
			return &DB{DB: database}, nil
		}

		_ = database.Close()
		logger.Warn(fmt.Sprintf("database ping failed (attempt %d/%d): %v", attempt, connectAttempts, lastErr))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	return nil, fmt.Errorf("connect database after %d attempts: %w", connectAttempts, lastErr)
}

// CloseDatabase closes the pool.
func (db *DB) CloseDatabase() {
	if err := db.DB.Close(); err != nil {
		logger.Error("failed to close database", err)
		return
	}
	logger.Info("database connection closed")
}
