package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestDB holds a connection pool for integration tests
type TestDB struct {
	Pool *pgxpool.Pool
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// GetTestDBConfig returns database connection config for tests
func GetTestDBConfig() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		envOr("TEST_DB_USER", "switchbackup"),
		envOr("TEST_DB_PASSWORD", "switchbackup_test"),
		envOr("TEST_DB_HOST", "localhost"),
		envOr("TEST_DB_PORT", "5433"),
		envOr("TEST_DB_NAME", "switchbackup_test"),
	)
}

// NewTestDB connects to the test database or skips the test
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	pool, err := pgxpool.New(context.Background(), GetTestDBConfig())
	if err != nil {
		t.Skipf("Skipping integration test: cannot connect to test database: %v", err)
		return nil
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		t.Skipf("Skipping integration test: cannot ping test database: %v", err)
		return nil
	}

	return &TestDB{Pool: pool}
}

// Close closes the database connection
func (db *TestDB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// CleanupTable truncates a table for test isolation
func (db *TestDB) CleanupTable(t *testing.T, tableName string) {
	t.Helper()
	_, err := db.Pool.Exec(context.Background(), fmt.Sprintf("TRUNCATE TABLE %s", tableName))
	if err != nil {
		t.Logf("Warning: could not truncate table %s: %v", tableName, err)
	}
}
