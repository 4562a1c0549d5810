// Package testutil provides shared helpers for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// StartPostgres returns a database handle for integration tests.
//
// If POSTGRES_URL is set it is used directly (CI provides a shared instance).
// Otherwise a disposable Postgres 16 container is started; when Docker is not
// available the test is skipped.
func StartPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	dsn := os.Getenv("POSTGRES_URL")
	if dsn == "" {
		ctr, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("peertrade_test"),
			postgres.WithUsername("peertrade"),
			postgres.WithPassword("peertrade"),
			postgres.BasicWaitStrategies(),
		)
		testcontainers.CleanupContainer(t, ctr)
		if err != nil {
			t.Skipf("could not start postgres container: %v", err)
		}

		dsn, err = ctr.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			t.Fatalf("resolve connection string: %v", err)
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Minute)

	if err := db.PingContext(ctx); err != nil {
		t.Skipf("postgres not reachable: %v", err)
	}
	return db
}

// TruncateTables wipes the given tables between test cases.
func TruncateTables(t *testing.T, db *sql.DB, tables ...string) {
	t.Helper()
	for _, tbl := range tables {
		if _, err := db.Exec("TRUNCATE TABLE " + tbl + " CASCADE"); err != nil {
			t.Fatalf("truncate %s: %v", tbl, err)
		}
	}
}
