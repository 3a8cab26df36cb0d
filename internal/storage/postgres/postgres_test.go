//go:build postgres

package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"usersvc/internal/domain"
	"usersvc/internal/storage"
	"usersvc/internal/storage/storetest"
)

// testDB holds a shared database connection for test suites.
// It's initialized once via TestMain and reused across test functions.
var testDB struct {
	connStr   string
	pool      *pgxpool.Pool
	store     *Store
	container testcontainers.Container
}

// TestMain sets up a PostgreSQL database for tests.
// It supports two modes:
//  1. DATABASE_URL env var - uses an existing PostgreSQL instance (CI/custom)
//  2. testcontainers-go - automatically starts a PostgreSQL container
func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		container, err := tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("usersvc_test"),
			tcpostgres.WithUsername("usersvc"),
			tcpostgres.WithPassword("usersvc"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start PostgreSQL container: %v\n", err)
			os.Exit(1)
		}
		testDB.container = container

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to get connection string: %v\n", err)
			_ = container.Terminate(ctx)
			os.Exit(1)
		}
	}

	testDB.connStr = connStr

	// Create the store (runs migrations)
	store, err := New(connStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create store: %v\n", err)
		if testDB.container != nil {
			_ = testDB.container.Terminate(ctx)
		}
		os.Exit(1)
	}
	testDB.store = store
	testDB.pool = store.Pool()

	code := m.Run()

	_ = store.Close()
	if testDB.container != nil {
		_ = testDB.container.Terminate(ctx)
	}

	os.Exit(code)
}

// resetDB clears user rows between tests to ensure isolation.
func resetDB(t *testing.T) {
	t.Helper()
	if _, err := testDB.pool.Exec(context.Background(), "DELETE FROM users"); err != nil {
		t.Fatalf("failed to reset users: %v", err)
	}
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store {
		resetDB(t)
		// Shared pool; the suite never closes the store it is handed.
		return NewFromPool(testDB.pool)
	})
}

func TestMigrationsIdempotent(t *testing.T) {
	ctx := context.Background()
	if err := runMigrations(ctx, testDB.pool); err != nil {
		t.Fatalf("second migration run: %v", err)
	}
	var count int
	if err := testDB.pool.QueryRow(ctx, `SELECT COUNT(1) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	available, err := embeddedMigrations()
	if err != nil {
		t.Fatalf("embedded migrations: %v", err)
	}
	if count != len(available) {
		t.Fatalf("expected %d applied migrations, got %d", len(available), count)
	}

	status, err := Status(testDB.connStr)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(status, "schema_version=1") {
		t.Fatalf("unexpected status: %s", status)
	}
}

func TestConstraintNamesComeFromServer(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	s := testDB.store
	if err := s.CreateUser(ctx, domain.User{Username: "ada", Email: "ada@example.com"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := s.CreateUser(ctx, domain.User{Username: "grace", Email: "ada@example.com"})
	var ce *storage.ConstraintError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConstraintError, got %v", err)
	}
	if ce.Name != storage.EmailConstraint {
		t.Fatalf("expected %s, got %s", storage.EmailConstraint, ce.Name)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected the server error to be kept as cause")
	}
}

func TestClassifyPassesThroughOtherErrors(t *testing.T) {
	other := &pgconn.PgError{Code: "23503", ConstraintName: "fk"}
	if got := classify(other); got != error(other) {
		t.Fatalf("expected non-unique violation to pass through, got %v", got)
	}
	if classify(nil) != nil {
		t.Fatalf("classify(nil) must be nil")
	}
}
