//go:build postgres

package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
)

// postgresRepositoryFactory opens a Postgres-backed repository for integration
// scenarios, applying migrations and truncating tables between tests. It
// requires SHELFSHARE_TEST_POSTGRES_DSN to point at a database dedicated to
// automated runs.
func postgresRepositoryFactory(t *testing.T, opts ...Option) (Repository, func(), error) {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("SHELFSHARE_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("SHELFSHARE_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	repo, err := newPostgresRepository(ctx, dsn, opts...)
	if err != nil {
		return nil, nil, err
	}
	if err := ApplyMigrations(ctx, repo); err != nil {
		_ = repo.Close(ctx)
		t.Fatalf("apply migrations: %v", err)
	}
	if err := truncatePostgresTablesForTest(ctx, repo); err != nil {
		_ = repo.Close(ctx)
		t.Fatalf("truncate tables: %v", err)
	}

	cleanup := func() {
		if err := truncatePostgresTablesForTest(context.Background(), repo); err != nil {
			t.Fatalf("truncate tables: %v", err)
		}
		if err := repo.Close(context.Background()); err != nil {
			t.Fatalf("close repository: %v", err)
		}
	}
	return repo, cleanup, nil
}

func truncatePostgresTablesForTest(ctx context.Context, repo *postgresRepository) error {
	_, err := repo.pool.Exec(ctx, `TRUNCATE library_access, books, users RESTART IDENTITY CASCADE`)
	if err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}
