// Command migrate-json-to-postgres copies a JSON datastore into Postgres,
// preserving user, book and grant identifiers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"shelfshare/internal/observability/logging"
	"shelfshare/internal/storage"
)

func main() {
	jsonPath := flag.String("json", "data/store.json", "path to the JSON datastore to migrate")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	migrate := flag.Bool("migrate", true, "apply the embedded schema before importing")
	flag.Parse()

	logger := logging.New(logging.Config{Format: string(logging.FormatText)})

	dsn := strings.TrimSpace(*postgresDSN)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("SHELFSHARE_POSTGRES_DSN"))
	}
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		logger.Error("postgres DSN required", "hint", "set --postgres-dsn, SHELFSHARE_POSTGRES_DSN, or DATABASE_URL")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snapshot, err := storage.LoadSnapshotFromJSON(*jsonPath)
	if err != nil {
		logger.Error("failed to load JSON snapshot", "error", err)
		os.Exit(1)
	}
	counts := snapshot.Counts()
	logger.Info("loaded JSON snapshot", "path", *jsonPath, "users", counts.Users, "books", counts.Books, "grants", counts.Grants)

	repo, err := storage.NewPostgresRepository(dsn, storage.WithPostgresApplicationName("shelfshare-migrate"))
	if err != nil {
		logger.Error("failed to open postgres repository", "error", err)
		os.Exit(1)
	}
	closeRepo := func() {
		if closer, ok := repo.(interface{ Close(context.Context) error }); ok {
			_ = closer.Close(context.Background())
		}
	}

	if *migrate {
		if err := storage.ApplyMigrations(ctx, repo); err != nil {
			logger.Error("failed to apply schema", "error", err)
			closeRepo()
			os.Exit(1)
		}
	}

	if err := storage.ImportSnapshotToPostgres(ctx, repo, snapshot); err != nil {
		logger.Error("failed to import snapshot", "error", err)
		closeRepo()
		os.Exit(1)
	}
	closeRepo()

	if err := verifyCounts(ctx, dsn, counts); err != nil {
		logger.Error("verification failed", "error", err)
		os.Exit(1)
	}

	logger.Info("migration completed", "users", counts.Users, "books", counts.Books, "grants", counts.Grants)
}

// verifyCounts checks that every imported collection is present. Rows that
// already existed before the import are tolerated, so only shortfalls fail.
func verifyCounts(ctx context.Context, dsn string, counts storage.SnapshotCounts) error {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse verification config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open verification connection: %w", err)
	}
	defer pool.Close()

	checks := []struct {
		name     string
		query    string
		expected int
	}{
		{"users", "SELECT COUNT(*) FROM users", counts.Users},
		{"books", "SELECT COUNT(*) FROM books", counts.Books},
		{"library_access", "SELECT COUNT(*) FROM library_access", counts.Grants},
	}

	for _, check := range checks {
		var actual int
		if err := pool.QueryRow(ctx, check.query).Scan(&actual); err != nil {
			return fmt.Errorf("query %s: %w", check.name, err)
		}
		if actual < check.expected {
			return fmt.Errorf("mismatch for %s: expected at least %d, got %d", check.name, check.expected, actual)
		}
	}
	return nil
}
