//go:build postgres

package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPostgresRepositoryUserLifecycle(t *testing.T) {
	RunRepositoryUserLifecycle(t, postgresRepositoryFactory)
}

func TestPostgresRepositoryGrantLifecycle(t *testing.T) {
	RunRepositoryGrantLifecycle(t, postgresRepositoryFactory)
}

func TestPostgresRepositoryBookLifecycle(t *testing.T) {
	RunRepositoryBookLifecycle(t, postgresRepositoryFactory)
}

func TestPostgresRepositoryAcquireTimeout(t *testing.T) {
	repo, cleanup, err := postgresRepositoryFactory(t,
		WithPostgresPoolLimits(1, 1),
		WithPostgresAcquireTimeout(50*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("failed to open postgres repository: %v", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	pgRepo, ok := repo.(*postgresRepository)
	if !ok {
		t.Fatalf("expected postgres repository instance")
	}

	conn, err := pgRepo.pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("failed to saturate pool: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := repo.CreateUser(context.Background(), "acquire-timeout", "hash")
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected acquire timeout error")
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected context deadline exceeded; got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for acquire to fail")
	}

	conn.Release()
}

func TestPostgresSnapshotImport(t *testing.T) {
	repo, cleanup, err := postgresRepositoryFactory(t)
	if err != nil {
		t.Fatalf("failed to open postgres repository: %v", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	source := newTestStore(t)
	ctx := context.Background()
	alice, _ := source.CreateUser(ctx, "alice", "hash")
	bob, _ := source.CreateUser(ctx, "bob", "hash")
	if _, err := source.CreateBook(ctx, CreateBookParams{OwnerID: alice.ID, Title: "T", Text: "text"}); err != nil {
		t.Fatalf("CreateBook: %v", err)
	}
	if err := source.InsertGrant(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("InsertGrant: %v", err)
	}

	if err := ImportSnapshotToPostgres(ctx, repo, source.Snapshot()); err != nil {
		t.Fatalf("ImportSnapshotToPostgres: %v", err)
	}
	if ok, err := repo.HasGrant(ctx, alice.ID, bob.ID); err != nil || !ok {
		t.Fatalf("expected imported grant, ok=%v err=%v", ok, err)
	}
	carol, err := repo.CreateUser(ctx, "carol", "hash")
	if err != nil {
		t.Fatalf("CreateUser after import: %v", err)
	}
	if carol.ID != bob.ID+1 {
		t.Fatalf("expected sequence past imported ids, got %d", carol.ID)
	}
}
