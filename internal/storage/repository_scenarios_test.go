package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// RepositoryFactory constructs a repository backed by either the JSON store or
// Postgres implementation for cross-datastore scenario assertions.
type RepositoryFactory func(t *testing.T, opts ...Option) (Repository, func(), error)

func runRepository(t *testing.T, factory RepositoryFactory, opts ...Option) Repository {
	t.Helper()
	if factory == nil {
		t.Fatal("repository factory is required")
	}
	repo, cleanup, err := factory(t, opts...)
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	if repo == nil {
		t.Fatal("repository factory returned nil repository")
	}
	if cleanup != nil {
		t.Cleanup(cleanup)
	}
	return repo
}

func mustCreateUser(t *testing.T, repo Repository, login string) int64 {
	t.Helper()
	user, err := repo.CreateUser(context.Background(), login, "hash-"+login)
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", login, err)
	}
	return user.ID
}

// RunRepositoryUserLifecycle covers registration, lookups, ordering and
// login uniqueness.
func RunRepositoryUserLifecycle(t *testing.T, factory RepositoryFactory) {
	repo := runRepository(t, factory)
	ctx := context.Background()

	alice, err := repo.CreateUser(ctx, "alice", "hash-a")
	if err != nil {
		t.Fatalf("CreateUser alice: %v", err)
	}
	if alice.ID <= 0 {
		t.Fatalf("expected positive id, got %d", alice.ID)
	}
	bob, err := repo.CreateUser(ctx, "bob", "hash-b")
	if err != nil {
		t.Fatalf("CreateUser bob: %v", err)
	}
	if bob.ID <= alice.ID {
		t.Fatalf("expected increasing ids, got %d then %d", alice.ID, bob.ID)
	}

	if _, err := repo.CreateUser(ctx, "alice", "other"); !errors.Is(err, ErrLoginTaken) {
		t.Fatalf("expected ErrLoginTaken, got %v", err)
	}

	found, ok, err := repo.FindUserByLogin(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("FindUserByLogin alice: ok=%v err=%v", ok, err)
	}
	if found.ID != alice.ID || found.PasswordHash != "hash-a" {
		t.Fatalf("unexpected user %+v", found)
	}
	if _, ok, err := repo.FindUserByLogin(ctx, "carol"); err != nil || ok {
		t.Fatalf("expected carol to be missing, ok=%v err=%v", ok, err)
	}
	if _, ok, err := repo.GetUser(ctx, bob.ID); err != nil || !ok {
		t.Fatalf("GetUser bob: ok=%v err=%v", ok, err)
	}

	users, err := repo.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 || users[0].Login != "alice" || users[1].Login != "bob" {
		t.Fatalf("unexpected user order %+v", users)
	}
}

// RunRepositoryGrantLifecycle checks grant idempotence, direction and
// concurrent duplicate inserts.
func RunRepositoryGrantLifecycle(t *testing.T, factory RepositoryFactory) {
	repo := runRepository(t, factory)
	ctx := context.Background()
	owner := mustCreateUser(t, repo, "owner")
	reader := mustCreateUser(t, repo, "reader")

	if ok, err := repo.HasGrant(ctx, owner, reader); err != nil || ok {
		t.Fatalf("expected no grant, ok=%v err=%v", ok, err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.InsertGrant(ctx, owner, reader)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("InsertGrant: %v", err)
		}
	}

	if ok, err := repo.HasGrant(ctx, owner, reader); err != nil || !ok {
		t.Fatalf("expected grant, ok=%v err=%v", ok, err)
	}
	if ok, err := repo.HasGrant(ctx, reader, owner); err != nil || ok {
		t.Fatalf("grant must be one-directional, ok=%v err=%v", ok, err)
	}
	if err := repo.InsertGrant(ctx, owner, 999999); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound for unknown target, got %v", err)
	}
}

// RunRepositoryBookLifecycle replays create, list, update, soft delete and
// restore.
func RunRepositoryBookLifecycle(t *testing.T, factory RepositoryFactory) {
	repo := runRepository(t, factory)
	ctx := context.Background()
	owner := mustCreateUser(t, repo, "writer")
	other := mustCreateUser(t, repo, "other")

	external := "vol-1"
	first, err := repo.CreateBook(ctx, CreateBookParams{OwnerID: owner, Title: "First", Text: "body"})
	if err != nil {
		t.Fatalf("CreateBook first: %v", err)
	}
	second, err := repo.CreateBook(ctx, CreateBookParams{OwnerID: owner, Title: "Second", Text: "https://example.test/b", ExternalID: &external})
	if err != nil {
		t.Fatalf("CreateBook second: %v", err)
	}
	if _, err := repo.CreateBook(ctx, CreateBookParams{OwnerID: other, Title: "Elsewhere"}); err != nil {
		t.Fatalf("CreateBook other: %v", err)
	}

	books, err := repo.ListBooks(ctx, owner)
	if err != nil {
		t.Fatalf("ListBooks: %v", err)
	}
	if len(books) != 2 || books[0].ID != first.ID || books[1].ID != second.ID {
		t.Fatalf("unexpected books %+v", books)
	}

	loaded, ok, err := repo.GetBook(ctx, second.ID, false)
	if err != nil || !ok {
		t.Fatalf("GetBook second: ok=%v err=%v", ok, err)
	}
	if loaded.ExternalID == nil || *loaded.ExternalID != "vol-1" || loaded.OwnerID != owner {
		t.Fatalf("unexpected book %+v", loaded)
	}

	changed, err := repo.UpdateBook(ctx, first.ID, BookUpdate{Title: "Renamed", Text: "new body"})
	if err != nil || !changed {
		t.Fatalf("UpdateBook: changed=%v err=%v", changed, err)
	}
	loaded, _, _ = repo.GetBook(ctx, first.ID, false)
	if loaded.Title != "Renamed" || loaded.Text != "new body" {
		t.Fatalf("update not applied: %+v", loaded)
	}

	if changed, err := repo.RestoreBook(ctx, first.ID); err != nil || changed {
		t.Fatalf("restore of live book should be a miss, changed=%v err=%v", changed, err)
	}
	if changed, err := repo.SoftDeleteBook(ctx, first.ID); err != nil || !changed {
		t.Fatalf("SoftDeleteBook: changed=%v err=%v", changed, err)
	}
	if changed, err := repo.SoftDeleteBook(ctx, first.ID); err != nil || changed {
		t.Fatalf("second delete should be a miss, changed=%v err=%v", changed, err)
	}
	if _, ok, _ := repo.GetBook(ctx, first.ID, false); ok {
		t.Fatal("deleted book must be hidden")
	}
	if deleted, ok, _ := repo.GetBook(ctx, first.ID, true); !ok || !deleted.IsDeleted {
		t.Fatalf("deleted book must be visible with includeDeleted, got %+v ok=%v", deleted, ok)
	}
	if changed, err := repo.UpdateBook(ctx, first.ID, BookUpdate{Title: "x"}); err != nil || changed {
		t.Fatalf("update of deleted book should be a miss, changed=%v err=%v", changed, err)
	}
	books, _ = repo.ListBooks(ctx, owner)
	if len(books) != 1 || books[0].ID != second.ID {
		t.Fatalf("deleted book must be excluded from list, got %+v", books)
	}

	if changed, err := repo.RestoreBook(ctx, first.ID); err != nil || !changed {
		t.Fatalf("RestoreBook: changed=%v err=%v", changed, err)
	}
	if _, ok, _ := repo.GetBook(ctx, first.ID, false); !ok {
		t.Fatal("restored book must be visible")
	}
	if changed, err := repo.SoftDeleteBook(ctx, 424242); err != nil || changed {
		t.Fatalf("delete of unknown book should be a miss, changed=%v err=%v", changed, err)
	}
}
