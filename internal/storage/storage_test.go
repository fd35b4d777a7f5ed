package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJSONRepositoryUserLifecycle(t *testing.T) {
	RunRepositoryUserLifecycle(t, jsonRepositoryFactory)
}

func TestJSONRepositoryGrantLifecycle(t *testing.T) {
	RunRepositoryGrantLifecycle(t, jsonRepositoryFactory)
}

func TestJSONRepositoryBookLifecycle(t *testing.T) {
	RunRepositoryBookLifecycle(t, jsonRepositoryFactory)
}

func TestStoragePersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "store.json")
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	store, err := NewStorage(path, WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	ctx := context.Background()
	owner, err := store.CreateUser(ctx, "alice", "hash")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	reader, err := store.CreateUser(ctx, "bob", "hash")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	book, err := store.CreateBook(ctx, CreateBookParams{OwnerID: owner.ID, Title: "T", Text: "text"})
	if err != nil {
		t.Fatalf("CreateBook: %v", err)
	}
	if err := store.InsertGrant(ctx, owner.ID, reader.ID); err != nil {
		t.Fatalf("InsertGrant: %v", err)
	}
	if !book.CreatedAt.Equal(fixed) {
		t.Fatalf("expected clock override, got %v", book.CreatedAt)
	}

	reloaded, err := NewStorage(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok, _ := reloaded.GetBook(ctx, book.ID, false); !ok {
		t.Fatal("expected book after reload")
	}
	if ok, _ := reloaded.HasGrant(ctx, owner.ID, reader.ID); !ok {
		t.Fatal("expected grant after reload")
	}
	carol, err := reloaded.CreateUser(ctx, "carol", "hash")
	if err != nil {
		t.Fatalf("CreateUser after reload: %v", err)
	}
	if carol.ID != reader.ID+1 {
		t.Fatalf("expected id sequence to continue, got %d", carol.ID)
	}
}

func TestStorageRollsBackOnPersistFailure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	owner, err := store.CreateUser(ctx, "alice", "hash")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	book, err := store.CreateBook(ctx, CreateBookParams{OwnerID: owner.ID, Title: "T"})
	if err != nil {
		t.Fatalf("CreateBook: %v", err)
	}

	boom := errors.New("disk full")
	store.persistOverride = func(dataset) error { return boom }

	if _, err := store.CreateUser(ctx, "bob", "hash"); !errors.Is(err, boom) {
		t.Fatalf("expected persist error, got %v", err)
	}
	if _, ok, _ := store.FindUserByLogin(ctx, "bob"); ok {
		t.Fatal("failed create must not be visible")
	}
	if changed, err := store.SoftDeleteBook(ctx, book.ID); !errors.Is(err, boom) || changed {
		t.Fatalf("expected persist error, changed=%v err=%v", changed, err)
	}
	if _, ok, _ := store.GetBook(ctx, book.ID, false); !ok {
		t.Fatal("failed delete must be rolled back")
	}

	store.persistOverride = nil
	bob, err := store.CreateUser(ctx, "bob", "hash")
	if err != nil {
		t.Fatalf("CreateUser after recovery: %v", err)
	}
	if bob.ID != owner.ID+1 {
		t.Fatalf("rolled back id must be reused, got %d", bob.ID)
	}
}

func TestStorageLoadsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	users, err := store.ListUsers(context.Background())
	if err != nil || len(users) != 0 {
		t.Fatalf("expected empty store, got %v err=%v", users, err)
	}
}

func TestStorageRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewStorage(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestStorageHonoursCancelledContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.CreateUser(ctx, "alice", "hash"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	ctx := context.Background()
	a, _ := store.CreateUser(ctx, "alice", "hash")
	b, _ := store.CreateUser(ctx, "bob", "hash")
	external := "ext"
	if _, err := store.CreateBook(ctx, CreateBookParams{OwnerID: a.ID, Title: "T", ExternalID: &external}); err != nil {
		t.Fatalf("CreateBook: %v", err)
	}
	if err := store.InsertGrant(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("InsertGrant: %v", err)
	}

	snapshot, err := LoadSnapshotFromJSON(path)
	if err != nil {
		t.Fatalf("LoadSnapshotFromJSON: %v", err)
	}
	if counts := snapshot.Counts(); counts != (SnapshotCounts{Users: 2, Books: 1, Grants: 1}) {
		t.Fatalf("unexpected counts %+v", counts)
	}

	live := store.Snapshot()
	for id, book := range live.Books {
		*book.ExternalID = "mutated"
		live.Books[id] = book
	}
	reloaded, _, _ := store.GetBook(ctx, 1, false)
	if reloaded.ExternalID == nil || *reloaded.ExternalID != "ext" {
		t.Fatalf("snapshot must not alias store state, got %+v", reloaded.ExternalID)
	}
}

func TestImportSnapshotRequiresPostgres(t *testing.T) {
	store := newTestStore(t)
	if err := ImportSnapshotToPostgres(context.Background(), store, &Snapshot{}); err == nil {
		t.Fatal("expected error for JSON repository")
	}
	if err := ApplyMigrations(context.Background(), store); err == nil {
		t.Fatal("expected error for JSON repository")
	}
}

func TestMigrationNamesAreOrderedAndSplittable(t *testing.T) {
	names, err := MigrationNames()
	if err != nil {
		t.Fatalf("MigrationNames: %v", err)
	}
	if len(names) == 0 || names[0] != "0001_init.sql" {
		t.Fatalf("unexpected migrations %v", names)
	}
	data, err := migrationFiles.ReadFile("migrations/" + names[0])
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	statements := splitSQLStatements(string(data))
	if len(statements) != 4 {
		t.Fatalf("expected 4 statements, got %d", len(statements))
	}
}

func TestNewPostgresRepositoryRequiresDSN(t *testing.T) {
	if _, err := NewPostgresRepository("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
