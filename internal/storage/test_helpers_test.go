package storage

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T, opts ...Option) *Storage {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	store, err := NewStorage(path, opts...)
	if err != nil {
		t.Fatalf("NewStorage error: %v", err)
	}
	return store
}

func jsonRepositoryFactory(t *testing.T, opts ...Option) (Repository, func(), error) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	store, err := NewJSONRepository(path, opts...)
	if err != nil {
		return nil, nil, err
	}
	return store, nil, nil
}
