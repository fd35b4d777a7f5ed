package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"shelfshare/internal/models"
)

// Snapshot captures the complete JSON datastore so it can be replayed into
// another backing store with identifiers preserved.
type Snapshot struct {
	Users  map[int64]models.User         `json:"users"`
	Books  map[int64]models.Book         `json:"books"`
	Grants map[string]models.AccessGrant `json:"grants"`
}

// SnapshotCounts summarises the size of each collection in a Snapshot.
type SnapshotCounts struct {
	Users  int
	Books  int
	Grants int
}

// LoadSnapshotFromJSON reads a JSON datastore file written by Storage.
func LoadSnapshotFromJSON(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	var snapshot Snapshot
	if err := decoder.Decode(&snapshot); err != nil {
		if err == io.EOF {
			snapshot.ensureInitialized()
			return &snapshot, nil
		}
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	snapshot.ensureInitialized()
	return &snapshot, nil
}

// Snapshot returns a deep copy of the current dataset.
func (s *Storage) Snapshot() *Snapshot {
	s.mu.RLock()
	clone := cloneDataset(s.data)
	s.mu.RUnlock()
	return &Snapshot{Users: clone.Users, Books: clone.Books, Grants: clone.Grants}
}

func (s *Snapshot) ensureInitialized() {
	if s.Users == nil {
		s.Users = make(map[int64]models.User)
	}
	if s.Books == nil {
		s.Books = make(map[int64]models.Book)
	}
	if s.Grants == nil {
		s.Grants = make(map[string]models.AccessGrant)
	}
}

func (s *Snapshot) Counts() SnapshotCounts {
	if s == nil {
		return SnapshotCounts{}
	}
	return SnapshotCounts{Users: len(s.Users), Books: len(s.Books), Grants: len(s.Grants)}
}

// ImportSnapshotToPostgres bulk-loads a Snapshot into a Postgres repository
// in one transaction and advances the id sequences past the imported rows.
// Rows whose primary key already exists are skipped.
func ImportSnapshotToPostgres(ctx context.Context, repo Repository, snapshot *Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot is required")
	}
	pgRepo, ok := repo.(*postgresRepository)
	if !ok {
		return fmt.Errorf("postgres repository required for snapshot import")
	}
	snapshot.ensureInitialized()
	return pgRepo.importSnapshot(ctx, snapshot)
}

func (r *postgresRepository) importSnapshot(ctx context.Context, snapshot *Snapshot) error {
	return r.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin snapshot transaction: %w", err)
		}
		defer rollbackTx(ctx, tx)

		if err := importSnapshotUsers(ctx, tx, snapshot.Users); err != nil {
			return err
		}
		if err := importSnapshotBooks(ctx, tx, snapshot.Books); err != nil {
			return err
		}
		if err := importSnapshotGrants(ctx, tx, snapshot.Grants); err != nil {
			return err
		}
		for _, table := range []string{"users", "books"} {
			query := fmt.Sprintf(`SELECT setval(pg_get_serial_sequence('%s', 'id'), COALESCE((SELECT MAX(id) FROM %s), 0) + 1, false)`, table, table)
			if _, err := tx.Exec(ctx, query); err != nil {
				return fmt.Errorf("advance %s sequence: %w", table, err)
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit snapshot transaction: %w", err)
		}
		return nil
	})
}

func importSnapshotUsers(ctx context.Context, tx pgx.Tx, users map[int64]models.User) error {
	ids := make([]int64, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		user := users[id]
		if _, err := tx.Exec(ctx,
			`INSERT INTO users (id, login, password_hash, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO NOTHING`,
			id, user.Login, user.PasswordHash, user.CreatedAt, user.UpdatedAt,
		); err != nil {
			return fmt.Errorf("import user %d: %w", id, err)
		}
	}
	return nil
}

func importSnapshotBooks(ctx context.Context, tx pgx.Tx, books map[int64]models.Book) error {
	ids := make([]int64, 0, len(books))
	for id := range books {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		book := books[id]
		if _, err := tx.Exec(ctx,
			`INSERT INTO books (id, user_id, title, text, external_id, is_deleted, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (id) DO NOTHING`,
			id, book.OwnerID, book.Title, book.Text, book.ExternalID, book.IsDeleted, book.CreatedAt, book.UpdatedAt,
		); err != nil {
			return fmt.Errorf("import book %d: %w", id, err)
		}
	}
	return nil
}

func importSnapshotGrants(ctx context.Context, tx pgx.Tx, grants map[string]models.AccessGrant) error {
	keys := make([]string, 0, len(grants))
	for key := range grants {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		grant := grants[key]
		if _, err := tx.Exec(ctx,
			`INSERT INTO library_access (owner_id, target_id, created_at) VALUES ($1, $2, $3)
			 ON CONFLICT (owner_id, target_id) DO NOTHING`,
			grant.OwnerID, grant.TargetID, grant.CreatedAt,
		); err != nil {
			return fmt.Errorf("import grant %s: %w", key, err)
		}
	}
	return nil
}
