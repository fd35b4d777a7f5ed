package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"shelfshare/internal/models"
)

type dataset struct {
	NextUserID int64                         `json:"nextUserId"`
	NextBookID int64                         `json:"nextBookId"`
	Users      map[int64]models.User         `json:"users"`
	Books      map[int64]models.Book         `json:"books"`
	Grants     map[string]models.AccessGrant `json:"grants"`
}

// Storage is a JSON-file backed Repository intended for development and
// single-instance deployments. Every mutation is written to disk before it
// becomes visible.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	now      func() time.Time
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

func newDataset() dataset {
	return dataset{
		Users:  make(map[int64]models.User),
		Books:  make(map[int64]models.Book),
		Grants: make(map[string]models.AccessGrant),
	}
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Users == nil {
		s.data.Users = make(map[int64]models.User)
	}
	if s.data.Books == nil {
		s.data.Books = make(map[int64]models.Book)
	}
	if s.data.Grants == nil {
		s.data.Grants = make(map[string]models.AccessGrant)
	}
	for id := range s.data.Users {
		if id > s.data.NextUserID {
			s.data.NextUserID = id
		}
	}
	for id := range s.data.Books {
		if id > s.data.NextBookID {
			s.data.NextBookID = id
		}
	}
}

func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: path,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyJSON(store)
		}
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}

	s.ensureDatasetInitializedLocked()

	return nil
}

func (s *Storage) persist() error {
	return s.persistDataset(s.data)
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

// Ping verifies the datastore directory is still reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Dir(s.filePath)); err != nil {
		return fmt.Errorf("stat data dir: %w", err)
	}
	return nil
}

// Close is a no-op; every mutation is already flushed.
func (s *Storage) Close(context.Context) error {
	return nil
}

func (s *Storage) CreateUser(ctx context.Context, login, passwordHash string) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.data.Users {
		if user.Login == login {
			return models.User{}, ErrLoginTaken
		}
	}

	now := s.now()
	id := s.data.NextUserID + 1
	user := models.User{
		ID:           id,
		Login:        login,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.data.Users[id] = user
	s.data.NextUserID = id
	if err := s.persist(); err != nil {
		delete(s.data.Users, id)
		s.data.NextUserID = id - 1
		return models.User{}, err
	}
	return user, nil
}

func (s *Storage) FindUserByLogin(ctx context.Context, login string) (models.User, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.data.Users {
		if user.Login == login {
			return user, true, nil
		}
	}
	return models.User{}, false, nil
}

func (s *Storage) GetUser(ctx context.Context, id int64) (models.User, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[id]
	return user, ok, nil
}

func (s *Storage) ListUsers(ctx context.Context) ([]models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.User, 0, len(s.data.Users))
	for _, user := range s.data.Users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func grantKey(ownerID, targetID int64) string {
	return strconv.FormatInt(ownerID, 10) + ":" + strconv.FormatInt(targetID, 10)
}

func (s *Storage) HasGrant(ctx context.Context, ownerID, targetID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data.Grants[grantKey(ownerID, targetID)]
	return ok, nil
}

// InsertGrant records the pair. Existing pairs are left untouched.
func (s *Storage) InsertGrant(ctx context.Context, ownerID, targetID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Users[ownerID]; !ok {
		return fmt.Errorf("grant owner %d: %w", ownerID, ErrUserNotFound)
	}
	if _, ok := s.data.Users[targetID]; !ok {
		return fmt.Errorf("grant target %d: %w", targetID, ErrUserNotFound)
	}
	key := grantKey(ownerID, targetID)
	if _, ok := s.data.Grants[key]; ok {
		return nil
	}
	s.data.Grants[key] = models.AccessGrant{OwnerID: ownerID, TargetID: targetID, CreatedAt: s.now()}
	if err := s.persist(); err != nil {
		delete(s.data.Grants, key)
		return err
	}
	return nil
}

func (s *Storage) CreateBook(ctx context.Context, params CreateBookParams) (models.Book, error) {
	if err := ctx.Err(); err != nil {
		return models.Book{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Users[params.OwnerID]; !ok {
		return models.Book{}, fmt.Errorf("book owner %d: %w", params.OwnerID, ErrUserNotFound)
	}

	now := s.now()
	id := s.data.NextBookID + 1
	book := models.Book{
		ID:        id,
		OwnerID:   params.OwnerID,
		Title:     params.Title,
		Text:      params.Text,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if params.ExternalID != nil {
		external := *params.ExternalID
		book.ExternalID = &external
	}
	s.data.Books[id] = book
	s.data.NextBookID = id
	if err := s.persist(); err != nil {
		delete(s.data.Books, id)
		s.data.NextBookID = id - 1
		return models.Book{}, err
	}
	return cloneBook(book), nil
}

func (s *Storage) GetBook(ctx context.Context, id int64, includeDeleted bool) (models.Book, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Book{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	book, ok := s.data.Books[id]
	if !ok || (book.IsDeleted && !includeDeleted) {
		return models.Book{}, false, nil
	}
	return cloneBook(book), true, nil
}

func (s *Storage) ListBooks(ctx context.Context, ownerID int64) ([]models.Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	books := make([]models.Book, 0)
	for _, book := range s.data.Books {
		if book.OwnerID != ownerID || book.IsDeleted {
			continue
		}
		books = append(books, cloneBook(book))
	}
	sort.Slice(books, func(i, j int) bool { return books[i].ID < books[j].ID })
	return books, nil
}

func (s *Storage) UpdateBook(ctx context.Context, id int64, update BookUpdate) (bool, error) {
	return s.mutateBook(ctx, id, false, func(book *models.Book) {
		book.Title = update.Title
		book.Text = update.Text
	})
}

func (s *Storage) SoftDeleteBook(ctx context.Context, id int64) (bool, error) {
	return s.mutateBook(ctx, id, false, func(book *models.Book) {
		book.IsDeleted = true
	})
}

func (s *Storage) RestoreBook(ctx context.Context, id int64) (bool, error) {
	return s.mutateBook(ctx, id, true, func(book *models.Book) {
		book.IsDeleted = false
	})
}

// mutateBook applies fn to the book when its deleted flag equals deleted and
// reports whether a change was persisted.
func (s *Storage) mutateBook(ctx context.Context, id int64, deleted bool, fn func(*models.Book)) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.data.Books[id]
	if !ok || original.IsDeleted != deleted {
		return false, nil
	}
	updated := original
	fn(&updated)
	updated.UpdatedAt = s.now()
	s.data.Books[id] = updated
	if err := s.persist(); err != nil {
		s.data.Books[id] = original
		return false, err
	}
	return true, nil
}

func cloneBook(book models.Book) models.Book {
	if book.ExternalID != nil {
		external := *book.ExternalID
		book.ExternalID = &external
	}
	return book
}

func cloneDataset(src dataset) dataset {
	clone := dataset{
		NextUserID: src.NextUserID,
		NextBookID: src.NextBookID,
		Users:      make(map[int64]models.User, len(src.Users)),
		Books:      make(map[int64]models.Book, len(src.Books)),
		Grants:     make(map[string]models.AccessGrant, len(src.Grants)),
	}
	for id, user := range src.Users {
		clone.Users[id] = user
	}
	for id, book := range src.Books {
		clone.Books[id] = cloneBook(book)
	}
	for key, grant := range src.Grants {
		clone.Grants[key] = grant
	}
	return clone
}
