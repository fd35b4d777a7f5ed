package storage

import (
	"context"
	"errors"

	"shelfshare/internal/models"
)

var (
	// ErrLoginTaken is returned by CreateUser when the login is already
	// registered.
	ErrLoginTaken = errors.New("login already registered")
	// ErrUserNotFound is returned when a referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")
)

// CreateBookParams captures the attributes of a new book.
type CreateBookParams struct {
	OwnerID    int64
	Title      string
	Text       string
	ExternalID *string
}

// BookUpdate replaces the mutable attributes of a book.
type BookUpdate struct {
	Title string
	Text  string
}

// Repository exposes the datastore operations required by the credential
// store, the access policy and the book handlers.
type Repository interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, login, passwordHash string) (models.User, error)
	FindUserByLogin(ctx context.Context, login string) (models.User, bool, error)
	GetUser(ctx context.Context, id int64) (models.User, bool, error)
	ListUsers(ctx context.Context) ([]models.User, error)

	HasGrant(ctx context.Context, ownerID, targetID int64) (bool, error)
	InsertGrant(ctx context.Context, ownerID, targetID int64) error

	CreateBook(ctx context.Context, params CreateBookParams) (models.Book, error)
	// GetBook returns a book by id. Soft-deleted books are only returned when
	// includeDeleted is set.
	GetBook(ctx context.Context, id int64, includeDeleted bool) (models.Book, bool, error)
	// ListBooks returns the owner's live books ordered by id.
	ListBooks(ctx context.Context, ownerID int64) ([]models.Book, error)
	// UpdateBook, SoftDeleteBook and RestoreBook report whether a row changed.
	UpdateBook(ctx context.Context, id int64, update BookUpdate) (bool, error)
	SoftDeleteBook(ctx context.Context, id int64) (bool, error)
	RestoreBook(ctx context.Context, id int64) (bool, error)
}

var _ Repository = (*Storage)(nil)
var _ Repository = (*postgresRepository)(nil)
