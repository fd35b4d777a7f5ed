package auth

import (
	"context"
	"errors"
	"sync"

	"shelfshare/internal/apperr"
	"shelfshare/internal/models"
	"shelfshare/internal/storage"
)

const (
	msgRegisterFieldsRequired = "login, password and password_confirm required"
	msgLoginFieldsRequired    = "Login and password required"
	msgLoginUnsupported       = "Login contains unsupported characters"
	msgPasswordConfirmation   = "Password confirmation does not match"
	msgUserExists             = "User already exists"
	msgInvalidCredentials     = "Invalid login or password"
)

// UserStore is the persistence contract the credential store depends on.
type UserStore interface {
	CreateUser(ctx context.Context, login, passwordHash string) (models.User, error)
	FindUserByLogin(ctx context.Context, login string) (models.User, bool, error)
	ListUsers(ctx context.Context) ([]models.User, error)
}

// Session is the result of a successful registration or login.
type Session struct {
	Token  string
	Claims Claims
	User   models.UserSummary
}

// CredentialStore registers and authenticates users and issues tokens.
type CredentialStore struct {
	users  UserStore
	hasher PasswordHasher
	tokens *TokenCodec

	dummyOnce sync.Once
	dummyHash string
}

// CredentialOption configures a CredentialStore.
type CredentialOption func(*CredentialStore)

// WithPasswordHasher overrides the default bcrypt hasher.
func WithPasswordHasher(hasher PasswordHasher) CredentialOption {
	return func(s *CredentialStore) {
		if hasher != nil {
			s.hasher = hasher
		}
	}
}

func NewCredentialStore(users UserStore, tokens *TokenCodec, opts ...CredentialOption) *CredentialStore {
	store := &CredentialStore{
		users:  users,
		hasher: BcryptHasher{},
		tokens: tokens,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// Register creates an account and returns a session for it.
func (s *CredentialStore) Register(ctx context.Context, login, password, confirm string) (Session, error) {
	if login == "" || password == "" || confirm == "" {
		return Session{}, apperr.Validation(msgRegisterFieldsRequired)
	}
	normalized, err := NormalizeLogin(login)
	if err != nil {
		if errors.Is(err, errLoginEmpty) {
			return Session{}, apperr.Validation(msgRegisterFieldsRequired)
		}
		return Session{}, apperr.Validation(msgLoginUnsupported)
	}
	if password != confirm {
		return Session{}, apperr.Unprocessable(msgPasswordConfirmation)
	}

	if _, exists, err := s.users.FindUserByLogin(ctx, normalized); err != nil {
		return Session{}, apperr.Storage(err)
	} else if exists {
		return Session{}, apperr.Conflict(msgUserExists)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return Session{}, apperr.Internal(err)
	}
	user, err := s.users.CreateUser(ctx, normalized, hash)
	if err != nil {
		if errors.Is(err, storage.ErrLoginTaken) {
			return Session{}, apperr.Conflict(msgUserExists)
		}
		return Session{}, apperr.Storage(err)
	}
	return s.issue(user)
}

// Authenticate checks the credentials and returns a fresh session. Unknown
// logins still perform one hash comparison.
func (s *CredentialStore) Authenticate(ctx context.Context, login, password string) (Session, error) {
	if login == "" || password == "" {
		return Session{}, apperr.Validation(msgLoginFieldsRequired)
	}
	normalized, err := NormalizeLogin(login)
	if err != nil {
		_ = s.hasher.Verify(s.placeholderHash(), password)
		return Session{}, apperr.Unauthorized(msgInvalidCredentials)
	}
	user, found, err := s.users.FindUserByLogin(ctx, normalized)
	if err != nil {
		return Session{}, apperr.Storage(err)
	}
	if !found {
		_ = s.hasher.Verify(s.placeholderHash(), password)
		return Session{}, apperr.Unauthorized(msgInvalidCredentials)
	}
	if err := s.hasher.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrPasswordMismatch) {
			return Session{}, apperr.Unauthorized(msgInvalidCredentials)
		}
		return Session{}, apperr.Internal(err)
	}
	return s.issue(user)
}

// ListAll returns every user ordered by id.
func (s *CredentialStore) ListAll(ctx context.Context) ([]models.UserSummary, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	out := make([]models.UserSummary, 0, len(users))
	for _, user := range users {
		out = append(out, user.Summary())
	}
	return out, nil
}

func (s *CredentialStore) issue(user models.User) (Session, error) {
	token, claims, err := s.tokens.Issue(user.ID, user.Login)
	if err != nil {
		return Session{}, apperr.Internal(err)
	}
	return Session{Token: token, Claims: claims, User: user.Summary()}, nil
}

func (s *CredentialStore) placeholderHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("shelfshare-placeholder-password")
		if err == nil {
			s.dummyHash = hash
		}
	})
	return s.dummyHash
}
