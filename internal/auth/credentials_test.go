package auth

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"shelfshare/internal/apperr"
	"shelfshare/internal/models"
	"shelfshare/internal/storage"
)

func newTestCredentialStore(t *testing.T) (*CredentialStore, *TokenCodec) {
	t.Helper()
	repo, err := storage.NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	codec, err := NewTokenCodec(TokenConfig{Secret: "secret", Issuer: "shelfshare", Lifetime: time.Hour})
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	return NewCredentialStore(repo, codec, WithPasswordHasher(BcryptHasher{Cost: bcrypt.MinCost})), codec
}

func requireStatus(t *testing.T, err error, status int, message string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %d error, got nil", status)
	}
	appErr := apperr.From(err)
	if appErr.Status() != status {
		t.Fatalf("expected status %d, got %d (%v)", status, appErr.Status(), err)
	}
	if message != "" && appErr.Message != message {
		t.Fatalf("expected message %q, got %q", message, appErr.Message)
	}
}

func TestRegisterIssuesVerifiableToken(t *testing.T) {
	store, codec := newTestCredentialStore(t)
	session, err := store.Register(context.Background(), "alice", "pw1", "pw1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if session.User.ID != 1 || session.User.Login != "alice" {
		t.Fatalf("unexpected user %+v", session.User)
	}
	claims, err := codec.Verify(session.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.SubjectID != 1 || claims.Login != "alice" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestRegisterValidation(t *testing.T) {
	store, _ := newTestCredentialStore(t)
	ctx := context.Background()

	requireStatus(t, mustFail(store.Register(ctx, "", "pw", "pw")), http.StatusBadRequest, msgRegisterFieldsRequired)
	requireStatus(t, mustFail(store.Register(ctx, "alice", "pw", "")), http.StatusBadRequest, msgRegisterFieldsRequired)
	requireStatus(t, mustFail(store.Register(ctx, "alice", "pw1", "pw2")), http.StatusUnprocessableEntity, msgPasswordConfirmation)
	requireStatus(t, mustFail(store.Register(ctx, "bad login", "pw", "pw")), http.StatusBadRequest, msgLoginUnsupported)
}

func TestRegisterDuplicateLoginConflicts(t *testing.T) {
	store, _ := newTestCredentialStore(t)
	ctx := context.Background()
	if _, err := store.Register(ctx, "alice", "pw1", "pw1"); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	_, err := store.Register(ctx, "alice", "other", "other")
	requireStatus(t, err, http.StatusConflict, msgUserExists)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict kind, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	store, codec := newTestCredentialStore(t)
	ctx := context.Background()
	registered, err := store.Register(ctx, "alice", "pw1", "pw1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	session, err := store.Authenticate(ctx, "alice", "pw1")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if session.User != registered.User {
		t.Fatalf("expected %+v, got %+v", registered.User, session.User)
	}
	if _, err := codec.Verify(session.Token); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	requireStatus(t, mustFail(store.Authenticate(ctx, "alice", "wrong")), http.StatusUnauthorized, msgInvalidCredentials)
	requireStatus(t, mustFail(store.Authenticate(ctx, "nobody", "pw1")), http.StatusUnauthorized, msgInvalidCredentials)
	requireStatus(t, mustFail(store.Authenticate(ctx, "no body", "pw1")), http.StatusUnauthorized, msgInvalidCredentials)
	requireStatus(t, mustFail(store.Authenticate(ctx, "alice", "")), http.StatusBadRequest, msgLoginFieldsRequired)
}

func TestListAllOrdersByID(t *testing.T) {
	store, _ := newTestCredentialStore(t)
	ctx := context.Background()
	for _, login := range []string{"zed", "amy", "kim"} {
		if _, err := store.Register(ctx, login, "pw", "pw"); err != nil {
			t.Fatalf("Register %s: %v", login, err)
		}
	}
	users, err := store.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	want := []models.UserSummary{{ID: 1, Login: "zed"}, {ID: 2, Login: "amy"}, {ID: 3, Login: "kim"}}
	if len(users) != len(want) {
		t.Fatalf("expected %d users, got %d", len(want), len(users))
	}
	for i := range want {
		if users[i] != want[i] {
			t.Fatalf("user %d = %+v, want %+v", i, users[i], want[i])
		}
	}
}

type failingUsers struct{ err error }

func (f failingUsers) CreateUser(context.Context, string, string) (models.User, error) {
	return models.User{}, f.err
}
func (f failingUsers) FindUserByLogin(context.Context, string) (models.User, bool, error) {
	return models.User{}, false, f.err
}
func (f failingUsers) ListUsers(context.Context) ([]models.User, error) { return nil, f.err }

func TestStorageFailuresAreClassified(t *testing.T) {
	codec, err := NewTokenCodec(TokenConfig{Secret: "s", Issuer: "i", Lifetime: time.Minute})
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	cause := errors.New("connection refused")
	store := NewCredentialStore(failingUsers{err: cause}, codec, WithPasswordHasher(BcryptHasher{Cost: bcrypt.MinCost}))

	_, err = store.Authenticate(context.Background(), "alice", "pw")
	if !apperr.Is(err, apperr.KindStorage) || !errors.Is(err, cause) {
		t.Fatalf("expected storage error wrapping cause, got %v", err)
	}
	if _, err := store.ListAll(context.Background()); !apperr.Is(err, apperr.KindStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestBcryptHasher(t *testing.T) {
	hasher := BcryptHasher{Cost: bcrypt.MinCost}
	hash, err := hasher.Hash("secret")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "secret" {
		t.Fatal("hash must not equal the password")
	}
	other, _ := hasher.Hash("secret")
	if other == hash {
		t.Fatal("expected salted hashes to differ")
	}
	if err := hasher.Verify(hash, "secret"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := hasher.Verify(hash, "Secret"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := hasher.Verify("not-a-hash", "secret"); err == nil || errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected malformed hash error, got %v", err)
	}
}

func TestNormalizeLogin(t *testing.T) {
	if got, err := NormalizeLogin("  Alice "); err != nil || got != "Alice" {
		t.Fatalf("expected trimmed case-preserved login, got %q err=%v", got, err)
	}
	if got, err := NormalizeLogin("ｂｏｂ"); err != nil || got != "bob" {
		t.Fatalf("expected width-folded login, got %q err=%v", got, err)
	}
	for _, bad := range []string{"", "two words", strings.Repeat("a", maxLoginLength+1)} {
		if _, err := NormalizeLogin(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func mustFail(_ Session, err error) error {
	return err
}
