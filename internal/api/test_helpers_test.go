package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"shelfshare/internal/access"
	"shelfshare/internal/auth"
	"shelfshare/internal/models"
	"shelfshare/internal/storage"
)

type stubSearch struct {
	mu      sync.Mutex
	books   []models.ExternalBook
	err     error
	sources []string
	queries []string
}

func (s *stubSearch) Search(_ context.Context, source, query string) ([]models.ExternalBook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = append(s.sources, source)
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, s.err
	}
	return s.books, nil
}

func (s *stubSearch) set(books []models.ExternalBook, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books = books
	s.err = err
}

func (s *stubSearch) calls() ([]string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sources...), append([]string(nil), s.queries...)
}

type countingGrants struct {
	mu    sync.Mutex
	count int
}

func (c *countingGrants) ObserveGrant() {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
}

func (c *countingGrants) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

type testAPI struct {
	server  *httptest.Server
	store   *storage.Storage
	tokens  *auth.TokenCodec
	search  *stubSearch
	grants  *countingGrants
	handler *Handler
	logs    *bytes.Buffer
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	tokens, err := auth.NewTokenCodec(auth.TokenConfig{Secret: "test-secret", Issuer: "shelfshare-test", Lifetime: time.Hour})
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	credentials := auth.NewCredentialStore(store, tokens, auth.WithPasswordHasher(auth.BcryptHasher{Cost: bcrypt.MinCost}))
	searchStub := &stubSearch{}
	handler := NewHandler(credentials, store, access.NewPolicy(store), searchStub)
	grants := &countingGrants{}
	handler.Grants = grants

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs, nil))
	dispatcher, err := handler.NewRouter(tokens, logger)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	server := httptest.NewServer(dispatcher)
	t.Cleanup(server.Close)
	return &testAPI{
		server:  server,
		store:   store,
		tokens:  tokens,
		search:  searchStub,
		grants:  grants,
		handler: handler,
		logs:    logs,
	}
}

type apiResponse struct {
	Status      int
	ContentType string
	Body        map[string]any
	Raw         []byte
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) apiResponse {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(v)
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return a.send(t, req)
}

func (a *testAPI) send(t *testing.T, req *http.Request) apiResponse {
	t.Helper()
	resp, err := a.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	out := apiResponse{Status: resp.StatusCode, ContentType: resp.Header.Get("Content-Type"), Raw: raw}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out.Body); err != nil {
			t.Fatalf("decode body %q: %v", raw, err)
		}
	}
	return out
}

// register creates an account and returns its token and id.
func (a *testAPI) register(t *testing.T, login, password string) (string, int64) {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/register", "", map[string]string{
		"login":            login,
		"password":         password,
		"password_confirm": password,
	})
	if resp.Status != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", login, resp.Status, resp.Raw)
	}
	token, _ := resp.Body["token"].(string)
	user, _ := resp.Body["user"].(map[string]any)
	id, _ := user["id"].(float64)
	if token == "" || id == 0 {
		t.Fatalf("register %s: unexpected body %s", login, resp.Raw)
	}
	return token, int64(id)
}

func (a *testAPI) createBook(t *testing.T, token, title, text string) int64 {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/books", token, map[string]string{"title": title, "text": text})
	if resp.Status != http.StatusCreated {
		t.Fatalf("create book: status %d body %s", resp.Status, resp.Raw)
	}
	id, _ := resp.Body["id"].(float64)
	return int64(id)
}

func bookPath(id int64, suffix string) string {
	return "/books/" + strconv.FormatInt(id, 10) + suffix
}

func userPath(id int64, suffix string) string {
	return "/users/" + strconv.FormatInt(id, 10) + suffix
}

func expectError(t *testing.T, resp apiResponse, status int, message string) {
	t.Helper()
	if resp.Status != status {
		t.Fatalf("expected status %d, got %d body %s", status, resp.Status, resp.Raw)
	}
	if got, _ := resp.Body["error"].(string); got != message {
		t.Fatalf("expected error %q, got %s", message, resp.Raw)
	}
	if len(resp.Body) != 1 {
		t.Fatalf("error envelope must only carry \"error\", got %s", resp.Raw)
	}
}
