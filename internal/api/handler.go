package api

import (
	"errors"
	"log/slog"
	"net/http"

	"shelfshare/internal/access"
	"shelfshare/internal/apperr"
	"shelfshare/internal/auth"
	"shelfshare/internal/models"
	"shelfshare/internal/router"
	"shelfshare/internal/search"
	"shelfshare/internal/storage"
)

// Route names bind the static route table to Handler endpoints.
const (
	RouteRegister    = "users.register"
	RouteLogin       = "users.login"
	RouteListUsers   = "users.index"
	RouteGrantAccess = "users.grant"
	RouteListBooks   = "books.index"
	RouteCreateBook  = "books.store"
	RouteShowBook    = "books.show"
	RouteUpdateBook  = "books.update"
	RouteDeleteBook  = "books.destroy"
	RouteRestoreBook = "books.restore"
	RouteUserBooks   = "users.books"
	RouteSearchBooks = "books.search"
)

// DefaultUploadSize caps multipart book uploads unless MaxUploadBytes is set.
const DefaultUploadSize = 8 << 20

const msgIDRequired = "ID required"

// DefaultRoutes returns the route table in match order.
func DefaultRoutes() []router.Route {
	return []router.Route{
		{Method: http.MethodPost, Pattern: "/register", Name: RouteRegister},
		{Method: http.MethodPost, Pattern: "/login", Name: RouteLogin},
		{Method: http.MethodGet, Pattern: "/users", Name: RouteListUsers},
		{Method: http.MethodPost, Pattern: "/users/{id}/access", Name: RouteGrantAccess},
		{Method: http.MethodGet, Pattern: "/books", Name: RouteListBooks},
		{Method: http.MethodPost, Pattern: "/books", Name: RouteCreateBook},
		{Method: http.MethodGet, Pattern: "/books/{id}", Name: RouteShowBook},
		{Method: http.MethodPut, Pattern: "/books/{id}", Name: RouteUpdateBook},
		{Method: http.MethodDelete, Pattern: "/books/{id}", Name: RouteDeleteBook},
		{Method: http.MethodPost, Pattern: "/books/{id}/restore", Name: RouteRestoreBook},
		{Method: http.MethodGet, Pattern: "/users/{id}/books", Name: RouteUserBooks},
		{Method: http.MethodGet, Pattern: "/search", Name: RouteSearchBooks},
	}
}

// GrantObserver is notified after an access grant succeeds.
type GrantObserver interface {
	ObserveGrant()
}

// Handler holds the dependencies shared by every endpoint.
type Handler struct {
	Credentials    *auth.CredentialStore
	Store          storage.Repository
	Access         *access.Policy
	Search         search.Provider
	MaxUploadBytes int64
	Grants         GrantObserver
}

func NewHandler(credentials *auth.CredentialStore, store storage.Repository, policy *access.Policy, provider search.Provider) *Handler {
	return &Handler{
		Credentials:    credentials,
		Store:          store,
		Access:         policy,
		Search:         provider,
		MaxUploadBytes: DefaultUploadSize,
	}
}

// Endpoints returns the registration table consumed by NewDispatcher.
func (h *Handler) Endpoints() map[string]Endpoint {
	return map[string]Endpoint{
		RouteRegister:    {Handle: h.register},
		RouteLogin:       {Handle: h.login},
		RouteListUsers:   {Handle: h.listUsers},
		RouteGrantAccess: {Auth: true, Handle: h.grantAccess},
		RouteListBooks:   {Auth: true, Handle: h.listOwnBooks},
		RouteCreateBook:  {Auth: true, Handle: h.createBook},
		RouteShowBook:    {Auth: true, Handle: h.showBook},
		RouteUpdateBook:  {Auth: true, Handle: h.updateBook},
		RouteDeleteBook:  {Auth: true, Handle: h.deleteBook},
		RouteRestoreBook: {Auth: true, Handle: h.restoreBook},
		RouteUserBooks:   {Auth: true, Handle: h.userBooks},
		RouteSearchBooks: {Handle: h.searchBooks},
	}
}

// NewRouter builds the default route table and a dispatcher serving it.
func (h *Handler) NewRouter(verifier TokenVerifier, logger *slog.Logger, opts ...DispatcherOption) (*Dispatcher, error) {
	table, err := router.NewTable(DefaultRoutes()...)
	if err != nil {
		return nil, err
	}
	return NewDispatcher(table, h.Endpoints(), verifier, logger, opts...)
}

func requireIdentity(req *Request) (auth.Claims, error) {
	if req.Identity == nil {
		return auth.Claims{}, apperr.Unauthorized(msgAuthHeaderInvalid)
	}
	return *req.Identity, nil
}

func paramID(req *Request) (int64, error) {
	id, ok := req.Params.ID("id")
	if !ok {
		return 0, apperr.Validation(msgIDRequired)
	}
	return id, nil
}

func storageError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Storage(err)
}

func summarizeBooks(books []models.Book) []models.BookSummary {
	out := make([]models.BookSummary, 0, len(books))
	for _, book := range books {
		out = append(out, book.Summary())
	}
	return out
}
