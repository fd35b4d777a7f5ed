package api

import (
	"context"
	"mime"
	"net/http"
	"strings"

	"shelfshare/internal/apperr"
	"shelfshare/internal/models"
	"shelfshare/internal/storage"
)

const (
	msgTitleRequired = "Title required"
	msgBookNotFound  = "Book not found"
	msgNoAccess      = "You have no access"
	msgBookUpdated   = "Book updated"
	msgBookDeleted   = "Book deleted"
	msgBookRestored  = "Book restored"
	msgNULCharacter  = "Title and text must not contain NUL characters"
)

// createBookRequest accepts either inline text or an external catalog
// reference, in which case the URL is stored as the book text.
type createBookRequest struct {
	Title      string  `json:"title"`
	Text       string  `json:"text"`
	ExternalID *string `json:"externalId"`
	URL        string  `json:"url"`
}

type updateBookRequest struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type createdBody struct {
	ID int64 `json:"id"`
}

type bookContent struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

func (h *Handler) listOwnBooks(ctx context.Context, req *Request) (Response, error) {
	identity, err := requireIdentity(req)
	if err != nil {
		return Response{}, err
	}
	books, err := h.Store.ListBooks(ctx, identity.SubjectID)
	if err != nil {
		return Response{}, storageError(err)
	}
	return Response{Status: http.StatusOK, Body: dataBody{Data: summarizeBooks(books)}}, nil
}

// userBooks lists another user's library when the caller owns it or holds
// a grant from its owner.
func (h *Handler) userBooks(ctx context.Context, req *Request) (Response, error) {
	ownerID, err := paramID(req)
	if err != nil {
		return Response{}, err
	}
	identity, err := requireIdentity(req)
	if err != nil {
		return Response{}, err
	}
	if err := h.Access.Require(ctx, ownerID, identity.SubjectID); err != nil {
		return Response{}, err
	}
	books, err := h.Store.ListBooks(ctx, ownerID)
	if err != nil {
		return Response{}, storageError(err)
	}
	return Response{Status: http.StatusOK, Body: dataBody{Data: summarizeBooks(books)}}, nil
}

func (h *Handler) createBook(ctx context.Context, req *Request) (Response, error) {
	identity, err := requireIdentity(req)
	if err != nil {
		return Response{}, err
	}
	params := storage.CreateBookParams{OwnerID: identity.SubjectID}

	if isMultipart(req.HTTP) {
		upload, err := h.readBookUpload(req.HTTP)
		if err != nil {
			return Response{}, err
		}
		params.Title = upload.Title
		params.Text = upload.Text
	} else {
		var body createBookRequest
		if err := decodeJSONObject(req.HTTP, h.bodyLimit(), &body); err != nil {
			return Response{}, err
		}
		params.Title = body.Title
		params.Text = body.Text
		if body.ExternalID != nil {
			external := *body.ExternalID
			params.ExternalID = &external
			params.Text = body.URL
		}
	}

	params.Title = strings.TrimSpace(params.Title)
	if params.Title == "" {
		return Response{}, apperr.Validation(msgTitleRequired)
	}
	external := ""
	if params.ExternalID != nil {
		external = *params.ExternalID
	}
	if err := rejectNUL(params.Title, params.Text, external); err != nil {
		return Response{}, err
	}
	book, err := h.Store.CreateBook(ctx, params)
	if err != nil {
		return Response{}, storageError(err)
	}
	return Response{Status: http.StatusCreated, Body: createdBody{ID: book.ID}}, nil
}

func (h *Handler) showBook(ctx context.Context, req *Request) (Response, error) {
	identity, err := requireIdentity(req)
	if err != nil {
		return Response{}, err
	}
	id, err := paramID(req)
	if err != nil {
		return Response{}, err
	}
	book, err := h.findBook(ctx, id, false)
	if err != nil {
		return Response{}, err
	}
	if err := h.Access.Require(ctx, book.OwnerID, identity.SubjectID); err != nil {
		return Response{}, err
	}
	return Response{Status: http.StatusOK, Body: dataBody{Data: bookContent{Title: book.Title, Text: book.Text}}}, nil
}

// updateBook replaces title and text. Grantees may read but not edit.
func (h *Handler) updateBook(ctx context.Context, req *Request) (Response, error) {
	identity, err := requireIdentity(req)
	if err != nil {
		return Response{}, err
	}
	var body updateBookRequest
	if err := decodeJSONObject(req.HTTP, h.bodyLimit(), &body); err != nil {
		return Response{}, err
	}
	title := strings.TrimSpace(body.Title)
	if title == "" {
		return Response{}, apperr.Validation(msgTitleRequired)
	}
	if err := rejectNUL(title, body.Text); err != nil {
		return Response{}, err
	}
	id, err := paramID(req)
	if err != nil {
		return Response{}, err
	}
	if _, err := h.ownedBook(ctx, id, identity.SubjectID, false); err != nil {
		return Response{}, err
	}
	changed, err := h.Store.UpdateBook(ctx, id, storage.BookUpdate{Title: title, Text: body.Text})
	if err != nil {
		return Response{}, storageError(err)
	}
	if !changed {
		return Response{}, apperr.NotFound(msgBookNotFound)
	}
	return Response{Status: http.StatusOK, Body: messageBody{Message: msgBookUpdated}}, nil
}

func (h *Handler) deleteBook(ctx context.Context, req *Request) (Response, error) {
	identity, err := requireIdentity(req)
	if err != nil {
		return Response{}, err
	}
	id, err := paramID(req)
	if err != nil {
		return Response{}, err
	}
	if _, err := h.ownedBook(ctx, id, identity.SubjectID, false); err != nil {
		return Response{}, err
	}
	changed, err := h.Store.SoftDeleteBook(ctx, id)
	if err != nil {
		return Response{}, storageError(err)
	}
	if !changed {
		return Response{}, apperr.NotFound(msgBookNotFound)
	}
	return Response{Status: http.StatusOK, Body: messageBody{Message: msgBookDeleted}}, nil
}

func (h *Handler) restoreBook(ctx context.Context, req *Request) (Response, error) {
	identity, err := requireIdentity(req)
	if err != nil {
		return Response{}, err
	}
	id, err := paramID(req)
	if err != nil {
		return Response{}, err
	}
	book, err := h.ownedBook(ctx, id, identity.SubjectID, true)
	if err != nil {
		return Response{}, err
	}
	if !book.IsDeleted {
		return Response{}, apperr.NotFound(msgBookNotFound)
	}
	changed, err := h.Store.RestoreBook(ctx, id)
	if err != nil {
		return Response{}, storageError(err)
	}
	if !changed {
		return Response{}, apperr.NotFound(msgBookNotFound)
	}
	return Response{Status: http.StatusOK, Body: messageBody{Message: msgBookRestored}}, nil
}

func (h *Handler) findBook(ctx context.Context, id int64, includeDeleted bool) (models.Book, error) {
	book, found, err := h.Store.GetBook(ctx, id, includeDeleted)
	if err != nil {
		return models.Book{}, storageError(err)
	}
	if !found {
		return models.Book{}, apperr.NotFound(msgBookNotFound)
	}
	return book, nil
}

// ownedBook loads a book and rejects callers other than its owner.
func (h *Handler) ownedBook(ctx context.Context, id, callerID int64, includeDeleted bool) (models.Book, error) {
	book, err := h.findBook(ctx, id, includeDeleted)
	if err != nil {
		return models.Book{}, err
	}
	if book.OwnerID != callerID {
		return models.Book{}, apperr.Forbidden(msgNoAccess)
	}
	return book, nil
}

// bodyLimit caps book bodies, JSON or multipart, at MaxUploadBytes.
func (h *Handler) bodyLimit() int64 {
	if h.MaxUploadBytes <= 0 {
		return DefaultUploadSize
	}
	return h.MaxUploadBytes
}

// rejectNUL refuses values Postgres TEXT columns cannot hold, so both
// storage drivers accept the same input.
func rejectNUL(values ...string) error {
	for _, value := range values {
		if strings.IndexByte(value, 0) >= 0 {
			return apperr.Validation(msgNULCharacter)
		}
	}
	return nil
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && strings.EqualFold(mediaType, "multipart/form-data")
}
