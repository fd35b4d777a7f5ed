package api

import (
	"context"
	"net/http"

	"shelfshare/internal/apperr"
)

const msgSearchParamsRequired = "source and q parameters required"

func (h *Handler) searchBooks(ctx context.Context, req *Request) (Response, error) {
	query := req.HTTP.URL.Query()
	source := query.Get("source")
	q := query.Get("q")
	if source == "" || q == "" {
		return Response{}, apperr.Validation(msgSearchParamsRequired)
	}
	books, err := h.Search.Search(ctx, source, q)
	if err != nil {
		return Response{}, err
	}
	return Response{Status: http.StatusOK, Body: dataBody{Data: books}}, nil
}
