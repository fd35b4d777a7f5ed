package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"shelfshare/internal/apperr"
)

const (
	contentTypeJSON = "application/json; charset=utf-8"
	maxJSONBody     = 1 << 20

	msgCantRead       = "Cant read request"
	msgExpectedObject = "JSON expected object or array"
	msgBodyTooLarge   = "Request body too large"
)

type errorBody struct {
	Error string `json:"error"`
}

type messageBody struct {
	Message string `json:"message"`
}

type dataBody struct {
	Data any `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

// WriteError is an exported helper for returning the JSON error envelope
// from handlers that sit outside the dispatcher.
func WriteError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// decodeJSONObject reads at most limit bytes of the request body into dest.
// Unknown fields are ignored; an empty body and any top-level value other
// than an object or array are validation errors. Bodies over limit are
// rejected with 413 rather than truncated.
func decodeJSONObject(r *http.Request, limit int64, dest interface{}) error {
	if r.Body == nil {
		return apperr.Validation(msgCantRead)
	}
	defer r.Body.Close()

	raw, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &apperr.Error{Kind: apperr.KindValidation, Code: http.StatusRequestEntityTooLarge, Message: msgBodyTooLarge, Err: err}
		}
		return &apperr.Error{Kind: apperr.KindValidation, Code: http.StatusBadRequest, Message: msgCantRead, Err: err}
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return apperr.Validation(msgCantRead)
	}
	if raw[0] != '{' && raw[0] != '[' {
		return apperr.Validation(msgExpectedObject)
	}
	// An array decodes into no fields, leaving the zero request.
	if raw[0] == '[' {
		var discard []json.RawMessage
		if err := json.Unmarshal(raw, &discard); err != nil {
			return apperr.Validation(msgExpectedObject)
		}
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(dest); err != nil {
		return &apperr.Error{Kind: apperr.KindValidation, Code: http.StatusBadRequest, Message: msgExpectedObject, Err: err}
	}
	return nil
}
