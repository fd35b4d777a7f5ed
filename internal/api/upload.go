package api

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"shelfshare/internal/apperr"
)

const (
	msgOnlyText       = "Only .TXT files allowed"
	msgUploadError    = "File upload error"
	msgFileTooLarge   = "File too large"
	uploadFieldFile   = "file"
	uploadFieldTitle  = "title"
	maxTitleFieldSize = 4 << 10
)

type bookUpload struct {
	Title string
	Text  string
}

// readBookUpload reads a multipart body holding a "title" field and a plain
// text "file" part. The file is sniffed, then decoded to UTF-8 using the
// charset declared on the part or detected from a byte order mark.
func (h *Handler) readBookUpload(r *http.Request) (bookUpload, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, h.bodyLimit())
	reader, err := r.MultipartReader()
	if err != nil {
		return bookUpload{}, uploadFailure(err)
	}

	var (
		upload  bookUpload
		content []byte
		charset string
		hasFile bool
	)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return bookUpload{}, uploadFailure(err)
		}
		switch part.FormName() {
		case uploadFieldFile:
			if hasFile {
				_ = part.Close()
				continue
			}
			data, err := io.ReadAll(part)
			_ = part.Close()
			if err != nil {
				return bookUpload{}, uploadFailure(err)
			}
			content = data
			charset = declaredCharset(part.Header.Get("Content-Type"))
			hasFile = true
		case uploadFieldTitle:
			data, err := io.ReadAll(io.LimitReader(part, maxTitleFieldSize))
			_ = part.Close()
			if err != nil {
				return bookUpload{}, uploadFailure(err)
			}
			upload.Title = string(data)
		default:
			_ = part.Close()
		}
	}
	if !hasFile {
		return bookUpload{}, apperr.Validation(msgUploadError)
	}

	text, err := decodeText(content, charset)
	if err != nil {
		return bookUpload{}, err
	}
	upload.Text = text
	return upload, nil
}

func uploadFailure(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &apperr.Error{Kind: apperr.KindValidation, Code: http.StatusBadRequest, Message: msgFileTooLarge, Err: err}
	}
	return &apperr.Error{Kind: apperr.KindValidation, Code: http.StatusBadRequest, Message: msgUploadError, Err: err}
}

func declaredCharset(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(params["charset"])
}

// decodeText accepts only content that sniffs as text/plain and returns it
// as UTF-8.
func decodeText(content []byte, charset string) (string, error) {
	if len(content) == 0 {
		return "", apperr.Validation(msgOnlyText)
	}
	sniffed := http.DetectContentType(content)
	mediaType, params, err := mime.ParseMediaType(sniffed)
	if err != nil || mediaType != "text/plain" {
		return "", apperr.Validation(msgOnlyText)
	}
	if bom := params["charset"]; strings.HasPrefix(bom, "utf-16") {
		charset = bom
	}

	enc, err := lookupEncoding(charset)
	if err != nil {
		return "", &apperr.Error{Kind: apperr.KindValidation, Code: http.StatusBadRequest, Message: msgUploadError, Err: err}
	}
	decoded, _, err := transform.Bytes(unicode.BOMOverride(enc.NewDecoder()), content)
	if err != nil {
		return "", &apperr.Error{Kind: apperr.KindValidation, Code: http.StatusBadRequest, Message: msgUploadError, Err: err}
	}
	if !utf8.Valid(decoded) {
		decoded = bytes.ToValidUTF8(decoded, []byte(string(utf8.RuneError)))
	}
	return string(decoded), nil
}

func lookupEncoding(charset string) (encoding.Encoding, error) {
	if charset == "" {
		return encoding.Nop, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, err
	}
	return enc, nil
}
