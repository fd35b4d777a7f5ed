package api

import (
	"net/http"
	"strings"

	"shelfshare/internal/apperr"
	"shelfshare/internal/auth"
)

const (
	bearerPrefix         = "Bearer "
	msgAuthHeaderInvalid = "Authorization header missing or invalid"
	msgTokenInvalid      = "Invalid or expired token"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

// AuthObserver is notified whenever bearer authentication is rejected.
type AuthObserver interface {
	ObserveAuthFailure(reason string)
}

// ExtractToken returns the bearer token from the Authorization header. The
// scheme must be spelled exactly "Bearer" followed by one space.
func ExtractToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}

func (d *Dispatcher) authenticate(r *http.Request) (auth.Claims, error) {
	token, ok := ExtractToken(r)
	if !ok {
		d.observeAuthFailure("missing_header")
		return auth.Claims{}, apperr.Unauthorized(msgAuthHeaderInvalid)
	}
	claims, err := d.verifier.Verify(token)
	if err != nil {
		d.observeAuthFailure("invalid_token")
		if !apperr.Is(err, apperr.KindAuth) {
			err = &apperr.Error{Kind: apperr.KindAuth, Code: http.StatusUnauthorized, Message: msgTokenInvalid, Err: err}
		}
		return auth.Claims{}, err
	}
	return claims, nil
}

func (d *Dispatcher) observeAuthFailure(reason string) {
	if d.authObserver != nil {
		d.authObserver.ObserveAuthFailure(reason)
	}
}
