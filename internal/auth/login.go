package auth

import (
	"errors"
	"strings"

	"golang.org/x/text/secure/precis"
)

const maxLoginLength = 64

var (
	errLoginEmpty   = errors.New("login empty")
	errLoginTooLong = errors.New("login too long")
)

// NormalizeLogin applies the PRECIS UsernameCasePreserved profile so visually
// identical logins compare equal. Case is preserved.
func NormalizeLogin(login string) (string, error) {
	trimmed := strings.TrimSpace(login)
	if trimmed == "" {
		return "", errLoginEmpty
	}
	normalized, err := precis.UsernameCasePreserved.String(trimmed)
	if err != nil {
		return "", err
	}
	if len([]rune(normalized)) > maxLoginLength {
		return "", errLoginTooLong
	}
	return normalized, nil
}
