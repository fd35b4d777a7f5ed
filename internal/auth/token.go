package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"shelfshare/internal/apperr"
)

const msgInvalidToken = "Invalid or expired token"

// ErrInvalidToken is wrapped by every Verify failure.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the verified identity carried by a bearer token.
type Claims struct {
	SubjectID int64
	Login     string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenConfig holds the process-wide signing settings.
type TokenConfig struct {
	Secret   string
	Issuer   string
	Lifetime time.Duration
}

// TokenOption configures a TokenCodec.
type TokenOption func(*TokenCodec)

// WithClock replaces the time source used to issue and verify tokens.
func WithClock(now func() time.Time) TokenOption {
	return func(c *TokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// TokenCodec issues and verifies HS256 session tokens. It is immutable after
// construction and safe for concurrent use.
type TokenCodec struct {
	secret   []byte
	issuer   string
	lifetime time.Duration
	now      func() time.Time
	parser   *jwt.Parser
}

// NewTokenCodec validates cfg and returns a codec.
func NewTokenCodec(cfg TokenConfig, opts ...TokenOption) (*TokenCodec, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret required")
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errors.New("jwt issuer required")
	}
	if cfg.Lifetime <= 0 {
		return nil, errors.New("jwt lifetime must be positive")
	}
	codec := &TokenCodec{
		secret:   []byte(cfg.Secret),
		issuer:   issuer,
		lifetime: cfg.Lifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(codec)
		}
	}
	codec.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(codec.now),
	)
	return codec, nil
}

// Lifetime reports how long issued tokens remain valid.
func (c *TokenCodec) Lifetime() time.Duration {
	return c.lifetime
}

// Issue signs a token for the subject.
func (c *TokenCodec) Issue(subjectID int64, login string) (string, Claims, error) {
	if subjectID <= 0 {
		return "", Claims{}, fmt.Errorf("issue token: invalid subject %d", subjectID)
	}
	issuedAt := c.now().UTC().Truncate(jwt.TimePrecision)
	claims := tokenClaims{
		Subject:   subjectID,
		Login:     login,
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(c.lifetime)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims.identity(), nil
}

// Verify parses token and checks its signature, issuer and expiry. Every
// failure is an apperr auth error wrapping ErrInvalidToken.
func (c *TokenCodec) Verify(token string) (Claims, error) {
	var claims tokenClaims
	parsed, err := c.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return Claims{}, invalidToken(err)
	}
	if !parsed.Valid {
		return Claims{}, invalidToken(nil)
	}
	if claims.Subject <= 0 {
		return Claims{}, invalidToken(errors.New("subject missing"))
	}
	return claims.identity(), nil
}

func invalidToken(cause error) error {
	err := ErrInvalidToken
	if cause != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidToken, cause)
	}
	return &apperr.Error{Kind: apperr.KindAuth, Code: http.StatusUnauthorized, Message: msgInvalidToken, Err: err}
}

// tokenClaims is the wire form. The subject is encoded as a JSON integer, so
// jwt.RegisteredClaims cannot be embedded.
type tokenClaims struct {
	Issuer    string           `json:"iss"`
	IssuedAt  *jwt.NumericDate `json:"iat"`
	ExpiresAt *jwt.NumericDate `json:"exp"`
	Subject   int64            `json:"sub"`
	Login     string           `json:"login"`
}

func (c tokenClaims) GetExpirationTime() (*jwt.NumericDate, error) { return c.ExpiresAt, nil }
func (c tokenClaims) GetIssuedAt() (*jwt.NumericDate, error)       { return c.IssuedAt, nil }
func (c tokenClaims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c tokenClaims) GetIssuer() (string, error)                   { return c.Issuer, nil }
func (c tokenClaims) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }

func (c tokenClaims) GetSubject() (string, error) {
	return strconv.FormatInt(c.Subject, 10), nil
}

func (c tokenClaims) identity() Claims {
	out := Claims{SubjectID: c.Subject, Login: c.Login, Issuer: c.Issuer}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time.UTC()
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time.UTC()
	}
	return out
}
