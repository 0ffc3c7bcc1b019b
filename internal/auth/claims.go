// Package auth is the engine-facing half of the Identity & Access Gate:
// it verifies a bearer session token and resolves it to a person.Person,
// so that internal/api and cmd/rescan never see a raw JWT. The OAuth
// dance, cookie issuance and CSRF handling that produce the token in the
// first place are out of scope; this package only verifies what it is
// handed.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tendabike.dev/engine/internal/domain/person"
)

// Config holds the session-token verification parameters.
type Config struct {
	Secret string
	Issuer string
}

// Claims is the normalized payload of a verified session token. It
// implements person.Person directly so handlers never need to convert.
type Claims struct {
	Subject   person.ID
	Admin     bool
	ExpiresAt time.Time
}

// UserID implements person.Person.
func (c *Claims) UserID() person.ID { return c.Subject }

// IsAdmin implements person.Person.
func (c *Claims) IsAdmin() bool { return c != nil && c.Admin }

var _ person.Person = (*Claims)(nil)

// ErrMissingToken is returned when the Authorization header is absent.
var ErrMissingToken = errors.New("missing bearer token")

// ErrInvalidToken wraps parsing/validation errors.
var ErrInvalidToken = errors.New("invalid bearer token")

// Parse validates a session token and returns the Person it authenticates.
func Parse(token string, cfg Config) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, jwt.WithIssuer(cfg.Issuer), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, ErrInvalidToken
	}
	var uid int64
	if _, err := fmt.Sscanf(subject, "%d", &uid); err != nil {
		return nil, ErrInvalidToken
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	admin, _ := claims["admin"].(bool)

	return &Claims{
		Subject:   person.ID(uid),
		Admin:     admin,
		ExpiresAt: exp.Time,
	}, nil
}

type contextKey string

const personKey contextKey = "tendabike-person"

// WithPerson stores the authenticated Person on the context.
func WithPerson(ctx context.Context, p person.Person) context.Context {
	return context.WithValue(ctx, personKey, p)
}

// FromContext retrieves the Person stored by WithPerson or Middleware.
func FromContext(ctx context.Context) (person.Person, bool) {
	p, ok := ctx.Value(personKey).(person.Person)
	return p, ok
}
