// Package identity resolves who is playing. Identity is optional: a missing
// identity is not an error, it is reported as nil.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
)

const Anonymous = "anonymous"

var ErrInvalidToken = errors.New("invalid identity token")

type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type Provider interface {
	Current(ctx context.Context) (*Identity, error)
}

// EmailOrAnonymous is the email recorded on leaderboard entries.
func EmailOrAnonymous(id *Identity) string {
	if id == nil || id.Email == "" {
		return Anonymous
	}
	return id.Email
}

// Static always returns the same identity, which may be nil.
type Static struct {
	Identity *Identity
}

func (s Static) Current(ctx context.Context) (*Identity, error) {
	return s.Identity, nil
}

type Claims struct {
	Email string `json:"email"`
	jwt.StandardClaims
}

func (c Claims) identity() *Identity {
	return &Identity{ID: c.Subject, Email: c.Email}
}

// Token reads the identity from a bearer token held by the client. The client
// cannot check the signature; the server does that with Verify.
type Token struct {
	Raw string
}

func (t Token) Current(ctx context.Context) (*Identity, error) {
	if strings.TrimSpace(t.Raw) == "" {
		return nil, nil
	}
	var claims Claims
	if _, _, err := new(jwt.Parser).ParseUnverified(t.Raw, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims.identity(), nil
}

// Verify checks an HS256 token signed with secret and returns its identity.
func Verify(raw string, secret []byte) (*Identity, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "Bearer ")
	if raw == "" {
		return nil, ErrInvalidToken
	}
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims.identity(), nil
}

// Sign issues an HS256 token for id, valid for ttl.
func Sign(id Identity, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: id.Email,
		StandardClaims: jwt.StandardClaims{
			Subject:   id.ID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
