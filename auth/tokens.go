package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/tcriess/adda/types"
)

var ErrInvalidToken = fmt.Errorf("invalid or expired session token: %w", types.ErrForbidden)

// Identity is the authenticated user behind a session token.
type Identity struct {
	UserId   string `json:"user_id"`
	Email    string `json:"email"`
	Provider string `json:"provider,omitempty"`
}

// Session is a signed-in identity together with its bearer token.
type Session struct {
	Token     string    `json:"token"`
	Identity  Identity  `json:"identity"`
	ExpiresAt time.Time `json:"expires_at"`
}

type claims struct {
	Email    string `json:"email"`
	Provider string `json:"provider,omitempty"`
	jwt.RegisteredClaims
}

const issuer = "adda"

func signToken(secret []byte, identity Identity, now time.Time, ttl time.Duration) (*Session, error) {
	expires := now.Add(ttl)
	c := claims{
		Email:    identity.Email,
		Provider: identity.Provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   identity.UserId,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, Identity: identity, ExpiresAt: expires}, nil
}

func parseToken(secret []byte, token string) (*Identity, error) {
	c := &claims{}
	parsed, err := jwt.ParseWithClaims(token, c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if c.Issuer != issuer || c.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{UserId: c.Subject, Email: c.Email, Provider: c.Provider}, nil
}
