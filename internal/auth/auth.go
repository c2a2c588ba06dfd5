// Package auth turns bearer tokens into verified identities. Tokens are
// HS256 JWTs whose subject is the user id and whose email claim names
// the participant to the room.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Huddle/internal/clock"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Verifier vouches for the identity behind a token.
type Verifier interface {
	Verify(token string) (domain.Identity, error)
}

var ErrNoSecret = errors.New("auth: empty signing secret")

type claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// HMAC signs and verifies tokens with a shared secret.
type HMAC struct {
	secret []byte
	issuer string
	clock  clock.Clock
}

var _ Verifier = (*HMAC)(nil)

func NewHMAC(secret, issuer string, clk clock.Clock) (*HMAC, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &HMAC{secret: []byte(secret), issuer: issuer, clock: clk}, nil
}

// Verify rejects anything that is not a live HS256 token from our
// issuer. Every failure wraps domain.ErrAuth.
func (h *HMAC) Verify(token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing token", domain.ErrAuth)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(h.clock.Now),
	}
	if h.issuer != "" {
		opts = append(opts, jwt.WithIssuer(h.issuer))
	}

	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) { return h.secret, nil }, opts...)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", domain.ErrAuth, err)
	}
	id, err := domain.NewIdentity(c.Subject, c.Email)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", domain.ErrAuth, err)
	}
	return id, nil
}

// Mint issues a token for id valid for ttl.
func (h *HMAC) Mint(id domain.Identity, ttl time.Duration) (string, error) {
	now := h.clock.Now()
	c := claims{
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(id.UserID),
			Issuer:    h.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(h.secret)
}
