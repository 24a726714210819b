package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Signer mints short-lived HS256 bearer tokens for backend requests.
type Signer struct {
	key     []byte
	subject string
	ttl     time.Duration
	now     func() time.Time
}

// NewSigner creates a signer. A zero ttl defaults to five minutes.
func NewSigner(secret, subject string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("signing secret is empty")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Signer{key: []byte(secret), subject: subject, ttl: ttl, now: time.Now}, nil
}

// Token returns a freshly signed token.
func (s *Signer) Token() (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   s.subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)), // clock skew buffer
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token minted with the same secret. Used by test servers.
func (s *Signer) Verify(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	return claims, nil
}
