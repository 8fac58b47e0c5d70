package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenLifetime is used when security.jwt.token_lifetime is unset.
const DefaultTokenLifetime = 12 * time.Hour

// ErrInvalidToken is returned by ParseToken for any unusable token.
var ErrInvalidToken = errors.New("api: invalid token")

// IssueToken signs an HS256 token for subject that expires after lifetime.
// Race officers are issued a token per event day.
//
// Parameters:
//   - secret: security.jwt.secret
//   - subject: who the token is for, e.g. "race-officer"
//   - lifetime: validity; zero or less means DefaultTokenLifetime
//
// Returns:
//   - string: Signed token
//   - error: If signing fails
func IssueToken(secret, subject string, lifetime time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("issuing token: secret is empty")
	}
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("issuing token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies an HS256 token and returns its subject. Tokens
// without an expiry are refused.
func ParseToken(secret, token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims.Subject, nil
}
