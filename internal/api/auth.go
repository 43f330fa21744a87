package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/autotouch-core/internal/infrastructure/config"
)

// ErrTokenInvalid is returned by ParseToken for any rejected token.
var ErrTokenInvalid = errors.New("api: invalid token")

// IssueToken signs an HS256 bearer token for subject.
//
// Parameters:
//   - cfg: Secret and issuer; the secret must not be empty
//   - subject: Identifies the caller, e.g. a device name
//   - ttl: Lifetime; 0 issues a token without expiry
//
// Returns:
//   - string: The signed token
//   - error: If the secret is missing or signing fails
func IssueToken(cfg config.AuthConfig, subject string, ttl time.Duration) (string, error) {
	if cfg.JWTSecret == "" {
		return "", fmt.Errorf("%w: no secret configured", ErrTokenInvalid)
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  subject,
		Issuer:   cfg.Issuer,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken validates an HS256 token against cfg. The issuer is checked
// only when one is configured.
func ParseToken(raw string, cfg config.AuthConfig) (*jwt.RegisteredClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	return claims, nil
}
