package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// defaultTTL applies when a zero or negative TTL is requested.
const defaultTTL = time.Hour

// hs256 is the only accepted signing algorithm.
var hs256 = jwt.SigningMethodHS256

// Claims are the JWT claims of an API bearer token.
type Claims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// Validate runs after the registered claims (expiry and the like) pass.
func (c Claims) Validate() error {
	if c.Subject == "" {
		return errors.New("missing subject")
	}
	if !IsValidRole(c.Role) {
		return fmt.Errorf("%w %q", ErrInvalidRole, c.Role)
	}
	return nil
}

var _ jwt.ClaimsValidator = Claims{}

// GenerateAccessToken signs a token for subject with the given role. There
// is no server-side session, so a token is good until it expires.
func GenerateAccessToken(subject string, role Role, secret string, ttlMinutes int) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("%w: subject is required", ErrTokenInvalid)
	}
	if !IsValidRole(role) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	ttl := time.Duration(ttlMinutes) * time.Minute
	if ttl <= 0 {
		ttl = defaultTTL
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}

	signed, err := jwt.NewWithClaims(hs256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies the signature and claims of tokenString. Every
// failure wraps ErrTokenInvalid.
func ParseToken(tokenString, secret string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{hs256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	return &claims, nil
}
