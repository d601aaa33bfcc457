// Package auth verifies the bearer tokens that gate cache administration.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is required for cache-management endpoints
const RoleAdmin = "admin"

// Issuer is stamped on minted tokens
const Issuer = "product-cache"

// ErrNoSecret is returned when no signing secret is configured
var ErrNoSecret = errors.New("admin token secret not set")

// Claims represents the JWT claims we expect
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Authenticator signs and verifies HMAC tokens with a shared secret
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

// New creates an authenticator. An empty secret rejects every token.
func New(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

// Enabled reports whether a secret is configured
func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

// ParseToken validates and parses a JWT token string
func (a *Authenticator) ParseToken(tokenStr string) (*Claims, error) {
	if !a.Enabled() {
		return nil, ErrNoSecret
	}

	tok, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, fmt.Errorf("parse token failed: %w", err)
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

// IssueToken mints a token for subject carrying roles, valid for ttl
func (a *Authenticator) IssueToken(subject string, roles []string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", ErrNoSecret
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive, got %s", ttl)
	}

	now := a.now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// GetBearerToken extracts the Bearer token from the Authorization header
func GetBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}

	scheme, token, found := strings.Cut(h, " ")
	if found && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}

	return ""
}

// HasRole checks if the user has a specific role
func HasRole(userRoles []string, required string) bool {
	return slices.Contains(userRoles, required)
}
