package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Claims is the decoded content of a session token.
type Claims struct {
	Subject   string
	Role      string
	Kind      Kind
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ValidAt reports whether the token is still inside its lifetime at now.
func (c Claims) ValidAt(now time.Time) bool {
	return now.Before(c.ExpiresAt)
}

type tokenClaims struct {
	Role string `json:"role"`
	Kind Kind   `json:"kind"`
	jwt.RegisteredClaims
}

// Codec signs and decodes HS256 session tokens. Time checks are left to the
// caller so an injected clock decides expiry.
type Codec struct {
	secretKey []byte
	issuer    string
}

// NewCodec builds a codec using the provided secret.
func NewCodec(secretKey, issuer string) (*Codec, error) {
	if secretKey == "" {
		return nil, errors.New("auth token secret is empty")
	}
	return &Codec{secretKey: []byte(secretKey), issuer: issuer}, nil
}

// Encode signs claims. Times are truncated to whole seconds.
func (c *Codec) Encode(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Role: claims.Role,
		Kind: claims.Kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   claims.Subject,
			ID:        claims.ID,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})
	signed, err := token.SignedString(c.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature and issuer and returns the claims without
// checking expiry.
func (c *Codec) Decode(tokenString string) (Claims, error) {
	parsed := &tokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, parsed, func(*jwt.Token) (interface{}, error) {
		return c.secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return Claims{}, fmt.Errorf("failed to parse token: %w", err)
	}
	if parsed.Issuer != c.issuer {
		return Claims{}, fmt.Errorf("unexpected issuer %q", parsed.Issuer)
	}
	return toClaims(parsed)
}

// Peek decodes a token without verifying its signature. Clients use it to
// read the expiry of a token they hold.
func Peek(tokenString string) (Claims, error) {
	parsed := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, parsed); err != nil {
		return Claims{}, fmt.Errorf("failed to parse token: %w", err)
	}
	return toClaims(parsed)
}

func toClaims(tc *tokenClaims) (Claims, error) {
	if tc.Subject == "" || tc.ExpiresAt == nil {
		return Claims{}, errors.New("token is missing subject or expiry")
	}
	if tc.Kind != KindAccess && tc.Kind != KindRefresh {
		return Claims{}, fmt.Errorf("unknown token kind %q", tc.Kind)
	}
	claims := Claims{
		Subject:   tc.Subject,
		Role:      tc.Role,
		Kind:      tc.Kind,
		ID:        tc.ID,
		ExpiresAt: tc.ExpiresAt.Time,
	}
	if tc.IssuedAt != nil {
		claims.IssuedAt = tc.IssuedAt.Time
	}
	return claims, nil
}
