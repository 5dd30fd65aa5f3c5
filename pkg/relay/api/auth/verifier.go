// Package auth verifies caller identity tokens. The relay does not mint
// tokens; an external identity provider authenticates phone numbers and
// issues the bearer tokens this package checks.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Common errors for token verification.
var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrMissingPhone        = errors.New("token carries no phone number")
	ErrInvalidSecretLength = errors.New("JWT secret must be at least 32 characters")
)

// Principal is a verified caller identity.
type Principal struct {
	// Subject is the provider's stable subject id.
	Subject string

	// Phone is the verified E.164 phone number.
	Phone string
}

// Verifier checks a bearer token and returns the caller it
// authenticates. Implementations must be safe for concurrent use.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// JWTConfig holds configuration for the HS256 verifier.
type JWTConfig struct {
	// Secret is the HMAC key shared with the identity provider. Must be
	// at least 32 characters.
	Secret string `mapstructure:"secret" yaml:"secret,omitempty"`

	// Issuer, when set, is required to match the token's iss claim.
	Issuer string `mapstructure:"issuer" yaml:"issuer"`
}

// JWTVerifier validates HS256 tokens carrying a phone_number claim.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier creates a verifier from the shared secret.
func NewJWTVerifier(config JWTConfig) (*JWTVerifier, error) {
	if len(config.Secret) < 32 {
		return nil, ErrInvalidSecretLength
	}
	return &JWTVerifier{secret: []byte(config.Secret), issuer: config.Issuer}, nil
}

type claims struct {
	jwt.RegisteredClaims
	PhoneNumber string `json:"phone_number"`
}

// Verify checks the signature, expiry, issuer and phone claim.
func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (*Principal, error) {
	var c claims
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	_, err := jwt.ParseWithClaims(tokenString, &c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.PhoneNumber == "" {
		return nil, ErrMissingPhone
	}

	return &Principal{Subject: c.Subject, Phone: c.PhoneNumber}, nil
}

var _ Verifier = (*JWTVerifier)(nil)
