// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

// Package tokenvalidator validates AC-issued JWTs against the JWKS cache,
// pinned to EdDSA (Ed25519) regardless of the token's own alg header. Every
// failure path returns the same generic error; details are logged
// internally with a correlation id.
package tokenvalidator

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/meetmesh/gc/internal/jwks"
	"github.com/meetmesh/pkg/logger"
	"github.com/meetmesh/pkg/models"
)

// maxTokenBytes rejects oversized tokens before any base64 or JSON work, a
// DoS shield independent of signature verification cost.
const maxTokenBytes = 8192

// ErrInvalidOrExpired is the single, generic error returned on every
// failure path so the caller cannot distinguish why validation failed.
var ErrInvalidOrExpired = errors.New("invalid or expired")

// KeyFetcher resolves a kid to its public key, satisfied by *jwks.Cache.
type KeyFetcher interface {
	Get(ctx context.Context, kid string) (jwks.Key, bool, error)
}

// Validator validates bearer tokens and extracts Claims.
type Validator struct {
	keys      KeyFetcher
	clockSkew time.Duration
}

// New creates a Validator. clockSkew is used as given; configuration
// loading rejects values outside [1s, 600s].
func New(keys KeyFetcher, clockSkew time.Duration) *Validator {
	return &Validator{keys: keys, clockSkew: clockSkew}
}

type tokenClaims struct {
	Subject string `json:"sub"`
	Scope   string `json:"scope"`
	Issuer  string `json:"iss"`
	Exp     int64  `json:"exp"`
	Iat     int64  `json:"iat"`
}

func (tokenClaims) GetExpirationTime() (*jwt.NumericDate, error) { return nil, nil }
func (tokenClaims) GetIssuedAt() (*jwt.NumericDate, error)       { return nil, nil }
func (tokenClaims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (tokenClaims) GetIssuer() (string, error)                  { return "", nil }
func (tokenClaims) GetSubject() (string, error)                 { return "", nil }
func (tokenClaims) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }

// Validate implements the ordered contract: size guard, header-only kid
// extraction, JWKS lookup, JWK shape check, EdDSA-pinned signature
// verification, then exp/iat checks within clock skew.
func (v *Validator) Validate(ctx context.Context, tokenString string) (models.Claims, error) {
	correlationID := uuid.NewString()

	if len(tokenString) > maxTokenBytes {
		v.reject(correlationID, "token exceeds max size", nil)
		return models.Claims{}, ErrInvalidOrExpired
	}

	kid, err := extractKid(tokenString)
	if err != nil {
		v.reject(correlationID, "failed to extract kid", err)
		return models.Claims{}, ErrInvalidOrExpired
	}

	key, ok, err := v.keys.Get(ctx, kid)
	if err != nil {
		v.reject(correlationID, "jwks lookup failed", err)
		return models.Claims{}, ErrInvalidOrExpired
	}
	if !ok {
		v.reject(correlationID, "kid not found in jwks", nil)
		return models.Claims{}, ErrInvalidOrExpired
	}
	if key.Kty != "OKP" || (key.Alg != "" && key.Alg != "EdDSA") {
		v.reject(correlationID, "jwk shape mismatch", nil)
		return models.Claims{}, ErrInvalidOrExpired
	}
	if len(key.X) != ed25519.PublicKeySize {
		v.reject(correlationID, "jwk key size mismatch", nil)
		return models.Claims{}, ErrInvalidOrExpired
	}

	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		return ed25519.PublicKey(key.X), nil
	}, jwt.WithValidMethods([]string{"EdDSA"}))
	if err != nil || !parsed.Valid {
		v.reject(correlationID, "signature verification failed", err)
		return models.Claims{}, ErrInvalidOrExpired
	}

	now := time.Now()
	if claims.Exp == 0 || time.Unix(claims.Exp, 0).Before(now) || time.Unix(claims.Exp, 0).Equal(now) {
		v.reject(correlationID, "token expired", nil)
		return models.Claims{}, ErrInvalidOrExpired
	}
	if claims.Iat != 0 && time.Unix(claims.Iat, 0).After(now.Add(v.clockSkew)) {
		v.reject(correlationID, "iat too far in the future", nil)
		return models.Claims{}, ErrInvalidOrExpired
	}

	return models.Claims{
		Subject:   claims.Subject,
		Scope:     claims.Scope,
		Issuer:    claims.Issuer,
		ExpiresAt: time.Unix(claims.Exp, 0),
		IssuedAt:  time.Unix(claims.Iat, 0),
	}, nil
}

func (v *Validator) reject(correlationID, reason string, cause error) {
	logger.Default().Info("token validation failed",
		"correlation_id", correlationID, "reason", reason, "cause", cause)
}

type jwtHeader struct {
	Kid string `json:"kid"`
	Alg string `json:"alg"`
}

// extractKid parses only the JWT header segment, never touching the
// payload or signature, and requires kid to be a JSON string.
func extractKid(tokenString string) (string, error) {
	parts, err := splitHeader(tokenString)
	if err != nil {
		return "", err
	}
	var h jwtHeader
	if err := json.Unmarshal(parts, &h); err != nil {
		return "", fmt.Errorf("decode header: %w", err)
	}
	if h.Kid == "" {
		return "", errors.New("missing kid")
	}
	return h.Kid, nil
}
