// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

// Package authgate is the single logical authentication boundary shared by
// both the public HTTP API and the inbound RPC surface. It extracts the
// bearer token, hands it to the token validator, and attaches Claims to the
// caller on success.
package authgate

import (
	"context"
	"strings"

	"github.com/meetmesh/pkg/models"
)

const bearerPrefix = "Bearer "

// TokenValidator is the narrow contract authgate depends on, satisfied by
// *tokenvalidator.Validator.
type TokenValidator interface {
	Validate(ctx context.Context, tokenString string) (models.Claims, error)
}

// Gate implements models.Authenticator for both transports.
type Gate struct {
	validator TokenValidator
}

// New creates a Gate over validator.
func New(validator TokenValidator) *Gate {
	return &Gate{validator: validator}
}

// ErrMissingBearer is returned when the Authorization header lacks the
// exact "Bearer " prefix (case-sensitive, single space).
var ErrMissingBearer = missingBearerErr{}

type missingBearerErr struct{}

func (missingBearerErr) Error() string { return "missing bearer prefix" }

// Authenticate extracts the bearer token from header (the raw Authorization
// header value) and validates it. header must carry the exact "Bearer "
// prefix; anything else is rejected without reaching the validator.
func (g *Gate) Authenticate(ctx context.Context, header string) (models.Claims, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return models.Claims{}, ErrMissingBearer
	}
	token := strings.TrimPrefix(header, bearerPrefix)
	return g.validator.Validate(ctx, token)
}
