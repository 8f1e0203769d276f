// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// Licensed under the Business Source License 1.1
// See LICENSE file for details

package models

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entity represents a base entity with a unique identifier.
type Entity struct {
	ID uuid.UUID `json:"id" db:"id"`
}

// TimestampedEntity represents an entity with creation and update timestamps.
type TimestampedEntity struct {
	Entity
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SoftDeletableEntity represents an entity that can be soft deleted.
type SoftDeletableEntity struct {
	TimestampedEntity
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Claims is the verified identity carried by a service-to-service access
// token after signature and expiry checks pass. It is the shared contract
// between the HTTP middleware and the RPC handler wrapper, both of which
// delegate the actual verification to an Authenticator.
type Claims struct {
	Subject   string    `json:"sub"`
	Scope     string    `json:"scope"`
	Issuer    string    `json:"iss"`
	ExpiresAt time.Time `json:"exp"`
	IssuedAt  time.Time `json:"iat"`
}

// Authenticator verifies a bearer token and returns the claims it carries.
// Implementations must return a generic, non-descriptive error on every
// failure path so callers cannot distinguish malformed tokens, expired
// tokens, or signature failures from the response alone.
type Authenticator interface {
	Authenticate(ctx context.Context, bearerToken string) (Claims, error)
}
