// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

package cache

import "fmt"

// Cache key prefixes
const (
	PrefixJWKS      = "jwks"
	PrefixRateLimit = "ratelimit"
)

// JWKSKeyEntryKey returns the Redis key for a single cached JWK, used as the
// L2 tier behind C2's in-process RW-locked cache so a rotation fetched by one
// GC replica is visible to the others before their own TTL expires.
func JWKSKeyEntryKey(kid string) string {
	return fmt.Sprintf("%s:kid:%s", PrefixJWKS, kid)
}

// JWKSRotationChannel is the Redis pub/sub channel C2 publishes to after a
// successful refresh, so sibling GC instances can proactively invalidate
// their in-process cache instead of waiting out the TTL.
const JWKSRotationChannel = PrefixJWKS + ":rotated"

// RateLimitKey returns the Redis key backing the sliding-window counter for
// a rate-limited identity (see pkg/middleware.RateLimiter).
func RateLimitKey(identity string) string {
	return fmt.Sprintf("%s:%s", PrefixRateLimit, identity)
}
