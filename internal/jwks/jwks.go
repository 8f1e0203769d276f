// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

// Package jwks fetches and caches AC's JSON Web Key Set, keyed by kid. It is
// the only owner of this cache; every other component reaches it exclusively
// through Get.
package jwks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meetmesh/pkg/cache"
)

// Key is a single JWK as relevant to EdDSA verification.
type Key struct {
	Kid string
	Kty string
	Alg string
	X   []byte // raw Ed25519 public key bytes, base64url-decoded from "x"
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	X   string `json:"x"`
}

type jwksDoc struct {
	Keys []jwk `json:"keys"`
}

// RotationNotifier publishes an event after a successful refresh so sibling
// GC instances can proactively invalidate ahead of their own TTL. It is
// optional; a nil notifier simply skips the publish.
type RotationNotifier interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Cache fetches AC's JWKS over HTTPS and serves {kid -> Key} lookups. A
// secondary Redis tier, shared across GC replicas, is consulted before
// falling back to an HTTP refresh so a kid fetched by one replica doesn't
// force every sibling to hit AC again.
type Cache struct {
	url       string
	ttl       time.Duration
	client    *http.Client
	notify    RotationNotifier
	secondary cache.Cache

	mu        sync.RWMutex
	keys      map[string]Key
	expiresAt time.Time

	group singleflight.Group
}

// New creates a JWKS cache for url with the given TTL and HTTP client
// timeout. notify and secondary may both be nil; secondary falls back to
// a NoOpCache behavior automatically when built via cache.NewRedisCache
// with a nil Redis client.
func New(url string, ttl time.Duration, httpTimeout time.Duration, notify RotationNotifier, secondary cache.Cache) *Cache {
	if ttl <= 0 {
		ttl = cache.TTLJWKSEntry
	}
	return &Cache{
		url:       url,
		ttl:       ttl,
		client:    &http.Client{Timeout: httpTimeout},
		notify:    notify,
		secondary: secondary,
		keys:      make(map[string]Key),
	}
}

// Get returns the key for kid, refreshing the cache if kid is not in it or
// it has expired. A miss against the in-process map is first checked against the
// Redis secondary tier before falling back to an HTTP refresh, which
// concurrent callers collapse onto a single fetch via singleflight.
// Returns (Key{}, false) if kid is absent even after a fresh fetch.
func (c *Cache) Get(ctx context.Context, kid string) (Key, bool, error) {
	c.mu.RLock()
	notExpired := time.Now().Before(c.expiresAt)
	k, ok := c.keys[kid]
	c.mu.RUnlock()
	if notExpired && ok {
		return k, true, nil
	}

	if k, ok := c.fromSecondary(ctx, kid); ok {
		return k, true, nil
	}

	_, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		c.mu.Lock()
		_, has := c.keys[kid]
		fresh := time.Now().Before(c.expiresAt) && has
		c.mu.Unlock()
		if fresh {
			return nil, nil
		}
		return nil, c.refresh(ctx)
	})
	if err != nil {
		return Key{}, false, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok = c.keys[kid]
	return k, ok, nil
}

// fromSecondary checks the Redis L2 tier for kid, populated by whichever
// replica last fetched the JWKS document.
func (c *Cache) fromSecondary(ctx context.Context, kid string) (Key, bool) {
	if c.secondary == nil || !c.secondary.IsEnabled() {
		return Key{}, false
	}
	var k Key
	if err := c.secondary.Get(ctx, cache.JWKSKeyEntryKey(kid), &k); err != nil {
		return Key{}, false
	}
	return k, true
}

// Invalidate forces the next Get to refresh regardless of TTL, used when a
// sibling GC's rotation notification arrives over pub/sub.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

func (c *Cache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("build jwks request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	var doc jwksDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	next := make(map[string]Key, len(doc.Keys))
	for _, k := range doc.Keys {
		raw, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil {
			continue
		}
		next[k.Kid] = Key{Kid: k.Kid, Kty: k.Kty, Alg: k.Alg, X: raw}
	}

	c.mu.Lock()
	c.keys = next
	c.expiresAt = time.Now().Add(c.ttl)
	c.mu.Unlock()

	if c.secondary != nil && c.secondary.IsEnabled() {
		for kid, k := range next {
			_ = c.secondary.Set(ctx, cache.JWKSKeyEntryKey(kid), k, c.ttl)
		}
	}

	if c.notify != nil {
		_ = c.notify.Publish(ctx, cache.JWKSRotationChannel, "rotated")
	}
	return nil
}
