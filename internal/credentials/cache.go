// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

// Package credentials maintains a single valid AC bearer token for the GC
// instance. One task exclusively owns the mutable token (single-writer);
// every other component observes it through Current/Changed, a
// single-publisher many-observer broadcast.
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/meetmesh/pkg/logger"
)

// Config configures the credential cache's AC client and refresh pacing.
type Config struct {
	TokenURL         string
	ClientID         string
	ClientSecret     Secret
	RefreshThreshold time.Duration
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	HTTPTimeout      time.Duration
	ConnectTimeout   time.Duration
	ClockDriftMargin time.Duration
	// allowInsecure permits a non-HTTPS TokenURL; only NewInsecure sets this.
	allowInsecure bool
}

func (c Config) validate() error {
	if c.ClientID == "" || c.ClientSecret.Reveal() == "" {
		return configurationErr("client_id and client_secret are required")
	}
	u, err := url.Parse(c.TokenURL)
	if err != nil || u.Host == "" {
		return configurationErr("token url is not a valid absolute URL")
	}
	if !c.allowInsecure && u.Scheme != "https" {
		return configurationErr("token url must be https in the secure constructor")
	}
	return nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Cache holds the current AC bearer token and refreshes it in the
// background before it expires.
type Cache struct {
	cfg    Config
	client *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	changedCh chan struct{}
	closed    bool
}

// New blocks until the first token acquisition succeeds (retrying
// indefinitely with exponential backoff) or ctx is cancelled, then starts
// the background refresh loop. Callers never observe an unready cache.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	return newCache(ctx, cfg)
}

// NewInsecure is the local-development constructor: it permits a non-HTTPS
// token URL. It must never be used in production.
func NewInsecure(ctx context.Context, cfg Config) (*Cache, error) {
	cfg.allowInsecure = true
	return newCache(ctx, cfg)
}

func newCache(ctx context.Context, cfg Config) (*Cache, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.ClockDriftMargin <= 0 {
		cfg.ClockDriftMargin = 30 * time.Second
	}

	c := &Cache{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.HTTPTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
			},
		},
		changedCh: make(chan struct{}),
	}

	if err := c.acquireUntilSuccess(ctx); err != nil {
		return nil, err
	}
	go c.refreshLoop(ctx)
	return c, nil
}

// Current returns the latest token without blocking the refresh loop.
func (c *Cache) Current() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Changed returns a channel that closes when a newer token is published.
// Calling Current() immediately after a receive from this channel is
// guaranteed to return the newer value.
func (c *Cache) Changed() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changedCh
}

func (c *Cache) publish(token string, expiresAt time.Time) {
	c.mu.Lock()
	c.token = token
	c.expiresAt = expiresAt
	old := c.changedCh
	c.changedCh = make(chan struct{})
	c.mu.Unlock()
	close(old)
}

// Close cancels the holder: it closes the current Changed() channel, which
// wakes every pending waiter. It returns no error and nothing here returns
// ErrChannelClosed.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	old := c.changedCh
	c.mu.Unlock()
	close(old)
}

func (c *Cache) acquireUntilSuccess(ctx context.Context) error {
	backoff := c.cfg.InitialBackoff
	for {
		token, expiresAt, err := c.fetch(ctx)
		if err == nil {
			c.mu.Lock()
			c.token = token
			c.expiresAt = expiresAt
			c.mu.Unlock()
			return nil
		}

		var credErr *Error
		if e, ok := err.(*Error); ok {
			credErr = e
		}
		logger.Default().Warn("credential acquisition failed, retrying",
			"error", err, "backoff", backoff)

		if credErr != nil && credErr.Kind == KindConfiguration {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

func (c *Cache) refreshLoop(ctx context.Context) {
	backoff := c.cfg.InitialBackoff
	for {
		c.mu.RLock()
		sleepFor := time.Until(c.expiresAt.Add(-c.cfg.RefreshThreshold).Add(-c.cfg.ClockDriftMargin))
		c.mu.RUnlock()
		if sleepFor < 0 {
			sleepFor = 0
		}

		select {
		case <-ctx.Done():
			c.Close()
			return
		case <-time.After(sleepFor):
		}

		token, expiresAt, err := c.fetch(ctx)
		if err != nil {
			logger.Default().Error("credential refresh failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				c.Close()
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
			continue
		}
		backoff = c.cfg.InitialBackoff
		c.publish(token, expiresAt)
	}
}

func (c *Cache) fetch(ctx context.Context) (string, time.Time, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret.Reveal())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return "", time.Time{}, transportErr("build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", time.Time{}, transportErr("token request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", time.Time{}, transportErr(fmt.Sprintf("AC returned status %d", resp.StatusCode), nil)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest || (resp.StatusCode >= 400 && resp.StatusCode < 500) {
		logger.Default().Debug("AC rejected token request", "status", resp.StatusCode)
		return "", time.Time{}, authRejectedErr(resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", time.Time{}, transportErr(fmt.Sprintf("unexpected AC status %d", resp.StatusCode), nil)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", time.Time{}, invalidResponseErr("malformed token response body")
	}
	if strings.TrimSpace(body.AccessToken) == "" {
		return "", time.Time{}, invalidResponseErr("missing access_token")
	}
	if body.ExpiresIn <= 0 {
		return "", time.Time{}, invalidResponseErr("missing or non-positive expires_in")
	}

	return body.AccessToken, time.Now().Add(time.Duration(body.ExpiresIn) * time.Second), nil
}
