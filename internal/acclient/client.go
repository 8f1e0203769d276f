// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

// Package acclient mints meeting and guest tokens from AC, authorizing
// outbound calls with the credential cache's current bearer token.
package acclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/meetmesh/gc/internal/apperr"
)

// TokenSource supplies the current outbound bearer token.
type TokenSource interface {
	Current() string
}

// MeetingTokenRequest is the payload for minting an authenticated
// participant's meeting token.
type MeetingTokenRequest struct {
	Subject         string   `json:"subject"`
	MeetingID       string   `json:"meeting_id"`
	MeetingOrgID    string   `json:"meeting_org_id"`
	ParticipantType string   `json:"participant_type"`
	Role            string   `json:"role"`
	Capabilities    []string `json:"capabilities"`
	TTLSeconds      int      `json:"ttl_seconds"`
}

// GuestTokenRequest is the payload for minting a guest's meeting token.
type GuestTokenRequest struct {
	Subject      string   `json:"subject"`
	MeetingID    string   `json:"meeting_id"`
	MeetingOrgID string   `json:"meeting_org_id"`
	DisplayName  string   `json:"display_name"`
	Capabilities []string `json:"capabilities"`
	TTLSeconds   int      `json:"ttl_seconds"`
}

// TokenReply is AC's response to a mint request.
type TokenReply struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// Client calls AC's internal token-minting endpoints.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
}

// New creates a Client. totalTimeout bounds the full request; connectTimeout
// bounds only the dial.
func New(baseURL string, tokens TokenSource, totalTimeout, connectTimeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		http: &http.Client{
			Timeout: totalTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
	}
}

// MintMeetingToken mints a token for an authenticated participant.
func (c *Client) MintMeetingToken(ctx context.Context, req MeetingTokenRequest) (TokenReply, error) {
	var out TokenReply
	err := c.post(ctx, "/api/v1/auth/internal/meeting-token", req, &out)
	return out, err
}

// MintGuestToken mints a token for a guest participant.
func (c *Client) MintGuestToken(ctx context.Context, req GuestTokenRequest) (TokenReply, error) {
	var out TokenReply
	err := c.post(ctx, "/api/v1/auth/internal/guest-token", req, &out)
	return out, err
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "marshal ac request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return apperr.Wrap(apperr.Internal, "build ac request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.tokens.Current())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return apperr.Wrap(apperr.ServiceUnavailable, "ac request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperr.Wrap(apperr.Internal, "decode ac response", err)
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperr.New(apperr.Unauthorized, "ac rejected request")
	case resp.StatusCode >= 500:
		return apperr.New(apperr.ServiceUnavailable, fmt.Sprintf("ac returned status %d", resp.StatusCode))
	default:
		return apperr.New(apperr.Internal, fmt.Sprintf("unexpected ac status %d", resp.StatusCode))
	}
}
