// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meetmesh/pkg/middleware"
	"github.com/meetmesh/pkg/models"
)

// NewRouter builds the public API's chi router. authn is the shared
// Authenticator; both meeting endpoints and settings require a valid
// "user" scope while guest join and the probes are unauthenticated.
// limiter guards the guest-token endpoint, the one endpoint exposed to
// unauthenticated callers behind only a captcha check; it is a no-op when
// rateLimitEnabled is false or limiter has a nil Redis client.
func NewRouter(h *Handler, authn models.Authenticator, corsOrigins []string, limiter *middleware.RateLimiter, rateLimitEnabled bool) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(corsOrigins))
	r.Use(middleware.LimitRequestSize(1 << 20))

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)

	r.Route("/api/v1/meetings", func(r chi.Router) {
		if rateLimitEnabled {
			// Guest token minting: 10 requests/minute/IP+path.
			r.With(limiter.Limit(middleware.RateLimitConfig{
				Requests: 10,
				Window:   time.Minute,
				KeyFunc:  middleware.CombinedKeyFunc,
			})).Post("/{code}/guest-token", h.GuestJoin)
		} else {
			r.Post("/{code}/guest-token", h.GuestJoin)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(authn))
			r.Use(middleware.RequireScope("user"))

			r.Get("/{code}", h.JoinMeeting)
			r.Patch("/{id}/settings", h.UpdateSettings)
		})
	})

	return r
}
