// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

// Package httpapi exposes the public HTTP API: health/readiness probes,
// meeting join, guest join, and host-only settings updates.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meetmesh/gc/internal/apperr"
	"github.com/meetmesh/gc/internal/join"
	meetingmodels "github.com/meetmesh/gc/internal/meeting/models"
	"github.com/meetmesh/pkg/httputil"
	"github.com/meetmesh/pkg/middleware"
	"github.com/meetmesh/pkg/models"
	"github.com/meetmesh/pkg/validator"
)

// Pinger checks DB reachability for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MeetingSettingsUpdater applies host-only settings changes, satisfied by
// the meeting repository.
type MeetingSettingsUpdater interface {
	GetByID(ctx context.Context, id string) (*meetingmodels.Meeting, error)
	UpdateSettings(ctx context.Context, id string, in meetingmodels.SettingsInput) error
}

// Handler serves the public API.
type Handler struct {
	orchestrator *join.Orchestrator
	meetings     MeetingSettingsUpdater
	db           Pinger
}

// New creates a Handler.
func New(orchestrator *join.Orchestrator, meetings MeetingSettingsUpdater, db Pinger) *Handler {
	return &Handler{orchestrator: orchestrator, meetings: meetings, db: db}
}

// Health is the liveness probe; it performs no downstream checks.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready is the readiness probe; it actually pings the database.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		errorEnvelope(w, http.StatusServiceUnavailable, apperr.ClientMessage(apperr.ServiceUnavailable))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type joinResponse struct {
	MCEndpoint string `json:"mc_endpoint"`
	Token      string `json:"token"`
	ExpiresIn  int    `json:"expires_in"`
}

// JoinMeeting handles GET /api/v1/meetings/{code}: an authenticated user
// joining a meeting.
func (h *Handler) JoinMeeting(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	claims := models.Claims{
		Subject: middleware.GetSubject(r.Context()),
		Scope:   middleware.GetScope(r.Context()),
	}

	orgID := r.URL.Query().Get("org_id")
	isExternal := r.URL.Query().Get("external") == "true"

	result, err := h.orchestrator.JoinAuthenticated(r.Context(), code, claims, orgID, isExternal)
	if err != nil {
		writeAppErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, joinResponse{
		MCEndpoint: result.MCEndpoint, Token: result.Token, ExpiresIn: result.ExpiresIn,
	})
}

type guestJoinRequest struct {
	DisplayName  string `json:"display_name" validate:"required,max=128"`
	CaptchaToken string `json:"captcha_token" validate:"required"`
}

// GuestJoin handles POST /api/v1/meetings/{code}/guest-token. Captcha
// validation is a deliberate placeholder: production integration is
// unspecified upstream, so any non-empty token is accepted.
func (h *Handler) GuestJoin(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	var req guestJoinRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		errorEnvelope(w, http.StatusBadRequest, apperr.ClientMessage(apperr.InvalidInput))
		return
	}
	if err := validator.Validate(req); err != nil {
		errorEnvelope(w, http.StatusBadRequest, apperr.ClientMessage(apperr.InvalidInput))
		return
	}

	result, err := h.orchestrator.JoinGuest(r.Context(), code, req.DisplayName)
	if err != nil {
		writeAppErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, joinResponse{
		MCEndpoint: result.MCEndpoint, Token: result.Token, ExpiresIn: result.ExpiresIn,
	})
}

// UpdateSettings handles PATCH /api/v1/meetings/{id}/settings, host-only.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	subject := middleware.GetSubject(r.Context())

	meeting, err := h.meetings.GetByID(r.Context(), id)
	if err != nil {
		errorEnvelope(w, http.StatusNotFound, apperr.ClientMessage(apperr.NotFound))
		return
	}
	if meeting.CreatedByUserID != subject {
		errorEnvelope(w, http.StatusForbidden, apperr.ClientMessage(apperr.Forbidden))
		return
	}

	var in meetingmodels.SettingsInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		errorEnvelope(w, http.StatusBadRequest, apperr.ClientMessage(apperr.InvalidInput))
		return
	}

	if err := h.meetings.UpdateSettings(r.Context(), id, in); err != nil {
		errorEnvelope(w, http.StatusInternalServerError, apperr.ClientMessage(apperr.Internal))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
