// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

// Package rpcserver exposes the inbound RPC surface MCs and MHs call to
// register and heartbeat. Every method is authenticated the same way the
// public API is, via the shared Authenticator, and scoped to "mc" or "mh".
package rpcserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meetmesh/gc/internal/apperr"
	"github.com/meetmesh/gc/internal/registry/models"
	"github.com/meetmesh/pkg/middleware"
	pkgmodels "github.com/meetmesh/pkg/models"
)

// Registry is the narrow registry contract the RPC surface needs.
type Registry interface {
	RegisterMC(ctx context.Context, in models.RegisterMCInput) (string, error)
	RegisterMH(ctx context.Context, in models.RegisterMHInput) (string, error)
	HeartbeatFastMC(ctx context.Context, controllerID string, currentMeetings, currentParticipants uint32) (bool, error)
	HeartbeatFullMC(ctx context.Context, controllerID string, currentMeetings, currentParticipants uint32, metrics models.Metrics) (bool, error)
	HeartbeatFastMH(ctx context.Context, handlerID string, currentSessions uint32) (bool, error)
	HeartbeatFullMH(ctx context.Context, handlerID string, currentSessions uint32, metrics models.Metrics) (bool, error)
}

// Server serves the register/heartbeat RPC methods over JSON-over-HTTP.
type Server struct {
	registry Registry
}

// New creates a Server.
func New(registry Registry) *Server {
	return &Server{registry: registry}
}

// NewRouter builds the chi router mounted at /internal/v1. Every route
// requires a valid bearer token scoped "mc" or "mh" matching the caller's
// own kind.
func NewRouter(s *Server, authn pkgmodels.Authenticator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Auth(authn))

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireScope("mc"))
		r.Post("/register-mc", s.RegisterMC)
		r.Post("/heartbeat-fast-mc", s.HeartbeatFastMC)
		r.Post("/heartbeat-full-mc", s.HeartbeatFullMC)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireScope("mh"))
		r.Post("/register-mh", s.RegisterMH)
		r.Post("/heartbeat-fast-mh", s.HeartbeatFastMH)
		r.Post("/heartbeat-full-mh", s.HeartbeatFullMH)
	})

	return r
}

type registerMCRequest struct {
	ControllerID    string `json:"controller_id"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	Version         string `json:"version"`
	MaxMeetings     uint32 `json:"max_meetings"`
	MaxParticipants uint32 `json:"max_participants"`
}

type registerReply struct {
	RegistrationID string `json:"registration_id"`
}

// RegisterMC handles POST /internal/v1/register-mc.
func (s *Server) RegisterMC(w http.ResponseWriter, r *http.Request) {
	var req registerMCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.New(apperr.InvalidInput, "malformed request body"))
		return
	}

	id, err := s.registry.RegisterMC(r.Context(), models.RegisterMCInput{
		ControllerID: req.ControllerID, Region: req.Region, Endpoint: req.Endpoint,
		Version: req.Version, MaxMeetings: req.MaxMeetings, MaxParticipants: req.MaxParticipants,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, registerReply{RegistrationID: id})
}

type registerMHRequest struct {
	HandlerID        string `json:"handler_id"`
	Region           string `json:"region"`
	Endpoint         string `json:"endpoint"`
	Version          string `json:"version"`
	AvailabilityZone string `json:"availability_zone"`
	MaxSessions      uint32 `json:"max_sessions"`
}

// RegisterMH handles POST /internal/v1/register-mh.
func (s *Server) RegisterMH(w http.ResponseWriter, r *http.Request) {
	var req registerMHRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.New(apperr.InvalidInput, "malformed request body"))
		return
	}

	id, err := s.registry.RegisterMH(r.Context(), models.RegisterMHInput{
		HandlerID: req.HandlerID, Region: req.Region, Endpoint: req.Endpoint,
		Version: req.Version, AvailabilityZone: req.AvailabilityZone, MaxSessions: req.MaxSessions,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, registerReply{RegistrationID: id})
}

type heartbeatFastRequest struct {
	ControllerID        string `json:"controller_id"`
	HandlerID           string `json:"handler_id"`
	CurrentMeetings     uint32 `json:"current_meetings"`
	CurrentParticipants uint32 `json:"current_participants"`
	CurrentSessions     uint32 `json:"current_sessions"`
}

type heartbeatFullRequest struct {
	heartbeatFastRequest
	CPUPercent   float64 `json:"cpu_pct"`
	MemPercent   float64 `json:"mem_pct"`
	BandwidthBps float64 `json:"bw_bps"`
	ErrorRate    float64 `json:"err_rate"`
	LatencyP50Ms float64 `json:"latency_p50"`
	LatencyP95Ms float64 `json:"latency_p95"`
	LatencyP99Ms float64 `json:"latency_p99"`
}

type heartbeatReply struct {
	OK bool `json:"ok"`
}

// HeartbeatFastMC handles POST /internal/v1/heartbeat-fast-mc. A reply of
// ok=false commands the MC to re-register.
func (s *Server) HeartbeatFastMC(w http.ResponseWriter, r *http.Request) {
	var req heartbeatFastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.New(apperr.InvalidInput, "malformed request body"))
		return
	}

	ok, err := s.registry.HeartbeatFastMC(r.Context(), req.ControllerID, req.CurrentMeetings, req.CurrentParticipants)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, heartbeatReply{OK: ok})
}

// HeartbeatFullMC handles POST /internal/v1/heartbeat-full-mc.
func (s *Server) HeartbeatFullMC(w http.ResponseWriter, r *http.Request) {
	var req heartbeatFullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.New(apperr.InvalidInput, "malformed request body"))
		return
	}

	ok, err := s.registry.HeartbeatFullMC(r.Context(), req.ControllerID, req.CurrentMeetings, req.CurrentParticipants, toMetrics(req))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, heartbeatReply{OK: ok})
}

// HeartbeatFastMH handles POST /internal/v1/heartbeat-fast-mh.
func (s *Server) HeartbeatFastMH(w http.ResponseWriter, r *http.Request) {
	var req heartbeatFastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.New(apperr.InvalidInput, "malformed request body"))
		return
	}

	ok, err := s.registry.HeartbeatFastMH(r.Context(), req.HandlerID, req.CurrentSessions)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, heartbeatReply{OK: ok})
}

// HeartbeatFullMH handles POST /internal/v1/heartbeat-full-mh.
func (s *Server) HeartbeatFullMH(w http.ResponseWriter, r *http.Request) {
	var req heartbeatFullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.New(apperr.InvalidInput, "malformed request body"))
		return
	}

	ok, err := s.registry.HeartbeatFullMH(r.Context(), req.HandlerID, req.CurrentSessions, toMetrics(req))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, heartbeatReply{OK: ok})
}

func toMetrics(req heartbeatFullRequest) models.Metrics {
	return models.Metrics{
		CPUPercent: req.CPUPercent, MemPercent: req.MemPercent, BandwidthBps: req.BandwidthBps,
		ErrorRate: req.ErrorRate, LatencyP50Ms: req.LatencyP50Ms, LatencyP95Ms: req.LatencyP95Ms,
		LatencyP99Ms: req.LatencyP99Ms,
	}
}

func writeErr(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(kind))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": apperr.ClientMessage(kind)})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
