// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

package models

import (
	"time"

	pkgmodels "github.com/meetmesh/pkg/models"
)

// MC is a registered Meeting Controller.
type MC struct {
	ControllerID        string             `json:"controller_id" db:"controller_id"`
	Region              string             `json:"region" db:"region"`
	Endpoint            string             `json:"endpoint" db:"endpoint"`
	Version             string             `json:"version" db:"version"`
	MaxMeetings         int32              `json:"max_meetings" db:"max_meetings"`
	CurrentMeetings     int32              `json:"current_meetings" db:"current_meetings"`
	MaxParticipants     int32              `json:"max_participants" db:"max_participants"`
	CurrentParticipants int32              `json:"current_participants" db:"current_participants"`
	HealthStatus        pkgmodels.HealthStatus `json:"health_status" db:"health_status"`
	Metrics             Metrics            `json:"metrics" db:"metrics"`
	LastHeartbeatAt     time.Time          `json:"last_heartbeat_at" db:"last_heartbeat_at"`
	CreatedAt           time.Time          `json:"created_at" db:"created_at"`
}

// LoadRatio is the larger of the meeting-count ratio and the
// participant-count ratio, per the load-balancer weighting rule.
func (mc *MC) LoadRatio() float64 {
	return maxRatio(mc.CurrentMeetings, mc.MaxMeetings, mc.CurrentParticipants, mc.MaxParticipants)
}

// HasCapacityFor reports whether mc can accept one more meeting with
// needRoomFor additional participants.
func (mc *MC) HasCapacityFor(needRoomFor int32) bool {
	return mc.CurrentMeetings < mc.MaxMeetings && mc.CurrentParticipants+needRoomFor <= mc.MaxParticipants
}

// MH is a registered Media Handler: parallel to MC, with an availability
// zone and session counts instead of meeting/participant counts.
type MH struct {
	HandlerID        string             `json:"handler_id" db:"handler_id"`
	Region           string             `json:"region" db:"region"`
	Endpoint         string             `json:"endpoint" db:"endpoint"`
	Version          string             `json:"version" db:"version"`
	AvailabilityZone string             `json:"availability_zone" db:"availability_zone"`
	MaxSessions      int32              `json:"max_sessions" db:"max_sessions"`
	CurrentSessions  int32              `json:"current_sessions" db:"current_sessions"`
	HealthStatus     pkgmodels.HealthStatus `json:"health_status" db:"health_status"`
	Metrics          Metrics            `json:"metrics" db:"metrics"`
	LastHeartbeatAt  time.Time          `json:"last_heartbeat_at" db:"last_heartbeat_at"`
	CreatedAt        time.Time          `json:"created_at" db:"created_at"`
}

// LoadRatio is current/max sessions.
func (mh *MH) LoadRatio() float64 {
	return maxRatio(mh.CurrentSessions, mh.MaxSessions, 0, 0)
}

func maxRatio(a, aMax, b, bMax int32) float64 {
	ratio := func(n, max int32) float64 {
		if max <= 0 {
			return 1
		}
		return float64(n) / float64(max)
	}
	ra := ratio(a, aMax)
	if bMax == 0 {
		return ra
	}
	rb := ratio(b, bMax)
	if rb > ra {
		return rb
	}
	return ra
}

// Metrics holds the extended utilization fields reported by heartbeat_full.
// Stored as a single jsonb column since they are read only for observability,
// never filtered on.
type Metrics struct {
	CPUPercent    float64 `json:"cpu_pct,omitempty"`
	MemPercent    float64 `json:"mem_pct,omitempty"`
	BandwidthBps  float64 `json:"bw_bps,omitempty"`
	ErrorRate     float64 `json:"err_rate,omitempty"`
	LatencyP50Ms  float64 `json:"latency_p50,omitempty"`
	LatencyP95Ms  float64 `json:"latency_p95,omitempty"`
	LatencyP99Ms  float64 `json:"latency_p99,omitempty"`
}

// RegisterMCInput is the validated payload for registering or re-registering
// a Meeting Controller.
type RegisterMCInput struct {
	ControllerID    string `validate:"required,max=128,hostnamechars"`
	Region          string `validate:"required,max=64,regionchars"`
	Endpoint        string `validate:"required,max=256,hostname_port"`
	Version         string `validate:"omitempty,max=32,versionchars"`
	MaxMeetings     uint32 `validate:"required,min=1"`
	MaxParticipants uint32 `validate:"required,min=1"`
}

// RegisterMHInput is the analogous payload for Media Handlers.
type RegisterMHInput struct {
	HandlerID        string `validate:"required,max=128,hostnamechars"`
	Region           string `validate:"required,max=64,regionchars"`
	Endpoint         string `validate:"required,max=256,hostname_port"`
	Version          string `validate:"omitempty,max=32,versionchars"`
	AvailabilityZone string `validate:"required,max=64,regionchars"`
	MaxSessions      uint32 `validate:"required,min=1"`
}
