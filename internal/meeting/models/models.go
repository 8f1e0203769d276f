// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

package models

import "time"

// Status is the lifecycle state of a Meeting as seen by the join orchestrator.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusEnded     Status = "ended"
)

// Meeting is the minimal view C10 needs to resolve a join by code: identity,
// org scoping, and the host-controlled access flags.
type Meeting struct {
	ID                        string    `json:"id" db:"id"`
	Code                      string    `json:"code" db:"code"`
	OrgID                     string    `json:"org_id" db:"org_id"`
	Status                    Status    `json:"status" db:"status"`
	CreatedByUserID           string    `json:"created_by_user_id" db:"created_by_user_id"`
	AllowGuests               bool      `json:"allow_guests" db:"allow_guests"`
	AllowExternalParticipants bool      `json:"allow_external_participants" db:"allow_external_participants"`
	WaitingRoomEnabled        bool      `json:"waiting_room_enabled" db:"waiting_room_enabled"`
	CreatedAt                 time.Time `json:"created_at" db:"created_at"`
}

// Joinable reports whether the meeting can accept a new participant.
func (m *Meeting) Joinable() bool {
	return m.Status == StatusActive
}

// SettingsInput is the validated payload for PATCH .../settings.
type SettingsInput struct {
	AllowGuests               *bool `json:"allow_guests,omitempty"`
	AllowExternalParticipants *bool `json:"allow_external_participants,omitempty"`
	WaitingRoomEnabled        *bool `json:"waiting_room_enabled,omitempty"`
}
