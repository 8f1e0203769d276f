// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

package models

import "time"

// Assignment binds a meeting, within a region, to the Meeting Controller
// currently hosting it. (MeetingID, Region) is unique only among active
// rows (EndedAt == nil). A reassignment away from an unhealthy MC updates
// the active row in place; a row is ended when the meeting ends or by the
// stale-MC cleanup, and stays until the cleanup loop purges it.
type Assignment struct {
	MeetingID    string     `json:"meeting_id" db:"meeting_id"`
	Region       string     `json:"region" db:"region"`
	MCID         string     `json:"meeting_controller_id" db:"meeting_controller_id"`
	AssignedAt   time.Time  `json:"assigned_at" db:"assigned_at"`
	AssignedByGC string     `json:"assigned_by_gc_id" db:"assigned_by_gc_id"`
	EndedAt      *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// Active reports whether the assignment has not yet ended.
func (a *Assignment) Active() bool {
	return a.EndedAt == nil
}
