// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

// Package repository persists meeting-to-controller assignments with the
// single-statement atomic upsert that makes reassignment race-free: a
// separate "end stale" step followed by a separate "insert new" step would
// let two statements observe the same snapshot and disagree on the winner.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meetmesh/gc/internal/assignment/models"
)

// ErrNotFound is returned when no active assignment exists for the key.
var ErrNotFound = errors.New("assignment not found")

// Repository persists MeetingAssignment rows.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new assignment repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetHealthyAssignment returns the active assignment for (meetingID, region)
// only if its owning MC is still healthy. An active assignment whose MC has
// gone unhealthy is reported as not found, so the caller reassigns.
func (r *Repository) GetHealthyAssignment(ctx context.Context, meetingID, region string) (*models.Assignment, error) {
	query := `
		SELECT a.meeting_id, a.region, a.meeting_controller_id, a.assigned_at, a.assigned_by_gc_id, a.ended_at
		FROM meeting_assignments a
		JOIN meeting_controllers mc ON mc.controller_id = a.meeting_controller_id
		WHERE a.meeting_id = $1 AND a.region = $2 AND a.ended_at IS NULL AND mc.health_status = 'healthy'`

	a := &models.Assignment{}
	err := r.pool.QueryRow(ctx, query, meetingID, region).Scan(
		&a.MeetingID, &a.Region, &a.MCID, &a.AssignedAt, &a.AssignedByGC, &a.EndedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get healthy assignment: %w", err)
	}
	return a, nil
}

// AtomicAssign upserts the (meetingID, region) assignment to candidateMCID.
// If no active row exists, it is created. If an active row exists and its MC
// is still healthy, the conflict predicate is false, the update no-ops, and
// the existing row is returned unchanged — every concurrent caller converges
// on the same MC. If the existing MC has gone unhealthy, the row is
// atomically reassigned to candidateMCID.
func (r *Repository) AtomicAssign(ctx context.Context, meetingID, region, candidateMCID, gcID string) (*models.Assignment, error) {
	query := `
		INSERT INTO meeting_assignments (meeting_id, region, meeting_controller_id, assigned_by_gc_id, assigned_at, ended_at)
		VALUES ($1, $2, $3, $4, NOW(), NULL)
		ON CONFLICT (meeting_id, region) WHERE ended_at IS NULL DO UPDATE SET
			meeting_controller_id = EXCLUDED.meeting_controller_id,
			assigned_by_gc_id = EXCLUDED.assigned_by_gc_id,
			assigned_at = NOW()
		WHERE (
			SELECT mc.health_status FROM meeting_controllers mc
			WHERE mc.controller_id = meeting_assignments.meeting_controller_id
		) = 'unhealthy'
		RETURNING meeting_id, region, meeting_controller_id, assigned_at, assigned_by_gc_id, ended_at`

	a := &models.Assignment{}
	err := r.pool.QueryRow(ctx, query, meetingID, region, candidateMCID, gcID).Scan(
		&a.MeetingID, &a.Region, &a.MCID, &a.AssignedAt, &a.AssignedByGC, &a.EndedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.GetHealthyAssignment(ctx, meetingID, region)
		}
		return nil, fmt.Errorf("atomic assign: %w", err)
	}
	return a, nil
}

// EndAssignment closes the active assignment for (meetingID, region), if any.
func (r *Repository) EndAssignment(ctx context.Context, meetingID, region string) error {
	query := `
		UPDATE meeting_assignments
		SET ended_at = NOW()
		WHERE meeting_id = $1 AND region = $2 AND ended_at IS NULL`

	_, err := r.pool.Exec(ctx, query, meetingID, region)
	if err != nil {
		return fmt.Errorf("end assignment: %w", err)
	}
	return nil
}

// EndStaleForUnhealthyMCs ends every active assignment whose MC is unhealthy
// and whose assignment predates staleHours, returning the count ended.
func (r *Repository) EndStaleForUnhealthyMCs(ctx context.Context, staleHours time.Duration) (int64, error) {
	query := `
		UPDATE meeting_assignments a
		SET ended_at = NOW()
		FROM meeting_controllers mc
		WHERE a.meeting_controller_id = mc.controller_id
		  AND a.ended_at IS NULL
		  AND mc.health_status = 'unhealthy'
		  AND a.assigned_at < NOW() - ($1 || ' hours')::INTERVAL`

	tag, err := r.pool.Exec(ctx, query, int64(staleHours.Hours()))
	if err != nil {
		return 0, fmt.Errorf("end stale for unhealthy mcs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeOldAssignments physically deletes ended rows older than retentionDays,
// bounded to batchLimit rows per call so cleanup never holds a long lock.
func (r *Repository) PurgeOldAssignments(ctx context.Context, retentionDays int, batchLimit int) (int64, error) {
	query := `
		DELETE FROM meeting_assignments
		WHERE ctid IN (
			SELECT ctid FROM meeting_assignments
			WHERE ended_at IS NOT NULL AND ended_at < NOW() - ($1 || ' days')::INTERVAL
			LIMIT $2
		)`

	tag, err := r.pool.Exec(ctx, query, retentionDays, batchLimit)
	if err != nil {
		return 0, fmt.Errorf("purge old assignments: %w", err)
	}
	return tag.RowsAffected(), nil
}
