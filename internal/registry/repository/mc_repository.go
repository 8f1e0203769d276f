// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meetmesh/gc/internal/registry/models"
	"github.com/meetmesh/pkg/logger"
)

// ErrNotFound is returned by heartbeat operations when the controller_id
// is unknown, which tells the caller to re-register.
var ErrNotFound = errors.New("mc not found")

// MCRepository persists Meeting Controller registration and heartbeat state.
type MCRepository struct {
	pool *pgxpool.Pool
}

// NewMCRepository creates a new MC repository.
func NewMCRepository(pool *pgxpool.Pool) *MCRepository {
	return &MCRepository{pool: pool}
}

// Register upserts by controller_id: a fresh row starts healthy with zeroed
// counts; a re-register resets health to healthy and refreshes the
// heartbeat without clobbering the MC's reported current load.
func (r *MCRepository) Register(ctx context.Context, in models.RegisterMCInput) (string, error) {
	query := `
		INSERT INTO meeting_controllers
			(controller_id, region, endpoint, version, max_meetings, max_participants,
			 current_meetings, current_participants, health_status, last_heartbeat_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 0, 'healthy', NOW(), NOW())
		ON CONFLICT (controller_id) DO UPDATE SET
			region = EXCLUDED.region,
			endpoint = EXCLUDED.endpoint,
			version = EXCLUDED.version,
			max_meetings = EXCLUDED.max_meetings,
			max_participants = EXCLUDED.max_participants,
			health_status = 'healthy',
			last_heartbeat_at = NOW()
		RETURNING controller_id`

	maxMeetings := clampToInt32(in.MaxMeetings, "max_meetings", in.ControllerID)
	maxParticipants := clampToInt32(in.MaxParticipants, "max_participants", in.ControllerID)

	var id string
	err := r.pool.QueryRow(ctx, query,
		in.ControllerID, in.Region, in.Endpoint, in.Version, maxMeetings, maxParticipants,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("register mc: %w", err)
	}
	return id, nil
}

// HeartbeatFast updates the load counters and heartbeat timestamp only.
func (r *MCRepository) HeartbeatFast(ctx context.Context, controllerID string, currentMeetings, currentParticipants uint32) error {
	query := `
		UPDATE meeting_controllers
		SET current_meetings = $2, current_participants = $3, last_heartbeat_at = NOW()
		WHERE controller_id = $1`

	tag, err := r.pool.Exec(ctx, query, controllerID,
		clampToInt32(currentMeetings, "current_meetings", controllerID),
		clampToInt32(currentParticipants, "current_participants", controllerID),
	)
	if err != nil {
		return fmt.Errorf("heartbeat_fast mc: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// HeartbeatFull updates counters, heartbeat timestamp, and the extended
// utilization metrics blob.
func (r *MCRepository) HeartbeatFull(ctx context.Context, controllerID string, currentMeetings, currentParticipants uint32, metrics models.Metrics) error {
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("marshal mc metrics: %w", err)
	}

	query := `
		UPDATE meeting_controllers
		SET current_meetings = $2, current_participants = $3, metrics = $4, last_heartbeat_at = NOW()
		WHERE controller_id = $1`

	tag, err := r.pool.Exec(ctx, query, controllerID,
		clampToInt32(currentMeetings, "current_meetings", controllerID),
		clampToInt32(currentParticipants, "current_participants", controllerID),
		metricsJSON,
	)
	if err != nil {
		return fmt.Errorf("heartbeat_full mc: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkStale transitions to unhealthy every MC whose last heartbeat predates
// the staleness threshold, and returns the number of rows transitioned.
func (r *MCRepository) MarkStale(ctx context.Context, threshold time.Duration) (int64, error) {
	query := `
		UPDATE meeting_controllers
		SET health_status = 'unhealthy'
		WHERE last_heartbeat_at < NOW() - ($1 || ' seconds')::INTERVAL
		  AND health_status <> 'unhealthy'`

	tag, err := r.pool.Exec(ctx, query, int64(threshold.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("mark_stale mc: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListCandidates returns healthy MCs in region with room for needRoomFor
// more participants, ordered by load ratio ascending (least loaded first).
func (r *MCRepository) ListCandidates(ctx context.Context, region string, needRoomFor int32) ([]*models.MC, error) {
	query := `
		SELECT controller_id, region, endpoint, version, max_meetings, current_meetings,
		       max_participants, current_participants, health_status, metrics,
		       last_heartbeat_at, created_at
		FROM meeting_controllers
		WHERE region = $1
		  AND health_status = 'healthy'
		  AND current_meetings < max_meetings
		  AND current_participants + $2 <= max_participants
		ORDER BY GREATEST(
			current_meetings::float8 / NULLIF(max_meetings, 0),
			current_participants::float8 / NULLIF(max_participants, 0)
		) ASC`

	rows, err := r.pool.Query(ctx, query, region, needRoomFor)
	if err != nil {
		return nil, fmt.Errorf("list_candidates mc: %w", err)
	}
	defer rows.Close()

	var out []*models.MC
	for rows.Next() {
		mc := &models.MC{}
		var metricsJSON []byte
		if err := rows.Scan(
			&mc.ControllerID, &mc.Region, &mc.Endpoint, &mc.Version,
			&mc.MaxMeetings, &mc.CurrentMeetings, &mc.MaxParticipants, &mc.CurrentParticipants,
			&mc.HealthStatus, &metricsJSON, &mc.LastHeartbeatAt, &mc.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan mc candidate: %w", err)
		}
		if len(metricsJSON) > 0 {
			_ = json.Unmarshal(metricsJSON, &mc.Metrics)
		}
		out = append(out, mc)
	}
	return out, rows.Err()
}

// Get retrieves a single MC by controller_id, whatever its health status.
func (r *MCRepository) Get(ctx context.Context, controllerID string) (*models.MC, error) {
	query := `
		SELECT controller_id, region, endpoint, version, max_meetings, current_meetings,
		       max_participants, current_participants, health_status, metrics,
		       last_heartbeat_at, created_at
		FROM meeting_controllers
		WHERE controller_id = $1`

	mc := &models.MC{}
	var metricsJSON []byte
	err := r.pool.QueryRow(ctx, query, controllerID).Scan(
		&mc.ControllerID, &mc.Region, &mc.Endpoint, &mc.Version,
		&mc.MaxMeetings, &mc.CurrentMeetings, &mc.MaxParticipants, &mc.CurrentParticipants,
		&mc.HealthStatus, &metricsJSON, &mc.LastHeartbeatAt, &mc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get mc: %w", err)
	}
	if len(metricsJSON) > 0 {
		_ = json.Unmarshal(metricsJSON, &mc.Metrics)
	}
	return mc, nil
}

// clampToInt32 clamps an unsigned 32-bit count to the positive signed
// 32-bit max and logs the clamp, per the registry's capacity-overflow rule.
func clampToInt32(v uint32, field, entityID string) int32 {
	if v > math.MaxInt32 {
		logger.Default().Warn("capacity value clamped",
			"field", field, "entity_id", entityID, "value", v, "clamped_to", int32(math.MaxInt32))
		return math.MaxInt32
	}
	return int32(v)
}
