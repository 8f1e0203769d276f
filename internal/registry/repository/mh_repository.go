// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meetmesh/gc/internal/registry/models"
)

// MHRepository persists Media Handler registration and heartbeat state.
// Parallel to MCRepository, with availability_zone and session counts in
// place of meetings/participants.
type MHRepository struct {
	pool *pgxpool.Pool
}

// NewMHRepository creates a new MH repository.
func NewMHRepository(pool *pgxpool.Pool) *MHRepository {
	return &MHRepository{pool: pool}
}

// Register upserts by handler_id.
func (r *MHRepository) Register(ctx context.Context, in models.RegisterMHInput) (string, error) {
	query := `
		INSERT INTO media_handlers
			(handler_id, region, endpoint, version, availability_zone, max_sessions,
			 current_sessions, health_status, last_heartbeat_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 'healthy', NOW(), NOW())
		ON CONFLICT (handler_id) DO UPDATE SET
			region = EXCLUDED.region,
			endpoint = EXCLUDED.endpoint,
			version = EXCLUDED.version,
			availability_zone = EXCLUDED.availability_zone,
			max_sessions = EXCLUDED.max_sessions,
			health_status = 'healthy',
			last_heartbeat_at = NOW()
		RETURNING handler_id`

	var id string
	err := r.pool.QueryRow(ctx, query,
		in.HandlerID, in.Region, in.Endpoint, in.Version, in.AvailabilityZone,
		clampToInt32(in.MaxSessions, "max_sessions", in.HandlerID),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("register mh: %w", err)
	}
	return id, nil
}

// HeartbeatFast updates the session counter and heartbeat timestamp only.
func (r *MHRepository) HeartbeatFast(ctx context.Context, handlerID string, currentSessions uint32) error {
	query := `
		UPDATE media_handlers
		SET current_sessions = $2, last_heartbeat_at = NOW()
		WHERE handler_id = $1`

	tag, err := r.pool.Exec(ctx, query, handlerID, clampToInt32(currentSessions, "current_sessions", handlerID))
	if err != nil {
		return fmt.Errorf("heartbeat_fast mh: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// HeartbeatFull updates the session counter, metrics, and heartbeat timestamp.
func (r *MHRepository) HeartbeatFull(ctx context.Context, handlerID string, currentSessions uint32, metrics models.Metrics) error {
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("marshal mh metrics: %w", err)
	}

	query := `
		UPDATE media_handlers
		SET current_sessions = $2, metrics = $3, last_heartbeat_at = NOW()
		WHERE handler_id = $1`

	tag, err := r.pool.Exec(ctx, query, handlerID, clampToInt32(currentSessions, "current_sessions", handlerID), metricsJSON)
	if err != nil {
		return fmt.Errorf("heartbeat_full mh: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkStale transitions to unhealthy every MH whose last heartbeat predates
// the staleness threshold.
func (r *MHRepository) MarkStale(ctx context.Context, threshold time.Duration) (int64, error) {
	query := `
		UPDATE media_handlers
		SET health_status = 'unhealthy'
		WHERE last_heartbeat_at < NOW() - ($1 || ' seconds')::INTERVAL
		  AND health_status <> 'unhealthy'`

	tag, err := r.pool.Exec(ctx, query, int64(threshold.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("mark_stale mh: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListHealthy returns healthy MHs in region ordered by session load ratio
// ascending, the candidate pool C7 selects primary/backup from.
func (r *MHRepository) ListHealthy(ctx context.Context, region string) ([]*models.MH, error) {
	query := `
		SELECT handler_id, region, endpoint, version, availability_zone, max_sessions,
		       current_sessions, health_status, metrics, last_heartbeat_at, created_at
		FROM media_handlers
		WHERE region = $1 AND health_status = 'healthy'
		ORDER BY current_sessions::float8 / NULLIF(max_sessions, 0) ASC`

	rows, err := r.pool.Query(ctx, query, region)
	if err != nil {
		return nil, fmt.Errorf("list healthy mh: %w", err)
	}
	defer rows.Close()

	var out []*models.MH
	for rows.Next() {
		mh := &models.MH{}
		var metricsJSON []byte
		if err := rows.Scan(
			&mh.HandlerID, &mh.Region, &mh.Endpoint, &mh.Version, &mh.AvailabilityZone,
			&mh.MaxSessions, &mh.CurrentSessions, &mh.HealthStatus, &metricsJSON,
			&mh.LastHeartbeatAt, &mh.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan mh: %w", err)
		}
		if len(metricsJSON) > 0 {
			_ = json.Unmarshal(metricsJSON, &mh.Metrics)
		}
		out = append(out, mh)
	}
	return out, rows.Err()
}

// Get retrieves a single MH by handler_id.
func (r *MHRepository) Get(ctx context.Context, handlerID string) (*models.MH, error) {
	query := `
		SELECT handler_id, region, endpoint, version, availability_zone, max_sessions,
		       current_sessions, health_status, metrics, last_heartbeat_at, created_at
		FROM media_handlers
		WHERE handler_id = $1`

	mh := &models.MH{}
	var metricsJSON []byte
	err := r.pool.QueryRow(ctx, query, handlerID).Scan(
		&mh.HandlerID, &mh.Region, &mh.Endpoint, &mh.Version, &mh.AvailabilityZone,
		&mh.MaxSessions, &mh.CurrentSessions, &mh.HealthStatus, &metricsJSON,
		&mh.LastHeartbeatAt, &mh.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get mh: %w", err)
	}
	if len(metricsJSON) > 0 {
		_ = json.Unmarshal(metricsJSON, &mh.Metrics)
	}
	return mh, nil
}
