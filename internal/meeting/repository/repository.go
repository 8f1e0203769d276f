// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

// Package repository resolves meetings by join code and applies host
// settings updates. It is supporting infrastructure for the join
// orchestrator's first step, not one of the core registry/assignment
// stores.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meetmesh/gc/internal/meeting/models"
)

// ErrNotFound is returned when no meeting matches the given code or id.
var ErrNotFound = errors.New("meeting not found")

// Repository reads and updates meeting records.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a meeting repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByCode resolves a meeting by its join code.
func (r *Repository) GetByCode(ctx context.Context, code string) (*models.Meeting, error) {
	query := `
		SELECT id, code, org_id, status, created_by_user_id,
		       allow_guests, allow_external_participants, waiting_room_enabled, created_at
		FROM meetings
		WHERE code = $1`

	m := &models.Meeting{}
	err := r.pool.QueryRow(ctx, query, code).Scan(
		&m.ID, &m.Code, &m.OrgID, &m.Status, &m.CreatedByUserID,
		&m.AllowGuests, &m.AllowExternalParticipants, &m.WaitingRoomEnabled, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get meeting by code: %w", err)
	}
	return m, nil
}

// GetByID resolves a meeting by its primary key, used to re-check
// host ownership before a settings mutation.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Meeting, error) {
	query := `
		SELECT id, code, org_id, status, created_by_user_id,
		       allow_guests, allow_external_participants, waiting_room_enabled, created_at
		FROM meetings
		WHERE id = $1`

	m := &models.Meeting{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&m.ID, &m.Code, &m.OrgID, &m.Status, &m.CreatedByUserID,
		&m.AllowGuests, &m.AllowExternalParticipants, &m.WaitingRoomEnabled, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get meeting by id: %w", err)
	}
	return m, nil
}

// UpdateSettings applies the non-nil fields of in to meeting id.
func (r *Repository) UpdateSettings(ctx context.Context, id string, in models.SettingsInput) error {
	query := `
		UPDATE meetings
		SET allow_guests = COALESCE($2, allow_guests),
		    allow_external_participants = COALESCE($3, allow_external_participants),
		    waiting_room_enabled = COALESCE($4, waiting_room_enabled)
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, in.AllowGuests, in.AllowExternalParticipants, in.WaitingRoomEnabled)
	if err != nil {
		return fmt.Errorf("update meeting settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
