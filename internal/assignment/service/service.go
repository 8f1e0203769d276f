// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

package service

import (
	"context"
	"errors"
	"time"

	"github.com/meetmesh/gc/internal/apperr"
	"github.com/meetmesh/gc/internal/assignment/models"
	"github.com/meetmesh/gc/internal/assignment/repository"
)

// Store is the narrow persistence contract the assignment service depends
// on, satisfied by *repository.Repository in production and by an in-memory
// fake in tests.
type Store interface {
	GetHealthyAssignment(ctx context.Context, meetingID, region string) (*models.Assignment, error)
	AtomicAssign(ctx context.Context, meetingID, region, candidateMCID, gcID string) (*models.Assignment, error)
	EndAssignment(ctx context.Context, meetingID, region string) error
	EndStaleForUnhealthyMCs(ctx context.Context, staleHours time.Duration) (int64, error)
	PurgeOldAssignments(ctx context.Context, retentionDays int, batchLimit int) (int64, error)
}

// Service wraps Store with error translation into apperr.
type Service struct {
	store Store
}

// New creates an assignment service over store.
func New(store Store) *Service {
	return &Service{store: store}
}

// GetHealthyAssignment returns the active, healthy assignment for the
// meeting in region, or apperr.NotFound if reassignment is needed.
func (s *Service) GetHealthyAssignment(ctx context.Context, meetingID, region string) (*models.Assignment, error) {
	a, err := s.store.GetHealthyAssignment(ctx, meetingID, region)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, "no active assignment")
		}
		return nil, apperr.Wrap(apperr.Internal, "get healthy assignment failed", err)
	}
	return a, nil
}

// Assign reuses the existing healthy assignment, or atomically assigns the
// candidate MC if none exists or the previous owner is unhealthy.
func (s *Service) Assign(ctx context.Context, meetingID, region, candidateMCID, gcID string) (*models.Assignment, error) {
	a, err := s.store.AtomicAssign(ctx, meetingID, region, candidateMCID, gcID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "assign failed", err)
	}
	return a, nil
}

// End closes the active assignment for the meeting in region, if any.
func (s *Service) End(ctx context.Context, meetingID, region string) error {
	if err := s.store.EndAssignment(ctx, meetingID, region); err != nil {
		return apperr.Wrap(apperr.Internal, "end assignment failed", err)
	}
	return nil
}

// ReapStale ends assignments owned by MCs that have been unhealthy past
// staleHours, returning the count ended.
func (s *Service) ReapStale(ctx context.Context, staleHours time.Duration) (int64, error) {
	return s.store.EndStaleForUnhealthyMCs(ctx, staleHours)
}

// Purge physically removes ended assignments past retentionDays, one
// bounded batch at a time.
func (s *Service) Purge(ctx context.Context, retentionDays, batchLimit int) (int64, error) {
	return s.store.PurgeOldAssignments(ctx, retentionDays, batchLimit)
}
