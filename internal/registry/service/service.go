// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

package service

import (
	"context"
	"errors"
	"time"

	"github.com/meetmesh/gc/internal/apperr"
	"github.com/meetmesh/gc/internal/registry/models"
	"github.com/meetmesh/gc/internal/registry/repository"
	"github.com/meetmesh/pkg/validator"
)

// Service exposes the registry operations (register, heartbeat, staleness,
// candidate listing) for both MC and MH, validating inputs before they
// reach the repository layer.
type Service struct {
	mc *repository.MCRepository
	mh *repository.MHRepository
}

// New creates a registry service over the given repositories.
func New(mc *repository.MCRepository, mh *repository.MHRepository) *Service {
	return &Service{mc: mc, mh: mh}
}

// RegisterMC validates and upserts a Meeting Controller.
func (s *Service) RegisterMC(ctx context.Context, in models.RegisterMCInput) (string, error) {
	if err := validator.Validate(in); err != nil {
		return "", apperr.Wrap(apperr.InvalidInput, err.Error(), err)
	}
	id, err := s.mc.Register(ctx, in)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "register mc failed", err)
	}
	return id, nil
}

// RegisterMH validates and upserts a Media Handler.
func (s *Service) RegisterMH(ctx context.Context, in models.RegisterMHInput) (string, error) {
	if err := validator.Validate(in); err != nil {
		return "", apperr.Wrap(apperr.InvalidInput, err.Error(), err)
	}
	id, err := s.mh.Register(ctx, in)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "register mh failed", err)
	}
	return id, nil
}

// HeartbeatFastMC updates MC load counters. A nil error with ok=false means
// not_found: the caller must re-register.
func (s *Service) HeartbeatFastMC(ctx context.Context, controllerID string, currentMeetings, currentParticipants uint32) (ok bool, err error) {
	err = s.mc.HeartbeatFast(ctx, controllerID, currentMeetings, currentParticipants)
	return heartbeatResult(err)
}

// HeartbeatFullMC updates MC load counters and utilization metrics.
func (s *Service) HeartbeatFullMC(ctx context.Context, controllerID string, currentMeetings, currentParticipants uint32, metrics models.Metrics) (ok bool, err error) {
	err = s.mc.HeartbeatFull(ctx, controllerID, currentMeetings, currentParticipants, metrics)
	return heartbeatResult(err)
}

// HeartbeatFastMH updates MH session counters.
func (s *Service) HeartbeatFastMH(ctx context.Context, handlerID string, currentSessions uint32) (ok bool, err error) {
	err = s.mh.HeartbeatFast(ctx, handlerID, currentSessions)
	return heartbeatResult(err)
}

// HeartbeatFullMH updates MH session counters and utilization metrics.
func (s *Service) HeartbeatFullMH(ctx context.Context, handlerID string, currentSessions uint32, metrics models.Metrics) (ok bool, err error) {
	err = s.mh.HeartbeatFull(ctx, handlerID, currentSessions, metrics)
	return heartbeatResult(err)
}

func heartbeatResult(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// MarkStaleMC transitions unhealthy every MC past the staleness threshold
// and returns the number transitioned.
func (s *Service) MarkStaleMC(ctx context.Context, threshold time.Duration) (int64, error) {
	return s.mc.MarkStale(ctx, threshold)
}

// MarkStaleMH is the MH analogue of MarkStaleMC.
func (s *Service) MarkStaleMH(ctx context.Context, threshold time.Duration) (int64, error) {
	return s.mh.MarkStale(ctx, threshold)
}

// ListMCCandidates returns healthy, capacity-available MCs in region.
func (s *Service) ListMCCandidates(ctx context.Context, region string, needRoomFor int32) ([]*models.MC, error) {
	return s.mc.ListCandidates(ctx, region, needRoomFor)
}

// ListHealthyMH returns healthy MHs in region ordered by load ratio.
func (s *Service) ListHealthyMH(ctx context.Context, region string) ([]*models.MH, error) {
	return s.mh.ListHealthy(ctx, region)
}

// GetMC retrieves a single MC by controller_id, whatever its health status.
func (s *Service) GetMC(ctx context.Context, controllerID string) (*models.MC, error) {
	return s.mc.Get(ctx, controllerID)
}
