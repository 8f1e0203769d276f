// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

// Package background runs the GC's periodic maintenance loops: MC/MH
// staleness detection and assignment cleanup. Every loop races its sleep
// against cancellation and never exits on a transient error — only
// shutdown stops it.
package background

import (
	"context"
	"time"

	"github.com/meetmesh/pkg/logger"
)

// StalenessMarker transitions stale entities to unhealthy, returning the
// count transitioned. Implemented by the registry service for both MC and
// MH.
type StalenessMarker func(ctx context.Context, threshold time.Duration) (int64, error)

// HealthChecker runs a single entity kind's staleness loop on interval,
// calling mark on each tick until ctx is cancelled.
func HealthChecker(ctx context.Context, entityKind string, interval, threshold time.Duration, mark StalenessMarker) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Default().Info("health checker stopped", "entity", entityKind)
			return
		case <-ticker.C:
			n, err := mark(ctx, threshold)
			if err != nil {
				logger.Default().Error("mark_stale failed, continuing", "entity", entityKind, "error", err)
				continue
			}
			if n > 0 {
				logger.Default().Info("health checker transitioned entities to unhealthy", "entity", entityKind, "count", n)
			}
		}
	}
}

// AssignmentReaper reaps assignments owned by unhealthy MCs past staleHours
// (soft-delete), then purges ended assignments past retentionDays in
// batches (hard-delete), on each tick until ctx is cancelled.
type AssignmentReaper struct {
	ReapStale func(ctx context.Context, staleHours time.Duration) (int64, error)
	Purge     func(ctx context.Context, retentionDays, batchLimit int) (int64, error)

	StaleHours    time.Duration
	RetentionDays int
	BatchLimit    int
}

// Run executes the cleanup loop on interval until ctx is cancelled.
func (a *AssignmentReaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Default().Info("assignment cleanup loop stopped")
			return
		case <-ticker.C:
			if n, err := a.ReapStale(ctx, a.StaleHours); err != nil {
				logger.Default().Error("end_stale_for_unhealthy_mcs failed, continuing", "error", err)
			} else if n > 0 {
				logger.Default().Info("ended assignments for unhealthy mcs", "count", n)
			}

			if n, err := a.Purge(ctx, a.RetentionDays, a.BatchLimit); err != nil {
				logger.Default().Error("purge_old_assignments failed, continuing", "error", err)
			} else if n > 0 {
				logger.Default().Info("purged old assignments", "count", n)
			}
		}
	}
}
