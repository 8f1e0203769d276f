// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

package background

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestHealthChecker_ContinuesOnError(t *testing.T) {
	var calls int32
	ctx, cancel := context.WithCancel(context.Background())

	mark := func(ctx context.Context, threshold time.Duration) (int64, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return 0, errors.New("db blip")
		}
		if n >= 3 {
			cancel()
		}
		return 1, nil
	}

	done := make(chan struct{})
	go func() {
		HealthChecker(ctx, "mc", 5*time.Millisecond, time.Second, mark)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("health checker did not stop after cancellation")
	}

	if atomic.LoadInt32(&calls) < 3 {
		t.Fatalf("calls = %d, want >= 3 (loop should survive the first error)", calls)
	}
}

func TestAssignmentReaper_RunsBothPhasesEachTick(t *testing.T) {
	var reapCalls, purgeCalls int32
	ctx, cancel := context.WithCancel(context.Background())

	r := &AssignmentReaper{
		ReapStale: func(ctx context.Context, staleHours time.Duration) (int64, error) {
			atomic.AddInt32(&reapCalls, 1)
			return 0, nil
		},
		Purge: func(ctx context.Context, retentionDays, batchLimit int) (int64, error) {
			n := atomic.AddInt32(&purgeCalls, 1)
			if n >= 2 {
				cancel()
			}
			return 0, nil
		},
		StaleHours:    24,
		RetentionDays: 7,
		BatchLimit:    100,
	}

	done := make(chan struct{})
	go func() {
		r.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop after cancellation")
	}

	if atomic.LoadInt32(&reapCalls) < 2 || atomic.LoadInt32(&purgeCalls) < 2 {
		t.Fatalf("reapCalls=%d purgeCalls=%d, want both >= 2", reapCalls, purgeCalls)
	}
}
