// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

package loadbalancer

import (
	"testing"

	registrymodels "github.com/meetmesh/gc/internal/registry/models"
)

func mcWithRatio(id string, ratio float64) *registrymodels.MC {
	// LoadRatio is GREATEST(current/max meetings, current/max participants);
	// fix participants at 0/1 (ratio 0) and drive via meetings only.
	const max = 1000
	return &registrymodels.MC{
		ControllerID:    id,
		MaxMeetings:     max,
		CurrentMeetings: int32(ratio * max),
		MaxParticipants: 1,
	}
}

func TestPick_EmptyCandidatesFails(t *testing.T) {
	if _, err := Pick(nil); err != ErrNoHealthyMc {
		t.Fatalf("err = %v, want ErrNoHealthyMc", err)
	}
}

func TestPick_WeightedFrequenciesWithinTolerance(t *testing.T) {
	// Weights (1, 2, 3) via load ratios (0, 0.5, 1-epsilon*... ) chosen so
	// 1-ratio gives exactly 1, 0.5... approximate; use simpler direct ratios
	// that yield weights proportional to 1:2:3 within clamp bounds.
	candidates := []*registrymodels.MC{
		mcWithRatio("mc-w1", 0.99), // weight ~= 0.01 -> clamped to epsilon (0.01) ~ "1"
		mcWithRatio("mc-w2", 0.98), // weight ~= 0.02 ~ "2"
		mcWithRatio("mc-w3", 0.97), // weight ~= 0.03 ~ "3"
	}

	const runs = 10000
	counts := map[string]int{}
	for i := 0; i < runs; i++ {
		picked, err := Pick(candidates)
		if err != nil {
			t.Fatalf("pick: %v", err)
		}
		counts[picked.ControllerID]++
	}

	total := float64(counts["mc-w1"] + counts["mc-w2"] + counts["mc-w3"])
	if total != runs {
		t.Fatalf("total picks = %v, want %v", total, runs)
	}

	wantFreq := map[string]float64{"mc-w1": 1.0 / 6, "mc-w2": 2.0 / 6, "mc-w3": 3.0 / 6}
	for id, want := range wantFreq {
		got := float64(counts[id]) / total
		if diff := got - want; diff < -0.02 || diff > 0.02 {
			t.Errorf("frequency for %s = %.4f, want within 0.02 of %.4f", id, got, want)
		}
	}
}

func TestPick_TruncatesToTopK(t *testing.T) {
	var candidates []*registrymodels.MC
	for i := 0; i < 10; i++ {
		candidates = append(candidates, mcWithRatio(string(rune('a'+i)), float64(i)/10))
	}
	// With only the topK=5 least-loaded candidates weighed, none of the
	// last 5 (indices 5..9, the most loaded) should ever be picked once
	// weight for the most-loaded set collapses toward epsilon relative to
	// the least-loaded ones under repeated draws dominated by lower ratios.
	seen := map[string]bool{}
	for i := 0; i < 2000; i++ {
		picked, err := Pick(candidates)
		if err != nil {
			t.Fatalf("pick: %v", err)
		}
		seen[picked.ControllerID] = true
	}
	for i := 5; i < 10; i++ {
		id := string(rune('a' + i))
		if seen[id] {
			t.Errorf("candidate %s outside topK was picked, truncation not applied", id)
		}
	}
}
