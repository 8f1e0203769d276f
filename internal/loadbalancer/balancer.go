// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

// Package loadbalancer picks a Meeting Controller from a candidate list
// using cryptographically strong weighted random selection, so assignment
// patterns stay unpredictable to an adversary probing for the least-loaded
// target.
package loadbalancer

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"sort"

	registrymodels "github.com/meetmesh/gc/internal/registry/models"
	"github.com/meetmesh/pkg/logger"
)

// ErrNoHealthyMc is returned when the candidate list is empty.
var ErrNoHealthyMc = errors.New("no healthy mc")

const (
	// topK bounds how many least-loaded candidates are weighed, so a large
	// region doesn't drag every MC into the RNG draw.
	topK    = 5
	epsilon = 0.01
)

// Pick selects one MC from candidates, weighted toward the least loaded.
// candidates need not be pre-sorted; Pick truncates to the topK least
// loaded before weighting. On RNG failure it logs a warning and falls back
// to the first (least loaded) candidate rather than failing the join.
func Pick(candidates []*registrymodels.MC) (*registrymodels.MC, error) {
	if len(candidates) == 0 {
		return nil, ErrNoHealthyMc
	}

	ordered := make([]*registrymodels.MC, len(candidates))
	copy(ordered, candidates)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].LoadRatio() < ordered[j].LoadRatio()
	})
	if len(ordered) > topK {
		ordered = ordered[:topK]
	}

	weights := make([]float64, len(ordered))
	var total float64
	for i, mc := range ordered {
		w := 1 - mc.LoadRatio()
		if w < epsilon {
			w = epsilon
		}
		if w > 1 {
			w = 1
		}
		weights[i] = w
		total += w
	}

	draw, err := cryptoFloat()
	if err != nil {
		logger.Default().Warn("weighted selection rng failed, falling back to first candidate", "error", err)
		return ordered[0], nil
	}

	target := draw * total
	var cumulative float64
	for i, w := range weights {
		cumulative += w
		if target < cumulative {
			return ordered[i], nil
		}
	}
	return ordered[len(ordered)-1], nil
}

// cryptoFloat draws 8 random bytes from a CSPRNG and maps them into [0, 1).
func cryptoFloat() (float64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	n := binary.BigEndian.Uint64(buf[:])
	return float64(n>>11) / (1 << 53), nil
}
