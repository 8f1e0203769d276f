// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

// Package mhselector picks a primary/backup Media Handler pair for a
// meeting, preferring availability-zone anti-affinity between the two.
package mhselector

import (
	"context"
	"hash/fnv"
	"sort"

	registrymodels "github.com/meetmesh/gc/internal/registry/models"
)

// Lister supplies the healthy candidate pool. Satisfied by the registry
// service's ListHealthyMH.
type Lister interface {
	ListHealthyMH(ctx context.Context, region string) ([]*registrymodels.MH, error)
}

// Selection is the outcome of Select: Primary is always set when err is nil;
// Backup is nil and HasBackup is false when no anti-AZ candidate exists.
type Selection struct {
	Primary   *registrymodels.MH
	Backup    *registrymodels.MH
	HasBackup bool
}

// Selector chooses MH pairs for meetings.
type Selector struct {
	lister Lister
}

// New creates a Selector over the given Lister.
func New(lister Lister) *Selector {
	return &Selector{lister: lister}
}

// Select returns the primary (least loaded) and, when an anti-AZ candidate
// exists, a backup MH for meetingID in region. It never fails solely
// because no backup is available.
func (s *Selector) Select(ctx context.Context, region, meetingID string) (Selection, error) {
	candidates, err := s.lister.ListHealthyMH(ctx, region)
	if err != nil {
		return Selection{}, err
	}
	if len(candidates) == 0 {
		return Selection{}, ErrNoHealthyMh
	}

	ordered := orderByLoadThenHash(candidates, meetingID)
	primary := ordered[0]

	for _, c := range ordered[1:] {
		if c.AvailabilityZone != primary.AvailabilityZone {
			return Selection{Primary: primary, Backup: c, HasBackup: true}, nil
		}
	}
	return Selection{Primary: primary, HasBackup: false}, nil
}

// orderByLoadThenHash sorts candidates by load ratio ascending, breaking
// ties with a deterministic hash of meetingID so that equally loaded MHs
// don't always favor the same candidate.
func orderByLoadThenHash(candidates []*registrymodels.MH, meetingID string) []*registrymodels.MH {
	out := make([]*registrymodels.MH, len(candidates))
	copy(out, candidates)

	h := fnv.New64a()
	_, _ = h.Write([]byte(meetingID))
	seed := h.Sum64()

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].LoadRatio(), out[j].LoadRatio()
		if ri != rj {
			return ri < rj
		}
		return tieBreakHash(out[i].HandlerID, seed) < tieBreakHash(out[j].HandlerID, seed)
	})
	return out
}

func tieBreakHash(handlerID string, seed uint64) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(handlerID))
	return h.Sum64() ^ seed
}
