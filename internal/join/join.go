// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

// Package join implements the end-to-end join orchestration: resolve the
// meeting, authorize the caller, reuse or establish an assignment, and mint
// the participant's meeting token.
package join

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/meetmesh/gc/internal/acclient"
	"github.com/meetmesh/gc/internal/apperr"
	assignmentmodels "github.com/meetmesh/gc/internal/assignment/models"
	"github.com/meetmesh/gc/internal/dispatcher"
	"github.com/meetmesh/gc/internal/loadbalancer"
	meetingmodels "github.com/meetmesh/gc/internal/meeting/models"
	"github.com/meetmesh/gc/internal/mhselector"
	registrymodels "github.com/meetmesh/gc/internal/registry/models"
	"github.com/meetmesh/pkg/logger"
	"github.com/meetmesh/pkg/models"
)

const (
	defaultTokenTTLSeconds = 900
	maxAssignAttempts      = 3
)

// MeetingResolver resolves a meeting by join code, satisfied by
// *meeting/repository.Repository.
type MeetingResolver interface {
	GetByCode(ctx context.Context, code string) (*meetingmodels.Meeting, error)
}

// Registry supplies candidate MCs for a region, satisfied by the registry
// service.
type Registry interface {
	ListMCCandidates(ctx context.Context, region string, needRoomFor int32) ([]*registrymodels.MC, error)
}

// AssignmentStore is the narrow contract onto C6 the orchestrator needs.
type AssignmentStore interface {
	GetHealthyAssignment(ctx context.Context, meetingID, region string) (*assignmentmodels.Assignment, error)
	Assign(ctx context.Context, meetingID, region, candidateMCID, gcID string) (*assignmentmodels.Assignment, error)
}

// MHSelector picks the primary/backup MH pair.
type MHSelector interface {
	Select(ctx context.Context, region, meetingID string) (mhselector.Selection, error)
}

// MCDispatcher calls the chosen MC's assign_meeting RPC.
type MCDispatcher interface {
	AssignMeeting(ctx context.Context, endpoint, meetingID, primaryMH, backupMH, gcID string) dispatcher.AssignResult
}

// TokenIssuer mints the participant's meeting token.
type TokenIssuer interface {
	MintMeetingToken(ctx context.Context, req acclient.MeetingTokenRequest) (acclient.TokenReply, error)
	MintGuestToken(ctx context.Context, req acclient.GuestTokenRequest) (acclient.TokenReply, error)
}

// Orchestrator wires C5-C9 and C12 together for a single join.
type Orchestrator struct {
	meetings   MeetingResolver
	registry   Registry
	assignment AssignmentStore
	mhSelect   MHSelector
	dispatch   MCDispatcher
	issuer     TokenIssuer
	gcID       string
	region     string
}

// New creates an Orchestrator.
func New(meetings MeetingResolver, registry Registry, assignment AssignmentStore, mhSelect MHSelector, dispatch MCDispatcher, issuer TokenIssuer, gcID, region string) *Orchestrator {
	return &Orchestrator{
		meetings: meetings, registry: registry, assignment: assignment,
		mhSelect: mhSelect, dispatch: dispatch, issuer: issuer, gcID: gcID, region: region,
	}
}

// Result is returned to the HTTP layer on a successful join.
type Result struct {
	MCEndpoint string
	Token      string
	ExpiresIn  int
}

// JoinAuthenticated resolves, authorizes, assigns, and mints a token for an
// authenticated user identified by claims.
func (o *Orchestrator) JoinAuthenticated(ctx context.Context, code string, claims models.Claims, orgID string, isExternal bool) (Result, error) {
	meeting, err := o.resolveAndAuthorize(ctx, code, orgID, isExternal, false)
	if err != nil {
		return Result{}, err
	}

	mc, err := o.resolveMC(ctx, meeting.ID)
	if err != nil {
		return Result{}, err
	}

	reply, err := o.issuer.MintMeetingToken(ctx, acclient.MeetingTokenRequest{
		Subject:         claims.Subject,
		MeetingID:       meeting.ID,
		MeetingOrgID:    meeting.OrgID,
		ParticipantType: "user",
		Role:            "participant",
		TTLSeconds:      defaultTokenTTLSeconds,
	})
	if err != nil {
		return Result{}, apperr.Wrap(apperr.ServiceUnavailable, "token issuance failed", err)
	}

	return Result{MCEndpoint: mc.Endpoint, Token: reply.Token, ExpiresIn: reply.ExpiresIn}, nil
}

// JoinGuest is the guest-variant join: no Claims, a freshly minted RFC 4122
// v4 subject, gated on meeting.AllowGuests instead of org membership.
func (o *Orchestrator) JoinGuest(ctx context.Context, code, displayName string) (Result, error) {
	meeting, err := o.resolveAndAuthorize(ctx, code, "", false, true)
	if err != nil {
		return Result{}, err
	}

	mc, err := o.resolveMC(ctx, meeting.ID)
	if err != nil {
		return Result{}, err
	}

	subject, err := guestSubject()
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Internal, "guest subject generation failed", err)
	}

	reply, err := o.issuer.MintGuestToken(ctx, acclient.GuestTokenRequest{
		Subject:      subject,
		MeetingID:    meeting.ID,
		MeetingOrgID: meeting.OrgID,
		DisplayName:  displayName,
		TTLSeconds:   defaultTokenTTLSeconds,
	})
	if err != nil {
		return Result{}, apperr.Wrap(apperr.ServiceUnavailable, "guest token issuance failed", err)
	}

	return Result{MCEndpoint: mc.Endpoint, Token: reply.Token, ExpiresIn: reply.ExpiresIn}, nil
}

func (o *Orchestrator) resolveAndAuthorize(ctx context.Context, code, orgID string, isExternal, isGuest bool) (*meetingmodels.Meeting, error) {
	meeting, err := o.meetings.GetByCode(ctx, code)
	if err != nil {
		return nil, apperr.New(apperr.NotFound, "meeting not found")
	}
	if !meeting.Joinable() {
		return nil, apperr.New(apperr.NotFound, "meeting not found")
	}

	switch {
	case isGuest:
		if !meeting.AllowGuests {
			return nil, apperr.New(apperr.Forbidden, "guests not allowed")
		}
	case orgID == meeting.OrgID:
		// same-org is always allowed
	case isExternal && meeting.AllowExternalParticipants:
		// external allowed by meeting policy
	default:
		return nil, apperr.New(apperr.Forbidden, "not authorized to join this meeting")
	}
	return meeting, nil
}

// resolveMC implements steps 3-6: reuse a healthy assignment, or select MHs
// and try candidates in bounded rounds until one accepts, then persist the
// winning assignment atomically.
func (o *Orchestrator) resolveMC(ctx context.Context, meetingID string) (*registrymodels.MC, error) {
	if existing, err := o.assignment.GetHealthyAssignment(ctx, meetingID, o.region); err == nil {
		return o.mustGetCandidate(ctx, existing.MCID)
	}

	selection, err := o.mhSelect.Select(ctx, o.region, meetingID)
	if err != nil {
		logger.Default().Warn("mh selection failed", "meeting_id", meetingID, "error", err)
	}

	candidates, err := o.registry.ListMCCandidates(ctx, o.region, 1)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list mc candidates failed", err)
	}

	remaining := candidates
	var lastErr error
	for attempt := 0; attempt < maxAssignAttempts && len(remaining) > 0; attempt++ {
		picked, err := loadbalancer.Pick(remaining)
		if err != nil {
			break
		}
		remaining = removeMC(remaining, picked.ControllerID)

		backup := ""
		if selection.HasBackup {
			backup = selection.Backup.HandlerID
		}
		primary := ""
		if selection.Primary != nil {
			primary = selection.Primary.HandlerID
		}

		result := o.dispatch.AssignMeeting(ctx, picked.Endpoint, meetingID, primary, backup, o.gcID)
		if result.Accept() {
			assigned, err := o.assignment.Assign(ctx, meetingID, o.region, picked.ControllerID, o.gcID)
			if err != nil {
				return nil, apperr.Wrap(apperr.Internal, "persist assignment failed", err)
			}
			return o.mustGetCandidate(ctx, assigned.MCID)
		}
		lastErr = result.Err
		logger.Default().Info("mc rejected assignment, trying next candidate",
			"meeting_id", meetingID, "endpoint", picked.Endpoint, "outcome", result.Outcome)
	}

	if lastErr != nil {
		return nil, apperr.Wrap(apperr.ServiceUnavailable, "no mc accepted the meeting", lastErr)
	}
	return nil, apperr.New(apperr.ServiceUnavailable, "no healthy mc available")
}

// mustGetCandidate re-fetches the MC record for the winning assignment so
// the caller gets a fresh endpoint/health view, rather than trusting a
// possibly-stale candidate snapshot.
func (o *Orchestrator) mustGetCandidate(ctx context.Context, mcID string) (*registrymodels.MC, error) {
	candidates, err := o.registry.ListMCCandidates(ctx, o.region, 0)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list mc candidates failed", err)
	}
	for _, c := range candidates {
		if c.ControllerID == mcID {
			return c, nil
		}
	}
	return nil, apperr.New(apperr.ServiceUnavailable, "assigned mc is no longer available")
}

func removeMC(candidates []*registrymodels.MC, id string) []*registrymodels.MC {
	out := make([]*registrymodels.MC, 0, len(candidates))
	for _, c := range candidates {
		if c.ControllerID != id {
			out = append(out, c)
		}
	}
	return out
}

// guestSubject produces a CSPRNG-backed RFC 4122 v4 identifier.
func guestSubject() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16]), nil
}
