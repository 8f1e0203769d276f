// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/meetmesh/gc/internal/acclient"
	assignmentmodels "github.com/meetmesh/gc/internal/assignment/models"
	"github.com/meetmesh/gc/internal/dispatcher"
	"github.com/meetmesh/gc/internal/join"
	meetingmodels "github.com/meetmesh/gc/internal/meeting/models"
	"github.com/meetmesh/gc/internal/mhselector"
	registrymodels "github.com/meetmesh/gc/internal/registry/models"
	"github.com/meetmesh/pkg/middleware"
)

type fakeMeetings struct {
	byCode map[string]*meetingmodels.Meeting
	byID   map[string]*meetingmodels.Meeting
}

func (f *fakeMeetings) GetByCode(ctx context.Context, code string) (*meetingmodels.Meeting, error) {
	m, ok := f.byCode[code]
	if !ok {
		return nil, errors.New("not found")
	}
	return m, nil
}

func (f *fakeMeetings) GetByID(ctx context.Context, id string) (*meetingmodels.Meeting, error) {
	m, ok := f.byID[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return m, nil
}

func (f *fakeMeetings) UpdateSettings(ctx context.Context, id string, in meetingmodels.SettingsInput) error {
	return nil
}

type fakeRegistry struct{ mc *registrymodels.MC }

func (f *fakeRegistry) ListMCCandidates(ctx context.Context, region string, needRoomFor int32) ([]*registrymodels.MC, error) {
	return []*registrymodels.MC{f.mc}, nil
}

type fakeAssignmentStore struct{}

func (f *fakeAssignmentStore) GetHealthyAssignment(ctx context.Context, meetingID, region string) (*assignmentmodels.Assignment, error) {
	return nil, errors.New("no assignment")
}

func (f *fakeAssignmentStore) Assign(ctx context.Context, meetingID, region, candidateMCID, gcID string) (*assignmentmodels.Assignment, error) {
	return &assignmentmodels.Assignment{MeetingID: meetingID, Region: region, MCID: candidateMCID}, nil
}

type fakeMHSelect struct{}

func (f *fakeMHSelect) Select(ctx context.Context, region, meetingID string) (mhselector.Selection, error) {
	return mhselector.Selection{}, nil
}

type fakeDispatch struct{}

func (f *fakeDispatch) AssignMeeting(ctx context.Context, endpoint, meetingID, primaryMH, backupMH, gcID string) dispatcher.AssignResult {
	return dispatcher.AssignResult{Outcome: dispatcher.Accepted}
}

type fakeIssuer struct{}

func (f *fakeIssuer) MintMeetingToken(ctx context.Context, req acclient.MeetingTokenRequest) (acclient.TokenReply, error) {
	return acclient.TokenReply{Token: "user-token", ExpiresIn: 900}, nil
}

func (f *fakeIssuer) MintGuestToken(ctx context.Context, req acclient.GuestTokenRequest) (acclient.TokenReply, error) {
	return acclient.TokenReply{Token: "guest-token", ExpiresIn: 900}, nil
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

func newTestHandler() (*Handler, *fakeMeetings) {
	meetings := &fakeMeetings{
		byCode: map[string]*meetingmodels.Meeting{
			"abc123": {
				ID: "meeting-1", Code: "abc123", OrgID: "org-1",
				Status: meetingmodels.StatusActive, CreatedByUserID: "host-1",
				AllowGuests: true,
			},
		},
		byID: map[string]*meetingmodels.Meeting{
			"meeting-1": {ID: "meeting-1", Code: "abc123", OrgID: "org-1", CreatedByUserID: "host-1"},
		},
	}

	mc := &registrymodels.MC{ControllerID: "mc-1", Endpoint: "mc-1.internal:8443", MaxMeetings: 10, MaxParticipants: 100}

	o := join.New(meetings, &fakeRegistry{mc: mc}, &fakeAssignmentStore{}, &fakeMHSelect{}, &fakeDispatch{}, &fakeIssuer{}, "gc-1", "us-east-1")
	return New(o, meetings, &fakePinger{}), meetings
}

func TestJoinMeeting_Success(t *testing.T) {
	h, _ := newTestHandler()

	r := chi.NewRouter()
	r.Get("/api/v1/meetings/{code}", h.JoinMeeting)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/meetings/abc123?org_id=org-1", nil)
	ctx := context.WithValue(req.Context(), middleware.SubjectKey, "user-1")
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body joinResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Token != "user-token" || body.MCEndpoint != "mc-1.internal:8443" {
		t.Fatalf("unexpected response: %+v", body)
	}
}

func TestJoinMeeting_WrongOrgRejected(t *testing.T) {
	h, _ := newTestHandler()

	r := chi.NewRouter()
	r.Get("/api/v1/meetings/{code}", h.JoinMeeting)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/meetings/abc123?org_id=other-org", nil)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error"`) {
		t.Fatalf("body does not use flat error envelope: %s", rec.Body.String())
	}
}

func TestGuestJoin_Success(t *testing.T) {
	h, _ := newTestHandler()

	r := chi.NewRouter()
	r.Post("/api/v1/meetings/{code}/guest-token", h.GuestJoin)

	body := strings.NewReader(`{"display_name":"Guest","captcha_token":"tok"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/meetings/abc123/guest-token", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestGuestJoin_RejectsMissingDisplayName(t *testing.T) {
	h, _ := newTestHandler()

	r := chi.NewRouter()
	r.Post("/api/v1/meetings/{code}/guest-token", h.GuestJoin)

	body := strings.NewReader(`{"captcha_token":"tok"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/meetings/abc123/guest-token", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUpdateSettings_ForbidsNonHost(t *testing.T) {
	h, _ := newTestHandler()

	r := chi.NewRouter()
	r.Patch("/api/v1/meetings/{id}/settings", h.UpdateSettings)

	body := strings.NewReader(`{}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/meetings/meeting-1/settings", body)
	ctx := context.WithValue(req.Context(), middleware.SubjectKey, "not-the-host")
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestUpdateSettings_AllowsHost(t *testing.T) {
	h, _ := newTestHandler()

	r := chi.NewRouter()
	r.Patch("/api/v1/meetings/{id}/settings", h.UpdateSettings)

	body := strings.NewReader(`{"allow_guests":true}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/meetings/meeting-1/settings", body)
	ctx := context.WithValue(req.Context(), middleware.SubjectKey, "host-1")
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestReady_ReflectsDBHealth(t *testing.T) {
	h, _ := newTestHandler()
	h.db = &fakePinger{err: errors.New("db down")}

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()

	h.Ready(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
