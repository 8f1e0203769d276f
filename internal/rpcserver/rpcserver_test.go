// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/meetmesh/gc/internal/registry/models"
	pkgmodels "github.com/meetmesh/pkg/models"
)

type fakeRegistry struct {
	registerErr   error
	heartbeatOK   bool
	heartbeatErr  error
	lastMC        string
	lastMeetings  uint32
}

func (f *fakeRegistry) RegisterMC(ctx context.Context, in models.RegisterMCInput) (string, error) {
	if f.registerErr != nil {
		return "", f.registerErr
	}
	return in.ControllerID, nil
}

func (f *fakeRegistry) RegisterMH(ctx context.Context, in models.RegisterMHInput) (string, error) {
	if f.registerErr != nil {
		return "", f.registerErr
	}
	return in.HandlerID, nil
}

func (f *fakeRegistry) HeartbeatFastMC(ctx context.Context, controllerID string, currentMeetings, currentParticipants uint32) (bool, error) {
	f.lastMC = controllerID
	f.lastMeetings = currentMeetings
	return f.heartbeatOK, f.heartbeatErr
}

func (f *fakeRegistry) HeartbeatFullMC(ctx context.Context, controllerID string, currentMeetings, currentParticipants uint32, metrics models.Metrics) (bool, error) {
	return f.heartbeatOK, f.heartbeatErr
}

func (f *fakeRegistry) HeartbeatFastMH(ctx context.Context, handlerID string, currentSessions uint32) (bool, error) {
	return f.heartbeatOK, f.heartbeatErr
}

func (f *fakeRegistry) HeartbeatFullMH(ctx context.Context, handlerID string, currentSessions uint32, metrics models.Metrics) (bool, error) {
	return f.heartbeatOK, f.heartbeatErr
}

type fakeAuthenticator struct {
	claims pkgmodels.Claims
	err    error
}

func (f *fakeAuthenticator) Authenticate(ctx context.Context, tokenString string) (pkgmodels.Claims, error) {
	return f.claims, f.err
}

func TestRegisterMC_Success(t *testing.T) {
	reg := &fakeRegistry{}
	s := New(reg)
	router := NewRouter(s, &fakeAuthenticator{claims: pkgmodels.Claims{Subject: "mc-1", Scope: "mc"}})

	body := strings.NewReader(`{"controller_id":"mc-1","region":"us-east-1","endpoint":"mc-1.internal:8443","max_meetings":10,"max_participants":100}`)
	req := httptest.NewRequest(http.MethodPost, "/register-mc", body)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var reply registerReply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.RegistrationID != "mc-1" {
		t.Fatalf("registration_id = %q", reply.RegistrationID)
	}
}

func TestRegisterMC_WrongScopeRejected(t *testing.T) {
	reg := &fakeRegistry{}
	s := New(reg)
	router := NewRouter(s, &fakeAuthenticator{claims: pkgmodels.Claims{Subject: "mh-1", Scope: "mh"}})

	body := strings.NewReader(`{"controller_id":"mc-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/register-mc", body)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestRegisterMC_UnauthenticatedRejected(t *testing.T) {
	reg := &fakeRegistry{}
	s := New(reg)
	router := NewRouter(s, &fakeAuthenticator{err: errors.New("invalid token")})

	body := strings.NewReader(`{"controller_id":"mc-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/register-mc", body)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestHeartbeatFastMC_NotFoundReturnsOKFalse(t *testing.T) {
	reg := &fakeRegistry{heartbeatOK: false}
	s := New(reg)
	router := NewRouter(s, &fakeAuthenticator{claims: pkgmodels.Claims{Subject: "mc-1", Scope: "mc"}})

	body := strings.NewReader(`{"controller_id":"mc-missing","current_meetings":3,"current_participants":9}`)
	req := httptest.NewRequest(http.MethodPost, "/heartbeat-fast-mc", body)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var reply heartbeatReply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.OK {
		t.Fatal("expected ok=false for unregistered controller")
	}
	if reg.lastMC != "mc-missing" || reg.lastMeetings != 3 {
		t.Fatalf("registry not called with expected args: %+v", reg)
	}
}

func TestHeartbeatFullMH_Success(t *testing.T) {
	reg := &fakeRegistry{heartbeatOK: true}
	s := New(reg)
	router := NewRouter(s, &fakeAuthenticator{claims: pkgmodels.Claims{Subject: "mh-1", Scope: "mh"}})

	body := strings.NewReader(`{"handler_id":"mh-1","current_sessions":4,"cpu_pct":12.5}`)
	req := httptest.NewRequest(http.MethodPost, "/heartbeat-full-mh", body)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}
