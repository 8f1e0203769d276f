// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/meetmesh/gc/internal/apperr"
)

// errorEnvelope writes {"error": "<generic message>"}, the flat envelope
// every public endpoint uses so internal detail never leaks to a client.
func errorEnvelope(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeAppErr maps any error to its apperr.Kind and writes the matching
// status and generic client message.
func writeAppErr(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	errorEnvelope(w, apperr.HTTPStatus(kind), apperr.ClientMessage(kind))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
