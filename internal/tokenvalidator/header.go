// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

package tokenvalidator

import (
	"encoding/base64"
	"errors"
	"strings"
)

// splitHeader decodes only the first dot-separated segment of a JWT,
// leaving the payload and signature untouched — step 2 of the validator
// contract must not do any work beyond the header until the kid is known.
func splitHeader(tokenString string) ([]byte, error) {
	idx := strings.IndexByte(tokenString, '.')
	if idx <= 0 {
		return nil, errors.New("malformed token: no header segment")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(tokenString[:idx])
	if err != nil {
		return nil, errors.New("malformed token: header is not valid base64url")
	}
	return decoded, nil
}
