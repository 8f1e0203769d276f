// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

package mhselector

import "errors"

// ErrNoHealthyMh is returned when region has no healthy Media Handler at all.
var ErrNoHealthyMh = errors.New("no healthy mh in region")
