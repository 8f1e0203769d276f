// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

// Package migrations embeds the Global Controller's schema files so the
// migrate subcommand can apply them without a separate file layout on the
// deployment host.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
