// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package console renders one-line telemetry records for a terminal.
//
// A [Printer] writes [Line] values with a fixed column layout:
// timestamp, session, tone-coloured kind, label, and a detail column
// truncated to the configured width. Colour is decided once at
// construction; callers typically enable it when the destination is a
// terminal ([IsTerminal]).
package console
