// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] wrap the "select with a timeout"
// safety valve so that a test waiting on a goroutine fails instead of
// hanging. [Eventually] polls a condition for state that is observed
// across a network round trip (hub state, stats counters).
//
// All helpers call t.Fatalf on failure.
package testutil
