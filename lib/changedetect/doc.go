// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package changedetect turns consecutive snapshots of a tracked state
// space (one browser storage area, the cookie jar, an IndexedDB
// database) into discrete added/modified/deleted changes.
//
// [Diff] is pure: no I/O, no retained state, and no panics on missing
// data (a nil snapshot is empty). Values are compared by content, not
// by timestamp: each value is encoded to deterministic CBOR and hashed
// with BLAKE3, so map key order never affects the result.
//
// A [Tracker] owns the "previous" snapshot for one namespace. Periodic
// polling calls [Tracker.Observe] with a fresh snapshot; mutation hooks
// call [Tracker.Set] and [Tracker.Delete] for a single key. Both paths
// may report the same logical change; consumers tolerate duplicates.
package changedetect
