// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package producer is the instrumented side of the session channel.
//
// [Dial] opens a [Channel] to the hub, registers a session, and keeps
// a read loop running that caches the pushed global state and hands
// commands to a callback. [StorageWatcher] turns a key/value store
// into change-detector deltas from two independent sources: periodic
// snapshot polling ([StorageWatcher.Poll]) and immediate mutation
// hooks ([StorageWatcher.Intercept]). Both feed one tracker, so either
// may report a change the other already saw; the hub's merge rule is
// idempotent for repeated values.
package producer
