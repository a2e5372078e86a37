// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport delivers telemetry items from a producer to the
// hub's collector endpoint.
//
// [Transport.Send] appends an item to an in-memory buffer and returns
// immediately. The buffer is flushed as one batch when it reaches
// MaxBatchSize or when the batch timer (BatchTimeout) fires; at most
// one timer is pending per transport. A failed batch enters the retry
// queue and is resent with exponential backoff until it succeeds or
// exhausts MaxRetries, at which point it is dropped and counted.
// Delivery failures are never returned to the caller of Send; they
// show up only in [Stats].
//
// [Transport.Discover] probes candidate collector URLs and selects the
// first that answers its health endpoint, falling back to the
// configured default. A background health monitor re-probes
// periodically and re-runs discovery while disconnected.
//
// All state is owned by one mutex per Transport. Network I/O always
// happens outside the lock, under a ConnectionTimeout deadline.
package transport
