// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package hub is the server side of browserpipe: the collector
// endpoint that accepts transport batches, the WebSocket session
// channel that producers register on, the global state mirror their
// updates merge into, and the query API and live tail that expose it
// all to the terminal.
//
// Each channel connection moves through OPEN (welcome sent), then
// REGISTERED (first connect message, full state pushed), then
// ACTIVE/IDLE (updates merged; idle is a label only), then CLOSED (session
// removed, state kept). A session ID maps to one connection at a
// time; a later connect with the same ID wins.
//
// Liveness is a two-strike sweep every PingInterval: a connection
// that has not answered the previous ping when the next sweep runs is
// terminated and its session removed.
package hub
