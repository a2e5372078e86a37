// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry defines the browserpipe wire types: telemetry
// items and the batch body POSTed to the collector, the session
// channel message envelope, and the JSON documents served by the
// hub's query API.
//
// Channel messages travel as JSON in WebSocket text frames or as CBOR
// in binary frames. Only JSON struct tags are declared; the
// fxamacker/cbor json-tag fallback gives both encodings the same field
// names (see lib/codec). Wire timestamps are Unix milliseconds, the
// native resolution of browser clocks, so both encodings carry them
// without loss.
package telemetry
