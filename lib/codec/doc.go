// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec encodes session-channel messages and value
// fingerprints.
//
// The session channel carries the same message types in two framings:
// JSON in WebSocket text frames (what a browser sends) and CBOR in
// binary frames (what native producers may prefer). [Format] names the
// framing and [Encode]/[Decode] dispatch on it, so the hub and producer
// never branch on framing themselves.
//
// CBOR uses Core Deterministic Encoding (RFC 8949 §4.2): equal values
// always produce identical bytes, which the change detector relies on
// for value equality. Types carry json struct tags only; fxamacker/cbor
// falls back to them, so one tag set serves both framings.
package codec
