// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds bounded HTTP body readers and connection
// teardown classification shared by the transport, the producer
// channel client and the hub.
//
// Every request or response body is read through a size limit: the
// collector endpoint faces arbitrary browser pages, and a collector
// found by port probing may not be ours at all.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxBodySize bounds request and response body reads: 32 MB. A
// telemetry batch is orders of magnitude smaller.
const MaxBodySize int64 = 32 << 20

// ReadBody reads r up to limit bytes. Bodies longer than limit are an
// error rather than silently truncated.
func ReadBody(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return data, nil
}

// DecodeJSON reads r (up to MaxBodySize) and JSON-decodes it into v.
func DecodeJSON(r io.Reader, v any) error {
	data, err := ReadBody(r, MaxBodySize)
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an error response body for diagnostics, capped at
// 4 KB. Read errors are ignored; a partial body is still useful.
func ErrorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4<<10))
	return string(data)
}
