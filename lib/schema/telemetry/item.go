// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a telemetry item. Unknown kinds are accepted and
// passed through so newer producers work against older hubs.
type Kind string

const (
	KindLog     Kind = "log"
	KindNetwork Kind = "network"
	KindStorage Kind = "storage"
	KindError   Kind = "error"
)

// Item is one captured event. Immutable once created; the transport
// only stamps SentAt on its own copy.
type Item struct {
	Kind Kind `json:"kind"`

	// Payload is any JSON-shaped value: a console argument list, a
	// request/response summary, a storage diff.
	Payload any `json:"payload,omitempty"`

	// CapturedAt is when the producer observed the event (Unix ms).
	CapturedAt int64 `json:"capturedAt"`

	// CorrelationID ties related items together, e.g. a request and
	// its response.
	CorrelationID string `json:"correlationId,omitempty"`

	// SentAt is stamped by the transport when the item is accepted
	// into the batch buffer (Unix ms).
	SentAt int64 `json:"sentAt,omitempty"`
}

// NewItem returns an item captured now.
func NewItem(kind Kind, payload any) Item {
	return Item{Kind: kind, Payload: payload, CapturedAt: Millis(time.Now())}
}

// Collector request headers identifying the producer out of band from
// the body.
const (
	HeaderApplication = "X-Application-Name"
	HeaderSession     = "X-Session-Id"
)

// Metadata identifies the producer of a batch.
type Metadata struct {
	ProducerID string `json:"producerId"`
	SessionID  string `json:"sessionId,omitempty"`
	Timestamp  int64  `json:"timestamp"`
	BatchSize  int    `json:"batchSize"`
}

// Batch is the collector request body.
type Batch struct {
	Items    []Item   `json:"items"`
	Metadata Metadata `json:"metadata"`
}

// Validate checks that a decoded batch is usable. An empty batch is
// valid.
func (b *Batch) Validate() error {
	var errs []error
	for i, item := range b.Items {
		if item.Kind == "" {
			errs = append(errs, fmt.Errorf("items[%d]: kind is required", i))
		}
	}
	if b.Metadata.BatchSize != 0 && b.Metadata.BatchSize != len(b.Items) {
		errs = append(errs, fmt.Errorf("metadata.batchSize is %d but batch carries %d items",
			b.Metadata.BatchSize, len(b.Items)))
	}
	return errors.Join(errs...)
}

// Millis converts t to Unix milliseconds. The zero time maps to 0.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromMillis is the inverse of Millis.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
