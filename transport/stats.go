// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "time"

// counters are the mutable statistics, guarded by Transport.mu.
type counters struct {
	totalSent      uint64
	totalFailed    uint64
	dropped        uint64
	batchesSent    uint64
	batchesFailed  uint64
	retryFailures  uint64
	averageLatency time.Duration
	lastError      string
	lastSuccess    time.Time
}

// Stats is a point-in-time copy of a transport's counters and health.
type Stats struct {
	// TotalSent counts items delivered, on first attempt or retry.
	TotalSent uint64 `json:"totalSent"`

	// TotalFailed counts items whose first attempt failed. Retry
	// failures of the same items are counted in RetryFailures.
	TotalFailed uint64 `json:"totalFailed"`

	// Dropped counts items discarded after MaxRetries or evicted from
	// a full retry queue.
	Dropped uint64 `json:"dropped"`

	BatchesSent   uint64 `json:"batchesSent"`
	BatchesFailed uint64 `json:"batchesFailed"`
	RetryFailures uint64 `json:"retryFailures"`

	// AverageLatency is an exponential moving average of successful
	// send round trips.
	AverageLatency time.Duration `json:"averageLatency"`

	BufferLength int `json:"bufferLength"`
	QueueLength  int `json:"queueLength"`

	Healthy   bool   `json:"healthy"`
	Connected bool   `json:"connected"`
	Endpoint  string `json:"endpoint"`

	LastError   string    `json:"lastError,omitempty"`
	LastSuccess time.Time `json:"lastSuccess,omitzero"`
}

// Stats returns current statistics.
func (t *Transport) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		TotalSent:      t.stats.totalSent,
		TotalFailed:    t.stats.totalFailed,
		Dropped:        t.stats.dropped,
		BatchesSent:    t.stats.batchesSent,
		BatchesFailed:  t.stats.batchesFailed,
		RetryFailures:  t.stats.retryFailures,
		AverageLatency: t.stats.averageLatency,
		BufferLength:   len(t.buffer),
		QueueLength:    len(t.retries),
		Healthy:        t.healthy,
		Connected:      t.connected,
		Endpoint:       t.endpoint,
		LastError:      t.stats.lastError,
		LastSuccess:    t.stats.lastSuccess,
	}
}
