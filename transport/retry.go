// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"math"
	"time"

	"github.com/browserpipe/browserpipe/lib/schema/telemetry"
)

// retryEntry is a failed batch awaiting resend. The batch is resent
// as a unit with its original metadata.
type retryEntry struct {
	batch       *telemetry.Batch
	retryCount  int
	nextAttempt time.Time

	// inFlight is set while a resend is outstanding so overlapping
	// retry passes do not send the same batch twice.
	inFlight bool
}

// RetryDelay returns the backoff before attempt retryCount+1:
// min(base * multiplier^retryCount, max).
func RetryDelay(base, maximum time.Duration, multiplier float64, retryCount int) time.Duration {
	delay := float64(base) * math.Pow(multiplier, float64(retryCount))
	if delay >= float64(maximum) || math.IsInf(delay, 1) || math.IsNaN(delay) {
		return maximum
	}
	return time.Duration(delay)
}

func (t *Transport) retryDelay(retryCount int) time.Duration {
	return RetryDelay(t.config.RetryBaseDelay, t.config.RetryMaxDelay, t.config.RetryMultiplier, retryCount)
}

// enqueueRetryLocked adds a freshly failed batch. With a bounded queue
// the oldest entry makes room.
func (t *Transport) enqueueRetryLocked(batch *telemetry.Batch) {
	if t.config.MaxQueueSize > 0 {
		for len(t.retries) >= t.config.MaxQueueSize {
			evicted := t.retries[0]
			t.retries = t.retries[1:]
			t.stats.dropped += uint64(len(evicted.batch.Items))
			t.logger.Warn("retry queue full, dropping oldest batch",
				"items", len(evicted.batch.Items),
				"max_queue_size", t.config.MaxQueueSize,
			)
		}
	}
	t.retries = append(t.retries, &retryEntry{
		batch:       batch,
		retryCount:  0,
		nextAttempt: t.clock.Now().Add(t.retryDelay(0)),
	})
}

// ProcessRetries runs one pass over the retry queue. Entries that have
// used up MaxRetries are dropped without another attempt; entries
// whose next attempt time has passed are resent. Flush and the
// background driver call this; tests call it directly.
func (t *Transport) ProcessRetries(ctx context.Context) {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return
	}
	now := t.clock.Now()
	var due []*retryEntry
	kept := make([]*retryEntry, 0, len(t.retries))
	for _, entry := range t.retries {
		switch {
		case entry.inFlight:
			kept = append(kept, entry)
		case entry.retryCount >= t.config.MaxRetries:
			t.stats.dropped += uint64(len(entry.batch.Items))
			t.logger.Warn("telemetry batch dropped after max retries",
				"items", len(entry.batch.Items),
				"retries", entry.retryCount,
			)
		case !now.Before(entry.nextAttempt):
			entry.inFlight = true
			due = append(due, entry)
			kept = append(kept, entry)
		default:
			kept = append(kept, entry)
		}
	}
	t.retries = kept
	t.mu.Unlock()

	for i, entry := range due {
		if ctx.Err() != nil {
			t.mu.Lock()
			for _, skipped := range due[i:] {
				skipped.inFlight = false
			}
			t.mu.Unlock()
			return
		}
		t.resend(entry)
	}
}

func (t *Transport) resend(entry *retryEntry) {
	latency, err := t.transmit(entry.batch)

	t.mu.Lock()
	defer t.mu.Unlock()
	entry.inFlight = false
	if t.destroyed {
		return
	}

	if err == nil {
		t.removeRetryLocked(entry)
		t.recordSuccessLocked(len(entry.batch.Items), latency)
		return
	}

	entry.retryCount++
	entry.nextAttempt = t.clock.Now().Add(t.retryDelay(entry.retryCount))
	t.stats.retryFailures++
	t.recordFailureLocked(err)
	t.logger.Debug("telemetry retry failed",
		"error", err,
		"retry_count", entry.retryCount,
		"next_attempt", entry.nextAttempt,
	)
}

func (t *Transport) removeRetryLocked(target *retryEntry) {
	for i, entry := range t.retries {
		if entry == target {
			t.retries = append(t.retries[:i:i], t.retries[i+1:]...)
			return
		}
	}
}
