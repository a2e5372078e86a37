// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/browserpipe/browserpipe/lib/clock"
	"github.com/browserpipe/browserpipe/lib/schema/telemetry"
)

// ErrDestroyed is returned by Flush after Destroy.
var ErrDestroyed = errors.New("transport: destroyed")

// Transport batches telemetry items and delivers them to the
// collector. Create with New; all methods are safe for concurrent use.
type Transport struct {
	config Config
	sender Sender
	clock  clock.Clock
	logger *slog.Logger

	mu sync.Mutex

	buffer  []telemetry.Item
	retries []*retryEntry

	// timer is the pending batch timer, nil when none is pending.
	// timerSeq identifies it so a callback that lost the race with a
	// size-triggered flush does not clobber its successor.
	timer    *clock.Timer
	timerSeq uint64

	// inflight counts asynchronous size-triggered deliveries;
	// drained is closed when it returns to zero.
	inflight int
	drained  chan struct{}

	sessionID string
	endpoint  string
	healthy   bool
	connected bool
	destroyed bool

	stats counters

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Transport and starts its background retry driver and
// health monitor when their intervals are positive. Call Destroy to
// stop them.
func New(config Config) *Transport {
	if config.DefaultEndpoint == "" {
		panic("transport.Transport: DefaultEndpoint is required")
	}
	config = config.withDefaults()

	t := &Transport{
		config:    config,
		sender:    config.Sender,
		clock:     config.Clock,
		logger:    config.Logger,
		sessionID: config.SessionID,
		endpoint:  config.DefaultEndpoint,
		done:      make(chan struct{}),
	}

	if config.RetryInterval > 0 {
		t.startDriver(config.RetryInterval, func() { t.ProcessRetries(context.Background()) })
	}
	if config.HealthInterval > 0 {
		t.startDriver(config.HealthInterval, func() { t.CheckHealth(context.Background()) })
	}
	return t
}

// startDriver runs fn every interval until Destroy.
func (t *Transport) startDriver(interval time.Duration, fn func()) {
	ticker := t.clock.NewTicker(interval)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn()
			case <-t.done:
				return
			}
		}
	}()
}

// SetSessionID changes the session stamped on subsequent batches.
func (t *Transport) SetSessionID(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionID = sessionID
}

// Send queues item for delivery. It never blocks on the network and
// never fails; after Destroy it does nothing.
func (t *Transport) Send(item telemetry.Item) {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return
	}

	item.SentAt = telemetry.Millis(t.clock.Now())
	t.buffer = append(t.buffer, item)

	if len(t.buffer) < t.config.MaxBatchSize {
		t.scheduleLocked()
		t.mu.Unlock()
		return
	}

	batch := t.takeLocked()
	t.beginInflightLocked()
	t.mu.Unlock()

	go func() {
		defer t.endInflight()
		t.deliver(batch)
	}()
}

// Flush delivers everything buffered, waits for size-triggered
// deliveries already in flight, then runs one retry pass. Delivery
// failures are not errors: Flush returns ErrDestroyed after Destroy,
// or ctx's error if ctx ends first.
func (t *Transport) Flush(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.destroyed {
			t.mu.Unlock()
			return ErrDestroyed
		}
		if len(t.buffer) == 0 {
			t.mu.Unlock()
			break
		}
		batch := t.takeLocked()
		t.mu.Unlock()

		t.deliver(batch)
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	t.mu.Lock()
	drained := t.drained
	pending := t.inflight > 0
	t.mu.Unlock()
	if pending {
		select {
		case <-drained:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	t.ProcessRetries(ctx)
	return ctx.Err()
}

// Destroy stops timers and background drivers, discards the buffer
// and retry queue, and marks the transport disconnected. It does not
// flush; call Flush first to deliver pending items. Results of sends
// still in flight are discarded.
func (t *Transport) Destroy() {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return
	}
	t.destroyed = true
	t.cancelTimerLocked()
	t.buffer = nil
	t.retries = nil
	t.connected = false
	t.healthy = false
	t.mu.Unlock()

	close(t.done)
	t.wg.Wait()
}

// scheduleLocked arms the batch timer unless one is already pending.
func (t *Transport) scheduleLocked() {
	if t.timer != nil {
		return
	}
	t.timerSeq++
	seq := t.timerSeq
	t.timer = t.clock.AfterFunc(t.config.BatchTimeout, func() { t.onTimer(seq) })
}

func (t *Transport) cancelTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// onTimer flushes one batch when the batch timer fires. Delivery runs
// on the timer's goroutine and counts as in flight, so Flush waits
// for it.
func (t *Transport) onTimer(seq uint64) {
	t.mu.Lock()
	if seq != t.timerSeq || t.timer == nil {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	if t.destroyed || len(t.buffer) == 0 {
		t.mu.Unlock()
		return
	}
	batch := t.takeLocked()
	t.beginInflightLocked()
	t.mu.Unlock()

	defer t.endInflight()
	t.deliver(batch)
}

// takeLocked removes up to MaxBatchSize items from the front of the
// buffer and cancels the pending timer. Items left behind get a fresh
// timer so they are not stranded.
func (t *Transport) takeLocked() []telemetry.Item {
	count := min(len(t.buffer), t.config.MaxBatchSize)
	batch := make([]telemetry.Item, count)
	copy(batch, t.buffer[:count])

	if count == len(t.buffer) {
		t.buffer = nil
	} else {
		remaining := make([]telemetry.Item, len(t.buffer)-count)
		copy(remaining, t.buffer[count:])
		t.buffer = remaining
	}

	t.cancelTimerLocked()
	if len(t.buffer) > 0 {
		t.scheduleLocked()
	}
	return batch
}

func (t *Transport) beginInflightLocked() {
	if t.inflight == 0 {
		t.drained = make(chan struct{})
	}
	t.inflight++
}

func (t *Transport) endInflight() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight--
	if t.inflight == 0 {
		close(t.drained)
	}
}

// deliver makes the first attempt for a fresh batch. Failure enqueues
// the batch for retry.
func (t *Transport) deliver(items []telemetry.Item) {
	batch := t.newBatch(items)
	latency, err := t.transmit(batch)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return
	}
	if err == nil {
		t.recordSuccessLocked(len(items), latency)
		return
	}

	t.stats.totalFailed += uint64(len(items))
	t.stats.batchesFailed++
	t.recordFailureLocked(err)
	t.enqueueRetryLocked(batch)

	t.logger.Warn("telemetry batch failed, queued for retry",
		"error", err,
		"items", len(items),
		"endpoint", t.endpoint,
		"queue_length", len(t.retries),
	)
}

func (t *Transport) newBatch(items []telemetry.Item) *telemetry.Batch {
	t.mu.Lock()
	sessionID := t.sessionID
	t.mu.Unlock()

	return &telemetry.Batch{
		Items: items,
		Metadata: telemetry.Metadata{
			ProducerID: t.config.ProducerID,
			SessionID:  sessionID,
			Timestamp:  telemetry.Millis(t.clock.Now()),
			BatchSize:  len(items),
		},
	}
}

// transmit performs one network attempt against the active endpoint.
func (t *Transport) transmit(batch *telemetry.Batch) (time.Duration, error) {
	t.mu.Lock()
	endpoint := t.endpoint
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), t.config.ConnectionTimeout)
	defer cancel()

	start := t.clock.Now()
	err := t.sender.Send(ctx, endpoint, batch)
	return t.clock.Now().Sub(start), err
}

func (t *Transport) recordSuccessLocked(items int, latency time.Duration) {
	t.stats.totalSent += uint64(items)
	t.stats.batchesSent++
	if t.stats.averageLatency == 0 {
		t.stats.averageLatency = latency
	} else {
		t.stats.averageLatency = (t.stats.averageLatency + latency) / 2
	}
	t.stats.lastSuccess = t.clock.Now()
	t.healthy = true
}

func (t *Transport) recordFailureLocked(err error) {
	t.stats.lastError = err.Error()
	t.healthy = false
}
