// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "context"

// CheckHealth probes the active endpoint and updates the healthy and
// connected flags. While not connected it runs discovery instead, so
// a collector started after the producer is found lazily. It never
// gates Send. Returns the resulting healthy flag.
func (t *Transport) CheckHealth(ctx context.Context) bool {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return false
	}
	connected := t.connected
	endpoint := t.endpoint
	t.mu.Unlock()

	if !connected {
		t.Discover(ctx)
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.healthy && t.connected
	}

	err := t.probe(ctx, endpoint)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed || t.endpoint != endpoint {
		return t.healthy
	}
	if err != nil {
		if t.connected {
			t.logger.Warn("collector health check failed", "endpoint", endpoint, "error", err)
		}
		t.healthy = false
		t.connected = false
		return false
	}
	t.healthy = true
	t.connected = true
	return true
}
