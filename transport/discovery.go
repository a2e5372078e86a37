// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "context"

// Discover probes the configured candidates in order and makes the
// first live one the active endpoint, marking the transport connected
// and healthy. When none answers, the default endpoint becomes active
// and the transport is marked not connected; sends still go to the
// default so a collector that appears later is picked up. Discover
// never fails. It returns the active endpoint.
func (t *Transport) Discover(ctx context.Context) string {
	for _, candidate := range t.config.Candidates {
		if ctx.Err() != nil {
			break
		}
		if err := t.probe(ctx, candidate); err != nil {
			t.logger.Debug("collector probe failed", "endpoint", candidate, "error", err)
			continue
		}

		t.mu.Lock()
		changed := t.endpoint != candidate
		if !t.destroyed {
			t.endpoint = candidate
			t.connected = true
			t.healthy = true
		}
		t.mu.Unlock()
		if changed {
			t.logger.Info("collector discovered", "endpoint", candidate)
		}
		return candidate
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.destroyed {
		t.endpoint = t.config.DefaultEndpoint
		t.connected = false
	}
	t.logger.Debug("no collector found, using default endpoint",
		"endpoint", t.config.DefaultEndpoint,
		"candidates", len(t.config.Candidates),
	)
	return t.config.DefaultEndpoint
}

func (t *Transport) probe(ctx context.Context, endpoint string) error {
	ctx, cancel := context.WithTimeout(ctx, t.config.ConnectionTimeout)
	defer cancel()
	return t.sender.Probe(ctx, endpoint)
}
