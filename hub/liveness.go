// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"sync"

	"github.com/coder/websocket"
)

// Run sweeps connections for liveness every PingInterval until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) error {
	ticker := h.clock.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.Sweep()
		}
	}
}

// Sweep runs one liveness pass. A connection still waiting on the
// ping sent by the previous pass is terminated; every other
// connection is pinged and marked as waiting.
func (h *Hub) Sweep() {
	for _, c := range h.connections() {
		if !c.armPing() {
			h.reap(c)
			continue
		}
		go c.ping()
	}
}

// armPing marks c as waiting for a pong. Returns false when it was
// already waiting.
func (c *conn) armPing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.awaitingPong {
		return false
	}
	c.awaitingPong = true
	return true
}

// ping waits for the control pong for as long as the connection
// lives. The sweep, not a deadline here, decides when it is late.
func (c *conn) ping() {
	if err := c.ws.Ping(c.ctx); err == nil {
		c.markAlive()
	}
}

// reap terminates an unresponsive connection and removes its session.
func (h *Hub) reap(c *conn) {
	h.counters.livenessReaped.Add(1)
	h.removeConn(c)

	sessionID, application := c.session()
	h.logger.Warn("terminating unresponsive session channel",
		"remote", c.remote,
		"session_id", sessionID,
		"ping_interval", h.config.PingInterval,
	)
	if sessionID != "" && h.registry.Remove(sessionID, c) {
		h.tail.Publish(Event{
			Kind:        EventSession,
			Time:        h.clock.Now(),
			SessionID:   sessionID,
			Application: application,
			Action:      ActionReaped,
		})
	}

	go c.close(websocket.StatusPolicyViolation, "liveness timeout")
}

// closeAll closes connections concurrently; each close waits for the
// peer's close frame.
func closeAll(conns []*conn, code websocket.StatusCode, reason string) {
	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.close(code, reason)
		}()
	}
	wg.Wait()
}
