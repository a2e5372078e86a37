// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import "time"

// SessionState is the informational activity label of a session.
type SessionState string

const (
	SessionRegistered SessionState = "registered"
	SessionActive     SessionState = "active"
	SessionIdle       SessionState = "idle"
)

// SessionInfo describes a connected session in the query API.
type SessionInfo struct {
	ID             string         `json:"id"`
	Application    string         `json:"application,omitempty"`
	Capabilities   []string       `json:"capabilities,omitempty"`
	Config         map[string]any `json:"config,omitempty"`
	ConnectedAt    time.Time      `json:"connectedAt"`
	LastActivityAt time.Time      `json:"lastActivityAt"`
	State          SessionState   `json:"state"`
	Updates        uint64         `json:"updates"`
}

// HubStats are the hub's aggregate counters.
type HubStats struct {
	StartedAt         time.Time `json:"startedAt"`
	UptimeSeconds     float64   `json:"uptimeSeconds"`
	ActiveConnections int       `json:"activeConnections"`
	TotalConnections  uint64    `json:"totalConnections"`
	ActiveSessions    int       `json:"activeSessions"`
	MessagesReceived  uint64    `json:"messagesReceived"`
	MessagesSent      uint64    `json:"messagesSent"`
	MalformedMessages uint64    `json:"malformedMessages"`
	BatchesIngested   uint64    `json:"batchesIngested"`
	ItemsIngested     uint64    `json:"itemsIngested"`
	LivenessReaped    uint64    `json:"livenessReaped"`
	Namespaces        int       `json:"namespaces"`
	Keys              int       `json:"keys"`
	TailSubscribers   int       `json:"tailSubscribers"`
}

// CommandRequest is the body of POST /api/sessions/{id}/command.
type CommandRequest struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
