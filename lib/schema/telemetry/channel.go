// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import "fmt"

// MessageType discriminates session channel messages.
type MessageType string

// Producer to hub.
const (
	MessageConnect MessageType = "connect"
	MessageUpdate  MessageType = "update"
	MessagePing    MessageType = "ping"
)

// Hub to producer.
const (
	MessageInfo    MessageType = "info"
	MessageState   MessageType = "state"
	MessageCommand MessageType = "command"
	MessagePong    MessageType = "pong"
	MessageError   MessageType = "error"
)

// Storage subtypes understood by the hub's merge rule. Updates with
// any other subtype are stored verbatim.
const (
	SubtypeLocalStorage   = "localStorage"
	SubtypeSessionStorage = "sessionStorage"
	SubtypeCookies        = "cookies"
	SubtypeIndexedDB      = "indexedDB"
)

// IsStorageSubtype reports whether subtype carries a change-detector
// diff as its payload.
func IsStorageSubtype(subtype string) bool {
	switch subtype {
	case SubtypeLocalStorage, SubtypeSessionStorage, SubtypeCookies, SubtypeIndexedDB:
		return true
	}
	return false
}

// Message is the session channel envelope. Which fields are set
// depends on Type:
//
//	connect  SessionID (may be empty), Application, Capabilities, Config
//	update   SessionID, Subtype, Payload
//	ping     Timestamp
//	info     Info
//	state    State
//	command  Action, Params
//	pong     Timestamp
//	error    Error
type Message struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`

	Application  string         `json:"application,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Config       map[string]any `json:"config,omitempty"`

	Subtype string `json:"subtype,omitempty"`
	Payload any    `json:"payload,omitempty"`

	Info  *ServerInfo `json:"info,omitempty"`
	State GlobalState `json:"state,omitempty"`

	Action string         `json:"action,omitempty"`
	Params map[string]any `json:"params,omitempty"`

	Error string `json:"error,omitempty"`
}

// Validate checks a message received from a producer.
func (m *Message) Validate() error {
	switch m.Type {
	case MessageConnect, MessagePing:
		return nil
	case MessageUpdate:
		if m.Subtype == "" {
			return fmt.Errorf("update message requires a subtype")
		}
		return nil
	case "":
		return fmt.Errorf("message type is required")
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
}

// ServerInfo is the welcome sent when a connection opens.
type ServerInfo struct {
	Version        string   `json:"version"`
	PingIntervalMS int64    `json:"pingIntervalMs"`
	Capabilities   []string `json:"capabilities"`
	ServerTime     int64    `json:"serverTime"`
}

// StateEntry is one key of the hub's global state mirror.
type StateEntry struct {
	Value     any    `json:"value"`
	UpdatedBy string `json:"updatedBy"`
	UpdatedAt int64  `json:"updatedAt"`
	Subtype   string `json:"subtype,omitempty"`
}

// GlobalState maps namespace to key to entry.
type GlobalState map[string]map[string]StateEntry

// Keys returns the number of keys across all namespaces.
func (g GlobalState) Keys() int {
	total := 0
	for _, entries := range g {
		total += len(entries)
	}
	return total
}
