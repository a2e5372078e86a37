// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/browserpipe/browserpipe/lib/clock"
	"github.com/browserpipe/browserpipe/lib/config"
	"github.com/browserpipe/browserpipe/lib/schema/telemetry"
)

// ErrSessionNotConnected is returned by SendCommand for a session with
// no live connection. Commands are never queued.
var ErrSessionNotConnected = errors.New("hub: session not connected")

// Config configures a Hub.
type Config struct {
	// Route paths. Defaults "/telemetry", "/health", "/ws".
	CollectPath string
	HealthPath  string
	ChannelPath string

	// PingInterval is the liveness sweep period. Default 30s.
	PingInterval time.Duration

	// IdleAfter labels sessions idle after this long without an
	// update. Default 60s.
	IdleAfter time.Duration

	// TailBuffer is each tail subscriber's event buffer. Default 256.
	TailBuffer int

	// AllowedOrigins are the WebSocket origin patterns accepted.
	// Default: any.
	AllowedOrigins []string

	// MaxBodyBytes bounds a collector body and a channel message.
	// Default 8 MB.
	MaxBodyBytes int64

	// WriteTimeout bounds each message written to a connection.
	// Default 10s.
	WriteTimeout time.Duration

	// Clock drives the liveness sweep and timestamps. Default real.
	Clock clock.Clock

	// Logger is required.
	Logger *slog.Logger
}

// FromServerConfig maps the server section of the configuration file
// onto a hub Config.
func FromServerConfig(server config.ServerConfig, logger *slog.Logger) Config {
	return Config{
		CollectPath:    server.CollectPath,
		HealthPath:     server.HealthPath,
		ChannelPath:    server.ChannelPath,
		PingInterval:   server.PingInterval,
		IdleAfter:      server.IdleAfter,
		TailBuffer:     server.TailBuffer,
		AllowedOrigins: server.AllowedOrigins,
		MaxBodyBytes:   server.MaxBodyBytes,
		Logger:         logger,
	}
}

// Hub owns the registry, the state mirror, and the tail.
type Hub struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger

	registry *Registry
	state    *State
	tail     *Tail

	connMu sync.Mutex
	conns  map[*conn]struct{}

	startedAt time.Time
	counters  hubCounters
}

type hubCounters struct {
	totalConnections  atomic.Uint64
	messagesReceived  atomic.Uint64
	messagesSent      atomic.Uint64
	malformedMessages atomic.Uint64
	batchesIngested   atomic.Uint64
	itemsIngested     atomic.Uint64
	livenessReaped    atomic.Uint64
}

// New creates a Hub. Mount Handler on an HTTP server and run Run for
// the liveness sweep.
func New(config Config) *Hub {
	if config.Logger == nil {
		panic("hub.Hub: Logger is required")
	}
	if config.CollectPath == "" {
		config.CollectPath = "/telemetry"
	}
	if config.HealthPath == "" {
		config.HealthPath = "/health"
	}
	if config.ChannelPath == "" {
		config.ChannelPath = "/ws"
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.IdleAfter <= 0 {
		config.IdleAfter = time.Minute
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"*"}
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 8 << 20
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}

	return &Hub{
		config:    config,
		clock:     config.Clock,
		logger:    config.Logger,
		registry:  NewRegistry(),
		state:     NewState(),
		tail:      NewTail(config.TailBuffer),
		conns:     make(map[*conn]struct{}),
		startedAt: config.Clock.Now(),
	}
}

// Registry returns the session registry.
func (h *Hub) Registry() *Registry { return h.registry }

// State returns the global state mirror.
func (h *Hub) State() *State { return h.state }

// Tail returns the live event fan-out.
func (h *Hub) Tail() *Tail { return h.tail }

// Handler returns the HTTP handler serving every hub route.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+h.config.HealthPath, h.handleHealth)
	mux.HandleFunc("POST "+h.config.CollectPath, h.handleCollect)
	mux.HandleFunc("GET "+h.config.ChannelPath, h.handleChannel)
	h.registerQueryRoutes(mux)
	return withCORS(mux)
}

// SendCommand pushes an out-of-band command to one session. Returns
// ErrSessionNotConnected when the session has no live connection.
func (h *Hub) SendCommand(ctx context.Context, sessionID, action string, params map[string]any) error {
	peer, ok := h.registry.Peer(sessionID)
	if !ok {
		return ErrSessionNotConnected
	}
	return peer.Send(ctx, telemetry.Message{
		Type:      telemetry.MessageCommand,
		SessionID: sessionID,
		Timestamp: telemetry.Millis(h.clock.Now()),
		Action:    action,
		Params:    params,
	})
}

// Stats returns aggregate counters.
func (h *Hub) Stats() telemetry.HubStats {
	namespaces, keys := h.state.Counts()
	now := h.clock.Now()
	return telemetry.HubStats{
		StartedAt:         h.startedAt,
		UptimeSeconds:     now.Sub(h.startedAt).Seconds(),
		ActiveConnections: h.connectionCount(),
		TotalConnections:  h.counters.totalConnections.Load(),
		ActiveSessions:    h.registry.Len(),
		MessagesReceived:  h.counters.messagesReceived.Load(),
		MessagesSent:      h.counters.messagesSent.Load(),
		MalformedMessages: h.counters.malformedMessages.Load(),
		BatchesIngested:   h.counters.batchesIngested.Load(),
		ItemsIngested:     h.counters.itemsIngested.Load(),
		LivenessReaped:    h.counters.livenessReaped.Load(),
		Namespaces:        namespaces,
		Keys:              keys,
		TailSubscribers:   h.tail.Len(),
	}
}

// Close closes every channel connection with a going-away status.
func (h *Hub) Close() {
	closeAll(h.connections(), websocket.StatusGoingAway, "hub shutting down")
}

func (h *Hub) addConn(c *conn) {
	h.connMu.Lock()
	h.conns[c] = struct{}{}
	h.connMu.Unlock()
	h.counters.totalConnections.Add(1)
}

func (h *Hub) removeConn(c *conn) {
	h.connMu.Lock()
	delete(h.conns, c)
	h.connMu.Unlock()
}

func (h *Hub) connections() []*conn {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	return conns
}

func (h *Hub) connectionCount() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return len(h.conns)
}
