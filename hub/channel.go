// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/browserpipe/browserpipe/lib/codec"
	"github.com/browserpipe/browserpipe/lib/netutil"
	"github.com/browserpipe/browserpipe/lib/schema/telemetry"
	"github.com/browserpipe/browserpipe/lib/version"
)

// serverCapabilities are advertised in the welcome message.
var serverCapabilities = []string{"cbor", "commands", "storage-merge"}

// conn is one session channel connection. It implements Peer.
type conn struct {
	hub    *Hub
	ws     *websocket.Conn
	remote string

	// ctx ends when the connection's handler returns; outstanding
	// pings wait on it.
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	format      codec.Format
	sessionID   string
	application string

	// awaitingPong is set when a ping goes out and cleared by any
	// liveness evidence: a control pong or an application ping.
	awaitingPong bool
}

// Send implements Peer. Messages go out in the framing the producer
// last used: JSON text frames until it sends a binary frame.
// coder/websocket serializes concurrent writers.
func (c *conn) Send(ctx context.Context, message telemetry.Message) error {
	c.mu.Lock()
	format := c.format
	c.mu.Unlock()

	data, err := codec.Encode(format, message)
	if err != nil {
		return fmt.Errorf("encoding %s message: %w", message.Type, err)
	}
	messageType := websocket.MessageText
	if format == codec.CBOR {
		messageType = websocket.MessageBinary
	}

	ctx, cancel := context.WithTimeout(ctx, c.hub.config.WriteTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, messageType, data); err != nil {
		return fmt.Errorf("writing %s message: %w", message.Type, err)
	}
	c.hub.counters.messagesSent.Add(1)
	return nil
}

func (c *conn) session() (sessionID, application string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.application
}

func (c *conn) setSession(sessionID, application string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
	c.application = application
}

func (c *conn) setFormat(format codec.Format) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.format = format
}

func (c *conn) markAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.awaitingPong = false
}

func (c *conn) close(code websocket.StatusCode, reason string) {
	c.ws.Close(code, reason)
	c.cancel()
}

// handleChannel upgrades to a WebSocket and runs the connection until
// it closes.
func (h *Hub) handleChannel(writer http.ResponseWriter, request *http.Request) {
	ws, err := websocket.Accept(writer, request, &websocket.AcceptOptions{
		OriginPatterns: h.config.AllowedOrigins,
	})
	if err != nil {
		h.logger.Warn("session channel upgrade failed", "remote", request.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(h.config.MaxBodyBytes)

	ctx, cancel := context.WithCancel(request.Context())
	c := &conn{
		hub:    h,
		ws:     ws,
		remote: request.RemoteAddr,
		ctx:    ctx,
		cancel: cancel,
		format: codec.JSON,
	}
	h.addConn(c)
	defer h.disconnect(c)

	h.logger.Debug("session channel opened", "remote", c.remote)

	welcome := telemetry.Message{
		Type:      telemetry.MessageInfo,
		Timestamp: telemetry.Millis(h.clock.Now()),
		Info: &telemetry.ServerInfo{
			Version:        version.Short(),
			PingIntervalMS: h.config.PingInterval.Milliseconds(),
			Capabilities:   serverCapabilities,
			ServerTime:     telemetry.Millis(h.clock.Now()),
		},
	}
	if err := c.Send(ctx, welcome); err != nil {
		h.logger.Debug("sending welcome failed", "remote", c.remote, "error", err)
		return
	}

	h.readLoop(ctx, c)
}

func (h *Hub) readLoop(ctx context.Context, c *conn) {
	for {
		messageType, data, err := c.ws.Read(ctx)
		if err != nil {
			if !netutil.IsExpectedCloseError(err) {
				h.logger.Debug("session channel read failed", "remote", c.remote, "error", err)
			}
			return
		}
		h.counters.messagesReceived.Add(1)

		format := codec.JSON
		if messageType == websocket.MessageBinary {
			format = codec.CBOR
		}
		c.setFormat(format)

		var message telemetry.Message
		if err := codec.Decode(format, data, &message); err != nil {
			h.reject(ctx, c, fmt.Errorf("malformed %s message: %w", format, err))
			continue
		}
		if err := message.Validate(); err != nil {
			h.reject(ctx, c, err)
			continue
		}
		if err := h.dispatch(ctx, c, &message); err != nil {
			h.reject(ctx, c, err)
		}
	}
}

// reject answers a bad message with an error reply. The connection
// stays open.
func (h *Hub) reject(ctx context.Context, c *conn, cause error) {
	h.counters.malformedMessages.Add(1)
	sessionID, _ := c.session()
	h.logger.Debug("rejected session channel message",
		"remote", c.remote,
		"session_id", sessionID,
		"error", cause,
	)
	reply := telemetry.Message{
		Type:      telemetry.MessageError,
		SessionID: sessionID,
		Timestamp: telemetry.Millis(h.clock.Now()),
		Error:     cause.Error(),
	}
	if err := c.Send(ctx, reply); err != nil {
		h.logger.Debug("sending error reply failed", "remote", c.remote, "error", err)
	}
}

func (h *Hub) dispatch(ctx context.Context, c *conn, message *telemetry.Message) error {
	switch message.Type {
	case telemetry.MessageConnect:
		h.handleConnect(ctx, c, message)
		return nil
	case telemetry.MessageUpdate:
		return h.handleUpdate(c, message)
	case telemetry.MessagePing:
		c.markAlive()
		pong := telemetry.Message{Type: telemetry.MessagePong, Timestamp: message.Timestamp}
		if err := c.Send(ctx, pong); err != nil {
			h.logger.Debug("sending pong failed", "remote", c.remote, "error", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported message type %q", message.Type)
	}
}

// handleConnect registers (or re-registers) the connection's session
// and pushes the full state.
func (h *Hub) handleConnect(ctx context.Context, c *conn, message *telemetry.Message) {
	sessionID := message.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	now := h.clock.Now()

	if previous, _ := c.session(); previous != "" && previous != sessionID {
		h.registry.Remove(previous, c)
	}

	superseded := h.registry.Register(&Session{
		ID:             sessionID,
		Application:    message.Application,
		Capabilities:   message.Capabilities,
		Config:         message.Config,
		ConnectedAt:    now,
		LastActivityAt: now,
		Peer:           c,
	})
	c.setSession(sessionID, message.Application)

	if superseded != nil {
		h.logger.Info("session superseded by a new connection",
			"session_id", sessionID,
			"remote", c.remote,
		)
		h.tail.Publish(Event{Kind: EventSession, Time: now, SessionID: sessionID, Action: ActionSuperseded})
		// The old connection stays open; liveness reaps it if it is
		// dead. Notify it off this read loop in case it is.
		go func(peer Peer) {
			notice := telemetry.Message{
				Type:      telemetry.MessageError,
				SessionID: sessionID,
				Timestamp: telemetry.Millis(now),
				Error:     "session superseded",
			}
			if err := peer.Send(context.Background(), notice); err != nil {
				h.logger.Debug("notifying superseded connection failed", "session_id", sessionID, "error", err)
			}
		}(superseded.Peer)
	}

	h.logger.Info("session registered",
		"session_id", sessionID,
		"application", message.Application,
		"remote", c.remote,
	)
	h.tail.Publish(Event{
		Kind:        EventSession,
		Time:        now,
		SessionID:   sessionID,
		Application: message.Application,
		Action:      ActionConnected,
	})

	state := telemetry.Message{
		Type:      telemetry.MessageState,
		SessionID: sessionID,
		Timestamp: telemetry.Millis(now),
		State:     h.state.Snapshot(""),
	}
	if err := c.Send(ctx, state); err != nil {
		h.logger.Debug("pushing state failed", "session_id", sessionID, "error", err)
	}
}

// handleUpdate merges a reported delta into the global state.
func (h *Hub) handleUpdate(c *conn, message *telemetry.Message) error {
	sessionID, application := c.session()
	if sessionID == "" {
		return errors.New("update before connect: register with a connect message first")
	}
	if message.SessionID != "" && message.SessionID != sessionID {
		return fmt.Errorf("update for session %q on a connection registered as %q", message.SessionID, sessionID)
	}

	now := h.clock.Now()
	changes, err := h.state.Merge(message.Subtype, sessionID, message.Payload, now)
	if err != nil {
		return err
	}
	h.registry.Touch(sessionID, c, now)

	event := Event{
		Kind:        EventUpdate,
		Time:        now,
		SessionID:   sessionID,
		Application: application,
		Subtype:     message.Subtype,
		Changes:     changes,
	}
	if changes == nil {
		event.Payload = message.Payload
	}
	h.tail.Publish(event)
	return nil
}

// disconnect runs when a connection's handler returns.
func (h *Hub) disconnect(c *conn) {
	c.cancel()
	c.ws.CloseNow()
	h.removeConn(c)

	sessionID, application := c.session()
	if sessionID == "" || !h.registry.Remove(sessionID, c) {
		h.logger.Debug("session channel closed", "remote", c.remote)
		return
	}
	h.logger.Info("session disconnected", "session_id", sessionID, "remote", c.remote)
	h.tail.Publish(Event{
		Kind:        EventSession,
		Time:        h.clock.Now(),
		SessionID:   sessionID,
		Application: application,
		Action:      ActionDisconnected,
	})
}
