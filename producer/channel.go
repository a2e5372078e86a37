// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/browserpipe/browserpipe/lib/clock"
	"github.com/browserpipe/browserpipe/lib/codec"
	"github.com/browserpipe/browserpipe/lib/netutil"
	"github.com/browserpipe/browserpipe/lib/schema/telemetry"
)

// ErrChannelClosed is returned by sends on a closed Channel.
var ErrChannelClosed = errors.New("producer: channel closed")

// ChannelConfig configures Dial.
type ChannelConfig struct {
	// URL is the hub's session channel, e.g. ws://127.0.0.1:8787/ws.
	// Required.
	URL string

	// SessionID to register. Empty lets the hub assign one.
	SessionID string

	Application  string
	Capabilities []string
	Config       map[string]any

	// Format selects the framing: JSON text frames or CBOR binary
	// frames. The hub answers in kind.
	Format codec.Format

	// PingInterval is the application-level ping period. Zero uses
	// the interval the hub advertises in its welcome; negative
	// disables pings.
	PingInterval time.Duration

	// WriteTimeout bounds each message written. Default 10s.
	WriteTimeout time.Duration

	// OnCommand receives command messages, on the read goroutine.
	OnCommand func(telemetry.Message)

	// OnState receives every state push after the first.
	OnState func(telemetry.GlobalState)

	// OnError receives error replies from the hub.
	OnError func(telemetry.Message)

	Clock  clock.Clock
	Logger *slog.Logger
}

// Channel is a registered session channel.
type Channel struct {
	config ChannelConfig
	ws     *websocket.Conn
	clock  clock.Clock
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	info      telemetry.ServerInfo
	sessionID string

	closeOnce sync.Once
	closing   atomic.Bool

	mu       sync.Mutex
	state    telemetry.GlobalState
	lastPong time.Time
	rtt      time.Duration
	err      error
}

// Dial connects to the hub, waits for its welcome, registers the
// session, and waits for the initial state push. The returned Channel
// runs until Close or until the hub goes away.
func Dial(ctx context.Context, config ChannelConfig) (*Channel, error) {
	if config.URL == "" {
		panic("producer.Channel: URL is required")
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ws, _, err := websocket.Dial(ctx, config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", config.URL, err)
	}

	channelCtx, cancel := context.WithCancel(context.Background())
	channel := &Channel{
		config: config,
		ws:     ws,
		clock:  config.Clock,
		logger: config.Logger,
		ctx:    channelCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if err := channel.handshake(ctx); err != nil {
		cancel()
		ws.Close(websocket.StatusProtocolError, "handshake failed")
		return nil, err
	}

	interval := config.PingInterval
	if interval == 0 {
		// Half the hub's sweep period keeps the session inside its
		// two-strike window even if one ping is lost.
		interval = time.Duration(channel.info.PingIntervalMS) * time.Millisecond / 2
	}

	go channel.readLoop()
	if interval > 0 {
		go channel.pingLoop(interval)
	}

	channel.logger.Info("session channel registered",
		"session_id", channel.sessionID,
		"hub_version", channel.info.Version,
		"format", config.Format,
	)
	return channel, nil
}

func (c *Channel) handshake(ctx context.Context) error {
	welcome, err := c.read(ctx)
	if err != nil {
		return fmt.Errorf("waiting for welcome: %w", err)
	}
	if welcome.Type != telemetry.MessageInfo || welcome.Info == nil {
		return fmt.Errorf("expected info message, got %q", welcome.Type)
	}
	c.info = *welcome.Info

	err = c.write(ctx, telemetry.Message{
		Type:         telemetry.MessageConnect,
		SessionID:    c.config.SessionID,
		Timestamp:    telemetry.Millis(c.clock.Now()),
		Application:  c.config.Application,
		Capabilities: c.config.Capabilities,
		Config:       c.config.Config,
	})
	if err != nil {
		return err
	}

	reply, err := c.read(ctx)
	if err != nil {
		return fmt.Errorf("waiting for state: %w", err)
	}
	switch reply.Type {
	case telemetry.MessageState:
	case telemetry.MessageError:
		return fmt.Errorf("hub rejected registration: %s", reply.Error)
	default:
		return fmt.Errorf("expected state message, got %q", reply.Type)
	}
	c.sessionID = reply.SessionID
	c.state = reply.State
	return nil
}

// SessionID returns the registered session ID, as assigned or
// confirmed by the hub.
func (c *Channel) SessionID() string { return c.sessionID }

// ServerInfo returns the hub's welcome.
func (c *Channel) ServerInfo() telemetry.ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// State returns the most recently pushed global state.
func (c *Channel) State() telemetry.GlobalState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RoundTrip returns the latency measured by the last answered ping
// and when that pong arrived.
func (c *Channel) RoundTrip() (time.Duration, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rtt, c.lastPong
}

// Done is closed when the read loop ends.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Err returns why the channel ended, or nil while it is running or
// after a clean Close.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SendUpdate reports a delta for subtype. Storage subtypes carry a
// changedetect.Result; any other subtype's payload is stored verbatim
// by the hub.
func (c *Channel) SendUpdate(ctx context.Context, subtype string, payload any) error {
	return c.write(ctx, telemetry.Message{
		Type:      telemetry.MessageUpdate,
		SessionID: c.sessionID,
		Timestamp: telemetry.Millis(c.clock.Now()),
		Subtype:   subtype,
		Payload:   payload,
	})
}

// Ping sends an application-level ping. The pong is recorded by the
// read loop; see RoundTrip.
func (c *Channel) Ping(ctx context.Context) error {
	return c.write(ctx, telemetry.Message{
		Type:      telemetry.MessagePing,
		Timestamp: telemetry.Millis(c.clock.Now()),
	})
}

// Close performs the closing handshake and waits for the read loop to
// end. Only the first call does anything.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		err = c.ws.Close(websocket.StatusNormalClosure, "")
		c.cancel()
		<-c.done
	})
	if err != nil && !netutil.IsExpectedCloseError(err) {
		return fmt.Errorf("closing session channel: %w", err)
	}
	return nil
}

func (c *Channel) write(ctx context.Context, message telemetry.Message) error {
	if c.closing.Load() || c.ctx.Err() != nil {
		return ErrChannelClosed
	}
	data, err := codec.Encode(c.config.Format, message)
	if err != nil {
		return fmt.Errorf("encoding %s message: %w", message.Type, err)
	}
	messageType := websocket.MessageText
	if c.config.Format == codec.CBOR {
		messageType = websocket.MessageBinary
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.WriteTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, messageType, data); err != nil {
		return fmt.Errorf("writing %s message: %w", message.Type, err)
	}
	return nil
}

func (c *Channel) read(ctx context.Context) (telemetry.Message, error) {
	messageType, data, err := c.ws.Read(ctx)
	if err != nil {
		return telemetry.Message{}, err
	}
	format := codec.JSON
	if messageType == websocket.MessageBinary {
		format = codec.CBOR
	}
	var message telemetry.Message
	if err := codec.Decode(format, data, &message); err != nil {
		return telemetry.Message{}, fmt.Errorf("decoding %s message: %w", format, err)
	}
	return message, nil
}

func (c *Channel) readLoop() {
	defer close(c.done)
	defer c.cancel()

	for {
		message, err := c.read(c.ctx)
		if err != nil {
			if !netutil.IsExpectedCloseError(err) && !c.closing.Load() {
				c.logger.Warn("session channel read failed", "session_id", c.sessionID, "error", err)
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
			}
			return
		}
		c.handle(message)
	}
}

func (c *Channel) handle(message telemetry.Message) {
	switch message.Type {
	case telemetry.MessageState:
		c.mu.Lock()
		c.state = message.State
		c.mu.Unlock()
		if c.config.OnState != nil {
			c.config.OnState(message.State)
		}
	case telemetry.MessageCommand:
		c.logger.Debug("command received", "session_id", c.sessionID, "action", message.Action)
		if c.config.OnCommand != nil {
			c.config.OnCommand(message)
		}
	case telemetry.MessagePong:
		now := c.clock.Now()
		c.mu.Lock()
		c.lastPong = now
		if message.Timestamp != 0 {
			c.rtt = now.Sub(telemetry.FromMillis(message.Timestamp))
		}
		c.mu.Unlock()
	case telemetry.MessageError:
		c.logger.Warn("hub reported an error", "session_id", c.sessionID, "error", message.Error)
		if c.config.OnError != nil {
			c.config.OnError(message)
		}
	case telemetry.MessageInfo:
		if message.Info != nil {
			c.mu.Lock()
			c.info = *message.Info
			c.mu.Unlock()
		}
	default:
		c.logger.Debug("ignoring unknown message", "type", message.Type)
	}
}

func (c *Channel) pingLoop(interval time.Duration) {
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.Ping(c.ctx); err != nil && c.ctx.Err() == nil {
				c.logger.Debug("ping failed", "session_id", c.sessionID, "error", err)
			}
		}
	}
}
