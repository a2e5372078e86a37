// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/browserpipe/browserpipe/lib/changedetect"
	"github.com/browserpipe/browserpipe/lib/schema/telemetry"
)

// EventKind classifies a tail event.
type EventKind string

const (
	// EventItem is one telemetry item from a collector batch.
	EventItem EventKind = "item"

	// EventUpdate is a session channel update message.
	EventUpdate EventKind = "update"

	// EventSession is a session lifecycle change; Action says which.
	EventSession EventKind = "session"
)

// Session lifecycle actions.
const (
	ActionConnected    = "connected"
	ActionDisconnected = "disconnected"
	ActionSuperseded   = "superseded"
	ActionReaped       = "reaped"
)

// Event is what tail subscribers receive.
type Event struct {
	Kind        EventKind `json:"kind"`
	Time        time.Time `json:"time"`
	SessionID   string    `json:"sessionId,omitempty"`
	Application string    `json:"application,omitempty"`

	// Item is set for EventItem.
	Item *telemetry.Item `json:"item,omitempty"`

	// Subtype and either Changes (storage subtypes) or Payload
	// (anything else) are set for EventUpdate.
	Subtype string               `json:"subtype,omitempty"`
	Changes *changedetect.Result `json:"changes,omitempty"`
	Payload any                  `json:"payload,omitempty"`

	// Action is set for EventSession.
	Action string `json:"action,omitempty"`
}

// Tail fans events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Tail struct {
	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}
	bufferSize  int
	dropped     atomic.Uint64
}

// Subscription receives tail events until closed.
type Subscription struct {
	tail   *Tail
	events chan Event
	once   sync.Once
}

// NewTail returns a tail whose subscribers buffer bufferSize events.
func NewTail(bufferSize int) *Tail {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Tail{
		subscribers: make(map[*Subscription]struct{}),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a new subscriber.
func (t *Tail) Subscribe() *Subscription {
	subscription := &Subscription{tail: t, events: make(chan Event, t.bufferSize)}
	t.mu.Lock()
	t.subscribers[subscription] = struct{}{}
	t.mu.Unlock()
	return subscription
}

// Events returns the event channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event { return s.events }

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.tail.mu.Lock()
		delete(s.tail.subscribers, s)
		close(s.events)
		s.tail.mu.Unlock()
	})
}

// Publish delivers event to every subscriber that has room.
func (t *Tail) Publish(event Event) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for subscriber := range t.subscribers {
		select {
		case subscriber.events <- event:
		default:
			t.dropped.Add(1)
		}
	}
}

// Len returns the number of subscribers.
func (t *Tail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subscribers)
}

// Dropped returns how many deliveries were skipped for full buffers.
func (t *Tail) Dropped() uint64 { return t.dropped.Load() }
