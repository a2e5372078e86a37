// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/browserpipe/browserpipe/lib/schema/telemetry"
)

// Peer is the live connection a session is bound to.
type Peer interface {
	// Send delivers one message to the producer.
	Send(ctx context.Context, message telemetry.Message) error
}

// Session is a registered producer.
type Session struct {
	ID             string
	Application    string
	Capabilities   []string
	Config         map[string]any
	ConnectedAt    time.Time
	LastActivityAt time.Time
	Updates        uint64

	Peer Peer
}

// Registry maps session IDs to sessions. A session ID maps to at most
// one peer: registering an ID again replaces the entry (last write
// wins) without touching the superseded peer.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register inserts session, replacing any entry with the same ID.
// When the replaced entry belonged to a different peer it is returned
// so the caller can notify that peer; otherwise the result is nil.
// Re-registration from the same peer keeps the original ConnectedAt.
func (r *Registry) Register(session *Session) (superseded *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous, exists := r.sessions[session.ID]
	r.sessions[session.ID] = session
	if !exists {
		return nil
	}
	if previous.Peer == session.Peer {
		session.ConnectedAt = previous.ConnectedAt
		session.Updates = previous.Updates
		return nil
	}
	return previous
}

// Remove deletes id only while it is still bound to owner, so a
// superseded connection closing never evicts its successor. Returns
// whether an entry was removed.
func (r *Registry) Remove(id string, owner Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[id]
	if !exists || session.Peer != owner {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Touch records activity on id from owner. Returns false when id is
// not bound to owner.
func (r *Registry) Touch(id string, owner Peer, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[id]
	if !exists || (owner != nil && session.Peer != owner) {
		return false
	}
	session.LastActivityAt = now
	session.Updates++
	return true
}

// Peer returns the peer currently bound to id.
func (r *Registry) Peer(id string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[id]
	if !exists {
		return nil, false
	}
	return session.Peer, true
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Info describes one session for the query API.
func (r *Registry) Info(id string, now time.Time, idleAfter time.Duration) (telemetry.SessionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[id]
	if !exists {
		return telemetry.SessionInfo{}, false
	}
	return session.info(now, idleAfter), true
}

// List describes every session, sorted by ID.
func (r *Registry) List(now time.Time, idleAfter time.Duration) []telemetry.SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]telemetry.SessionInfo, 0, len(r.sessions))
	for _, session := range r.sessions {
		infos = append(infos, session.info(now, idleAfter))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// info must be called with the registry lock held.
func (s *Session) info(now time.Time, idleAfter time.Duration) telemetry.SessionInfo {
	return telemetry.SessionInfo{
		ID:             s.ID,
		Application:    s.Application,
		Capabilities:   s.Capabilities,
		Config:         s.Config,
		ConnectedAt:    s.ConnectedAt,
		LastActivityAt: s.LastActivityAt,
		State:          s.state(now, idleAfter),
		Updates:        s.Updates,
	}
}

// state labels a session: registered until its first update, then
// active or idle depending on how long ago it last reported.
// Informational only; liveness is tracked separately.
func (s *Session) state(now time.Time, idleAfter time.Duration) telemetry.SessionState {
	switch {
	case s.Updates == 0:
		return telemetry.SessionRegistered
	case idleAfter > 0 && now.Sub(s.LastActivityAt) >= idleAfter:
		return telemetry.SessionIdle
	default:
		return telemetry.SessionActive
	}
}
