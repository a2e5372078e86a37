// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/browserpipe/browserpipe/lib/netutil"
	"github.com/browserpipe/browserpipe/lib/schema/telemetry"
)

// ClearResponse reports how many keys a state clear removed.
type ClearResponse struct {
	Namespace string `json:"namespace,omitempty"`
	Removed   int    `json:"removed"`
}

func (h *Hub) registerQueryRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/state", h.handleGetState)
	mux.HandleFunc("DELETE /api/state", h.handleClearState)
	mux.HandleFunc("GET /api/stats", h.handleStats)
	mux.HandleFunc("GET /api/sessions", h.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", h.handleGetSession)
	mux.HandleFunc("POST /api/sessions/{id}/command", h.handleCommand)
	mux.HandleFunc("GET /api/tail", h.handleTail)
}

// handleGetState returns the state mirror, or one namespace of it with
// ?namespace=.
func (h *Hub) handleGetState(writer http.ResponseWriter, request *http.Request) {
	h.writeJSON(writer, http.StatusOK, h.state.Snapshot(request.URL.Query().Get("namespace")))
}

func (h *Hub) handleClearState(writer http.ResponseWriter, request *http.Request) {
	namespace := request.URL.Query().Get("namespace")
	removed := h.state.Clear(namespace)
	h.logger.Info("state cleared", "namespace", namespace, "removed", removed)
	h.writeJSON(writer, http.StatusOK, ClearResponse{Namespace: namespace, Removed: removed})
}

func (h *Hub) handleStats(writer http.ResponseWriter, request *http.Request) {
	h.writeJSON(writer, http.StatusOK, h.Stats())
}

func (h *Hub) handleListSessions(writer http.ResponseWriter, request *http.Request) {
	h.writeJSON(writer, http.StatusOK, h.registry.List(h.clock.Now(), h.config.IdleAfter))
}

func (h *Hub) handleGetSession(writer http.ResponseWriter, request *http.Request) {
	id := request.PathValue("id")
	info, ok := h.registry.Info(id, h.clock.Now(), h.config.IdleAfter)
	if !ok {
		h.sendError(writer, http.StatusNotFound, "session %q not found", id)
		return
	}
	h.writeJSON(writer, http.StatusOK, info)
}

// handleCommand delivers a command to a connected session. 202 means
// written to the connection, not acted on.
func (h *Hub) handleCommand(writer http.ResponseWriter, request *http.Request) {
	id := request.PathValue("id")

	var command telemetry.CommandRequest
	if err := netutil.DecodeJSON(request.Body, &command); err != nil {
		h.sendError(writer, http.StatusBadRequest, "malformed command: %v", err)
		return
	}
	if command.Action == "" {
		h.sendError(writer, http.StatusBadRequest, "command action is required")
		return
	}

	err := h.SendCommand(request.Context(), id, command.Action, command.Params)
	if errors.Is(err, ErrSessionNotConnected) {
		h.sendError(writer, http.StatusNotFound, "session %q is not connected", id)
		return
	}
	if err != nil {
		h.sendError(writer, http.StatusBadGateway, "delivering command: %v", err)
		return
	}
	h.logger.Info("command delivered", "session_id", id, "action", command.Action)
	writer.WriteHeader(http.StatusAccepted)
}

// handleTail streams tail events as newline-delimited JSON until the
// client disconnects.
func (h *Hub) handleTail(writer http.ResponseWriter, request *http.Request) {
	flusher, ok := writer.(http.Flusher)
	if !ok {
		h.sendError(writer, http.StatusInternalServerError, "streaming not supported")
		return
	}

	subscription := h.tail.Subscribe()
	defer subscription.Close()

	writer.Header().Set("Content-Type", "application/x-ndjson")
	writer.Header().Set("X-Content-Type-Options", "nosniff")
	writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	encoder := json.NewEncoder(writer)
	for {
		select {
		case <-request.Context().Done():
			return
		case event := <-subscription.Events():
			if err := encoder.Encode(event); err != nil {
				h.logger.Debug("tail client went away", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}
