// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/browserpipe/browserpipe/lib/compress"
	"github.com/browserpipe/browserpipe/lib/netutil"
	"github.com/browserpipe/browserpipe/lib/schema/telemetry"
	"github.com/browserpipe/browserpipe/lib/version"
)

// IngestResponse is the collector's reply to an accepted batch.
type IngestResponse struct {
	Accepted int `json:"accepted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Hub) handleHealth(writer http.ResponseWriter, request *http.Request) {
	h.writeJSON(writer, http.StatusOK, telemetry.HealthResponse{
		Status:  "ok",
		Version: version.Short(),
	})
}

// handleCollect accepts one telemetry batch, optionally compressed
// per Content-Encoding.
func (h *Hub) handleCollect(writer http.ResponseWriter, request *http.Request) {
	body, err := netutil.ReadBody(request.Body, h.config.MaxBodyBytes)
	if err != nil {
		h.sendError(writer, http.StatusRequestEntityTooLarge, "reading batch: %v", err)
		return
	}

	encoding := request.Header.Get("Content-Encoding")
	body, err = compress.Decompress(encoding, body, h.config.MaxBodyBytes)
	if errors.Is(err, compress.ErrUnsupportedEncoding) {
		h.sendError(writer, http.StatusUnsupportedMediaType, "%v", err)
		return
	}
	if err != nil {
		h.sendError(writer, http.StatusBadRequest, "decoding %s batch: %v", encoding, err)
		return
	}

	var batch telemetry.Batch
	if err := json.Unmarshal(body, &batch); err != nil {
		h.sendError(writer, http.StatusBadRequest, "malformed batch: %v", err)
		return
	}
	if err := batch.Validate(); err != nil {
		h.sendError(writer, http.StatusBadRequest, "invalid batch: %v", err)
		return
	}

	sessionID := batch.Metadata.SessionID
	if sessionID == "" {
		sessionID = request.Header.Get(telemetry.HeaderSession)
	}
	application := request.Header.Get(telemetry.HeaderApplication)

	now := h.clock.Now()
	if sessionID != "" {
		h.registry.Touch(sessionID, nil, now)
	}
	for i := range batch.Items {
		h.tail.Publish(Event{
			Kind:        EventItem,
			Time:        now,
			SessionID:   sessionID,
			Application: application,
			Item:        &batch.Items[i],
		})
	}
	h.counters.batchesIngested.Add(1)
	h.counters.itemsIngested.Add(uint64(len(batch.Items)))

	h.logger.Debug("batch ingested",
		"items", len(batch.Items),
		"session_id", sessionID,
		"application", application,
		"producer_id", batch.Metadata.ProducerID,
		"content_encoding", encoding,
	)
	h.writeJSON(writer, http.StatusOK, IngestResponse{Accepted: len(batch.Items)})
}

// writeJSON encodes value as the response body. An encoding failure
// means the client went away; it is only logged.
func (h *Hub) writeJSON(writer http.ResponseWriter, status int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(value); err != nil {
		h.logger.Warn("writing JSON response", "error", err, "status", status)
	}
}

func (h *Hub) sendError(writer http.ResponseWriter, status int, format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	h.logger.Debug("request rejected", "status", status, "error", message)
	h.writeJSON(writer, status, errorResponse{Error: message})
}

var corsAllowedHeaders = strings.Join([]string{
	"Content-Type",
	"Content-Encoding",
	telemetry.HeaderApplication,
	telemetry.HeaderSession,
}, ", ")

// withCORS lets browser producers on any origin reach the hub and
// answers preflight requests directly.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		header := writer.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		header.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
		if request.Method == http.MethodOptions {
			header.Set("Access-Control-Max-Age", "600")
			writer.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(writer, request)
	})
}
