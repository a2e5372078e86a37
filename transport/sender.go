// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/browserpipe/browserpipe/lib/compress"
	"github.com/browserpipe/browserpipe/lib/netutil"
	"github.com/browserpipe/browserpipe/lib/schema/telemetry"
)

// Sender moves batches and probes over the network. Tests substitute
// a fake; production uses HTTPSender.
type Sender interface {
	// Send delivers one batch to the collector at endpoint (a base
	// URL). Any error, including a non-2xx status, is a failed
	// attempt.
	Send(ctx context.Context, endpoint string, batch *telemetry.Batch) error

	// Probe checks that a collector is live at endpoint.
	Probe(ctx context.Context, endpoint string) error
}

// StatusError is a non-2xx collector response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("collector returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("collector returned HTTP %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// HTTPSenderConfig configures an HTTPSender.
type HTTPSenderConfig struct {
	// Client performs requests. Default: a client with no timeout of
	// its own (every call carries a context deadline).
	Client *http.Client

	Application string
	CollectPath string
	HealthPath  string

	// Compressor is applied to bodies of at least
	// CompressionThreshold bytes. nil sends bodies uncompressed.
	Compressor           compress.Compressor
	CompressionThreshold int
}

// HTTPSender POSTs JSON batches to the collector.
type HTTPSender struct {
	client      *http.Client
	application string
	collectPath string
	healthPath  string
	compressor  compress.Compressor
	threshold   int
}

// NewHTTPSender creates an HTTPSender.
func NewHTTPSender(config HTTPSenderConfig) *HTTPSender {
	client := config.Client
	if client == nil {
		client = &http.Client{}
	}
	compressor := config.Compressor
	if compressor == nil {
		compressor = compress.None
	}
	return &HTTPSender{
		client:      client,
		application: config.Application,
		collectPath: config.CollectPath,
		healthPath:  config.HealthPath,
		compressor:  compressor,
		threshold:   config.CompressionThreshold,
	}
}

// Send implements Sender.
func (s *HTTPSender) Send(ctx context.Context, endpoint string, batch *telemetry.Batch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encoding batch: %w", err)
	}
	body, encoding := compress.Apply(s.compressor, body, s.threshold)

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(endpoint, s.collectPath), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building collector request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if encoding != "" {
		request.Header.Set("Content-Encoding", encoding)
	}
	if s.application != "" {
		request.Header.Set(telemetry.HeaderApplication, s.application)
	}
	if batch.Metadata.SessionID != "" {
		request.Header.Set(telemetry.HeaderSession, batch.Metadata.SessionID)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("posting batch to %s: %w", endpoint, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return &StatusError{StatusCode: response.StatusCode, Body: netutil.ErrorBody(response.Body)}
	}
	// Drain so the keep-alive connection is reused for the next batch.
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, netutil.MaxBodySize))
	return nil
}

// Probe implements Sender with GET <endpoint><HealthPath>.
func (s *HTTPSender) Probe(ctx context.Context, endpoint string) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(endpoint, s.healthPath), nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}
	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("probing %s: %w", endpoint, err)
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, 4<<10))

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return &StatusError{StatusCode: response.StatusCode}
	}
	return nil
}

func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + path
}
