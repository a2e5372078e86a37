// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/browserpipe/browserpipe/lib/compress"
	"github.com/browserpipe/browserpipe/lib/config"
	"github.com/browserpipe/browserpipe/lib/netutil"
	"github.com/browserpipe/browserpipe/lib/schema/telemetry"
)

type capturedRequest struct {
	method   string
	path     string
	header   http.Header
	batch    telemetry.Batch
	rawBytes int
}

func newCollector(t *testing.T, status int) (*httptest.Server, chan capturedRequest) {
	t.Helper()
	requests := make(chan capturedRequest, 10)
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		captured := capturedRequest{method: request.Method, path: request.URL.Path, header: request.Header.Clone()}
		if request.Method == http.MethodPost {
			raw, err := netutil.ReadBody(request.Body, netutil.MaxBodySize)
			if err != nil {
				t.Errorf("reading body: %v", err)
			}
			captured.rawBytes = len(raw)
			body, err := compress.Decompress(request.Header.Get("Content-Encoding"), raw, netutil.MaxBodySize)
			if err != nil {
				t.Errorf("decompressing body: %v", err)
			}
			if err := json.Unmarshal(body, &captured.batch); err != nil {
				t.Errorf("decoding body: %v", err)
			}
		}
		requests <- captured
		writer.WriteHeader(status)
		writer.Write([]byte("collector says no"))
	}))
	t.Cleanup(server.Close)
	return server, requests
}

func TestHTTPSenderSend(t *testing.T) {
	server, requests := newCollector(t, http.StatusAccepted)
	sender := NewHTTPSender(HTTPSenderConfig{
		Application: "demo-app",
		CollectPath: "/telemetry",
		HealthPath:  "/health",
	})

	batch := &telemetry.Batch{
		Items:    []telemetry.Item{{Kind: telemetry.KindLog, Payload: "hello", CapturedAt: 1}},
		Metadata: telemetry.Metadata{ProducerID: "p", SessionID: "abc", BatchSize: 1},
	}
	if err := sender.Send(context.Background(), server.URL+"/", batch); err != nil {
		t.Fatalf("Send: %v", err)
	}

	request := <-requests
	if request.method != http.MethodPost || request.path != "/telemetry" {
		t.Errorf("request = %s %s, want POST /telemetry", request.method, request.path)
	}
	if got := request.header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := request.header.Get(telemetry.HeaderApplication); got != "demo-app" {
		t.Errorf("%s = %q", telemetry.HeaderApplication, got)
	}
	if got := request.header.Get(telemetry.HeaderSession); got != "abc" {
		t.Errorf("%s = %q", telemetry.HeaderSession, got)
	}
	if got := request.header.Get("Content-Encoding"); got != "" {
		t.Errorf("small payload was compressed with %q", got)
	}
	if len(request.batch.Items) != 1 || request.batch.Items[0].Payload != "hello" {
		t.Errorf("batch = %+v", request.batch)
	}
}

func TestHTTPSenderReusesConnection(t *testing.T) {
	var connections atomic.Int32
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.Write([]byte(`{"accepted":1,"note":"` + strings.Repeat("x", 2048) + `"}`))
	}))
	server.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			connections.Add(1)
		}
	}
	server.Start()
	t.Cleanup(server.Close)

	httpTransport := &http.Transport{}
	t.Cleanup(httpTransport.CloseIdleConnections)
	sender := NewHTTPSender(HTTPSenderConfig{
		Client:      &http.Client{Transport: httpTransport},
		CollectPath: "/telemetry",
		HealthPath:  "/health",
	})

	batch := &telemetry.Batch{
		Items:    []telemetry.Item{{Kind: telemetry.KindLog, Payload: "hello", CapturedAt: 1}},
		Metadata: telemetry.Metadata{ProducerID: "p", BatchSize: 1},
	}
	for i := range 3 {
		if err := sender.Send(context.Background(), server.URL, batch); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	if err := sender.Probe(context.Background(), server.URL); err != nil {
		t.Fatalf("Probe: %v", err)
	}

	if got := connections.Load(); got != 1 {
		t.Errorf("opened %d connections for four requests, want 1", got)
	}
}

func TestHTTPSenderCompressesLargePayloads(t *testing.T) {
	for _, encoding := range []string{compress.EncodingGzip, compress.EncodingZstd, compress.EncodingLZ4} {
		t.Run(encoding, func(t *testing.T) {
			server, requests := newCollector(t, http.StatusOK)
			compressor, ok := compress.New(encoding)
			if !ok {
				t.Fatalf("compress.New(%q) not ok", encoding)
			}
			sender := NewHTTPSender(HTTPSenderConfig{
				CollectPath:          "/telemetry",
				Compressor:           compressor,
				CompressionThreshold: 1024,
			})

			var items []telemetry.Item
			for i := 0; i < 100; i++ {
				items = append(items, telemetry.Item{Kind: telemetry.KindLog, Payload: strings.Repeat("repetitive log line ", 5)})
			}
			batch := &telemetry.Batch{Items: items, Metadata: telemetry.Metadata{BatchSize: len(items)}}
			if err := sender.Send(context.Background(), server.URL, batch); err != nil {
				t.Fatalf("Send: %v", err)
			}

			request := <-requests
			if got := request.header.Get("Content-Encoding"); got != encoding {
				t.Errorf("Content-Encoding = %q, want %q", got, encoding)
			}
			if len(request.batch.Items) != 100 {
				t.Errorf("collector decoded %d items, want 100", len(request.batch.Items))
			}
			plain, _ := json.Marshal(batch)
			if request.rawBytes >= len(plain) {
				t.Errorf("compressed body %d bytes, plain %d", request.rawBytes, len(plain))
			}
		})
	}
}

func TestHTTPSenderNon2xxIsFailure(t *testing.T) {
	server, _ := newCollector(t, http.StatusServiceUnavailable)
	sender := NewHTTPSender(HTTPSenderConfig{CollectPath: "/telemetry"})

	err := sender.Send(context.Background(), server.URL, &telemetry.Batch{})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Send = %v, want *StatusError", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d", statusErr.StatusCode)
	}
	if !strings.Contains(statusErr.Error(), "collector says no") {
		t.Errorf("error should carry the response body: %v", statusErr)
	}
}

func TestHTTPSenderNetworkError(t *testing.T) {
	server, _ := newCollector(t, http.StatusOK)
	url := server.URL
	server.Close()

	sender := NewHTTPSender(HTTPSenderConfig{CollectPath: "/telemetry", HealthPath: "/health"})
	if err := sender.Send(context.Background(), url, &telemetry.Batch{}); err == nil {
		t.Error("Send to a closed server succeeded")
	}
	if err := sender.Probe(context.Background(), url); err == nil {
		t.Error("Probe of a closed server succeeded")
	}
}

func TestHTTPSenderProbe(t *testing.T) {
	server, requests := newCollector(t, http.StatusOK)
	sender := NewHTTPSender(HTTPSenderConfig{HealthPath: "/health"})

	if err := sender.Probe(context.Background(), server.URL); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	request := <-requests
	if request.method != http.MethodGet || request.path != "/health" {
		t.Errorf("probe = %s %s, want GET /health", request.method, request.path)
	}
}

func TestTransportOverHTTP(t *testing.T) {
	server, requests := newCollector(t, http.StatusOK)
	transport := New(Config{
		DefaultEndpoint: server.URL,
		Candidates:      []string{server.URL},
		MaxBatchSize:    2,
		Logger:          testLogger(),
	})
	defer transport.Destroy()

	if got := transport.Discover(context.Background()); got != server.URL {
		t.Fatalf("Discover = %s, want %s", got, server.URL)
	}
	<-requests // health probe

	transport.Send(item(1))
	transport.Send(item(2))
	if err := transport.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	request := <-requests
	if len(request.batch.Items) != 2 {
		t.Errorf("collector received %d items, want 2", len(request.batch.Items))
	}
	if stats := transport.Stats(); stats.TotalSent != 2 || !stats.Connected {
		t.Errorf("stats = %+v", stats)
	}
}

func TestFromClientConfig(t *testing.T) {
	t.Parallel()

	client := config.Default().Client
	client.Compression = "zstd"
	client.MaxQueueSize = 10

	transportConfig, err := FromClientConfig(client)
	if err != nil {
		t.Fatalf("FromClientConfig: %v", err)
	}
	if transportConfig.Compressor.Encoding() != compress.EncodingZstd {
		t.Errorf("Compressor = %q, want zstd", transportConfig.Compressor.Encoding())
	}
	if transportConfig.MaxQueueSize != 10 || transportConfig.MaxBatchSize != client.MaxBatchSize {
		t.Errorf("config = %+v", transportConfig)
	}
	if len(transportConfig.Candidates) != len(client.CandidatePorts) {
		t.Errorf("Candidates = %v", transportConfig.Candidates)
	}

	client.Compression = "brotli"
	if _, err := FromClientConfig(client); err == nil {
		t.Error("unknown compression should be rejected")
	}
}
