// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/browserpipe/browserpipe/lib/clock"
	"github.com/browserpipe/browserpipe/lib/compress"
	"github.com/browserpipe/browserpipe/lib/config"
)

// Config configures a Transport. Zero values take the defaults noted
// on each field.
type Config struct {
	// Application is sent as X-Application-Name. Default "browserpipe".
	Application string

	// ProducerID identifies this producer in batch metadata. Default:
	// a random UUID.
	ProducerID string

	// SessionID is sent as X-Session-Id and in batch metadata. May be
	// changed later with SetSessionID.
	SessionID string

	// DefaultEndpoint is the collector base URL used until discovery
	// finds a live one, and after discovery finds none. Required.
	DefaultEndpoint string

	// Candidates are the base URLs Discover probes, in order.
	Candidates []string

	// CollectPath and HealthPath are appended to the endpoint by the
	// default HTTP sender. Defaults "/telemetry" and "/health".
	CollectPath string
	HealthPath  string

	// MaxBatchSize is the item count that triggers an immediate flush
	// and the most items one batch carries. Default 50.
	MaxBatchSize int

	// BatchTimeout is how long a partial batch waits before it is
	// flushed. Default 1s.
	BatchTimeout time.Duration

	// ConnectionTimeout bounds every send and probe. Default 5s.
	ConnectionTimeout time.Duration

	// MaxRetries is the number of resend attempts before a batch is
	// dropped. Default 3; set NoRetries for zero.
	MaxRetries int
	NoRetries  bool

	// RetryBaseDelay, RetryMultiplier and RetryMaxDelay shape the
	// backoff: delay(n) = min(base * multiplier^n, max). Defaults
	// 1s, 2, 30s.
	RetryBaseDelay  time.Duration
	RetryMultiplier float64
	RetryMaxDelay   time.Duration

	// RetryInterval is the period of the background retry driver.
	// Zero disables the driver; retries then run only from Flush and
	// ProcessRetries.
	RetryInterval time.Duration

	// MaxQueueSize bounds the retry queue. When full, the oldest entry
	// is dropped to make room. Zero leaves the queue unbounded.
	MaxQueueSize int

	// HealthInterval is the period of the background health monitor.
	// Zero disables it.
	HealthInterval time.Duration

	// Compressor and CompressionThreshold configure the default HTTP
	// sender. Payloads smaller than the threshold are sent as is.
	Compressor           compress.Compressor
	CompressionThreshold int

	// Sender delivers batches and answers probes. Default: an
	// HTTPSender built from the fields above.
	Sender Sender

	// Clock drives batch timers, backoff and latency measurement.
	// Default clock.Real().
	Clock clock.Clock

	// Logger receives delivery diagnostics. Default slog.Default().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Application == "" {
		c.Application = "browserpipe"
	}
	if c.ProducerID == "" {
		c.ProducerID = uuid.NewString()
	}
	if c.CollectPath == "" {
		c.CollectPath = "/telemetry"
	}
	if c.HealthPath == "" {
		c.HealthPath = "/health"
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 50
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = time.Second
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 5 * time.Second
	}
	if c.NoRetries {
		c.MaxRetries = 0
	} else if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RetryMultiplier < 1 {
		c.RetryMultiplier = 2
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		c.RetryMaxDelay = max(30*time.Second, c.RetryBaseDelay)
	}
	if c.Compressor == nil {
		c.Compressor = compress.None
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Sender == nil {
		c.Sender = NewHTTPSender(HTTPSenderConfig{
			Application:          c.Application,
			CollectPath:          c.CollectPath,
			HealthPath:           c.HealthPath,
			Compressor:           c.Compressor,
			CompressionThreshold: c.CompressionThreshold,
		})
	}
	return c
}

// FromClientConfig maps the client section of the configuration file
// onto a transport Config. The caller adds Sender, Clock, Logger and
// SessionID as needed.
func FromClientConfig(client config.ClientConfig) (Config, error) {
	compressor, ok := compress.New(client.Compression)
	if !ok {
		return Config{}, fmt.Errorf("unknown compression %q", client.Compression)
	}
	return Config{
		Application:          client.Application,
		DefaultEndpoint:      client.Endpoint,
		Candidates:           Candidates(client.Host, client.CandidatePorts),
		CollectPath:          client.CollectPath,
		HealthPath:           client.HealthPath,
		MaxBatchSize:         client.MaxBatchSize,
		BatchTimeout:         client.BatchTimeout,
		ConnectionTimeout:    client.ConnectionTimeout,
		MaxRetries:           client.MaxRetries,
		NoRetries:            client.MaxRetries == 0,
		RetryBaseDelay:       client.RetryBaseDelay,
		RetryMultiplier:      client.RetryMultiplier,
		RetryMaxDelay:        client.RetryMaxDelay,
		RetryInterval:        client.RetryInterval,
		MaxQueueSize:         client.MaxQueueSize,
		HealthInterval:       client.HealthInterval,
		Compressor:           compressor,
		CompressionThreshold: client.CompressionThreshold,
	}, nil
}

// Candidates builds http://host:port base URLs in port order.
func Candidates(host string, ports []int) []string {
	if host == "" {
		host = "127.0.0.1"
	}
	candidates := make([]string, 0, len(ports))
	for _, port := range ports {
		candidates = append(candidates, "http://"+net.JoinHostPort(host, strconv.Itoa(port)))
	}
	return candidates
}
