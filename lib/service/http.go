// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"
)

// ErrNoAddress is returned by Serve when every configured address is
// already in use.
var ErrNoAddress = errors.New("service: every listen address is in use")

// HTTPServer serves one handler on the first free address of an
// ordered list. The hub mounts its collector, session channel and
// query API on that handler; the server owns the listener and
// graceful shutdown.
type HTTPServer struct {
	addresses []string
	handler   http.Handler
	logger    *slog.Logger

	shutdownTimeout time.Duration

	// ready is closed once a listener is bound. addr is valid after.
	ready chan struct{}
	addr  net.Addr
}

// HTTPServerConfig configures an HTTPServer.
type HTTPServerConfig struct {
	// Address is the preferred TCP listen address, e.g. ":8787" or
	// "127.0.0.1:0". Required unless Addresses is set.
	Address string

	// Addresses are tried after Address, in order, when the previous
	// one is already in use. Any other listen error is fatal.
	Addresses []string

	// Handler is the HTTP handler for incoming requests. Required.
	Handler http.Handler

	// ShutdownTimeout bounds the wait for in-flight requests after
	// the context is cancelled. Default 10s.
	ShutdownTimeout time.Duration

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// NewHTTPServer validates config. Call Serve to start listening.
func NewHTTPServer(config HTTPServerConfig) *HTTPServer {
	var addresses []string
	if config.Address != "" {
		addresses = append(addresses, config.Address)
	}
	for _, address := range config.Addresses {
		if address != "" && address != config.Address {
			addresses = append(addresses, address)
		}
	}
	if len(addresses) == 0 {
		panic("service.HTTPServer: Address is required")
	}
	if config.Handler == nil {
		panic("service.HTTPServer: Handler is required")
	}
	if config.Logger == nil {
		panic("service.HTTPServer: Logger is required")
	}

	timeout := config.ShutdownTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &HTTPServer{
		addresses:       addresses,
		handler:         config.Handler,
		logger:          config.Logger,
		shutdownTimeout: timeout,
		ready:           make(chan struct{}),
	}
}

// Ready is closed once the server is bound and accepting connections.
func (s *HTTPServer) Ready() <-chan struct{} {
	return s.ready
}

// Addr is the bound address. Only valid after Ready is closed. With
// port 0 or a fallback it differs from the preferred address.
func (s *HTTPServer) Addr() net.Addr {
	return s.addr
}

// listen binds the first address that is not already in use.
func (s *HTTPServer) listen() (net.Listener, error) {
	for index, address := range s.addresses {
		listener, err := net.Listen("tcp", address)
		if err == nil {
			if index > 0 {
				s.logger.Warn("preferred address in use, using fallback",
					"preferred", s.addresses[0],
					"address", listener.Addr().String(),
				)
			}
			return listener, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listening on %s: %w", address, err)
		}
		s.logger.Debug("address in use", "address", address)
	}
	return nil, fmt.Errorf("%w: %v", ErrNoAddress, s.addresses)
}

// Serve blocks until ctx is cancelled, then stops accepting
// connections and waits up to ShutdownTimeout for active requests.
// Request contexts derive from ctx, so streaming handlers such as the
// live tail end as soon as shutdown begins. Hijacked WebSocket
// connections are not tracked here; the hub closes those itself.
func (s *HTTPServer) Serve(ctx context.Context) error {
	listener, err := s.listen()
	if err != nil {
		return err
	}
	s.addr = listener.Addr()
	close(s.ready)

	server := &http.Server{
		Handler: s.handler,

		// No Read/WriteTimeout: session channel connections stay
		// open for the life of the page. Collector bodies are
		// bounded by the handler instead.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
		ErrorLog: slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug),
	}

	s.logger.Info("http server listening", "address", s.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		err := server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveDone <- err
	}()

	select {
	case err := <-serveDone:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http server shutdown failed", "error", err)
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
