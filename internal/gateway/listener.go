package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/tiergate/internal/observability"
)

// Listener serves the gateway handler on one TCP address.
type Listener struct {
	address string
	server  *http.Server
	handler http.Handler
	logger  observability.Logger
	running atomic.Bool

	mu    sync.RWMutex
	bound net.Addr
}

// ListenerOption is a functional option for configuring a listener.
type ListenerOption func(*Listener)

// WithListenerLogger sets the logger for the listener.
func WithListenerLogger(logger observability.Logger) ListenerOption {
	return func(l *Listener) {
		l.logger = logger
	}
}

// NewListener creates a new listener.
func NewListener(address string, handler http.Handler, opts ...ListenerOption) *Listener {
	l := &Listener{
		address: address,
		handler: handler,
		logger:  observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Address returns the bound address once started, and the configured one
// before that.
func (l *Listener) Address() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.bound != nil {
		return l.bound.String()
	}
	return l.address
}

// Start binds the address and serves in the background.
func (l *Listener) Start(ctx context.Context) error {
	if l.running.Load() {
		return fmt.Errorf("listener %s is already running", l.address)
	}

	// The write timeout stays unset: backends enforce their own per-service
	// timeout and streamed responses may outlive any fixed bound.
	l.server = &http.Server{
		Addr:              l.address,
		Handler:           l.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.address, err)
	}

	l.mu.Lock()
	l.bound = ln.Addr()
	l.mu.Unlock()

	l.running.Store(true)

	l.logger.Info("listener started",
		observability.String("address", ln.Addr().String()),
	)

	go l.serve(ln)

	return nil
}

func (l *Listener) serve(ln net.Listener) {
	if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.logger.Error("listener error",
			observability.String("address", l.address),
			observability.Error(err),
		)
	}
	l.running.Store(false)
}

// Stop drains in-flight requests until ctx ends, then closes remaining
// connections.
func (l *Listener) Stop(ctx context.Context) error {
	if l.server == nil || !l.running.Load() {
		return nil
	}

	l.logger.Info("stopping listener", observability.String("address", l.Address()))

	if err := l.server.Shutdown(ctx); err != nil {
		if closeErr := l.server.Close(); closeErr != nil {
			return fmt.Errorf("failed to close listener: %w", closeErr)
		}
		return fmt.Errorf("failed to shutdown listener gracefully: %w", err)
	}

	l.running.Store(false)

	l.logger.Info("listener stopped", observability.String("address", l.Address()))

	return nil
}

// IsRunning returns true if the listener is running.
func (l *Listener) IsRunning() bool {
	return l.running.Load()
}
