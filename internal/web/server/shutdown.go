package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// GracefulShutdown runs a server until its context is cancelled, then
// drains in-flight requests and runs the registered cleanup hooks
type GracefulShutdown struct {
	server        *Server
	shutdownHooks []ShutdownHook
	timeout       time.Duration
	log           *zap.Logger
	mu            sync.Mutex
	shutdownOnce  sync.Once
	shutdownChan  chan struct{}
	shutdownError error
}

// ShutdownHook is a function called after the server stopped accepting
// requests, e.g. to close a storage backend
type ShutdownHook func(ctx context.Context) error

// DefaultShutdownTimeout bounds the drain when no timeout is configured
const DefaultShutdownTimeout = 30 * time.Second

// NewGracefulShutdown creates a new graceful shutdown handler
func NewGracefulShutdown(server *Server, timeout time.Duration, log *zap.Logger) *GracefulShutdown {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &GracefulShutdown{
		server:       server,
		timeout:      timeout,
		log:          log,
		shutdownChan: make(chan struct{}),
	}
}

// RegisterHook registers a shutdown hook. Hooks run in registration order.
func (gs *GracefulShutdown) RegisterHook(hook ShutdownHook) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.shutdownHooks = append(gs.shutdownHooks, hook)
}

// Run serves until ctx is cancelled or the server fails. Cancellation
// triggers Shutdown; a server failure is returned after the hooks ran.
func (gs *GracefulShutdown) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		gs.log.Info("starting server", zap.String("addr", gs.server.config.Address))
		if err := gs.server.Start(); err != nil && !IsClosed(err) {
			errChan <- fmt.Errorf("server failed: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		gs.log.Info("shutdown signal received")
		return gs.Shutdown()
	case err := <-errChan:
		if shutdownErr := gs.Shutdown(); err == nil {
			err = shutdownErr
		}
		return err
	}
}

// Shutdown drains the server and runs the hooks. It is safe to call more
// than once; later calls wait for the first and return its result.
func (gs *GracefulShutdown) Shutdown() error {
	gs.shutdownOnce.Do(func() {
		gs.log.Info("initiating graceful shutdown", zap.Duration("timeout", gs.timeout))

		ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
		defer cancel()

		if err := gs.server.Shutdown(ctx); err != nil {
			gs.shutdownError = fmt.Errorf("server shutdown error: %w", err)
			gs.log.Error("server shutdown failed", zap.Error(err))
		}

		gs.mu.Lock()
		hooks := make([]ShutdownHook, len(gs.shutdownHooks))
		copy(hooks, gs.shutdownHooks)
		gs.mu.Unlock()

		for i, hook := range hooks {
			if err := hook(ctx); err != nil {
				// Continue with other hooks
				gs.log.Warn("shutdown hook failed", zap.Int("hook", i), zap.Error(err))
			}
		}

		gs.log.Info("shutdown completed")
		close(gs.shutdownChan)
	})

	<-gs.shutdownChan
	return gs.shutdownError
}

// Wait blocks until shutdown is complete
func (gs *GracefulShutdown) Wait() error {
	<-gs.shutdownChan
	return gs.shutdownError
}
