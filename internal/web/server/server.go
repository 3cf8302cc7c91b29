package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Server wraps an http.Server with the timeouts and TLS settings the API
// is served with
type Server struct {
	httpServer *http.Server
	config     *Config
	listener   net.Listener
	ready      chan struct{}
}

// Config holds server configuration
type Config struct {
	// Address is the server listen address (e.g., ":8080")
	Address string

	// Handler is the HTTP handler for the server
	Handler http.Handler

	// TLS configuration, nil serves plain HTTP
	TLSConfig *TLSConfig

	// Timeouts
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ReadHeaderTimeout time.Duration

	MaxHeaderBytes int
}

// TLSConfig holds TLS configuration
type TLSConfig struct {
	CertFile string
	KeyFile  string

	// MinVersion is the minimum TLS version (default: TLS 1.2)
	MinVersion uint16
}

// DefaultConfig returns the configuration used when none is given
func DefaultConfig(handler http.Handler) *Config {
	return &Config{
		Address:           ":8080",
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}
}

// New creates a new server instance
func New(config *Config) (*Server, error) {
	if config == nil {
		return nil, fmt.Errorf("server config cannot be nil")
	}
	if config.Handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	if config.TLSConfig != nil && (config.TLSConfig.CertFile == "" || config.TLSConfig.KeyFile == "") {
		return nil, fmt.Errorf("tls requires both a certificate and a key file")
	}

	httpServer := &http.Server{
		Addr:              config.Address,
		Handler:           config.Handler,
		ReadTimeout:       config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		MaxHeaderBytes:    config.MaxHeaderBytes,
	}
	if config.TLSConfig != nil {
		httpServer.TLSConfig = buildTLSConfig(config.TLSConfig)
	}

	return &Server{
		httpServer: httpServer,
		config:     config,
		ready:      make(chan struct{}),
	}, nil
}

// Start listens on the configured address and serves until Shutdown or
// Close. It returns http.ErrServerClosed after a clean shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.listener = listener
	close(s.ready)

	if s.config.TLSConfig != nil {
		return s.httpServer.ServeTLS(listener, s.config.TLSConfig.CertFile, s.config.TLSConfig.KeyFile)
	}
	return s.httpServer.Serve(listener)
}

// Ready is closed once the listener is bound
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Close immediately closes the server
func (s *Server) Close() error {
	return s.httpServer.Close()
}

// Addr returns the server's network address. Once listening it is the
// bound address, so ":0" resolves to the chosen port.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address
}

// IsClosed reports whether err is the error Start returns after Shutdown
func IsClosed(err error) bool {
	return errors.Is(err, http.ErrServerClosed)
}

func buildTLSConfig(tlsConfig *TLSConfig) *tls.Config {
	config := &tls.Config{
		MinVersion: tlsConfig.MinVersion,
		NextProtos: []string{"h2", "http/1.1"},
	}
	if config.MinVersion == 0 {
		config.MinVersion = tls.VersionTLS12
	}
	return config
}
