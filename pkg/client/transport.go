package client

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

const (
	DefaultDialTimeout           = 3 * time.Second
	DefaultKeepAlive             = 10 * time.Second
	DefaultTLSHandshakeTimeout   = 5 * time.Second
	DefaultResponseHeaderTimeout = 20 * time.Second
	DefaultMaxConnsPerHost       = 32
)

// TransportConfig configures connection limits and timeouts of the transport used by fetch sessions.
type TransportConfig struct {
	// DialTimeout limits connection initialization, for HTTP2 it also limits the TLS handshake.
	DialTimeout time.Duration
	// KeepAlive is the interval between TCP keep-alive probes.
	KeepAlive           time.Duration
	TLSHandshakeTimeout time.Duration
	// ResponseHeaderTimeout limits the wait for the status line and headers.
	// The HTTP2 transport uses it as the idle timeout before a health check ping.
	ResponseHeaderTimeout time.Duration
	MaxConnsPerHost       int
	// HTTP2 forces the HTTP2 protocol over TLS, without fallback to HTTP/1.1.
	HTTP2 bool
}

// DefaultTransportConfig returns a TransportConfig with reasonable limits.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		DialTimeout:           DefaultDialTimeout,
		KeepAlive:             DefaultKeepAlive,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		MaxConnsPerHost:       DefaultMaxConnsPerHost,
	}
}

// DefaultTransport returns the transport of DefaultTransportConfig.
func DefaultTransport() http.RoundTripper {
	return NewTransport(DefaultTransportConfig())
}

// NewTransport creates a transport from the config, zero values are replaced by defaults.
func NewTransport(cfg TransportConfig) http.RoundTripper {
	cfg = cfg.withDefaults()
	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: cfg.KeepAlive}

	if cfg.HTTP2 {
		return &http2.Transport{
			DialTLSContext: func(ctx context.Context, network, addr string, tlsCfg *tls.Config) (net.Conn, error) {
				return (&tls.Dialer{NetDialer: dialer, Config: tlsCfg}).DialContext(ctx, network, addr)
			},
			ReadIdleTimeout:  cfg.ResponseHeaderTimeout,
			PingTimeout:      cfg.DialTimeout,
			WriteByteTimeout: cfg.DialTimeout,
		}
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
	}
}

func (cfg TransportConfig) withDefaults() TransportConfig {
	def := DefaultTransportConfig()
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = def.KeepAlive
	}
	if cfg.TLSHandshakeTimeout <= 0 {
		cfg.TLSHandshakeTimeout = def.TLSHandshakeTimeout
	}
	if cfg.ResponseHeaderTimeout <= 0 {
		cfg.ResponseHeaderTimeout = def.ResponseHeaderTimeout
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = def.MaxConnsPerHost
	}
	return cfg
}
