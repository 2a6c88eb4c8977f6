// Package fetch provides reactive request sessions.
//
// A Fetcher holds the configuration shared by all its sessions: the request.Sender,
// default request options and the ApplyThens pipeline which decodes response bodies.
//
// A Session is one reusable request slot. Its State is a bundle of observable cells,
// see the reactive package. Each Session.Request resets the state, sends the request
// and stores the decoded body to the Data or Error cell, or the failure description to the NetworkError cell.
// The outcome is returned as a tagged Result too.
//
// Example:
//
//	f := fetch.Default()
//	s := fetch.NewSession[fetch.NoPayload, Hello, ErrorBody](f, "https://example.com/get")
//	result, err := s.Request(ctx, fetch.NoPayload{})
package fetch

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/keboola/go-fetch/pkg/client"
	"github.com/keboola/go-fetch/pkg/request"
)

// Config of a Fetcher.
type Config struct {
	// DefaultInit is merged under the options of each session.
	DefaultInit RequestInit
	// ApplyThens decodes response bodies, it is required.
	ApplyThens ApplyThens
	// Logger for session lifecycle events, disabled if nil.
	Logger *slog.Logger
}

// Fetcher creates sessions sharing the same Sender and Config.
type Fetcher struct {
	sender request.Sender
	config Config
	logger *slog.Logger
}

// New creates a Fetcher.
func New(sender request.Sender, cfg Config) (*Fetcher, error) {
	if sender == nil {
		panic(errors.New("sender cannot be nil"))
	}
	if cfg.ApplyThens == nil {
		return nil, ErrMissingApplyThens
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Fetcher{sender: sender, config: cfg, logger: logger}, nil
}

// DefaultConfig sends and accepts JSON.
func DefaultConfig() Config {
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")
	return Config{
		DefaultInit: RequestInit{Header: header, Serialize: JSONSerializer},
		ApplyThens:  DecodeJSON,
	}
}

// Default returns a Fetcher with the DefaultConfig and the default client.
func Default() *Fetcher {
	f, err := New(client.New(), DefaultConfig())
	if err != nil {
		panic(err)
	}
	return f
}

// Config returns a copy of the Fetcher configuration.
func (f *Fetcher) Config() Config {
	cfg := f.config
	cfg.DefaultInit = cfg.DefaultInit.Merge()
	return cfg
}
