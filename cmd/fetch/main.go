// Command fetch sends a request to each URL given as an argument and prints the response bodies.
//
// Each URL is fetched by its own session, see the fetch package.
// The command is configured by FETCH_* environment variables, a .env file in the working directory is loaded too.
// See the Config struct for all options.
//
// Usage:
//
//	FETCH_METHOD=POST FETCH_BODY='{"email":"a@b.com"}' fetch https://example.com/post
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary //nolint:gochecknoglobals

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := LoadConfig(environ(), ".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	logger := newLogger(cfg, os.Stderr)
	if err := run(ctx, cfg, os.Args[1:], os.Stdout, os.Stderr, logger); err != nil {
		logger.Error(err.Error())
		stop()
		os.Exit(1) //nolint:gocritic
	}
}

func newLogger(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
