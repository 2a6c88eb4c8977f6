package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const envPrefix = "FETCH_"

const (
	BodyFormatJSON = "json"
	BodyFormatForm = "form"
	BodyFormatRaw  = "raw"

	TraceNone = "none"
	TraceLog  = "log"
	TraceDump = "dump"
)

// Config of the CLI, loaded from environment variables with the FETCH_ prefix.
// HEADER_TIMEOUT limits each attempt, TIMEOUT limits the whole request including retries.
type Config struct {
	Method        string            `env:"METHOD" envDefault:"GET"`
	Headers       map[string]string `env:"HEADERS"`
	Body          string            `env:"BODY"`
	BodyFormat    string            `env:"BODY_FORMAT" envDefault:"json"`
	UserAgent     string            `env:"USER_AGENT"`
	HTTP2         bool              `env:"HTTP2"`
	Retry         bool              `env:"RETRY"`
	RetryCount    int               `env:"RETRY_COUNT" envDefault:"5"`
	RetryMaxWait  time.Duration     `env:"RETRY_MAX_WAIT" envDefault:"3s"`
	Timeout       time.Duration     `env:"TIMEOUT" envDefault:"30s"`
	DialTimeout   time.Duration     `env:"DIAL_TIMEOUT" envDefault:"3s"`
	HeaderTimeout time.Duration     `env:"HEADER_TIMEOUT" envDefault:"20s"`
	Parallel      int               `env:"PARALLEL" envDefault:"4"`
	BearerToken   string            `env:"BEARER_TOKEN"`
	Trace         string            `env:"TRACE" envDefault:"none"`
	OTLPEndpoint  string            `env:"OTLP_ENDPOINT"`
	OutputBucket  string            `env:"OUTPUT_BUCKET"`
	LogFormat     string            `env:"LOG_FORMAT" envDefault:"text"`
	LogLevel      slog.Level        `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadConfig parses the environment, variables from the env files are used as defaults.
// A missing env file is ignored.
func LoadConfig(environ map[string]string, envFiles ...string) (Config, error) {
	merged := make(map[string]string)
	for _, path := range envFiles {
		values, err := godotenv.Read(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Config{}, fmt.Errorf(`cannot read env file "%s": %w`, path, err)
		}
		for k, v := range values {
			merged[k] = v
		}
	}
	for k, v := range environ {
		merged[k] = v
	}

	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: merged, Prefix: envPrefix})
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.BodyFormat {
	case BodyFormatJSON, BodyFormatForm, BodyFormatRaw:
	default:
		return fmt.Errorf(`invalid %sBODY_FORMAT "%s", expected one of: json, form, raw`, envPrefix, c.BodyFormat)
	}
	switch c.Trace {
	case TraceNone, TraceLog, TraceDump:
	default:
		return fmt.Errorf(`invalid %sTRACE "%s", expected one of: none, log, dump`, envPrefix, c.Trace)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf(`invalid %sLOG_FORMAT "%s", expected one of: text, json`, envPrefix, c.LogFormat)
	}
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"TIMEOUT", c.Timeout},
		{"DIAL_TIMEOUT", c.DialTimeout},
		{"HEADER_TIMEOUT", c.HeaderTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf(`invalid %s%s "%s", expected a positive duration`, envPrefix, d.name, d.value)
		}
	}
	if c.RetryCount < 1 {
		return fmt.Errorf(`invalid %sRETRY_COUNT "%d", expected a positive number`, envPrefix, c.RetryCount)
	}
	if c.Parallel < 1 {
		return fmt.Errorf(`invalid %sPARALLEL "%d", expected a positive number`, envPrefix, c.Parallel)
	}
	return nil
}

// environ returns the process environment as a map.
func environ() map[string]string {
	out := make(map[string]string)
	for _, item := range os.Environ() {
		if k, v, ok := strings.Cut(item, "="); ok {
			out[k] = v
		}
	}
	return out
}
