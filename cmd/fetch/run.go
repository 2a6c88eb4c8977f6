package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/keboola/go-fetch/pkg/client"
	"github.com/keboola/go-fetch/pkg/client/trace"
	"github.com/keboola/go-fetch/pkg/client/trace/otel"
	"github.com/keboola/go-fetch/pkg/fetch"
	"github.com/keboola/go-fetch/pkg/sink"
)

const serviceName = "go-fetch"

type outcome struct {
	method string
	url    string
	result fetch.Result[[]byte, []byte]
	object string
}

// run fetches all URLs, each by its own session.
// Bodies are written to the stdout, or to the output bucket, if it is configured.
func run(ctx context.Context, cfg Config, urls []string, stdout, stderr io.Writer, logger *slog.Logger) (err error) {
	if len(urls) == 0 {
		return errors.New("at least one URL is required")
	}

	// Telemetry
	var tracerProvider *sdktrace.TracerProvider
	if cfg.OTLPEndpoint != "" {
		tracerProvider, err = newTracerProvider(ctx, cfg.OTLPEndpoint)
		if err != nil {
			return err
		}
		defer func() {
			if shutdownErr := tracerProvider.Shutdown(context.WithoutCancel(ctx)); shutdownErr != nil {
				err = errors.Join(err, fmt.Errorf("cannot shutdown tracer provider: %w", shutdownErr))
			}
		}()
	}

	// Output bucket
	var out *sink.Sink
	if cfg.OutputBucket != "" {
		params, err := sink.ParseParams(cfg.OutputBucket)
		if err != nil {
			return err
		}
		if out, err = sink.Open(ctx, params); err != nil {
			return err
		}
		defer out.Close()
	}

	f, err := newFetcher(cfg, tracerProvider, stderr, logger)
	if err != nil {
		return err
	}
	payload, err := parsePayload(cfg)
	if err != nil {
		return err
	}

	// Fetch in parallel
	outcomes := make([]outcome, len(urls))
	errs := &multierror.Error{}
	errsLock := &sync.Mutex{}
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(cfg.Parallel)
	for i, urlStr := range urls {
		grp.Go(func() error {
			o, err := fetchOne(grpCtx, f, out, i, urlStr, payload, cfg.Timeout)
			outcomes[i] = o
			if err != nil {
				errsLock.Lock()
				errs = multierror.Append(errs, err)
				errsLock.Unlock()
			}
			return nil
		})
	}
	_ = grp.Wait()

	// Print outcomes in the order of the URLs
	for _, o := range outcomes {
		if err := printOutcome(stdout, o); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	return errs.ErrorOrNil()
}

func fetchOne(ctx context.Context, f *fetch.Fetcher, out *sink.Sink, index int, urlStr string, payload any, timeout time.Duration) (outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s := fetch.NewSession[any, []byte, []byte](f, urlStr)
	method := f.Config().DefaultInit.EffectiveMethod()
	result, err := s.Request(ctx, payload)
	if err != nil {
		return outcome{}, err
	}

	o := outcome{method: method, url: urlStr, result: result}
	var body []byte
	switch result.Kind() {
	case fetch.KindSuccess:
		body, _ = result.Data()
	case fetch.KindAppError:
		body, _ = result.Failure()
	case fetch.KindNetworkError:
		msg, _ := result.NetworkError()
		return o, errors.New(msg)
	}

	if out != nil {
		key := fmt.Sprintf("%04d.body", index+1)
		if _, err := out.Write(ctx, key, "", bytes.NewReader(body)); err != nil {
			return o, err
		}
		o.object = out.URL(key)
	}

	if result.Err() {
		return o, fmt.Errorf(`request %s "%s" failed: %d %s`, method, urlStr, result.StatusCode(), http.StatusText(result.StatusCode()))
	}
	return o, nil
}

func printOutcome(w io.Writer, o outcome) error {
	if o.result.Kind() == 0 || o.result.Kind() == fetch.KindNetworkError {
		return nil
	}
	if o.object != "" {
		_, err := fmt.Fprintf(w, "%s \"%s\" | %d | %s\n", o.method, o.url, o.result.StatusCode(), o.object)
		return err
	}
	body, ok := o.result.Data()
	if !ok {
		body, _ = o.result.Failure()
	}
	_, err := w.Write(body)
	return err
}

func newFetcher(cfg Config, tracerProvider *sdktrace.TracerProvider, stderr io.Writer, logger *slog.Logger) (*fetch.Fetcher, error) {
	// Transport
	transport := client.NewTransport(client.TransportConfig{
		DialTimeout:           cfg.DialTimeout,
		ResponseHeaderTimeout: cfg.HeaderTimeout,
		HTTP2:                 cfg.HTTP2,
	})
	if cfg.BearerToken != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.BearerToken, TokenType: "Bearer"}),
			Base:   transport,
		}
	}

	// Client
	c := client.New().WithTransport(transport)
	if cfg.UserAgent != "" {
		c = c.WithUserAgent(cfg.UserAgent)
	}
	if cfg.Retry {
		retry := client.DefaultRetry()
		retry.Count = cfg.RetryCount
		retry.WaitTimeMax = cfg.RetryMaxWait
		retry.TotalRequestTimeout = cfg.Timeout
		c = c.WithRetry(retry)
	}
	switch cfg.Trace {
	case TraceLog:
		c = c.AndTrace(trace.LogTracer(stderr))
	case TraceDump:
		c = c.AndTrace(trace.DumpTracer(stderr))
	}
	if tracerProvider != nil {
		c = c.AndTrace(otel.NewTrace(
			tracerProvider,
			otelapi.GetMeterProvider(),
			otel.WithPropagators(propagation.TraceContext{}),
			otel.WithRedactedHeaders("Authorization"),
		))
	}

	// Request options
	reqInit := fetch.RequestInit{Method: cfg.Method}
	if len(cfg.Headers) > 0 {
		reqInit.Header = make(http.Header)
		for k, v := range cfg.Headers {
			reqInit.Header.Set(k, v)
		}
	}
	switch cfg.BodyFormat {
	case BodyFormatJSON:
		reqInit.Serialize = fetch.JSONSerializer
		if reqInit.Header.Get("Content-Type") == "" {
			reqInit.Header = withHeader(reqInit.Header, "Content-Type", "application/json")
		}
	case BodyFormatForm:
		reqInit.Serialize = fetch.FormSerializer
		if reqInit.Header.Get("Content-Type") == "" {
			reqInit.Header = withHeader(reqInit.Header, "Content-Type", "application/x-www-form-urlencoded")
		}
	case BodyFormatRaw:
		reqInit.Serialize = fetch.RawSerializer
	}

	return fetch.New(c, fetch.Config{DefaultInit: reqInit, ApplyThens: fetch.DecodeBytes, Logger: logger})
}

// parsePayload decodes the JSON body, a raw body is used as it is.
func parsePayload(cfg Config) (any, error) {
	if cfg.Body == "" {
		return fetch.NoPayload{}, nil
	}
	if cfg.BodyFormat == BodyFormatRaw {
		return cfg.Body, nil
	}
	var payload any
	if err := json.Unmarshal([]byte(cfg.Body), &payload); err != nil {
		return nil, fmt.Errorf("cannot parse %sBODY: %w", envPrefix, err)
	}
	return payload, nil
}

func newTracerProvider(ctx context.Context, endpoint string) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("cannot create OTLP exporter: %w", err)
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res)), nil
}

func withHeader(header http.Header, key, value string) http.Header {
	if header == nil {
		header = make(http.Header)
	}
	header.Set(key, value)
	return header
}
