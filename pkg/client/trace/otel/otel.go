// Package otel provides OpenTelemetry tracing and metrics for HTTP client requests.
//
// The package provides 2 levels of telemetry:
//
// 1. Low-level telemetry:
//   - It provides span and metrics for every sent HTTP request, including redirects and retries.
//   - Span name is "http.request", child spans for HTTP request parts are "http.dns", "http.getconn", "http.tls", ...
//   - Metrics names start with "keboola.go.http." (httpPrefix const).
//
// 2. High-level telemetry:
//   - It provides span and metrics for each "logical" HTTP request send by the client.
//   - Main span "keboola.go.fetch.request" wraps all redirects and retries together.
//     The span ends when the response body is closed, so it includes the body reading.
//   - Span "keboola.go.fetch.retry.delay" tracks delay before retry.
//   - Metrics names start with "keboola.go.fetch." (clientPrefix const).
package otel

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelMetric "go.opentelemetry.io/otel/metric"
	metricNoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	otelTrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/keboola/go-fetch/pkg/client/trace"
	"github.com/keboola/go-fetch/pkg/request"
)

const (
	traceAppName     = "github.com/keboola/go-fetch"
	attrResourceName = attribute.Key("resource.name")
	// Low-level tracing, for each redirect and retry.
	httpPrefix                 = "keboola.go.http."
	httpSpanPrefix             = "http."
	httpRequestSpanName        = httpSpanPrefix + "request"
	httpDNSSpanName            = httpSpanPrefix + "dns"
	httpGetConnSpanName        = httpSpanPrefix + "getconn"
	httpConnectSpanName        = httpSpanPrefix + "connect"
	httpTLSHandshakeSpanName   = httpSpanPrefix + "tls"
	httpSendSpanName           = httpSpanPrefix + "send"
	attrHostName               = attribute.Key("net.host.name")
	attrDNSAddresses           = attribute.Key("http.dns.addrs")
	attrRemoteAddr             = attribute.Key("http.remote")
	attrLocalAddr              = attribute.Key("http.local")
	attrConnectionReused       = attribute.Key("http.conn.reused")
	attrConnectionWasIdle      = attribute.Key("http.conn.wasidle")
	attrConnectionIdleTime     = attribute.Key("http.conn.idletime")
	attrConnectionStartNetwork = attribute.Key("http.conn.start.network")
	attrReadBytes              = attribute.Key("http.read_bytes")
	// Fetch session, span only to keep metrics cardinality low.
	attrSessionID         = attribute.Key("fetch.session.id")
	attrSessionGeneration = attribute.Key("fetch.session.generation")
	// High-level tracing.
	clientPrefix             = "keboola.go.fetch."
	clientRequestSpanName    = clientPrefix + "request"
	clientRetryDelaySpanName = clientPrefix + "retry.delay"
	// Extra attributes for DataDog.
	attrSpanKind            = attribute.Key("span.kind")
	attrSpanKindValueClient = "client"
	attrSpanType            = attribute.Key("span.type")
	attrSpanTypeValueHTTP   = "http"
)

// NewTrace creates a trace.Factory that reports spans and metrics to the providers.
// Nil providers are replaced by noop implementations.
func NewTrace(tracerProvider otelTrace.TracerProvider, meterProvider otelMetric.MeterProvider, opts ...Option) trace.Factory {
	cfg := newConfig(opts)
	if tracerProvider == nil {
		tracerProvider = noop.NewTracerProvider()
	}
	if meterProvider == nil {
		meterProvider = metricNoop.NewMeterProvider()
	}
	tracer := tracerProvider.Tracer(traceAppName)
	meters := newMeters(meterProvider.Meter(traceAppName))

	return func(rootCtx context.Context, reqDef request.HTTPRequest) (context.Context, *trace.ClientTrace) {
		tc := &trace.ClientTrace{}
		attrs := newAttributes(cfg, reqDef)
		var retryDelaySpan otelTrace.Span

		// Create root span and metrics, it may contain multiple HTTP requests (redirects, retries, ...).
		{
			var rootSpan otelTrace.Span

			// Metrics
			startTime := time.Now()
			meters.client.inFlight.Add(rootCtx, 1, otelMetric.WithAttributes(attrs.definition...))

			// Tracing
			rootCtx, rootSpan = tracer.Start(
				rootCtx,
				clientRequestSpanName,
				otelTrace.WithSpanKind(otelTrace.SpanKindClient),
				otelTrace.WithAttributes(
					attrResourceName.String(attrs.definitionPath),
					attrSpanKind.String(attrSpanKindValueClient),
					attrSpanType.String(attrSpanTypeValueHTTP),
				),
				otelTrace.WithAttributes(attrs.definition...),
				otelTrace.WithAttributes(attrs.definitionExtra...),
				otelTrace.WithAttributes(sessionAttributes(rootCtx)...),
			)
			tc.RequestProcessed = func(readBytes int64, err error) {
				elapsedTime := float64(time.Since(startTime)) / float64(time.Millisecond)
				attrs.SetError(err)

				// Metrics
				var meterAttrs []attribute.KeyValue
				meterAttrs = append(meterAttrs, attrs.definition...)
				meterAttrs = append(meterAttrs, attrs.httpResponse...)
				meterAttrs = append(meterAttrs, attrs.responseError...)
				meters.client.inFlight.Add(rootCtx, -1, otelMetric.WithAttributes(attrs.definition...)) // same attributes/dimensions as above (+1)!
				meters.client.duration.Record(rootCtx, elapsedTime, otelMetric.WithAttributes(meterAttrs...))
				meters.client.readBytes.Add(rootCtx, readBytes, otelMetric.WithAttributes(meterAttrs...))

				// Tracing
				if rootSpan == nil {
					return
				}
				if retryDelaySpan != nil {
					retryDelaySpan.End()
					retryDelaySpan = nil
				}
				// Add attributes from the last response
				rootSpan.SetAttributes(attrs.httpResponse...)
				rootSpan.SetAttributes(attrs.httpResponseExtra...)
				rootSpan.SetAttributes(attrReadBytes.Int64(readBytes))
				if err != nil {
					rootSpan.RecordError(err)
					rootSpan.SetStatus(codes.Error, err.Error())
				}
				rootSpan.End()
				rootSpan = nil
			}
		}

		// Handle HTTP requests
		httpCtx := rootCtx
		{
			var httpRequestSpan otelTrace.Span
			var httpRequestStart time.Time
			tc.HTTPRequestStart = func(req *http.Request) {
				// End retry delay span
				if retryDelaySpan != nil {
					retryDelaySpan.End()
					retryDelaySpan = nil
				}

				// Create HTTP request span
				httpCtx, httpRequestSpan = tracer.Start(
					rootCtx,
					httpRequestSpanName,
					otelTrace.WithSpanKind(otelTrace.SpanKindClient),
					otelTrace.WithAttributes(
						attrSpanKind.String(attrSpanKindValueClient),
						attrSpanType.String(attrSpanTypeValueHTTP),
					),
				)

				// Inject trace headers
				if cfg.propagators != nil {
					cfg.propagators.Inject(httpCtx, propagation.HeaderCarrier(req.Header))
				}

				// Attrs
				httpRequestStart = time.Now()
				attrs.SetFromRequest(req)
				httpRequestSpan.SetAttributes(attrResourceName.String(req.URL.Path))

				// Metrics
				meters.http.inFlight.Add(rootCtx, 1, otelMetric.WithAttributes(attrs.httpRequest...))

				// Tracing
				httpRequestSpan.SetAttributes(attrs.httpRequest...)
				httpRequestSpan.SetAttributes(attrs.httpRequestExtra...)
			}
			tc.HTTPRequestDone = func(res *http.Response, err error) {
				elapsedTime := float64(time.Since(httpRequestStart)) / float64(time.Millisecond)
				attrs.SetFromResponse(res)

				// Metrics
				meters.http.inFlight.Add(
					rootCtx,
					-1,
					otelMetric.WithAttributes(attrs.httpRequest...), // same attributes/dimensions as in HTTPRequestStart!
				)
				meters.http.duration.Record(
					rootCtx,
					elapsedTime,
					otelMetric.WithAttributes(attrs.httpRequest...),
					otelMetric.WithAttributes(attrs.httpResponse...),
				)

				// Tracing
				if httpRequestSpan == nil {
					return
				}
				httpRequestSpan.SetAttributes(attrs.httpResponse...)
				httpRequestSpan.SetAttributes(attrs.httpResponseExtra...)
				switch {
				case err != nil:
					httpRequestSpan.RecordError(err)
					httpRequestSpan.SetStatus(codes.Error, err.Error())
				case res != nil && res.StatusCode >= http.StatusBadRequest:
					httpErr := fmt.Errorf(`HTTP status code: %d %s`, res.StatusCode, http.StatusText(res.StatusCode))
					httpRequestSpan.RecordError(httpErr)
					httpRequestSpan.SetStatus(codes.Error, httpErr.Error())
				}
				httpRequestSpan.End()
				httpRequestSpan = nil
			}
		}

		// Handle retry
		tc.HTTPRequestRetry = func(attempt int, delay time.Duration) {
			// retryDelaySpan is ended by HTTPRequestStart hook or RequestProcessed hook (if an error occurred, e.g., request timeout).
			_, retryDelaySpan = tracer.Start(
				rootCtx,
				clientRetryDelaySpanName,
				otelTrace.WithSpanKind(otelTrace.SpanKindClient),
				otelTrace.WithAttributes(attrs.httpRequest...),
				otelTrace.WithAttributes(attrs.httpResponse...),
				otelTrace.WithAttributes(
					attribute.Int("fetch.request.retry.attempt", attempt),
					attribute.Int64("fetch.request.retry.delay_ms", delay.Milliseconds()),
					attribute.String("fetch.request.retry.delay_string", delay.String()),
				),
			)
		}

		// Register low-level tracing.
		// httptrace: DNS
		{
			var dnsSpan otelTrace.Span
			tc.DNSStart = func(info httptrace.DNSStartInfo) {
				_, dnsSpan = tracer.Start(
					httpCtx,
					httpDNSSpanName,
					otelTrace.WithSpanKind(otelTrace.SpanKindClient),
					otelTrace.WithAttributes(attrHostName.String(info.Host)),
				)
			}
			tc.DNSDone = func(info httptrace.DNSDoneInfo) {
				if dnsSpan != nil {
					var addrs []string
					for _, netAddr := range info.Addrs {
						addrs = append(addrs, netAddr.String())
					}
					dnsSpan.SetAttributes(attrDNSAddresses.String(strings.Join(addrs, ";")))
					endSpan(dnsSpan, info.Err)
					dnsSpan = nil
				}
			}
		}
		// httptrace: Get connection
		{
			var getConnSpan otelTrace.Span
			tc.GetConn = func(host string) {
				_, getConnSpan = tracer.Start(
					httpCtx,
					httpGetConnSpanName,
					otelTrace.WithSpanKind(otelTrace.SpanKindClient),
					otelTrace.WithAttributes(attrHostName.String(host)),
				)
			}
			tc.GotConn = func(info httptrace.GotConnInfo) {
				if getConnSpan != nil {
					if info.Conn != nil {
						getConnSpan.SetAttributes(
							attrRemoteAddr.String(info.Conn.RemoteAddr().String()),
							attrLocalAddr.String(info.Conn.LocalAddr().String()),
						)
					}
					getConnSpan.SetAttributes(
						attrConnectionReused.Bool(info.Reused),
						attrConnectionWasIdle.Bool(info.WasIdle),
					)
					if info.WasIdle {
						getConnSpan.SetAttributes(attrConnectionIdleTime.String(info.IdleTime.String()))
					}
					getConnSpan.End()
					getConnSpan = nil
				}
			}
		}
		// httptrace: Connect
		{
			var connectSpan otelTrace.Span
			tc.ConnectStart = func(network, addr string) {
				_, connectSpan = tracer.Start(
					httpCtx,
					httpConnectSpanName,
					otelTrace.WithSpanKind(otelTrace.SpanKindClient),
					otelTrace.WithAttributes(
						attrRemoteAddr.String(addr),
						attrConnectionStartNetwork.String(network),
					),
				)
			}
			tc.ConnectDone = func(_, _ string, err error) {
				if connectSpan != nil {
					endSpan(connectSpan, err)
					connectSpan = nil
				}
			}
		}
		// httptrace: TLS handshake
		// Note: It is not reported if the http2.Transport is used directly, without upgrade from http.Transport.
		{
			var tlsSpan otelTrace.Span
			tc.TLSHandshakeStart = func() {
				_, tlsSpan = tracer.Start(
					httpCtx,
					httpTLSHandshakeSpanName,
					otelTrace.WithSpanKind(otelTrace.SpanKindClient),
				)
			}
			tc.TLSHandshakeDone = func(_ tls.ConnectionState, err error) {
				if tlsSpan != nil {
					endSpan(tlsSpan, err)
					tlsSpan = nil
				}
			}
		}
		// httptrace: send
		{
			var sendSpan otelTrace.Span
			tc.WroteHeaders = func() {
				_, sendSpan = tracer.Start(
					httpCtx,
					httpSendSpanName,
					otelTrace.WithSpanKind(otelTrace.SpanKindClient),
				)
			}
			tc.WroteRequest = func(info httptrace.WroteRequestInfo) {
				if sendSpan != nil {
					endSpan(sendSpan, info.Err)
					sendSpan = nil
				}
			}
		}

		return rootCtx, tc
	}
}

func sessionAttributes(ctx context.Context) []attribute.KeyValue {
	s, ok := trace.SessionFromContext(ctx)
	if !ok {
		return nil
	}
	return []attribute.KeyValue{
		attrSessionID.String(s.ID),
		attrSessionGeneration.Int64(int64(s.Generation)), //nolint:gosec
	}
}

func endSpan(span otelTrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
