package otel_test

import (
	"context"
	"io"
	"net/http"
	"sort"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdkMetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdkTrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/keboola/go-fetch/pkg/client"
	"github.com/keboola/go-fetch/pkg/client/trace"
	"github.com/keboola/go-fetch/pkg/client/trace/otel"
	"github.com/keboola/go-fetch/pkg/request"
)

type testTelemetry struct {
	spans          *tracetest.SpanRecorder
	tracerProvider *sdkTrace.TracerProvider
	metricReader   *sdkMetric.ManualReader
	meterProvider  *sdkMetric.MeterProvider
}

func newTestTelemetry() *testTelemetry {
	tel := &testTelemetry{
		spans:        tracetest.NewSpanRecorder(),
		metricReader: sdkMetric.NewManualReader(),
	}
	tel.tracerProvider = sdkTrace.NewTracerProvider(sdkTrace.WithSpanProcessor(tel.spans))
	tel.meterProvider = sdkMetric.NewMeterProvider(sdkMetric.WithReader(tel.metricReader))
	return tel
}

func (tel *testTelemetry) spanNames() (out []string) {
	for _, span := range tel.spans.Ended() {
		out = append(out, span.Name())
	}
	return out
}

func (tel *testTelemetry) span(t *testing.T, name string) sdkTrace.ReadOnlySpan {
	t.Helper()
	for _, span := range tel.spans.Ended() {
		if span.Name() == name {
			return span
		}
	}
	t.Fatalf(`span "%s" not found`, name)
	return nil
}

func (tel *testTelemetry) metrics(t *testing.T) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, tel.metricReader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTrace_Retry(t *testing.T) {
	t.Parallel()

	tel := newTestTelemetry()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", `https://api.example.com/items`, httpmock.ResponderFromMultipleResponses([]*http.Response{
		httpmock.NewStringResponse(http.StatusServiceUnavailable, "retry"),
		httpmock.NewStringResponse(http.StatusOK, "OK"),
	}))

	c := client.New().
		WithTransport(transport).
		WithRetry(client.RetryConfig{
			Condition:     client.DefaultRetryCondition(),
			Count:         3,
			WaitTimeStart: 1 * time.Millisecond,
			WaitTimeMax:   1 * time.Millisecond,
		}).
		AndTrace(otel.NewTrace(tel.tracerProvider, tel.meterProvider))

	res, err := request.NewHTTPRequest(c).WithGet("https://api.example.com/items").Send(context.Background())
	require.NoError(t, err)

	// Root span is not ended until the body is closed
	assert.Equal(t, []string{"http.request", "keboola.go.fetch.retry.delay", "http.request"}, tel.spanNames())
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())
	assert.Equal(t, "OK", string(body))
	assert.Equal(t, []string{"http.request", "keboola.go.fetch.retry.delay", "http.request", "keboola.go.fetch.request"}, tel.spanNames())

	// Hierarchy
	root := tel.span(t, "keboola.go.fetch.request")
	for _, span := range tel.spans.Ended() {
		if span.Name() != "keboola.go.fetch.request" {
			assert.Equal(t, root.SpanContext().SpanID(), span.Parent().SpanID(), span.Name())
		}
	}

	// Root span attributes
	assert.Equal(t, codes.Unset, root.Status().Code)
	v, found := attrValue(root.Attributes(), "http.status_code")
	assert.True(t, found)
	assert.Equal(t, int64(http.StatusOK), v.AsInt64())
	v, found = attrValue(root.Attributes(), "http.read_bytes")
	assert.True(t, found)
	assert.Equal(t, int64(2), v.AsInt64())
	v, found = attrValue(root.Attributes(), "definition.url.host.prefix")
	assert.True(t, found)
	assert.Equal(t, "api", v.AsString())

	// The first attempt is marked as failed
	first := tel.spans.Ended()[0]
	assert.Equal(t, codes.Error, first.Status().Code)
	assert.Equal(t, "HTTP status code: 503 Service Unavailable", first.Status().Description)

	// Metrics
	metrics := tel.metrics(t)
	for _, name := range []string{
		"keboola.go.fetch.request.in_flight",
		"keboola.go.fetch.request.duration",
		"keboola.go.fetch.request.read_bytes",
		"keboola.go.http.request.in_flight",
		"keboola.go.http.request.duration",
	} {
		assert.Contains(t, metrics, name)
	}
	readBytes, ok := metrics["keboola.go.fetch.request.read_bytes"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, readBytes.DataPoints, 1)
	assert.Equal(t, int64(2), readBytes.DataPoints[0].Value)
	httpDuration, ok := metrics["keboola.go.http.request.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var attempts uint64
	for _, dp := range httpDuration.DataPoints {
		attempts += dp.Count
	}
	assert.Equal(t, uint64(2), attempts)
}

func TestTrace_Session(t *testing.T) {
	t.Parallel()

	tel := newTestTelemetry()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", `https://example.com`, httpmock.NewStringResponder(http.StatusOK, "OK"))
	c := client.New().WithTransport(transport).AndTrace(otel.NewTrace(tel.tracerProvider, tel.meterProvider))

	ctx := trace.WithSession(context.Background(), trace.Session{ID: "my-session", Generation: 2})
	res, err := request.NewHTTPRequest(c).WithGet("https://example.com").Send(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())

	root := tel.span(t, "keboola.go.fetch.request")
	id, found := attrValue(root.Attributes(), "fetch.session.id")
	require.True(t, found)
	assert.Equal(t, "my-session", id.AsString())
	gen, found := attrValue(root.Attributes(), "fetch.session.generation")
	require.True(t, found)
	assert.Equal(t, int64(2), gen.AsInt64())

	// Session is not a metric dimension
	for _, m := range tel.metrics(t) {
		if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
			for _, dp := range sum.DataPoints {
				_, found := dp.Attributes.Value("fetch.session.id")
				assert.False(t, found, m.Name)
			}
		}
	}
}

func TestTrace_ErrorStatusCode(t *testing.T) {
	t.Parallel()

	tel := newTestTelemetry()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", `https://example.com`, httpmock.NewStringResponder(http.StatusNotFound, "not found"))

	c := client.New().WithTransport(transport).AndTrace(otel.NewTrace(tel.tracerProvider, tel.meterProvider))
	res, err := request.NewHTTPRequest(c).WithGet("https://example.com").Send(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())

	// Application error is not an error of the logical request
	root := tel.span(t, "keboola.go.fetch.request")
	assert.Equal(t, codes.Unset, root.Status().Code)
	assert.Equal(t, codes.Error, tel.span(t, "http.request").Status().Code)
}

func TestTrace_NetworkError(t *testing.T) {
	t.Parallel()

	tel := newTestTelemetry()
	c := client.New().AndTrace(otel.NewTrace(tel.tracerProvider, nil))
	_, err := request.NewHTTPRequest(c).WithGet("http//localhost:3000/get").Send(context.Background())
	require.Error(t, err)

	assert.Equal(t, []string{"http.request", "keboola.go.fetch.request"}, tel.spanNames())
	root := tel.span(t, "keboola.go.fetch.request")
	assert.Equal(t, codes.Error, root.Status().Code)
	assert.Equal(t, err.Error(), root.Status().Description)
}

func TestTrace_PropagatorsAndRedaction(t *testing.T) {
	t.Parallel()

	tel := newTestTelemetry()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", `=~^https://example\.com/secure`, func(req *http.Request) (*http.Response, error) {
		assert.NotEmpty(t, req.Header.Get("Traceparent"))
		return httpmock.NewStringResponse(http.StatusOK, "OK"), nil
	})

	c := client.New().
		WithTransport(transport).
		AndTrace(otel.NewTrace(
			tel.tracerProvider,
			tel.meterProvider,
			otel.WithPropagators(propagation.TraceContext{}),
			otel.WithRedactedHeaders("X-Api-Token"),
			otel.WithRedactedQueryParam("token"),
		))

	res, err := request.NewHTTPRequest(c).
		WithGet("https://example.com/secure").
		AndQueryParam("token", "my-secret").
		AndHeader("X-Api-Token", "my-secret").
		AndHeader("Authorization", "Bearer my-secret").
		Send(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())

	var all []attribute.KeyValue
	for _, span := range tel.spans.Ended() {
		all = append(all, span.Attributes()...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Key < all[j].Key })
	for _, attr := range all {
		assert.NotContains(t, attr.Value.Emit(), "my-secret", string(attr.Key))
	}

	root := tel.span(t, "keboola.go.fetch.request")
	v, found := attrValue(root.Attributes(), "definition.header.X-Api-Token")
	assert.True(t, found)
	assert.Equal(t, "****", v.AsString())
	v, found = attrValue(root.Attributes(), "definition.params.query.token")
	assert.True(t, found)
	assert.Equal(t, "****", v.AsString())
}
