// Package client provides a default implementation of the request.Sender interface.
//
// Client is based on the standard net/http package and contains retry and tracing/telemetry support.
// The response body is transparently decoded according to the Content-Encoding header (gzip, br).
//
// Any response is returned to the caller, even if its status code is >= 400,
// an error is returned only if the request cannot be sent or the response cannot be received.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"

	"github.com/keboola/go-fetch/pkg/client/counter"
	"github.com/keboola/go-fetch/pkg/client/decode"
	"github.com/keboola/go-fetch/pkg/client/trace"
	"github.com/keboola/go-fetch/pkg/request"
)

// DefaultUserAgent is sent if no other User-Agent is configured.
const DefaultUserAgent = "keboola-go-fetch"

// json encodes bodies of requests sent outside a fetch session, sessions serialize their own payloads.
var json = jsoniter.ConfigCompatibleWithStandardLibrary //nolint:gochecknoglobals

// Client is a default and configurable implementation of the request.Sender interface by Go native http.Client.
// It supports retry and tracing/telemetry.
type Client struct {
	transport      http.RoundTripper
	header         http.Header
	retry          RetryConfig
	traceFactories []trace.Factory
}

// New creates new HTTP Client.
// Retries are disabled by default, see WithRetry.
func New() Client {
	c := Client{transport: DefaultTransport(), header: make(http.Header), retry: NoRetry()}
	c.header.Set("User-Agent", DefaultUserAgent)
	c.header.Set("Accept-Encoding", "gzip, br")
	return c
}

// WithUserAgent returns a clone of the Client with user agent set.
func (c Client) WithUserAgent(v string) Client {
	return c.WithHeader("User-Agent", v)
}

// WithHeader returns a clone of the Client with common header set.
func (c Client) WithHeader(key, value string) Client {
	c.header = c.header.Clone()
	c.header.Set(key, value)
	return c
}

// WithHeaders returns a clone of the Client with common headers set.
func (c Client) WithHeaders(headers map[string]string) Client {
	c.header = c.header.Clone()
	for k, v := range headers {
		c.header.Set(k, v)
	}
	return c
}

// WithTransport returns a clone of the Client with a HTTP transport set.
func (c Client) WithTransport(transport http.RoundTripper) Client {
	if transport == nil {
		panic(errors.New("transport cannot be nil"))
	}
	c.transport = transport
	return c
}

// WithRetry returns a clone of the Client with retry config set.
func (c Client) WithRetry(retry RetryConfig) Client {
	c.retry = retry
	return c
}

// AndTrace returns a clone of the Client with a trace factory added.
// All registered factories are invoked for each request, hooks are composed.
func (c Client) AndTrace(fn trace.Factory) Client {
	factories := make([]trace.Factory, 0, len(c.traceFactories)+1)
	factories = append(factories, c.traceFactories...)
	c.traceFactories = append(factories, fn)
	return c
}

// Send method sends the HTTP request and returns the raw HTTP response, it implements the request.Sender interface.
func (c Client) Send(ctx context.Context, reqDef request.HTTPRequest) (res *http.Response, err error) {
	// Method cannot be called on an empty value
	if c.transport == nil {
		panic(errors.New("client value is not initialized"))
	}

	// Init trace, the last registered factory is invoked first
	var clientTrace *trace.ClientTrace
	for i := len(c.traceFactories) - 1; i >= 0; i-- {
		var t *trace.ClientTrace
		ctx, t = c.traceFactories[i](ctx, reqDef)
		if t == nil {
			continue
		}
		ctx = httptrace.WithClientTrace(ctx, &t.ClientTrace)
		t.Compose(clientTrace)
		clientTrace = t
	}

	// Trace request processed, if the response body is not available
	defer func() {
		if err != nil && clientTrace != nil && clientTrace.RequestProcessed != nil {
			clientTrace.RequestProcessed(0, err)
		}
	}()

	// Create request
	req, err := c.newRequest(ctx, reqDef)
	if err != nil {
		return nil, fmt.Errorf(`request %s "%s" failed: %w`, reqDef.Method(), reqDef.URL(), err)
	}

	// Setup native client
	nativeClient := http.Client{
		Timeout:   c.retry.TotalRequestTimeout,
		Transport: roundTripper{trace: clientTrace, retry: c.retry, wrapped: c.transport}, // wrapped transport for trace/retry
	}

	// Send request
	startedAt := time.Now()
	res, err = nativeClient.Do(req)
	if err != nil {
		return nil, handleSendError(startedAt, c.retry.TotalRequestTimeout, req, err)
	}

	// Process content encoding
	if body, err := decode.Decode(res.Body, res.Header.Get("Content-Encoding")); err == nil {
		if body != res.Body {
			res.Header.Del("Content-Encoding")
			res.Header.Del("Content-Length")
			res.ContentLength = -1
			res.Uncompressed = true
		}
		res.Body = body
	} else {
		_ = res.Body.Close()
		return nil, fmt.Errorf(`cannot process request %s "%s": %w`, req.Method, req.URL.String(), err)
	}

	// Count read bytes, trace the end of the response body
	if clientTrace != nil && clientTrace.RequestProcessed != nil {
		res.Body = counter.NewReadCloser(res.Body, clientTrace.RequestProcessed)
	}

	return res, nil
}

func (c Client) newRequest(ctx context.Context, reqDef request.HTTPRequest) (*http.Request, error) {
	reqURL, err := url.Parse(reqDef.URL())
	if err != nil {
		return nil, err
	}

	// Merge query parameters
	if params := reqDef.QueryParams(); len(params) > 0 {
		query := reqURL.Query()
		for k, values := range params {
			query[k] = values
		}
		reqURL.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, reqDef.Method(), reqURL.String(), nil)
	if err != nil {
		return nil, err
	}

	// Global headers
	for k, values := range c.header {
		for _, v := range values {
			req.Header.Set(k, v)
		}
	}

	// Request headers
	for k, values := range reqDef.RequestHeader() {
		req.Header.Del(k) // clear global values
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	// Body
	if reqDef.RequestBody() != nil {
		// GetBody factory is used for requests when a redirect/retry requires reading the body more than once.
		req.GetBody = func() (io.ReadCloser, error) {
			body, err := requestBody(reqDef)
			if err != nil {
				return nil, fmt.Errorf("cannot prepare request body: %w", err)
			}
			return body, nil
		}
		req.Body, err = req.GetBody()
		if err != nil {
			return nil, err
		}
		switch v := reqDef.RequestBody().(type) {
		case string:
			req.ContentLength = int64(len(v))
		case []byte:
			req.ContentLength = int64(len(v))
		}
	}

	return req, nil
}

func requestBody(r request.HTTPRequest) (io.ReadCloser, error) {
	body := r.RequestBody()
	switch v := body.(type) {
	case nil:
		return nil, nil
	case string:
		return io.NopCloser(strings.NewReader(v)), nil
	case []byte:
		return io.NopCloser(bytes.NewReader(v)), nil
	case io.ReadSeekCloser:
		if _, err := v.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return v, nil
	case io.ReadSeeker:
		if _, err := v.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return io.NopCloser(v), nil
	}

	if IsJSONContentType(r.RequestHeader().Get("Content-Type")) {
		c, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("cannot encode JSON body: %w", err)
		}
		return io.NopCloser(bytes.NewReader(c)), nil
	}

	return nil, fmt.Errorf("unsupported body type %T", body)
}

func handleSendError(startedAt time.Time, clientTimeout time.Duration, req *http.Request, err error) error {
	// Timeout
	var netErr net.Error
	if deadline, ok := req.Context().Deadline(); ok && errors.Is(err, context.DeadlineExceeded) {
		err = urlError(req, fmt.Errorf("timeout after %s: %w", deadline.Sub(startedAt), context.DeadlineExceeded))
	} else if errors.Is(err, context.Canceled) {
		err = urlError(req, fmt.Errorf("canceled after %s: %w", time.Since(startedAt), context.Canceled))
	} else if errors.As(err, &netErr) && netErr.Timeout() {
		if strings.Contains(err.Error(), "Client.Timeout exceeded") {
			err = urlError(req, fmt.Errorf("timeout after %s", clientTimeout))
		} else {
			err = urlError(req, fmt.Errorf("timeout after %s", time.Since(startedAt)))
		}
	}

	// Url error
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = fmt.Errorf(`request %s "%s" failed: %w`, strings.ToUpper(urlErr.Op), urlErr.URL, urlErr.Err)
	}

	return err
}

// roundTripper wraps a http.RoundTripper and adds trace and retry functionality.
type roundTripper struct {
	trace   *trace.ClientTrace
	retry   RetryConfig
	wrapped http.RoundTripper
}

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	var state backoff.BackOff
	attempt := 0
	for {
		// Trace request start
		if rt.trace != nil && rt.trace.HTTPRequestStart != nil {
			rt.trace.HTTPRequestStart(req)
		}

		// Send
		res, err := rt.wrapped.RoundTrip(req)

		// Trace request done
		if rt.trace != nil && rt.trace.HTTPRequestDone != nil {
			rt.trace.HTTPRequestDone(res, err)
		}

		// Check if we should retry
		if rt.retry.Condition == nil || attempt >= rt.retry.Count || !rt.retry.Condition(res, err) {
			// No retry
			return res, err
		}

		// Get next delay
		if state == nil {
			state = rt.retry.NewBackoff()
		}
		delay := state.NextBackOff()
		if delay == backoff.Stop {
			// Stop
			return res, err
		}

		// Discard the response of the failed attempt
		if res != nil && res.Body != nil {
			_, _ = io.Copy(io.Discard, res.Body)
			_ = res.Body.Close()
		}

		// Trace retry
		attempt++
		if rt.trace != nil && rt.trace.HTTPRequestRetry != nil {
			rt.trace.HTTPRequestRetry(attempt, delay)
		}

		// Rewind body before retry
		req = req.WithContext(contextWithRetryAttempt(req.Context(), attempt))
		if req.GetBody != nil {
			req.Body, err = req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("cannot rewind body: %w", err)
			}
		}

		// Wait
		timer := time.NewTimer(delay)
		select {
		case <-req.Context().Done():
			// context is canceled
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
			// time elapsed, retry
		}
	}
}

func urlError(req *http.Request, err error) *url.Error {
	return &url.Error{Op: req.Method, URL: req.URL.String(), Err: err}
}
