package client_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/keboola/go-fetch/pkg/client"
	. "github.com/keboola/go-fetch/pkg/client/trace"
	. "github.com/keboola/go-fetch/pkg/request"
)

func TestNoRetryByDefault(t *testing.T) {
	t.Parallel()

	// Mocked response
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", `https://example.com`, httpmock.NewStringResponder(504, "test"))

	res, err := NewHTTPRequest(New().WithTransport(transport)).WithGet("https://example.com").Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusGatewayTimeout, res.StatusCode)
	assert.NoError(t, res.Body.Close())
	assert.Equal(t, 1, transport.GetCallCountInfo()["GET https://example.com"])
}

func TestRetryCount(t *testing.T) {
	t.Parallel()

	// Setup
	retryCount := 10
	var delays []time.Duration
	var attempts []int

	// Mocked response
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", `https://example.com`, func(req *http.Request) (*http.Response, error) {
		attempt, _ := ContextRetryAttempt(req.Context())
		attempts = append(attempts, attempt)
		return httpmock.NewStringResponse(504, "test"), nil
	})

	// Create client
	ctx := context.Background()
	c := New().
		WithTransport(transport).
		WithRetry(RetryConfig{
			Condition:     DefaultRetryCondition(),
			Count:         retryCount,
			WaitTimeStart: 1 * time.Microsecond,
			WaitTimeMax:   20 * time.Microsecond,
		}).
		AndTrace(func(ctx context.Context, _ HTTPRequest) (context.Context, *ClientTrace) {
			return ctx, &ClientTrace{
				HTTPRequestRetry: func(_ int, delay time.Duration) {
					delays = append(delays, delay)
				},
			}
		})

	// Get, the last response is returned
	res, err := NewHTTPRequest(c).WithGet("https://example.com").Send(ctx)
	require.NoError(t, err)
	assert.Equal(t, http.StatusGatewayTimeout, res.StatusCode)
	assert.NoError(t, res.Body.Close())

	// Check number of requests
	assert.Equal(t, 1+retryCount, transport.GetCallCountInfo()["GET https://example.com"])
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, attempts)

	// Check delays
	assert.Equal(t, []time.Duration{
		1 * time.Microsecond,
		2 * time.Microsecond,
		4 * time.Microsecond,
		8 * time.Microsecond,
		16 * time.Microsecond,
		20 * time.Microsecond,
		20 * time.Microsecond,
		20 * time.Microsecond,
		20 * time.Microsecond,
		20 * time.Microsecond,
	}, delays)
}

func TestRetryCondition_Canceled(t *testing.T) {
	t.Parallel()

	cond := DefaultRetryCondition()
	assert.False(t, cond(nil, context.Canceled))
	assert.False(t, cond(nil, fmt.Errorf("wrapped: %w", context.Canceled)))
	assert.False(t, cond(nil, errors.New("dial tcp: lookup foo: no such host")))
	assert.True(t, cond(nil, errors.New("connection reset by peer")))
	assert.True(t, cond(&http.Response{StatusCode: http.StatusBadGateway}, nil))
	assert.False(t, cond(&http.Response{StatusCode: http.StatusNotFound}, nil))
}

func TestRetryBodyRewind(t *testing.T) {
	t.Parallel()

	// Mocked response
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("POST", `https://example.com`, func(req *http.Request) (*http.Response, error) {
		requestBody, err := io.ReadAll(req.Body)
		assert.NoError(t, err)
		// Each retry attempt must send same body
		assert.Equal(t, `{"foo":"bar"}`, string(requestBody))
		return httpmock.NewStringResponse(502, "retry!"), nil
	})

	// Create client
	c := New().
		WithTransport(transport).
		WithRetry(TestingRetry())

	// Post
	jsonBody := map[string]any{"foo": "bar"}
	res, err := NewHTTPRequest(c).WithPost("https://example.com").WithJSONBody(jsonBody).Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.NoError(t, res.Body.Close())

	// Check number of requests
	assert.Equal(t, 1+RetriesCount, transport.GetCallCountInfo()["POST https://example.com"])
}

func TestDoNotRetry(t *testing.T) {
	t.Parallel()

	// Mocked response
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://example.com", httpmock.NewStringResponder(403, "test"))

	// Setup
	var delays []time.Duration

	// Create client
	c := New().
		WithTransport(transport).
		WithRetry(RetryConfig{
			Condition:     DefaultRetryCondition(),
			Count:         10,
			WaitTimeStart: 1 * time.Microsecond,
			WaitTimeMax:   20 * time.Microsecond,
		}).
		AndTrace(func(ctx context.Context, _ HTTPRequest) (context.Context, *ClientTrace) {
			return ctx, &ClientTrace{
				HTTPRequestRetry: func(_ int, delay time.Duration) {
					delays = append(delays, delay)
				},
			}
		})

	// Get
	res, err := NewHTTPRequest(c).WithGet("https://example.com").Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.NoError(t, res.Body.Close())

	// Check number of requests
	assert.Equal(t, 1, transport.GetCallCountInfo()["GET https://example.com"])

	// Check delays
	assert.Empty(t, delays)
}

func TestDefaultRetryCondition(t *testing.T) {
	t.Parallel()

	condition := DefaultRetryCondition()
	assert.True(t, condition(nil, errors.New("connection reset by peer")))
	assert.False(t, condition(nil, errors.New("dial tcp: lookup foo: no such host")))
	assert.True(t, condition(&http.Response{StatusCode: http.StatusTooManyRequests}, nil))
	assert.True(t, condition(&http.Response{StatusCode: http.StatusServiceUnavailable}, nil))
	assert.False(t, condition(&http.Response{StatusCode: http.StatusOK}, nil))
	assert.False(t, condition(&http.Response{StatusCode: http.StatusNotFound}, nil))
}
