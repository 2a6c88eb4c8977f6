package request_test

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/keboola/go-utils/pkg/orderedmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/go-fetch/pkg/client"
	"github.com/keboola/go-fetch/pkg/request"
)

func TestHttpRequest_Immutability(t *testing.T) {
	t.Parallel()
	var a, b request.HTTPRequest
	c := client.New()
	a = request.NewHTTPRequest(c)

	// Default method
	assert.Equal(t, http.MethodGet, a.Method())

	// WithGet
	a = a.WithGet("/foo1")
	b = a.WithGet("/foo2")
	assert.Equal(t, http.MethodGet, a.Method())
	assert.Equal(t, "/foo1", a.URL())
	assert.Equal(t, http.MethodGet, b.Method())
	assert.Equal(t, "/foo2", b.URL())

	// WithPost
	a = a.WithPost("/foo1")
	b = a.WithPost("/foo2")
	assert.Equal(t, http.MethodPost, a.Method())
	assert.Equal(t, "/foo1", a.URL())
	assert.Equal(t, http.MethodPost, b.Method())
	assert.Equal(t, "/foo2", b.URL())

	// WithPut
	a = a.WithPut("/foo1")
	b = a.WithPut("/foo2")
	assert.Equal(t, http.MethodPut, a.Method())
	assert.Equal(t, http.MethodPut, b.Method())
	assert.Equal(t, "/foo2", b.URL())

	// WithDelete
	a = a.WithDelete("/foo1")
	b = a.WithDelete("/foo2")
	assert.Equal(t, http.MethodDelete, a.Method())
	assert.Equal(t, http.MethodDelete, b.Method())

	// WithMethod, method is normalized
	a = a.WithMethod("get")
	b = a.WithMethod("Post")
	assert.Equal(t, http.MethodGet, a.Method())
	assert.Equal(t, http.MethodPost, b.Method())

	// WithURL, the value is not validated
	a = a.WithURL("http//invalid")
	b = a.WithURL("/url2")
	assert.Equal(t, "http//invalid", a.URL())
	assert.Equal(t, "/url2", b.URL())

	// AndHeader
	a = a.AndHeader("key1", "value1")
	b = a.AndHeader("key2", "value2")
	assert.Equal(t, http.Header{"Key1": []string{"value1"}}, a.RequestHeader())
	assert.Equal(t, http.Header{"Key1": []string{"value1"}, "Key2": []string{"value2"}}, b.RequestHeader())

	// WithHeader
	header := http.Header{"Accept": []string{"text/plain"}}
	b = a.WithHeader(header)
	header.Set("Accept", "modified")
	assert.Equal(t, http.Header{"Key1": []string{"value1"}}, a.RequestHeader())
	assert.Equal(t, http.Header{"Accept": []string{"text/plain"}}, b.RequestHeader())
	assert.Equal(t, http.Header{}, a.WithHeader(nil).RequestHeader())

	// AndQueryParam
	a = a.AndQueryParam("key1", "value1")
	b = a.AndQueryParam("key2", "value2")
	assert.Equal(t, url.Values{"key1": []string{"value1"}}, a.QueryParams())
	assert.Equal(t, url.Values{"key1": []string{"value1"}, "key2": []string{"value2"}}, b.QueryParams())

	// WithQueryParams
	a = a.WithQueryParams(url.Values{"foo1": []string{"bar1"}})
	b = a.WithQueryParams(url.Values{"foo2": []string{"bar2"}})
	assert.Equal(t, url.Values{"foo1": []string{"bar1"}}, a.QueryParams())
	assert.Equal(t, url.Values{"foo2": []string{"bar2"}}, b.QueryParams())

	// WithFormBody
	a = a.WithFormBody(map[string]string{"foo1": "bar1"})
	b = a.WithFormBody(map[string]string{"foo2": "bar2"})
	assert.NotEqual(t, a, b)
	assert.Equal(t, "foo1=bar1", a.RequestBody())
	assert.Equal(t, "foo2=bar2", b.RequestBody())
	assert.Equal(t, "application/x-www-form-urlencoded", a.RequestHeader().Get("Content-Type"))

	// WithJSONBody
	a = a.WithJSONBody(123)
	b = a.WithJSONBody(456)
	assert.Equal(t, 123, a.RequestBody())
	assert.Equal(t, 456, b.RequestBody())
	assert.Equal(t, "application/json", a.RequestHeader().Get("Content-Type"))

	// WithBody, WithContentType
	a = a.WithBody([]byte("abc")).WithContentType("text/plain")
	b = a.WithBody("def")
	assert.Equal(t, []byte("abc"), a.RequestBody())
	assert.Equal(t, "def", b.RequestBody())
	assert.Equal(t, "text/plain", b.RequestHeader().Get("Content-Type"))
}

func TestHttpRequest_Send(t *testing.T) {
	t.Parallel()

	c, transport := client.NewMockedClient()
	transport.RegisterResponder("PUT", `https://example.com/foo?bar=baz`, func(req *http.Request) (*http.Response, error) {
		body, err := io.ReadAll(req.Body)
		assert.NoError(t, err)
		assert.Equal(t, "payload", string(body))
		return httpmock.NewStringResponse(http.StatusNotFound, "not found"), nil
	})

	res, err := request.NewHTTPRequest(c).
		WithPut("https://example.com/foo").
		AndQueryParam("bar", "baz").
		WithBody("payload").
		Send(context.Background())
	require.NoError(t, err)
	defer res.Body.Close()

	// Error status code is not an error of the Send method
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, "not found", string(body))
}

func TestHttpRequest_Send_CancelledContext(t *testing.T) {
	t.Parallel()

	c, transport := client.NewMockedClient()
	transport.RegisterResponder("GET", `https://example.com`, httpmock.NewStringResponder(http.StatusOK, "OK"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := request.NewHTTPRequest(c).WithGet("https://example.com").Send(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, `request GET "https://example.com" failed: canceled after 0s: context canceled`, err.Error())

	ctx, cancel = context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err = request.NewHTTPRequest(c).WithMethod("post").WithURL("https://example.com").Send(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, `request POST "https://example.com" failed: timeout after 0s: context deadline exceeded`, err.Error())
	assert.Equal(t, 0, transport.GetTotalCallCount())
}

func TestToFormBody(t *testing.T) {
	t.Parallel()

	ordered := orderedmap.FromPairs([]orderedmap.Pair{
		{Key: "b", Value: 1},
		{Key: "a", Value: 2},
	})

	data := map[string]any{
		"string":  "test",
		"number":  100,
		"nil":     nil,
		"slice":   []string{"a", "b", "c"},
		"ints":    []int{1, 2},
		"map":     map[string]string{"k0": "v0", "k1": "v1"},
		"ordered": ordered,
	}

	expected := map[string]string{
		"string":   "test",
		"number":   "100",
		"nil":      "",
		"slice[0]": "a",
		"slice[1]": "b",
		"slice[2]": "c",
		"ints[0]":  "1",
		"ints[1]":  "2",
		"map[k0]":  "v0",
		"map[k1]":  "v1",
		"ordered":  `{"b":1,"a":2}`,
	}
	actual, err := request.ToFormBody(data)
	require.NoError(t, err)
	assert.Equal(t, expected, actual)
}

func TestToFormBody_Error(t *testing.T) {
	t.Parallel()

	_, err := request.ToFormBody(map[string]any{"foo": struct{ A int }{A: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `form field "foo": cannot cast struct { A int } to string`)
}

func TestStructToMap(t *testing.T) {
	t.Parallel()

	type base struct {
		ID int `json:"id" readonly:"true"`
	}
	type user struct {
		base
		Email    string `json:"email"`
		Name     string `json:"name,omitempty" writeoptional:"true"`
		Password string `writeas:"pass" json:"-"`
		Ignored  string `json:"-"`
	}

	actual := request.StructToMap(&user{base: base{ID: 1}, Email: "a@b.com", Password: "secret"}, nil)
	assert.Equal(t, map[string]any{"email": "a@b.com", "pass": "secret"}, actual)

	actual = request.StructToMap(user{Email: "a@b.com", Name: "John"}, []string{"name"})
	assert.Equal(t, map[string]any{"name": "John"}, actual)
}
