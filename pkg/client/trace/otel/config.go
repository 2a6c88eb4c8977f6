package otel

import (
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/propagation"
)

type config struct {
	propagators         propagation.TextMapPropagator
	redactedQueryParams map[string]struct{}
	redactedHeaders     map[string]struct{}
}

type Option func(*config)

// WithPropagators sets propagators used to inject the trace context to the request headers.
func WithPropagators(v propagation.TextMapPropagator) Option {
	return func(c *config) {
		c.propagators = v
	}
}

// WithRedactedQueryParam masks values of the query parameters in all attributes.
func WithRedactedQueryParam(params ...string) Option {
	return func(c *config) {
		for _, p := range params {
			c.redactedQueryParams[strings.ToLower(p)] = struct{}{}
		}
	}
}

// WithRedactedHeaders masks values of the headers in all attributes.
func WithRedactedHeaders(headers ...string) Option {
	return func(c *config) {
		for _, h := range headers {
			c.redactedHeaders[strings.ToLower(h)] = struct{}{}
		}
	}
}

func newConfig(opts []Option) config {
	cfg := config{
		redactedQueryParams: make(map[string]struct{}),
		// Same as in the otelhttptrace
		redactedHeaders: map[string]struct{}{
			"authorization":       {},
			"www-authenticate":    {},
			"proxy-authenticate":  {},
			"proxy-authorization": {},
			"cookie":              {},
			"set-cookie":          {},
		},
	}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

func (c config) isRedactedHeader(key string) bool {
	_, found := c.redactedHeaders[strings.ToLower(key)]
	return found
}

func (c config) isRedactedQueryParam(key string) bool {
	_, found := c.redactedQueryParams[strings.ToLower(key)]
	return found
}

// redactURL returns a copy of the URL without user info and with masked query parameters.
func (c config) redactURL(in *url.URL) *url.URL {
	out := *in
	out.User = nil
	if len(c.redactedQueryParams) > 0 && out.RawQuery != "" {
		query := out.Query()
		for k := range query {
			if c.isRedactedQueryParam(k) {
				query.Set(k, maskedAttrValue)
			}
		}
		out.RawQuery = query.Encode()
	}
	return &out
}
