package otel

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/spf13/cast"
	"go.opentelemetry.io/otel/attribute"

	"github.com/keboola/go-fetch/pkg/request"
)

const (
	maskedAttrValue = "****"
)

type attributes struct {
	config config
	// definitionPath is used as the resource name of the root span
	definitionPath string
	// definition attributes for span and metrics
	definition []attribute.KeyValue
	// definitionExtra attributes for span only
	definitionExtra []attribute.KeyValue
	// httpRequest attributes for span and metrics
	httpRequest []attribute.KeyValue
	// httpRequestExtra attributes for span only
	httpRequestExtra []attribute.KeyValue
	// httpResponse attributes for span and metrics
	httpResponse []attribute.KeyValue
	// httpResponseExtra attributes for span only
	httpResponseExtra []attribute.KeyValue
	// responseError attributes for metrics
	responseError []attribute.KeyValue
}

func newAttributes(cfg config, reqDef request.HTTPRequest) *attributes {
	out := &attributes{config: cfg}

	// Definition base, the URL may be invalid, it is parsed when the request is sent
	out.definition = []attribute.KeyValue{
		attribute.String("definition.method", reqDef.Method()),
	}
	if reqURL, err := url.Parse(reqDef.URL()); err == nil {
		out.definitionPath = mustURLPathUnescape(reqURL.Path)
		out.definition = append(out.definition,
			attribute.String("definition.url.full", mustURLPathUnescape(cfg.redactURL(reqURL).String())),
			attribute.String("definition.url.path", out.definitionPath),
			attribute.String("definition.url.host.full", reqURL.Host),
		)
		if dotPos := strings.IndexByte(reqURL.Host, '.'); dotPos > 0 {
			// Host parts: to trace service name (host prefix) and domain (host suffix).
			out.definition = append(out.definition,
				attribute.String("definition.url.host.prefix", reqURL.Host[:dotPos]),
				attribute.String("definition.url.host.suffix", strings.TrimLeft(reqURL.Host[dotPos:], ".")),
			)
		}
	} else {
		out.definition = append(out.definition, attribute.String("definition.url.full", reqDef.URL()))
	}

	// Definition params
	var extra []attribute.KeyValue
	for k, v := range reqDef.RequestHeader() {
		value := strings.Join(v, ";")
		if cfg.isRedactedHeader(k) {
			value = maskedAttrValue
		}
		extra = append(extra, attribute.String("definition.header."+k, value))
	}
	for k, v := range reqDef.QueryParams() {
		value := strings.Join(v, ";")
		if cfg.isRedactedQueryParam(k) {
			value = maskedAttrValue
		}
		extra = append(extra, attribute.String("definition.params.query."+k, value))
	}
	if body := reqDef.RequestBody(); body != nil {
		extra = append(extra, attribute.String("definition.body.type", typeName(body)))
	}
	sortAttrs(extra)
	out.definitionExtra = extra

	return out
}

func (v *attributes) SetFromRequest(req *http.Request) {
	if req == nil {
		v.httpRequest = nil
		v.httpRequestExtra = nil
		return
	}

	// Base
	v.httpRequest = []attribute.KeyValue{
		attribute.String("http.method", req.Method),
		attribute.String("http.url", v.config.redactURL(req.URL).String()),
		attribute.String("net.peer.name", req.URL.Hostname()),
	}
	if port := req.URL.Port(); port != "" {
		v.httpRequest = append(v.httpRequest, attribute.Int("net.peer.port", cast.ToInt(port)))
	}
	if ua := req.UserAgent(); ua != "" {
		v.httpRequest = append(v.httpRequest, attribute.String("user_agent.original", ua))
	}

	// Extra
	var attrs []attribute.KeyValue
	for key, values := range req.Header {
		key = strings.ToLower(key)
		if key == "user-agent" {
			// Skip, it is already present in the base attributes
			continue
		}
		value := strings.Join(values, ";")
		if v.config.isRedactedHeader(key) {
			value = maskedAttrValue
		}
		attrs = append(attrs, attribute.String("http.header."+key, value))
	}
	sortAttrs(attrs)
	v.httpRequestExtra = attrs
}

func (v *attributes) SetFromResponse(res *http.Response) {
	if res == nil {
		v.httpResponse = nil
		v.httpResponseExtra = nil
		return
	}

	// Base
	v.httpResponse = []attribute.KeyValue{
		attribute.Int("http.status_code", res.StatusCode),
	}

	// Extra
	var attrs []attribute.KeyValue
	for key, values := range res.Header {
		key = strings.ToLower(key)
		value := strings.Join(values, ";")
		if v.config.isRedactedHeader(key) {
			value = maskedAttrValue
		}
		attrs = append(attrs, attribute.String("http.response.header."+key, value))
	}
	sortAttrs(attrs)
	v.httpResponseExtra = attrs
}

func (v *attributes) SetError(err error) {
	var netErr net.Error
	errors.As(err, &netErr)
	v.responseError = []attribute.KeyValue{
		attribute.Bool("http.response.error.has", err != nil),
		attribute.Bool("http.response.error.net", netErr != nil),
		attribute.Bool("http.response.error.timeout", netErr != nil && netErr.Timeout()),
		attribute.Bool("http.response.error.cancelled", errors.Is(err, context.Canceled)),
		attribute.Bool("http.response.error.deadline_exceeded", errors.Is(err, context.DeadlineExceeded)),
	}
}

func sortAttrs(attrs []attribute.KeyValue) {
	sort.SliceStable(attrs, func(i, j int) bool {
		return attrs[i].Key < attrs[j].Key
	})
}

func mustURLPathUnescape(in string) string {
	out, err := url.PathUnescape(in)
	if err != nil {
		return in
	}
	return out
}
