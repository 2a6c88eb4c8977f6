// Package sink stores response bodies to a bucket.
//
// The bucket is defined by Params: a cloud provider with temporary credentials (aws, gcp, azure),
// or a Go CDK URL, for example "file:///tmp/out" or "mem://".
package sink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/keboola/go-fetch/pkg/sink/abs"
	"github.com/keboola/go-fetch/pkg/sink/gcs"
	"github.com/keboola/go-fetch/pkg/sink/s3"
)

// URLProvider opens the bucket by the Params.URL.
const URLProvider = "url"

var json = jsoniter.ConfigCompatibleWithStandardLibrary //nolint:gochecknoglobals

type Params struct {
	Provider string      `json:"provider"`
	URL      string      `json:"url,omitempty"`
	Prefix   string      `json:"prefix,omitempty"`
	S3       *s3.Params  `json:"s3Params,omitempty"`
	GCS      *gcs.Params `json:"gcsParams,omitempty"`
	ABS      *abs.Params `json:"absParams,omitempty"`
}

// ParseParams parses a JSON object with Params, any other value is used as the bucket URL.
func ParseParams(value string) (Params, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "{") {
		return Params{Provider: URLProvider, URL: value}, nil
	}
	var params Params
	if err := json.Unmarshal([]byte(value), &params); err != nil {
		return Params{}, fmt.Errorf("cannot parse sink params: %w", err)
	}
	return params, nil
}

type config struct {
	transport http.RoundTripper
}

type Option func(c *config)

// WithTransport sets the HTTP transport of the cloud provider client.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *config) {
		c.transport = transport
	}
}

// Sink writes objects to a bucket, under a common prefix.
type Sink struct {
	bucket     *blob.Bucket
	prefix     string
	writerOpts blob.WriterOptions
	objectURL  func(key string) string
}

// Open opens the bucket given by the provider specified in the Params.
func Open(ctx context.Context, params Params, opts ...Option) (*Sink, error) {
	c := config{}
	for _, opt := range opts {
		opt(&c)
	}

	s := &Sink{prefix: params.Prefix}
	var err error
	switch params.Provider {
	case URLProvider:
		s.bucket, err = blob.OpenBucket(ctx, params.URL)
		s.objectURL = func(key string) string { return joinURL(params.URL, key) }
	case s3.Provider:
		if params.S3 == nil {
			return nil, fmt.Errorf(`missing params of the provider "%s"`, params.Provider)
		}
		s.bucket, err = s3.OpenBucket(ctx, params.S3, c.transport)
		s.writerOpts = *s3.WriterOptions(params.S3)
		s.objectURL = func(key string) string { return s3.ObjectURL(params.S3, key) }
	case gcs.Provider:
		if params.GCS == nil {
			return nil, fmt.Errorf(`missing params of the provider "%s"`, params.Provider)
		}
		s.bucket, err = gcs.OpenBucket(ctx, params.GCS, c.transport)
		s.objectURL = func(key string) string { return gcs.ObjectURL(params.GCS, key) }
	case abs.Provider:
		if params.ABS == nil {
			return nil, fmt.Errorf(`missing params of the provider "%s"`, params.Provider)
		}
		s.bucket, err = abs.OpenBucket(ctx, params.ABS, c.transport)
		s.objectURL = func(key string) string { return abs.ObjectURL(params.ABS, key) }
	default:
		return nil, fmt.Errorf(`unsupported provider "%s"`, params.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot open bucket: %w", err)
	}
	return s, nil
}

// Key returns the full key of the object, including the prefix.
func (s *Sink) Key(key string) string {
	return s.prefix + key
}

// URL returns the URL of the object.
func (s *Sink) URL(key string) string {
	return s.objectURL(s.Key(key))
}

// Write copies the reader content to the object.
func (s *Sink) Write(ctx context.Context, key, contentType string, r io.Reader) (written int64, err error) {
	opts := s.writerOpts
	opts.ContentType = contentType

	bw, err := s.bucket.NewWriter(ctx, s.Key(key), &opts)
	if err != nil {
		return 0, fmt.Errorf(`cannot open bucket writer "%s": %w`, s.Key(key), err)
	}

	defer func() {
		if closeErr := bw.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf(`cannot close bucket writer "%s": %w`, s.Key(key), closeErr)
		}
	}()

	return io.Copy(bw, r)
}

// Read returns the object content.
func (s *Sink) Read(ctx context.Context, key string) ([]byte, error) {
	return s.bucket.ReadAll(ctx, s.Key(key))
}

func (s *Sink) Close() error {
	return s.bucket.Close()
}

func joinURL(base, key string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "/" + key
	}
	u.Path = path.Join(u.Path, key)
	u.RawQuery = ""
	return u.String()
}
