// Package gcs opens Google Cloud Storage buckets with an OAuth2 access token.
package gcs

import (
	"context"
	"fmt"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/googleapis/gax-go/v2"
	"gocloud.dev/blob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/gcp"
	"golang.org/x/oauth2"
)

const Provider = "gcp"

//nolint:tagliatelle
type Credentials struct {
	ProjectID   string `json:"projectId"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type Params struct {
	Bucket      string      `json:"bucket"`
	Credentials Credentials `json:"credentials"`
}

// OpenBucket opens the bucket, the transport is optional.
// Only idempotent operations are retried.
func OpenBucket(ctx context.Context, params *Params, transport http.RoundTripper) (*blob.Bucket, error) {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: params.Credentials.AccessToken,
		TokenType:   params.Credentials.TokenType,
	})

	if transport == nil {
		transport = gcp.DefaultTransport()
	}
	client, err := gcp.NewHTTPClient(transport, tokenSource)
	if err != nil {
		return nil, err
	}
	b, err := gcsblob.OpenBucket(ctx, client, params.Bucket, nil)
	if err != nil {
		return nil, err
	}

	var gcsClient *storage.Client
	if !b.As(&gcsClient) {
		_ = b.Close()
		return nil, fmt.Errorf("unable to access storage.Client of the bucket %q", params.Bucket)
	}
	gcsClient.SetRetry(
		storage.WithBackoff(gax.Backoff{}),
		storage.WithPolicy(storage.RetryIdempotent),
	)

	return b, nil
}

func ObjectURL(params *Params, key string) string {
	return fmt.Sprintf("gs://%s/%s", params.Bucket, key)
}
