// Package abs opens Azure Blob Storage containers with a SAS connection string.
package abs

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/relvacode/iso8601"
	"gocloud.dev/blob"
	"gocloud.dev/blob/azureblob"
)

const Provider = "azure"

const (
	blobEndpointKey          = "BlobEndpoint"
	sharedAccessSignatureKey = "SharedAccessSignature"
	maxRetries               = 3
)

//nolint:tagliatelle
type Credentials struct {
	SASConnectionString string       `json:"SASConnectionString"`
	Expiration          iso8601.Time `json:"expiration"`
}

type Params struct {
	AccountName string      `json:"accountName"`
	Container   string      `json:"container"`
	Credentials Credentials `json:"absCredentials"`
}

// OpenBucket opens the container, the transport is optional.
func OpenBucket(ctx context.Context, params *Params, transport http.RoundTripper) (*blob.Bucket, error) {
	if exp := params.Credentials.Expiration; !exp.IsZero() && exp.Before(time.Now()) {
		return nil, fmt.Errorf(`credentials of the container "%s" expired at %s`, params.Container, exp.Format(time.RFC3339))
	}

	containerURL, err := ContainerURL(params)
	if err != nil {
		return nil, err
	}

	opts := &container.ClientOptions{ClientOptions: azcore.ClientOptions{Retry: policy.RetryOptions{MaxRetries: maxRetries}}}
	if transport != nil {
		opts.Transport = &http.Client{Transport: transport}
	}

	client, err := container.NewClientWithNoCredential(containerURL, opts)
	if err != nil {
		return nil, err
	}
	return azureblob.OpenBucket(ctx, client, nil)
}

// ContainerURL composes the container URL, including the SAS token, from the connection string.
func ContainerURL(params *Params) (string, error) {
	values := make(map[string]string)
	for _, part := range strings.Split(params.Credentials.SASConnectionString, ";") {
		if k, v, ok := strings.Cut(part, "="); ok {
			values[k] = v
		}
	}

	endpoint := values[blobEndpointKey]
	if endpoint == "" {
		return "", fmt.Errorf(`connection string of the container "%s" has no "%s"`, params.Container, blobEndpointKey)
	}
	sas := values[sharedAccessSignatureKey]
	if sas == "" {
		return "", fmt.Errorf(`connection string of the container "%s" has no "%s"`, params.Container, sharedAccessSignatureKey)
	}

	return fmt.Sprintf("%s/%s?%s", strings.TrimRight(endpoint, "/"), params.Container, sas), nil
}

func ObjectURL(params *Params, key string) string {
	return fmt.Sprintf("azure://%s.blob.core.windows.net/%s/%s", params.AccountName, params.Container, key)
}
