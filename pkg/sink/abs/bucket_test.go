package abs_test

import (
	"context"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/relvacode/iso8601"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/go-fetch/pkg/sink/abs"
)

func testParams() *abs.Params {
	return &abs.Params{
		AccountName: "account",
		Container:   "container",
		Credentials: abs.Credentials{
			SASConnectionString: "BlobEndpoint=https://example.com;SharedAccessSignature=sas",
			Expiration:          iso8601.Time{},
		},
	}
}

func TestTransportRetry(t *testing.T) {
	t.Parallel()

	// Mocked response
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("PUT", `https://example.com/container/blob`, httpmock.NewStringResponder(504, "test"))

	b, err := abs.OpenBucket(context.Background(), testParams(), transport)
	require.NoError(t, err)
	bw, err := b.NewWriter(context.Background(), "blob", nil)
	require.NoError(t, err)
	_, err = bw.Write([]byte("col1,col2\nval1,val2\n"))
	assert.NoError(t, err)
	assert.ErrorContains(t, bw.Close(), "504")
	assert.Equal(t, 4, transport.GetCallCountInfo()["PUT https://example.com/container/blob"])
}

func TestContainerURL(t *testing.T) {
	t.Parallel()

	params := testParams()
	params.Credentials.SASConnectionString = "BlobEndpoint=https://account.blob.core.windows.net/;SharedAccessSignature=sv=2020&sig=abc"
	containerURL, err := abs.ContainerURL(params)
	require.NoError(t, err)
	assert.Equal(t, "https://account.blob.core.windows.net/container?sv=2020&sig=abc", containerURL)

	params.Credentials.SASConnectionString = "SharedAccessSignature=sas"
	_, err = abs.ContainerURL(params)
	require.Error(t, err)
	assert.Equal(t, `connection string of the container "container" has no "BlobEndpoint"`, err.Error())
}

func TestExpiredCredentials(t *testing.T) {
	t.Parallel()

	params := testParams()
	params.Credentials.Expiration = iso8601.Time{Time: time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)}
	_, err := abs.OpenBucket(context.Background(), params, httpmock.NewMockTransport())
	require.Error(t, err)
	assert.Equal(t, `credentials of the container "container" expired at 2020-01-02T03:04:05Z`, err.Error())
}

func TestObjectURL(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "azure://account.blob.core.windows.net/container/out/key", abs.ObjectURL(testParams(), "out/key"))
}
