package request

import (
	"context"
	"net/http"
)

// Sender represents an HTTP client, the client.Client is a default implementation using the standard net/http package.
type Sender interface {
	// Send method sends defined request and returns the raw response.
	// Any response, even with status code >= 400, is returned without an error.
	// The error is returned only if the request cannot be sent or the response cannot be received,
	// for example: invalid URL, network problem, cancelled context.
	// The caller is responsible for closing the response body.
	Send(ctx context.Context, request HTTPRequest) (*http.Response, error)
}
