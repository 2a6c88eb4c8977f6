package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/keboola/go-fetch/pkg/client"
)

// ApplyThens decodes the response body into the target.
// The target is a *Success pointer for status code < 400, and a *Failure pointer otherwise.
// The body is already decoded according to the Content-Encoding, the session closes it.
type ApplyThens func(ctx context.Context, res *http.Response, target any) error

// DecodeJSON decodes the body as JSON.
// An empty body is accepted for responses without content, the target stays zero.
func DecodeJSON(_ context.Context, res *http.Response, target any) error {
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("cannot read response body: %w", err)
	}
	if len(body) == 0 && (res.StatusCode == http.StatusNoContent || res.Request != nil && res.Request.Method == http.MethodHead) {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("cannot decode JSON body: %w", err)
	}
	return nil
}

// DecodeText reads the body to a *string target.
func DecodeText(_ context.Context, res *http.Response, target any) error {
	v, ok := target.(*string)
	if !ok {
		return fmt.Errorf("cannot decode text body: expected *string target, found %T", target)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("cannot read response body: %w", err)
	}
	*v = string(body)
	return nil
}

// DecodeBytes reads the body to a *[]byte target.
func DecodeBytes(_ context.Context, res *http.Response, target any) error {
	v, ok := target.(*[]byte)
	if !ok {
		return fmt.Errorf("cannot decode bytes body: expected *[]byte target, found %T", target)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("cannot read response body: %w", err)
	}
	*v = body
	return nil
}

// DecodeAuto decodes JSON responses by DecodeJSON, other responses are read as text or bytes, according to the target type.
func DecodeAuto(ctx context.Context, res *http.Response, target any) error {
	switch target.(type) {
	case *[]byte:
		return DecodeBytes(ctx, res, target)
	case *string:
		if !client.IsJSONContentType(res.Header.Get("Content-Type")) {
			return DecodeText(ctx, res, target)
		}
	}
	return DecodeJSON(ctx, res, target)
}
