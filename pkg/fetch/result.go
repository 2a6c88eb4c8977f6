package fetch

// Kind classifies the outcome of a request.
type Kind int

const (
	// KindSuccess - the response has been received with status code < 400 and decoded.
	KindSuccess Kind = iota + 1
	// KindAppError - the response has been received with status code >= 400 and decoded.
	KindAppError
	// KindNetworkError - the request could not be sent or the response could not be received or decoded.
	// An aborted request is a network error too.
	KindNetworkError
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindAppError:
		return "app_error"
	case KindNetworkError:
		return "network_error"
	default:
		return "unknown"
	}
}

// Result of the Session.Request, it holds exactly one of: success data, failure data, network error description.
type Result[Success, Failure any] struct {
	kind         Kind
	statusCode   int
	data         Success
	failure      Failure
	networkError string
}

func successResult[S, F any](statusCode int, data S) Result[S, F] {
	return Result[S, F]{kind: KindSuccess, statusCode: statusCode, data: data}
}

func appErrorResult[S, F any](statusCode int, failure F) Result[S, F] {
	return Result[S, F]{kind: KindAppError, statusCode: statusCode, failure: failure}
}

func networkErrorResult[S, F any](statusCode int, err error) Result[S, F] {
	return Result[S, F]{kind: KindNetworkError, statusCode: statusCode, networkError: err.Error()}
}

func (r Result[S, F]) Kind() Kind {
	return r.kind
}

// OK returns true for KindSuccess.
func (r Result[S, F]) OK() bool {
	return r.kind == KindSuccess
}

// Err returns true for KindAppError, a network error is not an application error.
func (r Result[S, F]) Err() bool {
	return r.kind == KindAppError
}

// Data returns the decoded success body.
func (r Result[S, F]) Data() (S, bool) {
	return r.data, r.kind == KindSuccess
}

// Failure returns the decoded error body.
func (r Result[S, F]) Failure() (F, bool) {
	return r.failure, r.kind == KindAppError
}

// NetworkError returns the description of the network error.
func (r Result[S, F]) NetworkError() (string, bool) {
	return r.networkError, r.kind == KindNetworkError
}

// StatusCode returns the HTTP status code, 0 if no response has been received.
func (r Result[S, F]) StatusCode() int {
	return r.statusCode
}
