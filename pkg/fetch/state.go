package fetch

import (
	"github.com/keboola/go-fetch/pkg/reactive"
)

// State is the observable state of a Session.
// All cells are unset before the first request and after a reset.
// The cells are written only by the Session.
type State[Success, Failure any] struct {
	// Data is the decoded body of the last successful response.
	Data reactive.Readable[Success]
	// Error is the decoded body of the last response with status code >= 400.
	Error reactive.Readable[Failure]
	// NetworkError describes the last send or decode failure, including an abort.
	NetworkError reactive.Readable[string]
	// Loading is true while a request is in flight, false when it is settled.
	Loading reactive.Readable[bool]
	// StatusCode of the last response, it is set before the body is decoded.
	StatusCode reactive.Readable[int]
	// IsOK is true if the StatusCode is 2xx.
	IsOK reactive.Readable[bool]
	// HasError is true if the request is not loading and IsOK is false, it is always set.
	HasError reactive.Readable[bool]

	data         *reactive.Cell[Success]
	failure      *reactive.Cell[Failure]
	networkError *reactive.Cell[string]
	loading      *reactive.Cell[bool]
	statusCode   *reactive.Cell[int]
	isOK         *reactive.Cell[bool]
}

func newState[S, F any]() *State[S, F] {
	s := &State[S, F]{
		data:         reactive.NewCell[S](),
		failure:      reactive.NewCell[F](),
		networkError: reactive.NewCell[string](),
		loading:      reactive.NewCell[bool](),
		statusCode:   reactive.NewCell[int](),
		isOK:         reactive.NewCell[bool](),
	}
	s.Data = s.data
	s.Error = s.failure
	s.NetworkError = s.networkError
	s.Loading = s.loading
	s.StatusCode = s.statusCode
	s.IsOK = s.isOK
	s.HasError = reactive.Derive2(s.loading, s.isOK, func(loading reactive.Value[bool], isOK reactive.Value[bool]) bool {
		return !(loading.Valid && loading.Value) && isOK.Valid && !isOK.Value
	})
	return s
}

// reset unsets all cells, loading is unset too, not false.
func (s *State[S, F]) reset() {
	s.data.Unset()
	s.failure.Unset()
	s.networkError.Unset()
	s.loading.Unset()
	s.statusCode.Unset()
	s.isOK.Unset()
}

func (s *State[S, F]) settle(r Result[S, F]) {
	switch r.kind {
	case KindSuccess:
		s.data.Set(r.data)
	case KindAppError:
		s.failure.Set(r.failure)
	case KindNetworkError:
		s.networkError.Set(r.networkError)
	}
	s.loading.Set(false)
}
