package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/keboola/go-fetch/pkg/client/trace"
	"github.com/keboola/go-fetch/pkg/request"
)

// NoPayload can be used as the Payload type of requests without a body.
type NoPayload = struct{}

// Session is a reusable request slot with an observable State.
//
// Requests of one session should not overlap, each Request resets the State.
// If they do overlap, only the latest Request writes to the State,
// completions of the previous requests are ignored. The same applies to a request interrupted by Abort.
type Session[Payload, Success, Failure, Params any] struct {
	fetcher     *Fetcher
	id          string
	init        RequestInit
	constructor URLConstructor[Params]
	state       *State[Success, Failure]

	lock     sync.Mutex
	boundURL string
	bound    bool
	gen      uint64
	cancel   context.CancelFunc
}

// NewSession creates a session with a literal URL, the URL is bound immediately.
func NewSession[Payload, Success, Failure any](f *Fetcher, url string, init ...RequestInit) *Session[Payload, Success, Failure, NoParams] {
	return NewSessionWith[Payload, Success, Failure](f, Literal[NoParams](url), init...)
}

// NewTemplateSession creates a session with an URL template, the URL must be bound by the Session.URL method.
func NewTemplateSession[Payload, Success, Failure, Params any](f *Fetcher, fn func(params Params) string, init ...RequestInit) *Session[Payload, Success, Failure, Params] {
	return NewSessionWith[Payload, Success, Failure](f, Template(fn), init...)
}

// NewSessionWith creates a session with the URL constructor.
// The init options override the Fetcher defaults.
func NewSessionWith[Payload, Success, Failure, Params any](f *Fetcher, constructor URLConstructor[Params], init ...RequestInit) *Session[Payload, Success, Failure, Params] {
	s := &Session[Payload, Success, Failure, Params]{
		fetcher:     f,
		id:          uuid.NewString(),
		init:        f.config.DefaultInit.Merge(init...),
		constructor: constructor,
		state:       newState[Success, Failure](),
	}
	if v, ok := constructor.(literal[Params]); ok {
		s.boundURL, s.bound = string(v), true
	}
	return s
}

// ID returns an unique identifier of the session, it is used in logs.
func (s *Session[P, S, F, Params]) ID() string {
	return s.id
}

// State returns the observable state of the session.
func (s *Session[P, S, F, Params]) State() *State[S, F] {
	return s.state
}

// URL resolves and binds the URL, a literal URL ignores the params.
// The session itself is returned, so the call can be chained with the Request.
func (s *Session[P, S, F, Params]) URL(params Params) (*Session[P, S, F, Params], error) {
	if s.constructor == nil {
		return nil, ErrInvalidTemplateKind
	}
	urlStr, err := s.constructor.resolve(params)
	if err != nil {
		return nil, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	s.boundURL, s.bound = urlStr, true
	return s, nil
}

// Request resets the state and sends the request to the bound URL.
//
// The returned error is not nil only if no URL has been bound, see ErrMissingURL.
// Application errors and network errors are expressed by the Result and by the State.
func (s *Session[P, S, F, Params]) Request(ctx context.Context, payload P) (Result[S, F], error) {
	// Start
	s.lock.Lock()
	if !s.bound {
		s.lock.Unlock()
		return Result[S, F]{}, ErrMissingURL
	}
	s.gen++
	gen := s.gen
	urlStr := s.boundURL
	s.state.reset()
	s.state.loading.Set(true)
	ctx, cancel := context.WithCancel(trace.WithSession(ctx, trace.Session{ID: s.id, Generation: gen}))
	s.cancel = cancel
	s.lock.Unlock()
	defer cancel()

	method := s.init.EffectiveMethod()
	logger := s.fetcher.logger.With(
		slog.String("session", s.id),
		slog.Uint64("generation", gen),
		slog.String("method", method),
		slog.String("url", urlStr),
	)
	logger.DebugContext(ctx, "request started")

	result := s.send(ctx, gen, method, urlStr, payload)

	// Settle, if the request has not been superseded
	s.lock.Lock()
	current := gen == s.gen
	if current {
		s.state.settle(result)
	}
	s.lock.Unlock()

	if current {
		logger.DebugContext(ctx, "request settled", slog.Int("status", result.statusCode), slog.String("kind", result.kind.String()))
	} else {
		logger.DebugContext(ctx, "request superseded", slog.Int("status", result.statusCode), slog.String("kind", result.kind.String()))
	}

	return result, nil
}

// Abort cancels the request in flight and resets the state.
// It is a no-op if no request has been sent.
func (s *Session[P, S, F, Params]) Abort() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.gen++
	s.state.reset()
	s.fetcher.logger.Debug("request aborted", slog.String("session", s.id))
}

// Reset unsets all state cells, the request in flight is not cancelled.
func (s *Session[P, S, F, Params]) Reset() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.state.reset()
}

func (s *Session[P, S, F, Params]) send(ctx context.Context, gen uint64, method, urlStr string, payload P) Result[S, F] {
	req := request.NewHTTPRequest(s.fetcher.sender).
		WithMethod(method).
		WithURL(urlStr).
		WithHeader(s.init.Header).
		WithQueryParams(s.init.Query)

	// GET and HEAD requests have no body
	if s.init.HasBody() {
		if _, ok := any(payload).(NoPayload); !ok {
			serialize := s.init.Serialize
			if serialize == nil {
				serialize = JSONSerializer
			}
			body, err := serialize(payload)
			if err != nil {
				return networkErrorResult[S, F](0, err)
			}
			req = req.WithBody(body)
		}
	}

	res, err := req.Send(ctx)
	if err != nil {
		return networkErrorResult[S, F](0, err)
	}
	defer res.Body.Close()

	// Status code is available before the body is decoded
	s.lock.Lock()
	if gen == s.gen {
		s.state.statusCode.Set(res.StatusCode)
		s.state.isOK.Set(res.StatusCode >= 200 && res.StatusCode < 300)
	}
	s.lock.Unlock()

	if res.StatusCode >= http.StatusBadRequest {
		var failure F
		if err := s.fetcher.config.ApplyThens(ctx, res, &failure); err != nil {
			return networkErrorResult[S, F](res.StatusCode, decodeError(req, err))
		}
		return appErrorResult[S](res.StatusCode, failure)
	}

	var data S
	if err := s.fetcher.config.ApplyThens(ctx, res, &data); err != nil {
		return networkErrorResult[S, F](res.StatusCode, decodeError(req, err))
	}
	return successResult[S, F](res.StatusCode, data)
}

func decodeError(req request.HTTPRequest, err error) error {
	return fmt.Errorf(`cannot decode response %s "%s": %w`, req.Method(), req.URL(), err)
}
