package fetch

import "errors"

var (
	// ErrMissingURL is returned by Session.Request if no URL has been bound.
	ErrMissingURL = errors.New("unable to call request without setting url parameters using URL()")
	// ErrInvalidTemplateKind is returned by Session.URL if the URL constructor is neither a literal nor a template function.
	ErrInvalidTemplateKind = errors.New("invalid type of url constructor, use a template function or a literal string")
	// ErrMissingApplyThens is returned by New if Config.ApplyThens is not set.
	ErrMissingApplyThens = errors.New("apply thens pipeline is required")
)
