package trace

import (
	"context"
	"fmt"
)

type sessionContextKey struct{}

// Session identifies the fetch session and the request generation that issued a request.
type Session struct {
	ID         string
	Generation uint64
}

func (s Session) String() string {
	return fmt.Sprintf("%s#%d", s.ID, s.Generation)
}

// WithSession returns a copy of ctx carrying the session, the tracers include it in their output.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// SessionFromContext returns the session stored by WithSession.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(Session)
	return s, ok
}

// sessionLabel formats the session for the text tracers, it is empty for requests sent outside a session.
func sessionLabel(ctx context.Context) string {
	if s, ok := SessionFromContext(ctx); ok {
		return s.String()
	}
	return ""
}
