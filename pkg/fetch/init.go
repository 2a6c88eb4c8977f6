package fetch

import (
	"net/http"
	"net/url"
	"strings"
)

// RequestInit contains transport options of a request.
// Factory defaults are merged with per-session options, see RequestInit.Merge.
type RequestInit struct {
	// Method is the HTTP method, GET if empty.
	Method string
	// Header replaces all default headers, if set.
	Header http.Header
	// Query parameters are added to the URL.
	Query url.Values
	// Serialize encodes the payload to the request body, the payload is encoded as JSON if nil.
	Serialize Serializer
}

// Merge returns a copy of v overridden by non-zero fields of the others.
// The merge is shallow, for example, the Header is replaced as a whole.
func (v RequestInit) Merge(others ...RequestInit) RequestInit {
	out := v
	for _, o := range others {
		if o.Method != "" {
			out.Method = o.Method
		}
		if o.Header != nil {
			out.Header = o.Header
		}
		if o.Query != nil {
			out.Query = o.Query
		}
		if o.Serialize != nil {
			out.Serialize = o.Serialize
		}
	}
	out.Header = out.Header.Clone()
	if out.Query != nil {
		out.Query = cloneValues(out.Query)
	}
	return out
}

// EffectiveMethod returns the upper-cased method, GET if it is not set.
func (v RequestInit) EffectiveMethod() string {
	if v.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(v.Method)
}

// HasBody returns false for GET and HEAD requests.
func (v RequestInit) HasBody() bool {
	m := v.EffectiveMethod()
	return m != http.MethodGet && m != http.MethodHead
}

func cloneValues(in url.Values) url.Values {
	out := make(url.Values, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}
