package fetch

// NoParams is the Params type of sessions with a literal URL.
type NoParams = struct{}

// URLConstructor resolves the URL of a session, see Literal and Template.
type URLConstructor[Params any] interface {
	resolve(params Params) (string, error)
}

type literal[Params any] string

type template[Params any] func(params Params) string

// Literal returns a constructor that always resolves to the url, params are ignored.
func Literal[Params any](url string) URLConstructor[Params] {
	return literal[Params](url)
}

// Template returns a constructor that resolves the URL by calling fn with params.
func Template[Params any](fn func(params Params) string) URLConstructor[Params] {
	return template[Params](fn)
}

func (v literal[Params]) resolve(Params) (string, error) {
	return string(v), nil
}

func (v template[Params]) resolve(params Params) (string, error) {
	if v == nil {
		return "", ErrInvalidTemplateKind
	}
	return v(params), nil
}
