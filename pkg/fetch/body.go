package fetch

import (
	"fmt"
	"net/url"
	"reflect"

	"github.com/keboola/go-fetch/pkg/request"
)

// Serializer encodes a request payload to the request body.
type Serializer func(payload any) ([]byte, error)

// JSONSerializer encodes the payload as JSON, it is the default Serializer.
func JSONSerializer(payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("cannot encode JSON body: %w", err)
	}
	return body, nil
}

// FormSerializer encodes the payload as "application/x-www-form-urlencoded" body.
// Supported payloads are url.Values, map[string]string, map[string]any and structs.
// Struct fields are named by the "writeas" or "json" tag.
// The Content-Type header must be set by the RequestInit.Header.
func FormSerializer(payload any) (body []byte, err error) {
	var values url.Values
	switch v := payload.(type) {
	case url.Values:
		values = v
	case map[string]string:
		values = make(url.Values, len(v))
		for k, item := range v {
			values.Set(k, item)
		}
	case map[string]any:
		if values, err = formValues(v); err != nil {
			return nil, err
		}
	default:
		if !isStruct(payload) {
			return nil, fmt.Errorf("cannot encode form body: unsupported payload type %T", payload)
		}
		defer func() {
			if r := recover(); r != nil {
				body, err = nil, fmt.Errorf("cannot encode form body: %v", r)
			}
		}()
		if values, err = formValues(request.StructToMap(payload, nil)); err != nil {
			return nil, err
		}
	}
	return []byte(values.Encode()), nil
}

// RawSerializer sends a string or []byte payload as it is.
func RawSerializer(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("cannot encode raw body: unsupported payload type %T", payload)
	}
}

func formValues(in map[string]any) (url.Values, error) {
	fields, err := request.ToFormBody(in)
	if err != nil {
		return nil, fmt.Errorf("cannot encode form body: %w", err)
	}
	values := make(url.Values, len(fields))
	for k, v := range fields {
		values.Set(k, v)
	}
	return values, nil
}

func isStruct(v any) bool {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t != nil && t.Kind() == reflect.Struct
}
