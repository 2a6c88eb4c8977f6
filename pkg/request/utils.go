package request

import (
	jsonlib "encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/keboola/go-utils/pkg/orderedmap"
	"github.com/spf13/cast"
)

// ToFormBody converts a JSON like map to form body map, any type is mapped to string.
// Slices are expanded to "key[index]" fields, maps to "key[mapKey]" fields.
// An error is returned if a value cannot be converted to string.
func ToFormBody(in map[string]any) (out map[string]string, err error) {
	out = make(map[string]string)
	for k, v := range in {
		if v == nil {
			out[k] = ""
			continue
		}
		ty := reflect.TypeOf(v)
		if ty.Kind() == reflect.Slice && ty.Elem().Kind() != reflect.Uint8 {
			for i, s := range cast.ToStringSlice(v) {
				out[fmt.Sprintf("%s[%d]", k, i)] = s
			}
		} else if ty.Kind() == reflect.Map {
			for i, s := range cast.ToStringMapString(v) {
				out[fmt.Sprintf("%s[%s]", k, i)] = s
			}
		} else if out[k], err = castToString(v); err != nil {
			return nil, fmt.Errorf(`form field "%s": %w`, k, err)
		}
	}
	return out, nil
}

// StructToMap converts a struct to values map.
// Only defined allowedFields are converted.
// If allowedFields = nil, then all fields are exported.
//
// Field name is read from `writeas` tag or from "json" tag as fallback.
// Field with tag `readonly:"true"` is ignored.
// Field with tag `writeoptional` is exported only if value is not empty.
func StructToMap(in any, allowedFields []string) (out map[string]any) {
	out = make(map[string]any)
	structToMap(reflect.ValueOf(in), out, allowedFields)
	return out
}

func structToMap(in reflect.Value, out map[string]any, allowedFields []string) {
	// Initialize
	for in.Kind() == reflect.Ptr || in.Kind() == reflect.Interface {
		in = in.Elem()
	}
	t := in.Type()

	// Convert allowed slice to map
	allowed := make(map[string]bool)
	for _, field := range allowedFields {
		allowed[field] = true
	}

	// Iterate over fields
	numFields := t.NumField()
	for i := range numFields {
		field := t.Field(i)
		fieldValue := in.Field(i)

		// Process embedded type
		if field.Anonymous {
			structToMap(fieldValue, out, allowedFields)
			continue
		}

		// Skip filed with tag `readonly:"true"`
		if field.Tag.Get("readonly") == "true" {
			continue
		}

		// Skip field with tag `writeoptional:"true"` and empty value
		if field.Tag.Get("writeoptional") == "true" && fieldValue.IsZero() {
			continue
		}

		// Get field name
		var fieldName string
		if v := field.Tag.Get("writeas"); v != "" {
			fieldName = v
		} else if v := strings.Split(field.Tag.Get("json"), ",")[0]; v != "" {
			fieldName = v
		} else {
			panic(fmt.Errorf(`field "%s" of %s has no json name`, field.Name, t.String()))
		}

		// Skip ignored fields
		if fieldName == "-" {
			continue
		}

		// Is allowed?
		if len(allowedFields) > 0 && !allowed[fieldName] {
			continue
		}

		// Ok, add to map
		out[fieldName] = fieldValue.Interface()
	}
}

func cloneURLValues(in url.Values) (out url.Values) {
	out = make(url.Values, len(in))
	for k, values := range in {
		for _, v := range values {
			out.Add(k, v)
		}
	}
	return out
}

func castToString(v any) (string, error) {
	// Ordered map
	if orderedMap, ok := v.(*orderedmap.OrderedMap); ok {
		// Standard json encoding library is used.
		// JsonIter lib returns non-compact JSON,
		// if custom OrderedMap.MarshalJSON method is used.
		bytes, err := jsonlib.Marshal(orderedMap)
		if err != nil {
			return "", fmt.Errorf(`cannot cast %T to string: %w`, v, err)
		}
		return string(bytes), nil
	}

	// Other types
	str, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf(`cannot cast %T to string: %w`, v, err)
	}
	return str, nil
}
