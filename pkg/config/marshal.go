package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/marmos91/xnet/internal/bytesize"
)

var (
	durationType = reflect.TypeOf(time.Duration(0))
	byteSizeType = reflect.TypeOf(bytesize.ByteSize(0))
)

// toMap converts a config value into plain maps, slices and scalars keyed by
// yaml tag names. Durations and sizes become their string forms, which the
// decode hooks parse back.
func toMap(v reflect.Value) any {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}

	switch v.Type() {
	case durationType:
		return time.Duration(v.Int()).String()
	case byteSizeType:
		text, _ := bytesize.ByteSize(v.Uint()).MarshalText()
		return string(text)
	}

	switch v.Kind() {
	case reflect.Struct:
		out := make(map[string]any)
		structFields(v, out)
		return out

	case reflect.Slice, reflect.Array:
		items := make([]any, v.Len())
		for i := range items {
			items[i] = toMap(v.Index(i))
		}
		return items

	case reflect.Map:
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = toMap(iter.Value())
		}
		return out

	default:
		return v.Interface()
	}
}

func structFields(v reflect.Value, out map[string]any) {
	t := v.Type()
	for i := range t.NumField() {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		name, opts, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if name == "-" {
			continue
		}
		fv := v.Field(i)

		if strings.Contains(opts, "omitempty") && fv.IsZero() {
			continue
		}
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		out[name] = toMap(fv)
	}
}

// flatten turns nested maps into dotted viper keys. Slices stay whole.
func flatten(prefix string, value any) map[string]any {
	out := make(map[string]any)

	m, ok := value.(map[string]any)
	if !ok {
		out[prefix] = value
		return out
	}

	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		for fk, fv := range flatten(key, v) {
			out[fk] = fv
		}
	}
	return out
}

// Map returns cfg keyed like its YAML form, for other encoders.
func (c *Config) Map() map[string]any {
	m, _ := toMap(reflect.ValueOf(c)).(map[string]any)
	return m
}
