package serializer

import (
	"encoding"
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/c360/thingbridge/errors"
)

// ConvertFunc converts a value of an unsupported type into one the wire
// encodings can represent (strings, numbers, maps, slices).
type ConvertFunc func(value any) (any, error)

// ConverterRegistry holds fallback converters for types the wire encodings
// cannot represent natively. It is injected into each serializer at
// construction; implementations share one registry so a type registered once
// round-trips identically regardless of the chosen encoding.
type ConverterRegistry struct {
	converters map[reflect.Type]ConvertFunc
}

// NewConverterRegistry creates an empty registry
func NewConverterRegistry() *ConverterRegistry {
	return &ConverterRegistry{converters: make(map[reflect.Type]ConvertFunc)}
}

// DefaultRegistry returns a registry preloaded with converters for the
// domain types the bridge encounters: UUIDs, timestamps, durations,
// arbitrary-precision decimals and errors.
func DefaultRegistry() *ConverterRegistry {
	r := NewConverterRegistry()
	r.Register(uuid.UUID{}, func(v any) (any, error) {
		return v.(uuid.UUID).String(), nil
	})
	r.Register(time.Time{}, func(v any) (any, error) {
		return v.(time.Time).Format(time.RFC3339Nano), nil
	})
	r.Register(time.Duration(0), func(v any) (any, error) {
		return v.(time.Duration).String(), nil
	})
	r.Register(&big.Rat{}, func(v any) (any, error) {
		return v.(*big.Rat).RatString(), nil
	})
	r.Register(&big.Float{}, func(v any) (any, error) {
		return v.(*big.Float).Text('g', -1), nil
	})
	return r
}

// Register adds a converter for the concrete type of the sample value.
// Registering the same type again replaces the previous converter.
func (r *ConverterRegistry) Register(sample any, fn ConvertFunc) {
	r.converters[reflect.TypeOf(sample)] = fn
}

// Lookup returns the converter for a concrete type, if registered
func (r *ConverterRegistry) Lookup(t reflect.Type) (ConvertFunc, bool) {
	fn, ok := r.converters[t]
	return fn, ok
}

// Normalize rewrites a value into encoding-friendly primitives, applying
// registered converters where the encodings would otherwise fail. Canonical
// forms: enums (fmt.Stringer) become their name string, sets
// (map[T]struct{}) become sorted element slices, errors become structured
// exception descriptions.
func (r *ConverterRegistry) Normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	// Registered converters win over every generic rule, including for
	// types that also satisfy fmt.Stringer (time.Time et al.)
	if fn, ok := r.Lookup(reflect.TypeOf(value)); ok {
		converted, err := fn(value)
		if err != nil {
			return nil, errors.WrapInvalid(err, "ConverterRegistry", "Normalize", "apply converter")
		}
		return r.Normalize(converted)
	}

	switch v := value.(type) {
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, []byte:
		return v, nil
	case error:
		return errors.Describe(v), nil
	case encoding.TextMarshaler:
		text, err := v.MarshalText()
		if err != nil {
			return nil, errors.WrapInvalid(err, "ConverterRegistry", "Normalize", "marshal text")
		}
		return string(text), nil
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return r.Normalize(rv.Elem().Interface())

	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem, err := r.Normalize(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = elem
		}
		return out, nil

	case reflect.Map:
		// Sets are represented as map[T]struct{}; they canonicalize to a
		// sorted slice of elements so round-trips are deterministic
		if rv.Type().Elem() == reflect.TypeOf(struct{}{}) {
			return r.normalizeSet(rv)
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			val, err := r.Normalize(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(iter.Key().Interface())] = val
		}
		return out, nil

	case reflect.Struct:
		return r.normalizeStruct(rv)

	case reflect.String:
		// Named string types (string-backed enums) reduce to plain strings
		return rv.String(), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// Named integer types: a fmt.Stringer implementation marks an enum,
		// whose canonical wire form is its name
		if s, ok := value.(fmt.Stringer); ok {
			return s.String(), nil
		}
		return rv.Int(), nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if s, ok := value.(fmt.Stringer); ok {
			return s.String(), nil
		}
		return rv.Uint(), nil
	}

	if s, ok := value.(fmt.Stringer); ok {
		return s.String(), nil
	}

	return nil, errors.WrapInvalid(
		fmt.Errorf("%w: type %T has no registered converter", errors.ErrSerialization, value),
		"ConverterRegistry", "Normalize", "convert value")
}

func (r *ConverterRegistry) normalizeSet(rv reflect.Value) (any, error) {
	elems := make([]any, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		elem, err := r.Normalize(iter.Key().Interface())
		if err != nil {
			return nil, err
		}
		elems = append(elems, elem)
	}
	sort.Slice(elems, func(i, j int) bool {
		return fmt.Sprint(elems[i]) < fmt.Sprint(elems[j])
	})
	return elems, nil
}

func (r *ConverterRegistry) normalizeStruct(rv reflect.Value) (any, error) {
	t := rv.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		if tag, ok := field.Tag.Lookup("json"); ok {
			tagName, _, _ := cutTag(tag)
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		val, err := r.Normalize(rv.Field(i).Interface())
		if err != nil {
			return nil, err
		}
		out[name] = val
	}
	return out, nil
}

func cutTag(tag string) (name, rest string, found bool) {
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			return tag[:i], tag[i+1:], true
		}
	}
	return tag, "", false
}
