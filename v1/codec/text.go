package codec

import (
	"encoding"
	"reflect"
)

var (
	marshalerType   = reflect.TypeFor[encoding.TextMarshaler]()
	unmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()
)

type textCodec[T any] struct {
	elem    reflect.Type
	pointer bool
}

// Text returns a codec for self-describing value types: T must implement
// encoding.TextMarshaler and either T or *T must implement
// encoding.TextUnmarshaler. The capability check happens here, once; a type
// lacking either method fails with ErrTypeMismatch instead of failing later
// on the first call.
func Text[T any]() (Codec[T], error) {
	rt := reflect.TypeFor[T]()
	if !rt.Implements(marshalerType) {
		return nil, ErrTypeMismatch
	}
	if rt.Kind() == reflect.Pointer {
		if !rt.Implements(unmarshalerType) {
			return nil, ErrTypeMismatch
		}
		return textCodec[T]{elem: rt.Elem(), pointer: true}, nil
	}
	if !reflect.PointerTo(rt).Implements(unmarshalerType) {
		return nil, ErrTypeMismatch
	}
	return textCodec[T]{elem: rt}, nil
}

func (textCodec[T]) Validate(T) error { return nil }

func (textCodec[T]) Encode(v T) (string, error) {
	data, err := any(v).(encoding.TextMarshaler).MarshalText()
	if err != nil {
		return "", &Error{Op: "encode", Err: err}
	}
	return string(data), nil
}

func (c textCodec[T]) Decode(raw string) (T, error) {
	ptr := reflect.New(c.elem)
	if err := ptr.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(raw)); err != nil {
		var zero T
		return zero, &Error{Op: "decode", Err: err}
	}
	if c.pointer {
		return ptr.Interface().(T), nil
	}
	return ptr.Elem().Interface().(T), nil
}
