package codec

import (
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strconv"
)

// Codec encodes and decodes values of type T to and from their stored string
// form. Validate is called before encoding; implementations that have nothing
// to check return nil.
type Codec[T any] interface {
	Validate(v T) error
	Encode(v T) (string, error)
	Decode(raw string) (T, error)
}

// ErrTypeMismatch is returned when a codec is built for a value type it
// cannot handle.
var ErrTypeMismatch = stdErrors.New("value type does not match codec")

// Error wraps a validate, encode or decode failure with the operation that
// produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "codec: " + e.Op + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

type jsonCodec[T any] struct{}

// JSON returns a codec that stores values of type T as JSON.
func JSON[T any]() Codec[T] { return jsonCodec[T]{} }

func (jsonCodec[T]) Validate(T) error { return nil }

func (jsonCodec[T]) Encode(v T) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", &Error{Op: "encode", Err: err}
	}
	return string(data), nil
}

func (jsonCodec[T]) Decode(raw string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		var zero T
		return zero, &Error{Op: "decode", Err: err}
	}
	return v, nil
}

type stringCodec struct{}

// String returns the identity codec for string values.
func String() Codec[string] { return stringCodec{} }

func (stringCodec) Validate(string) error { return nil }

func (stringCodec) Encode(v string) (string, error) { return v, nil }

func (stringCodec) Decode(raw string) (string, error) { return raw, nil }

type int64Codec struct{}

// Int64 returns a codec storing integers in decimal form.
func Int64() Codec[int64] { return int64Codec{} }

func (int64Codec) Validate(int64) error { return nil }

func (int64Codec) Encode(v int64) (string, error) { return strconv.FormatInt(v, 10), nil }

func (int64Codec) Decode(raw string) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &Error{Op: "decode", Err: err}
	}
	return n, nil
}

type float64Codec struct{}

// Float64 returns a codec storing floats in their shortest decimal form.
func Float64() Codec[float64] { return float64Codec{} }

func (float64Codec) Validate(float64) error { return nil }

func (float64Codec) Encode(v float64) (string, error) {
	return strconv.FormatFloat(v, 'f', -1, 64), nil
}

func (float64Codec) Decode(raw string) (float64, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &Error{Op: "decode", Err: err}
	}
	return f, nil
}

type bytesCodec struct{}

// Bytes returns a codec passing byte slices through unchanged.
func Bytes() Codec[[]byte] { return bytesCodec{} }

func (bytesCodec) Validate([]byte) error { return nil }

func (bytesCodec) Encode(v []byte) (string, error) { return string(v), nil }

func (bytesCodec) Decode(raw string) ([]byte, error) { return []byte(raw), nil }

type funcCodec[T any] struct {
	validate func(T) error
	encode   func(T) (string, error)
	decode   func(string) (T, error)
}

// Func builds a processor codec from explicit validate, encode and decode
// functions. A nil validate accepts every value.
func Func[T any](validate func(T) error, encode func(T) (string, error), decode func(string) (T, error)) Codec[T] {
	return funcCodec[T]{validate: validate, encode: encode, decode: decode}
}

func (c funcCodec[T]) Validate(v T) error {
	if c.validate == nil {
		return nil
	}
	if err := c.validate(v); err != nil {
		return &Error{Op: "validate", Err: err}
	}
	return nil
}

func (c funcCodec[T]) Encode(v T) (string, error) {
	if err := c.Validate(v); err != nil {
		return "", err
	}
	raw, err := c.encode(v)
	if err != nil {
		return "", &Error{Op: "encode", Err: err}
	}
	return raw, nil
}

func (c funcCodec[T]) Decode(raw string) (T, error) {
	v, err := c.decode(raw)
	if err != nil {
		var zero T
		return zero, &Error{Op: "decode", Err: fmt.Errorf("%q: %w", raw, err)}
	}
	return v, nil
}
