package keyspace

import (
	"iter"
	"time"

	"github.com/mirkobrombin/go-keyspace/v1/codec"
)

// Field describes one keyspace collection: an optional key prefix, an
// optional expiry applied on writes and the codec used for values. Fields
// are immutable after construction.
type Field[T any] struct {
	prefix string
	expire time.Duration
	codec  codec.Codec[T]
}

// FieldOption configures a Field.
type FieldOption func(*fieldConfig)

type fieldConfig struct {
	prefix string
	expire time.Duration
}

// WithPrefix sets the key prefix for the collection.
func WithPrefix(p string) FieldOption {
	return func(c *fieldConfig) { c.prefix = p }
}

// WithExpire sets the expiry applied when values are stored. Zero means the
// keys do not expire.
func WithExpire(d time.Duration) FieldOption {
	return func(c *fieldConfig) { c.expire = d }
}

// NewField returns a field using codec c for its values.
func NewField[T any](c codec.Codec[T], opts ...FieldOption) *Field[T] {
	var cfg fieldConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Field[T]{prefix: cfg.prefix, expire: cfg.expire, codec: c}
}

// FullKey returns the storage key for key. With a prefix configured the key
// is "<prefix>:<key>"; the colon is the one fixed separator convention. An
// empty prefix leaves the key untouched.
func (f *Field[T]) FullKey(key string) string {
	if f.prefix == "" {
		return key
	}
	return f.prefix + ":" + key
}

// FullKeys returns a lazy, restartable sequence of FullKey applied to each
// element of keys, preserving order.
func (f *Field[T]) FullKeys(keys []string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, k := range keys {
			if !yield(f.FullKey(k)) {
				return
			}
		}
	}
}

// Dump validates v and encodes it to its stored form.
func (f *Field[T]) Dump(v T) (string, error) {
	if err := f.codec.Validate(v); err != nil {
		return "", err
	}
	return f.codec.Encode(v)
}

// Load decodes a stored value.
func (f *Field[T]) Load(raw string) (T, error) {
	return f.codec.Decode(raw)
}

// Clone returns an independent copy of the field sharing only the codec.
// Binding clones the declared field so shards never share descriptor state.
func (f *Field[T]) Clone() *Field[T] {
	c := *f
	return &c
}

// Prefix reports the configured key prefix.
func (f *Field[T]) Prefix() string { return f.prefix }

// TTL reports the configured expiry.
func (f *Field[T]) TTL() time.Duration { return f.expire }
