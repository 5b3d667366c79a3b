package keyspace

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ErrLengthMismatch is returned by bulk operations when the key and value
// slices differ in length. The check runs before any command is issued.
var ErrLengthMismatch = stdErrors.New("keyspace: key and value counts differ")

const scanCount = 100

// Record is a typed single-value collection bound to one connection.
type Record[T any] struct {
	field  *Field[T]
	client *redis.Client
}

// NewRecord binds field to client. The field is cloned, so the caller's
// declaration can be reused for every shard.
func NewRecord[T any](client *redis.Client, field *Field[T]) *Record[T] {
	return &Record[T]{field: field.Clone(), client: client}
}

// Field returns the bound field clone.
func (r *Record[T]) Field() *Field[T] { return r.field }

// Store writes value under key, applying the field's expiry.
func (r *Record[T]) Store(ctx context.Context, key string, value T) error {
	raw, err := r.field.Dump(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.field.FullKey(key), raw, r.field.TTL()).Err()
}

// StoreIfAbsent writes value under key only when the key does not exist yet.
func (r *Record[T]) StoreIfAbsent(ctx context.Context, key string, value T) (bool, error) {
	raw, err := r.field.Dump(value)
	if err != nil {
		return false, err
	}
	return r.client.SetNX(ctx, r.field.FullKey(key), raw, r.field.TTL()).Result()
}

// StoreMany writes values[i] under keys[i]. Length mismatch fails with
// ErrLengthMismatch before any write is issued. Writes are independent: a
// failure partway through leaves earlier writes in place.
func (r *Record[T]) StoreMany(ctx context.Context, keys []string, values []T) error {
	if len(keys) != len(values) {
		return fmt.Errorf("%w: %d keys, %d values", ErrLengthMismatch, len(keys), len(values))
	}
	i := 0
	for full := range r.field.FullKeys(keys) {
		raw, err := r.field.Dump(values[i])
		if err != nil {
			return err
		}
		if err := r.client.Set(ctx, full, raw, r.field.TTL()).Err(); err != nil {
			return err
		}
		i++
	}
	return nil
}

// LoadOne reads the value under key. A missing key reports ok=false with a
// nil error.
func (r *Record[T]) LoadOne(ctx context.Context, key string) (T, bool, error) {
	var zero T
	raw, err := r.client.Get(ctx, r.field.FullKey(key)).Result()
	if err == redis.Nil {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	v, err := r.field.Load(raw)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Load reads every value whose key matches mask (a Redis glob, not including
// the prefix).
func (r *Record[T]) Load(ctx context.Context, mask string) ([]T, error) {
	var result []T
	it := r.client.Scan(ctx, 0, r.field.FullKey(mask), scanCount).Iterator()
	for it.Next(ctx) {
		raw, err := r.client.Get(ctx, it.Val()).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		v, err := r.field.Load(raw)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes the given keys and reports how many existed.
func (r *Record[T]) Delete(ctx context.Context, keys ...string) (int64, error) {
	full := make([]string, 0, len(keys))
	for k := range r.field.FullKeys(keys) {
		full = append(full, k)
	}
	return r.client.Del(ctx, full...).Result()
}

// Exists reports whether key is present.
func (r *Record[T]) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.field.FullKey(key)).Result()
	return n > 0, err
}

// Expire sets the remaining time to live of key.
func (r *Record[T]) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.Expire(ctx, r.field.FullKey(key), ttl).Result()
}

// ExpireAt sets the absolute expiry time of key.
func (r *Record[T]) ExpireAt(ctx context.Context, key string, at time.Time) (bool, error) {
	return r.client.ExpireAt(ctx, r.field.FullKey(key), at).Result()
}

// ExpireTime returns the absolute expiry of key as reported by the store.
// ok is false when the key is missing or carries no expiry.
func (r *Record[T]) ExpireTime(ctx context.Context, key string) (time.Time, bool, error) {
	d, err := r.client.ExpireTime(ctx, r.field.FullKey(key)).Result()
	if err != nil {
		return time.Time{}, false, err
	}
	// The store reports epoch seconds; negative values mean no key or no
	// expiry.
	if d < 0 {
		return time.Time{}, false, nil
	}
	return time.Unix(int64(d/time.Second), 0), true, nil
}

// Copy copies the value of src to dst within the same database.
func (r *Record[T]) Copy(ctx context.Context, src, dst string, replace bool) (bool, error) {
	n, err := r.client.Copy(ctx, r.field.FullKey(src), r.field.FullKey(dst), 0, replace).Result()
	return n > 0, err
}

// Rename renames src to dst.
func (r *Record[T]) Rename(ctx context.Context, src, dst string) error {
	return r.client.Rename(ctx, r.field.FullKey(src), r.field.FullKey(dst)).Err()
}
