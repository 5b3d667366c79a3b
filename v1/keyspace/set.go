package keyspace

import (
	"context"

	redis "github.com/redis/go-redis/v9"
)

// Set is a typed unordered-set collection bound to one connection.
type Set[T any] struct {
	field  *Field[T]
	client *redis.Client
}

// NewSet binds field to client, cloning the field.
func NewSet[T any](client *redis.Client, field *Field[T]) *Set[T] {
	return &Set[T]{field: field.Clone(), client: client}
}

// Field returns the bound field clone.
func (s *Set[T]) Field() *Field[T] { return s.field }

// Append adds values to the set under key.
func (s *Set[T]) Append(ctx context.Context, key string, values ...T) error {
	members, err := s.dump(values)
	if err != nil {
		return err
	}
	return s.client.SAdd(ctx, s.field.FullKey(key), members...).Err()
}

// Remove removes values from the set under key.
func (s *Set[T]) Remove(ctx context.Context, key string, values ...T) error {
	members, err := s.dump(values)
	if err != nil {
		return err
	}
	return s.client.SRem(ctx, s.field.FullKey(key), members...).Err()
}

// Pop removes and returns one arbitrary member. An empty or missing set
// reports ok=false with a nil error.
func (s *Set[T]) Pop(ctx context.Context, key string) (T, bool, error) {
	var zero T
	raw, err := s.client.SPop(ctx, s.field.FullKey(key)).Result()
	if err == redis.Nil {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	v, err := s.field.Load(raw)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Members returns every member of the set under key.
func (s *Set[T]) Members(ctx context.Context, key string) ([]T, error) {
	raws, err := s.client.SMembers(ctx, s.field.FullKey(key)).Result()
	if err != nil {
		return nil, err
	}
	result := make([]T, 0, len(raws))
	for _, raw := range raws {
		v, err := s.field.Load(raw)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, nil
}

// Merge stores the union of the sets under srcs into dst and returns the
// resulting cardinality.
func (s *Set[T]) Merge(ctx context.Context, dst string, srcs ...string) (int64, error) {
	full := make([]string, 0, len(srcs))
	for k := range s.field.FullKeys(srcs) {
		full = append(full, k)
	}
	return s.client.SUnionStore(ctx, s.field.FullKey(dst), full...).Result()
}

func (s *Set[T]) dump(values []T) ([]any, error) {
	members := make([]any, 0, len(values))
	for _, v := range values {
		raw, err := s.field.Dump(v)
		if err != nil {
			return nil, err
		}
		members = append(members, raw)
	}
	return members, nil
}
