package keyspace

import (
	"context"
	"strconv"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// incrBatch bounds how many ZINCRBY commands are in flight at once when
// merging score deltas in bulk.
const incrBatch = 100

// Entry pairs a sorted-set member with its score.
type Entry[T any] struct {
	Score float64
	Value T
}

// SortedSet is a typed score-ordered collection bound to one connection.
type SortedSet[T any] struct {
	field  *Field[T]
	client *redis.Client
}

// NewSortedSet binds field to client, cloning the field.
func NewSortedSet[T any](client *redis.Client, field *Field[T]) *SortedSet[T] {
	return &SortedSet[T]{field: field.Clone(), client: client}
}

// Field returns the bound field clone.
func (s *SortedSet[T]) Field() *Field[T] { return s.field }

// Append adds entries to the sorted set under key, overwriting scores of
// existing members.
func (s *SortedSet[T]) Append(ctx context.Context, key string, entries ...Entry[T]) error {
	members := make([]redis.Z, 0, len(entries))
	for _, e := range entries {
		raw, err := s.field.Dump(e.Value)
		if err != nil {
			return err
		}
		members = append(members, redis.Z{Score: e.Score, Member: raw})
	}
	return s.client.ZAdd(ctx, s.field.FullKey(key), members...).Err()
}

// Range returns the entries between the start and stop ranks, inclusive.
// Negative ranks count from the highest score. desc reverses the order.
func (s *SortedSet[T]) Range(ctx context.Context, key string, start, stop int64, desc bool) ([]Entry[T], error) {
	full := s.field.FullKey(key)
	var cmd *redis.ZSliceCmd
	if desc {
		cmd = s.client.ZRevRangeWithScores(ctx, full, start, stop)
	} else {
		cmd = s.client.ZRangeWithScores(ctx, full, start, stop)
	}
	raws, err := cmd.Result()
	if err != nil {
		return nil, err
	}
	return s.load(raws)
}

// RangeByScore returns up to count entries with scores in [min, max],
// skipping the first offset matches. A zero count returns every match.
func (s *SortedSet[T]) RangeByScore(ctx context.Context, key string, min, max float64, offset, count int64) ([]Entry[T], error) {
	raws, err := s.client.ZRangeByScoreWithScores(ctx, s.field.FullKey(key), &redis.ZRangeBy{
		Min:    formatScore(min),
		Max:    formatScore(max),
		Offset: offset,
		Count:  count,
	}).Result()
	if err != nil {
		return nil, err
	}
	return s.load(raws)
}

// PopMin removes and returns up to count lowest-scored entries.
func (s *SortedSet[T]) PopMin(ctx context.Context, key string, count int64) ([]Entry[T], error) {
	raws, err := s.client.ZPopMin(ctx, s.field.FullKey(key), count).Result()
	if err != nil {
		return nil, err
	}
	return s.load(raws)
}

// PopMax removes and returns up to count highest-scored entries.
func (s *SortedSet[T]) PopMax(ctx context.Context, key string, count int64) ([]Entry[T], error) {
	raws, err := s.client.ZPopMax(ctx, s.field.FullKey(key), count).Result()
	if err != nil {
		return nil, err
	}
	return s.load(raws)
}

// Count reports how many members have scores in [min, max].
func (s *SortedSet[T]) Count(ctx context.Context, key string, min, max float64) (int64, error) {
	return s.client.ZCount(ctx, s.field.FullKey(key), formatScore(min), formatScore(max)).Result()
}

// Incr adds each entry's score to its member, creating absent members. The
// increments are fanned out in bounded parallel batches and awaited together;
// they are independent commands, not a transaction.
func (s *SortedSet[T]) Incr(ctx context.Context, key string, entries ...Entry[T]) error {
	full := s.field.FullKey(key)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(incrBatch)
	for _, e := range entries {
		raw, err := s.field.Dump(e.Value)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return s.client.ZIncrBy(gctx, full, e.Score, raw).Err()
		})
	}
	return g.Wait()
}

// Remove removes values from the sorted set under key.
func (s *SortedSet[T]) Remove(ctx context.Context, key string, values ...T) error {
	members := make([]any, 0, len(values))
	for _, v := range values {
		raw, err := s.field.Dump(v)
		if err != nil {
			return err
		}
		members = append(members, raw)
	}
	return s.client.ZRem(ctx, s.field.FullKey(key), members...).Err()
}

func (s *SortedSet[T]) load(raws []redis.Z) ([]Entry[T], error) {
	entries := make([]Entry[T], 0, len(raws))
	for _, z := range raws {
		member, _ := z.Member.(string)
		v, err := s.field.Load(member)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry[T]{Score: z.Score, Value: v})
	}
	return entries, nil
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
