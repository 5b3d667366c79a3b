package shard

import (
	"context"
	stdErrors "errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoShards is returned when a config lists no store URIs.
	ErrNoShards = stdErrors.New("shard: config lists no store URIs")
	// ErrSharded is returned by Single on a database with more than one shard.
	ErrSharded = stdErrors.New("shard: database is sharded, select a shard explicitly")
	// ErrShardRange is returned for an out-of-range explicit shard index.
	ErrShardRange = stdErrors.New("shard: index out of range")
)

// DB routes requests to one or more store shards. S is the application's
// collection struct, built once per shard by the bind function passed to
// Open.
type DB[S any] struct {
	clients []*redis.Client
	shards  []*S
	owned   bool
}

// Open connects to every URI in cfg concurrently and runs bind against each
// connection to build that shard's collections. A failure on any shard
// closes the connections already opened and reports the error.
func Open[S any](ctx context.Context, cfg Config, bind func(*redis.Client) (*S, error)) (*DB[S], error) {
	if len(cfg.URIs) == 0 {
		return nil, ErrNoShards
	}
	clients := make([]*redis.Client, len(cfg.URIs))
	shards := make([]*S, len(cfg.URIs))
	g, gctx := errgroup.WithContext(ctx)
	for i, uri := range cfg.URIs {
		g.Go(func() error {
			opts, err := redis.ParseURL(uri)
			if err != nil {
				return fmt.Errorf("shard %d: %w", i, err)
			}
			if cfg.DialTimeout > 0 {
				opts.DialTimeout = cfg.DialTimeout
			}
			client := redis.NewClient(opts)
			if err := client.Ping(gctx).Err(); err != nil {
				_ = client.Close()
				return fmt.Errorf("shard %d: %w", i, err)
			}
			s, err := bind(client)
			if err != nil {
				_ = client.Close()
				return fmt.Errorf("shard %d: %w", i, err)
			}
			clients[i] = client
			shards[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, client := range clients {
			if client != nil {
				_ = client.Close()
			}
		}
		return nil, err
	}
	return &DB[S]{clients: clients, shards: shards, owned: true}, nil
}

// Close closes every shard connection concurrently; the order across shards
// is unspecified. Closing a narrowed view is a no-op, the parent owns the
// connections.
func (db *DB[S]) Close() error {
	if !db.owned {
		return nil
	}
	var g errgroup.Group
	for _, client := range db.clients {
		g.Go(client.Close)
	}
	return g.Wait()
}

// Len reports the shard count.
func (db *DB[S]) Len() int { return len(db.shards) }

// Shard returns the shard at the explicit index i.
func (db *DB[S]) Shard(i int) (*S, error) {
	if i < 0 || i >= len(db.shards) {
		return nil, fmt.Errorf("%w: %d of %d", ErrShardRange, i, len(db.shards))
	}
	return db.shards[i], nil
}

// ShardFor routes key by stable hash: the same key always lands on the same
// shard for a fixed shard count.
func (db *DB[S]) ShardFor(key string) *S {
	return db.shards[int(xxhash.Sum64String(key)%uint64(len(db.shards)))]
}

// Single returns the only shard of an unsharded database. Using it on a
// sharded database is a precondition violation.
func (db *DB[S]) Single() (*S, error) {
	if len(db.shards) != 1 {
		return nil, ErrSharded
	}
	return db.shards[0], nil
}

// Narrow produces a database restricted to the subset of collections that
// view exposes, over the same open connections. The narrowed database routes
// exactly like its parent.
func Narrow[S, N any](db *DB[S], view func(*S) *N) *DB[N] {
	shards := make([]*N, len(db.shards))
	for i, s := range db.shards {
		shards[i] = view(s)
	}
	return &DB[N]{clients: db.clients, shards: shards}
}
