// Package script holds server-side Lua scripts and executes them through the
// store's script cache, transparently re-registering a script the store no
// longer has cached.
package script

import (
	"context"
	"crypto/sha1"
	"encoding/hex"

	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-keyspace/v1/metrics"
)

// Script is an immutable Lua script plus the SHA1 digest the store uses to
// address its script cache. The digest is computed once at definition time.
type Script struct {
	src    string
	digest string
}

// New returns a script for the given Lua source.
func New(src string) *Script {
	sum := sha1.Sum([]byte(src))
	return &Script{src: src, digest: hex.EncodeToString(sum[:])}
}

// Source returns the Lua source.
func (s *Script) Source() string { return s.src }

// Digest returns the SHA1 hex digest of the source.
func (s *Script) Digest() string { return s.digest }

// Run executes the script atomically on the store. The cached script is
// invoked by digest first; when the store reports it unknown (restart, cache
// eviction) the full source is re-sent within the same call, so no explicit
// registration step is needed. The keys slice holds the parameters the store
// treats as keys for slot routing; args are plain values and follow in order.
func (s *Script) Run(ctx context.Context, c redis.Scripter, keys []string, args ...any) (any, error) {
	res, err := c.EvalSha(ctx, s.digest, keys, args...).Result()
	if err != nil && redis.HasErrorPrefix(err, "NOSCRIPT") {
		metrics.ScriptFallbacks.Inc()
		res, err = c.Eval(ctx, s.src, keys, args...).Result()
	}
	return res, err
}
