// Package shard opens the store connections behind a logical database and
// routes requests to them. A database declares its collections through an
// explicit bind function; Open runs it once per shard against that shard's
// connection, so every shard ends up with independent clones of each
// declared descriptor.
package shard
