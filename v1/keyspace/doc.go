// Package keyspace provides typed collections over a Redis keyspace. A Field
// describes one collection (key prefix, expiry, codec) and is declared once;
// binding a Field to a connection clones it, so every shard works on an
// independent copy. Record, Set and SortedSet are the bound collection kinds.
package keyspace
