// Package lock provides a distributed mutual-exclusion lock on a Redis
// backend. Acquisition is a single atomic server-side script, waiting is
// fixed-interval client polling, and every held lock carries a lease after
// which it is force-released as a safety net against crashed holders.
// Recursion bookkeeping sets let the acquire script detect lock-acquisition
// cycles across holders and fail fast with a DeadlockError instead of
// hanging.
package lock
