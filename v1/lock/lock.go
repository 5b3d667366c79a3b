package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mirkobrombin/go-keyspace/v1/metrics"
	"github.com/mirkobrombin/go-keyspace/v1/script"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-keyspace/v1/lock")

// acquireScript is the only path from free to held. It runs atomically on
// the store, so there is no check-then-set race.
//
// KEYS[1] lock key, KEYS[2] recursion set of this lock.
// ARGV[1] holder id, ARGV[2] lease in milliseconds, ARGV[3] lock key prefix,
// ARGV[4] recursion key prefix, ARGV[5..] names of locks the caller already
// holds.
//
// Free: take the lock, clear this caller's stale waiting markers, arm the
// server-side lease, report success. Held: if any already-held name has this
// key registered in its recursion set, a waiter of that lock holds this key
// and taking it would close a cycle: report the conflicting name. Otherwise
// report busy.
var acquireScript = script.New(`
if redis.call("set", KEYS[1], ARGV[1], "nx", "px", ARGV[2]) then
    for i = 5, #ARGV do
        redis.call("srem", KEYS[2], ARGV[3] .. ARGV[i])
    end
    return 1
end
for i = 5, #ARGV do
    if redis.call("sismember", ARGV[4] .. ARGV[i], KEYS[1]) == 1 then
        return ARGV[i]
    end
end
return 0
`)

// releaseScript deletes the lock only while ARGV[1] still owns it. Returns 1
// on delete, 0 when the key is already gone and the current owner's id when
// the lock belongs to someone else.
var releaseScript = script.New(`
local owner = redis.call("get", KEYS[1])
if not owner then
    return 0
end
if owner == ARGV[1] then
    redis.call("del", KEYS[1])
    return 1
end
return owner
`)

const (
	defaultRetryInterval = 100 * time.Millisecond
	releaseTimeout       = 5 * time.Second
)

// Manager binds a lock Field to one connection and hands out handles for
// named locks on that shard.
type Manager struct {
	field   *Field
	client  *redis.Client
	retry   time.Duration
	tracing bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetryInterval sets the fixed delay between acquire attempts while the
// lock is busy.
func WithRetryInterval(d time.Duration) Option {
	return func(m *Manager) { m.retry = d }
}

// WithTracing enables OpenTelemetry spans around lock acquisition.
func WithTracing() Option {
	return func(m *Manager) { m.tracing = true }
}

// NewManager binds field to client. The field is cloned, so one declaration
// serves every shard independently.
func NewManager(client *redis.Client, field *Field, opts ...Option) *Manager {
	m := &Manager{field: field.Clone(), client: client, retry: defaultRetryInterval}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Field returns the bound field clone.
func (m *Manager) Field() *Field { return m.field }

// Lock returns a handle for the named lock. Each handle gets its own holder
// id unless the field fixes one, and its own bookkeeping state; a handle
// lives for a single critical section.
func (m *Manager) Lock(name string) *Lock {
	id := m.field.holderID
	if id == "" {
		id = uuid.NewString()
	}
	return &Lock{
		mgr:      m,
		name:     name,
		key:      m.field.key(name),
		recKey:   m.field.recursionKey(name),
		holderID: id,
	}
}

// Lock is an ephemeral handle on one named lock.
type Lock struct {
	mgr      *Manager
	name     string
	key      string
	recKey   string
	holderID string

	mu    sync.Mutex
	timer *time.Timer
}

// Key returns the full lock key.
func (l *Lock) Key() string { return l.key }

// HolderID returns the id this handle locks under.
func (l *Lock) HolderID() string { return l.holderID }

// Acquire takes the lock, polling at the manager's retry interval while it
// is busy. held names the locks this caller already holds; they feed the
// cycle detection, and a detected cycle aborts with a DeadlockError instead
// of waiting forever. Acquire returns early when ctx is cancelled.
func (l *Lock) Acquire(ctx context.Context, held ...string) error {
	var span trace.Span
	if l.mgr.tracing {
		ctx, span = tracer.Start(ctx, "Lock.Acquire")
		defer span.End()
		span.SetAttributes(attribute.String("keyspace.lock", l.name))
	}

	booked := false
	for {
		res, err := l.attempt(ctx, held)
		if err != nil {
			if booked {
				l.unbook(held)
			}
			return err
		}
		switch v := res.(type) {
		case int64:
			if v == 1 {
				l.armLease()
				metrics.LockAcquired.Inc()
				if span != nil {
					span.SetAttributes(attribute.String("keyspace.lock.result", "acquired"))
				}
				return nil
			}
			if v != 0 {
				if booked {
					l.unbook(held)
				}
				return fmt.Errorf("lock: unexpected acquire reply %T(%v)", res, res)
			}
		case string:
			if booked {
				l.unbook(held)
			}
			metrics.LockDeadlocks.Inc()
			if span != nil {
				span.SetAttributes(attribute.String("keyspace.lock.result", "deadlock"))
			}
			return &DeadlockError{Lock: l.name, Conflict: v}
		default:
			if booked {
				l.unbook(held)
			}
			return fmt.Errorf("lock: unexpected acquire reply %T(%v)", res, res)
		}

		// Busy. Publish which locks this waiter holds so other lockers can
		// spot cycles through us, then poll.
		if !booked && len(held) > 0 {
			if err := l.book(ctx, held); err != nil {
				return err
			}
			booked = true
		}
		metrics.LockBusyRetries.Inc()
		select {
		case <-ctx.Done():
			if booked {
				l.unbook(held)
			}
			return ctx.Err()
		case <-time.After(l.mgr.retry):
		}
	}
}

// AcquireTimeout is Acquire with a bounded wait; it returns ErrTimeout when
// the lock could not be taken within wait.
func (l *Lock) AcquireTimeout(ctx context.Context, wait time.Duration, held ...string) error {
	cctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	err := l.Acquire(cctx, held...)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return ErrTimeout
	}
	return err
}

// TryAcquire attempts the lock once without waiting. It reports false when
// the lock is held and still returns a DeadlockError when taking it would
// close a cycle.
func (l *Lock) TryAcquire(ctx context.Context, held ...string) (bool, error) {
	res, err := l.attempt(ctx, held)
	if err != nil {
		return false, err
	}
	switch v := res.(type) {
	case int64:
		switch v {
		case 1:
			l.armLease()
			metrics.LockAcquired.Inc()
			return true, nil
		case 0:
			return false, nil
		default:
			return false, fmt.Errorf("lock: unexpected acquire reply %T(%v)", res, res)
		}
	case string:
		metrics.LockDeadlocks.Inc()
		return false, &DeadlockError{Lock: l.name, Conflict: v}
	default:
		return false, fmt.Errorf("lock: unexpected acquire reply %T(%v)", res, res)
	}
}

// Release gives the lock back. The ownership check and the delete run in
// one atomic script: a lease expiry and re-acquisition between them can
// never make this handle delete another holder's lock. Releasing an expired
// or foreign lock logs a warning and is otherwise a no-op. The lease timer
// is cancelled unconditionally.
func (l *Lock) Release(ctx context.Context) error {
	l.stopLease()
	res, err := releaseScript.Run(ctx, l.mgr.client, []string{l.key}, l.holderID)
	if err != nil {
		return err
	}
	switch v := res.(type) {
	case int64:
		switch v {
		case 1:
			return nil
		case 0:
			slog.Warn("keyspace: releasing a lock that already expired", "lock", l.name, "holder", l.holderID)
			return nil
		default:
			return fmt.Errorf("lock: unexpected release reply %T(%v)", res, res)
		}
	case string:
		slog.Warn("keyspace: lock is held by another holder, leaving it", "lock", l.name, "holder", l.holderID, "owner", v)
		return nil
	default:
		return fmt.Errorf("lock: unexpected release reply %T(%v)", res, res)
	}
}

// Reset force-deletes the lock and its recursion bookkeeping regardless of
// the current holder. Use with care.
func (l *Lock) Reset(ctx context.Context) error {
	l.stopLease()
	return l.mgr.client.Del(ctx, l.key, l.recKey).Err()
}

// Holder returns the id currently holding the lock, or "" when it is free.
func (l *Lock) Holder(ctx context.Context) (string, error) {
	owner, err := l.mgr.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return owner, err
}

// IsOwner reports whether this handle currently holds the lock.
func (l *Lock) IsOwner(ctx context.Context) (bool, error) {
	owner, err := l.Holder(ctx)
	if err != nil {
		return false, err
	}
	return owner == l.holderID, nil
}

func (l *Lock) attempt(ctx context.Context, held []string) (any, error) {
	args := make([]any, 0, 4+len(held))
	args = append(args,
		l.holderID,
		l.mgr.field.lease.Milliseconds(),
		l.mgr.field.keyPrefixArg(),
		l.mgr.field.recursionPrefixArg(),
	)
	for _, h := range held {
		args = append(args, h)
	}
	return acquireScript.Run(ctx, l.mgr.client, []string{l.key, l.recKey}, args...)
}

// book registers the caller's held lock keys in this lock's recursion set so
// concurrent lockers can detect cycles through this waiter. Best effort: the
// entries are removed again by the acquire script on success or by unbook on
// any later failure.
func (l *Lock) book(ctx context.Context, held []string) error {
	members := l.heldKeys(held)
	return l.mgr.client.SAdd(ctx, l.recKey, members...).Err()
}

// unbook removes the entries book added. It runs on a fresh context so
// cleanup still happens when the acquire context is already cancelled.
func (l *Lock) unbook(held []string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	members := l.heldKeys(held)
	if err := l.mgr.client.SRem(ctx, l.recKey, members...).Err(); err != nil {
		slog.Warn("keyspace: failed to remove recursion bookkeeping", "lock", l.name, "holder", l.holderID, "error", err)
	}
}

func (l *Lock) heldKeys(held []string) []any {
	members := make([]any, 0, len(held))
	for _, h := range held {
		members = append(members, l.mgr.field.key(h))
	}
	return members
}

// armLease schedules the client-side lease timer mirroring the server-side
// expiry the acquire script set. If it fires before an explicit release the
// lock is force-released: mutual exclusion is silently dropped at that
// point, which is why the firing is logged loudly.
func (l *Lock) armLease() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(l.mgr.field.lease, l.leaseExpired)
}

func (l *Lock) stopLease() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *Lock) leaseExpired() {
	metrics.LockLeaseExpired.Inc()
	slog.Warn("keyspace: lock lease expired without release, force-releasing", "lock", l.name, "holder", l.holderID)
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := l.Release(ctx); err != nil {
		slog.Warn("keyspace: forced release failed", "lock", l.name, "holder", l.holderID, "error", err)
	}
}
